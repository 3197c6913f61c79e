// Package engine wires the integration pipeline together: ingestion,
// embedding, matching, detection, strategy decisions and outcome feedback.
//
// The engine owns no global state. Its store, embedding provider, notifier
// and event sink are injected, and every timestamp comes from an injected
// clock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/detector"
	"github.com/fyrsmithlabs/acdkn/internal/embeddings"
	"github.com/fyrsmithlabs/acdkn/internal/events"
	"github.com/fyrsmithlabs/acdkn/internal/feedback"
	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
	"github.com/fyrsmithlabs/acdkn/internal/matcher"
	"github.com/fyrsmithlabs/acdkn/internal/redact"
	"github.com/fyrsmithlabs/acdkn/internal/store"
	"github.com/fyrsmithlabs/acdkn/internal/strategy"
	"github.com/fyrsmithlabs/acdkn/internal/synchronizer"
)

var tracer = otel.Tracer("acdkn.engine")

const (
	DefaultMaxConcurrency = 10
	DefaultEmbedBatchSize = 100
)

// Config holds the engine configuration.
type Config struct {
	Domains       knowledge.DomainSet
	Compatibility knowledge.CompatibilityMatrix

	// MaxKnowledgeUnits caps the stored population. Zero means no cap.
	MaxKnowledgeUnits int

	// MaxConcurrency bounds parallel embedding batches.
	MaxConcurrency int

	// EmbedBatchSize is the number of texts per provider call.
	EmbedBatchSize int

	Matcher   matcher.Config
	Detector  detector.Config
	Predictor strategy.Config
	Feedback  feedback.Config
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.EmbedBatchSize == 0 {
		c.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if c.Matcher.Concurrency == 0 {
		c.Matcher.Concurrency = c.MaxConcurrency
	}
	if c.Feedback.Buckets == 0 {
		c.Feedback.Buckets = c.Predictor.Buckets
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Domains.Len() < 2 {
		return fmt.Errorf("at least two supported domains are required, got %d", c.Domains.Len())
	}
	for _, d := range c.Compatibility.Domains() {
		if !c.Domains.Contains(d) {
			return fmt.Errorf("compatibility matrix references unsupported domain %q", d)
		}
	}
	if c.MaxKnowledgeUnits < 0 {
		return fmt.Errorf("max knowledge units must be >= 0, got %d", c.MaxKnowledgeUnits)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max concurrency must be >= 1, got %d", c.MaxConcurrency)
	}
	if c.EmbedBatchSize < 1 {
		return fmt.Errorf("embed batch size must be >= 1, got %d", c.EmbedBatchSize)
	}
	return nil
}

// Redactor scrubs secrets from unit content.
type Redactor interface {
	Redact(content string) (redact.Result, error)
}

// Deps are the collaborators injected into the engine.
type Deps struct {
	Store    store.Store
	Embedder embeddings.Provider

	// Notifier receives ready decisions. Nil disables notification.
	Notifier synchronizer.Notifier

	// Redactor scrubs content on ingest. Nil stores content as given.
	Redactor Redactor

	// Sink receives engine events. Nil drops them.
	Sink events.Sink

	// Clock defaults to time.Now.
	Clock func() time.Time

	Logger *zap.Logger
}

// Engine runs the integration pipeline.
type Engine struct {
	cfg       Config
	store     store.Store
	embedder  embeddings.Provider
	matcher   *matcher.Matcher
	detector  *detector.Detector
	feedback  *feedback.Loop
	predictor *strategy.Predictor
	notifier  synchronizer.Notifier
	redactor  Redactor
	sink      events.Sink
	now       func() time.Time
	logger    *zap.Logger

	units  keyedMutex
	points keyedMutex

	countMu    sync.Mutex
	countReady bool
	unitCount  int
}

// New builds an engine and its pipeline stages.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if deps.Embedder == nil {
		return nil, errors.New("embedding provider cannot be nil")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		store:    deps.Store,
		embedder: deps.Embedder,
		notifier: deps.Notifier,
		redactor: deps.Redactor,
		sink:     deps.Sink,
		now:      deps.Clock,
		logger:   deps.Logger,
	}
	if e.notifier == nil {
		e.notifier = synchronizer.NopNotifier{}
	}
	if e.sink == nil {
		e.sink = events.Nop{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}

	var err error
	if e.matcher, err = matcher.New(cfg.Matcher, e.logger.Named("matcher")); err != nil {
		return nil, err
	}
	e.detector, err = detector.New(cfg.Detector, cfg.Compatibility, e.store,
		detector.WithSink(e.sink),
		detector.WithClock(e.now),
		detector.WithPointLock(e.points.Lock),
		detector.WithLogger(e.logger.Named("detector")),
	)
	if err != nil {
		return nil, err
	}
	e.feedback, err = feedback.New(cfg.Feedback, e.store,
		feedback.WithSink(e.sink),
		feedback.WithClock(e.now),
		feedback.WithLogger(e.logger.Named("feedback")),
	)
	if err != nil {
		return nil, err
	}
	e.predictor = strategy.NewPredictor(cfg.Predictor, e.feedback)
	return e, nil
}

// Feedback returns the feedback loop so callers can start its scheduler.
func (e *Engine) Feedback() *feedback.Loop {
	return e.feedback
}

// Domains returns the supported domains.
func (e *Engine) Domains() []knowledge.Domain {
	return e.cfg.Domains.List()
}

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// GetUnit returns a stored unit.
func (e *Engine) GetUnit(ctx context.Context, id string) (*knowledge.KnowledgeUnit, error) {
	return e.store.Get(ctx, id)
}

// GetPoint returns a stored integration point.
func (e *Engine) GetPoint(ctx context.Context, id string) (*knowledge.IntegrationPoint, error) {
	return e.store.GetIntegrationPoint(ctx, id)
}

// ListPoints returns every integration point, optionally filtered by status.
func (e *Engine) ListPoints(ctx context.Context, status knowledge.Status) ([]knowledge.IntegrationPoint, error) {
	all, err := e.store.ListIntegrationPoints(ctx)
	if err != nil || status == "" {
		return all, err
	}
	out := all[:0]
	for _, p := range all {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetDecision returns a stored strategy decision.
func (e *Engine) GetDecision(ctx context.Context, id string) (*knowledge.StrategyDecision, error) {
	return e.store.GetDecision(ctx, id)
}
