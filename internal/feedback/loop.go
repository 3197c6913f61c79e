// Package feedback records realized outcomes of applied strategy decisions
// and periodically rebuilds the statistics the strategy predictor reads.
//
// The current statistics live behind an atomic pointer. Retraining builds
// the next snapshot off to the side and swaps it in only when complete, so
// concurrent predictions always see one whole snapshot.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/events"
	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
	"github.com/fyrsmithlabs/acdkn/internal/store"
	"github.com/fyrsmithlabs/acdkn/internal/strategy"
)

const (
	DefaultRetrainEvery    = 20
	DefaultRetrainInterval = 5 * time.Minute
	DefaultBatchSize       = 500
)

// Config controls the retraining cadence.
type Config struct {
	// RetrainEvery triggers a retrain after this many new outcomes.
	RetrainEvery int

	// RetrainInterval triggers a retrain on a fixed cadence.
	RetrainInterval time.Duration

	// BatchSize is the number of decisions folded between cancellation checks.
	BatchSize int

	// Buckets is the number of confidence buckets in built snapshots.
	Buckets int
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.RetrainEvery == 0 {
		c.RetrainEvery = DefaultRetrainEvery
	}
	if c.RetrainInterval == 0 {
		c.RetrainInterval = DefaultRetrainInterval
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Buckets == 0 {
		c.Buckets = strategy.DefaultBuckets
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	if c.RetrainEvery < 1 {
		return fmt.Errorf("retrain_every must be >= 1, got %d", c.RetrainEvery)
	}
	if c.RetrainInterval <= 0 {
		return fmt.Errorf("retrain_interval must be > 0, got %s", c.RetrainInterval)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.Buckets < 1 {
		return fmt.Errorf("buckets must be >= 1, got %d", c.Buckets)
	}
	return nil
}

// Store is the persistence the loop needs.
type Store interface {
	store.DecisionStore
	GetIntegrationPoint(ctx context.Context, id string) (*knowledge.IntegrationPoint, error)
}

// Loop owns outcome history and the statistics snapshot.
type Loop struct {
	cfg    Config
	store  Store
	sink   events.Sink
	now    func() time.Time
	logger *zap.Logger

	snapshot atomic.Pointer[strategy.Stats]
	version  atomic.Uint64
	pending  atomic.Int64

	// outcomeMu serializes read-complete-write of decisions.
	outcomeMu sync.Mutex
	// retrainMu allows one retrain at a time.
	retrainMu sync.Mutex

	trigger chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithSink sets the event sink.
func WithSink(sink events.Sink) Option {
	return func(l *Loop) {
		if sink != nil {
			l.sink = sink
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Loop with an empty snapshot. Call Retrain to load the
// persisted history.
func New(cfg Config, st Store, opts ...Option) (*Loop, error) {
	if st == nil {
		return nil, errors.New("store cannot be nil")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feedback config: %w", err)
	}
	l := &Loop{
		cfg:     cfg,
		store:   st,
		sink:    events.Nop{},
		now:     time.Now,
		logger:  zap.NewNop(),
		trigger: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.snapshot.Store(strategy.NewBuilder(cfg.Buckets).Build(0, l.now()))
	return l, nil
}

// Snapshot returns the current statistics. It never returns nil.
func (l *Loop) Snapshot() *strategy.Stats {
	return l.snapshot.Load()
}

// Pending returns the number of outcomes recorded since the last retrain.
func (l *Loop) Pending() int {
	return int(l.pending.Load())
}

// ReportOutcome completes a decision with its realized score.
//
// The decision's point must be applied. A decision completes at most once:
// a second report returns the stored decision and an error wrapping
// knowledge.ErrDuplicateTransition, and changes nothing.
func (l *Loop) ReportOutcome(ctx context.Context, decisionID string, score float64) (*knowledge.StrategyDecision, error) {
	if score < 0 || score > 1 {
		return nil, fmt.Errorf("%w: %f", knowledge.ErrInvalidScore, score)
	}

	l.outcomeMu.Lock()
	defer l.outcomeMu.Unlock()

	d, err := l.store.GetDecision(ctx, decisionID)
	if err != nil {
		return nil, fmt.Errorf("loading decision: %w", err)
	}
	p, err := l.store.GetIntegrationPoint(ctx, d.PointID)
	if err != nil {
		return nil, fmt.Errorf("loading point of decision %s: %w", decisionID, err)
	}
	if p.Status != knowledge.StatusApplied || p.DecisionID != d.ID {
		return nil, fmt.Errorf("%w: decision %s is not applied (point %s is %s)",
			knowledge.ErrInvalidTransition, decisionID, p.ID, p.Status)
	}

	now := l.now()
	if err := d.Complete(score, now); err != nil {
		if errors.Is(err, knowledge.ErrDuplicateTransition) {
			l.logger.Info("outcome already recorded", zap.String("decision", decisionID))
			l.sink.Emit(ctx, events.New(events.DuplicateTransition, now, decisionID,
				"transition", "outcome",
			))
		}
		return d, err
	}
	if err := l.store.PutDecision(ctx, d); err != nil {
		return nil, fmt.Errorf("saving outcome: %w", err)
	}

	l.sink.Emit(ctx, events.New(events.OutcomeRecorded, now, decisionID,
		"point", d.PointID,
		"strategy", d.Strategy,
		"score", score,
		"predicted", d.PredictedConfidence,
	))

	if l.pending.Add(1) >= int64(l.cfg.RetrainEvery) {
		select {
		case l.trigger <- struct{}{}:
		default:
		}
	}
	return d, nil
}

// Retrain rebuilds the statistics from the full completed history and swaps
// them in. If ctx is canceled mid-build the partial snapshot is discarded and
// the current one stays in place.
func (l *Loop) Retrain(ctx context.Context) (*strategy.Stats, error) {
	l.retrainMu.Lock()
	defer l.retrainMu.Unlock()

	taken := l.pending.Swap(0)
	restore := func() { l.pending.Add(taken) }

	decisions, err := l.store.ListDecisions(ctx)
	if err != nil {
		restore()
		return nil, fmt.Errorf("listing decisions: %w", err)
	}

	start := l.now()
	b := strategy.NewBuilder(l.cfg.Buckets)
	for i := 0; i < len(decisions); i += l.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			restore()
			return nil, fmt.Errorf("retrain canceled after %d decisions: %w", i, err)
		}
		for _, d := range decisions[i:min(i+l.cfg.BatchSize, len(decisions))] {
			b.Add(d)
		}
	}

	stats := b.Build(l.version.Add(1), l.now())
	l.snapshot.Store(stats)

	l.sink.Emit(ctx, events.New(events.StatsRetrained, stats.BuiltAt, fmt.Sprintf("v%d", stats.Version),
		"decisions", stats.Decisions,
		"pairs", stats.PairCount(),
		"duration_ms", stats.BuiltAt.Sub(start).Milliseconds(),
	))
	return stats, nil
}
