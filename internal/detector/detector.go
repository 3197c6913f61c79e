// Package detector turns candidate pairs into scored integration points.
//
// Confidence is the pair's similarity weighted by the compatibility of its
// two domains, clamped to [0,1]. Points are keyed by their canonical unit
// pair, so running detection twice over the same population updates points
// in place instead of duplicating them.
package detector

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/events"
	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
	"github.com/fyrsmithlabs/acdkn/internal/store"
)

var tracer = otel.Tracer("acdkn.detector")

// pointNamespace seeds the name-based UUIDs of integration points.
var pointNamespace = uuid.MustParse("6f1d7a0e-3c52-4b8e-9a41-d2f0c7b5e913")

// PointID returns the stable integration point id of an unordered unit pair.
func PointID(a, b string) string {
	return "ip_" + uuid.NewSHA1(pointNamespace, []byte(knowledge.PairKey(a, b))).String()
}

const (
	DefaultConfidenceThreshold = 0.5
	DefaultBatchSize           = 100
)

// Config controls detection.
type Config struct {
	// ConfidenceThreshold discards pairs whose weighted confidence falls
	// below it. Distinct from the matcher's similarity threshold. Zero
	// selects DefaultConfidenceThreshold.
	ConfidenceThreshold float64

	// BatchSize is the number of pairs committed per atomic upsert.
	BatchSize int
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = DefaultConfidenceThreshold
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %f", c.ConfidenceThreshold)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// Detector scores candidate pairs and persists integration points.
type Detector struct {
	cfg    Config
	matrix knowledge.CompatibilityMatrix
	points store.PointStore
	sink   events.Sink
	now    func() time.Time
	logger *zap.Logger
	lock   LockFunc
}

// LockFunc acquires the exclusive lock guarding one point's status and
// returns its release function.
type LockFunc func(pointID string) (unlock func())

func noLock(string) func() { return func() {} }

// Option configures a Detector.
type Option func(*Detector)

// WithSink sets the event sink.
func WithSink(sink events.Sink) Option {
	return func(d *Detector) {
		if sink != nil {
			d.sink = sink
		}
	}
}

// WithPointLock sets the lock shared with status transitions. A batch holds
// the locks of all its points from the first read until the commit, so a
// transition that lands mid-batch is never overwritten with a stale copy.
func WithPointLock(lock LockFunc) Option {
	return func(d *Detector) {
		if lock != nil {
			d.lock = lock
		}
	}
}

// WithClock sets the time source used for point timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a Detector persisting into points.
func New(cfg Config, matrix knowledge.CompatibilityMatrix, points store.PointStore, opts ...Option) (*Detector, error) {
	if points == nil {
		return nil, errors.New("point store cannot be nil")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector config: %w", err)
	}
	d := &Detector{
		cfg:    cfg,
		matrix: matrix,
		points: points,
		sink:   events.Nop{},
		now:    time.Now,
		logger: zap.NewNop(),
		lock:   noLock,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Confidence returns similarity × compatibility(a, b), clamped to [0,1].
func (d *Detector) Confidence(p knowledge.CandidatePair) float64 {
	return knowledge.Clamp01(p.Similarity * d.matrix.Weight(p.DomainA, p.DomainB))
}

// Result summarises one detection pass.
type Result struct {
	// Points holds new and updated points, by confidence desc then ID asc.
	Points []knowledge.IntegrationPoint

	Created    int
	Updated    int
	Unchanged  int
	Discarded  int
	Suppressed int
}

// Detect scores pairs and upserts the resulting points batch by batch.
//
// Each batch is committed atomically. Cancellation is checked between
// batches: the returned Result then covers only the committed batches and the
// error wraps ctx.Err().
func (d *Detector) Detect(ctx context.Context, pairs []knowledge.CandidatePair) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Detector.Detect")
	defer span.End()
	span.SetAttributes(attribute.Int("detector.pairs", len(pairs)))

	res := &Result{}
	seen := make(map[string]struct{}, len(pairs))
	for start := 0; start < len(pairs); start += d.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "canceled")
			d.finish(res)
			return res, fmt.Errorf("detection canceled after %d pairs: %w", start, err)
		}
		end := min(start+d.cfg.BatchSize, len(pairs))
		if err := d.detectBatch(ctx, pairs[start:end], seen, res); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			d.finish(res)
			return res, err
		}
	}

	d.finish(res)
	span.SetAttributes(
		attribute.Int("detector.created", res.Created),
		attribute.Int("detector.updated", res.Updated),
		attribute.Int("detector.discarded", res.Discarded),
	)
	return res, nil
}

func (d *Detector) finish(res *Result) {
	slices.SortFunc(res.Points, func(a, b knowledge.IntegrationPoint) int {
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

type pending struct {
	point   knowledge.IntegrationPoint
	created bool
}

type scored struct {
	pair knowledge.CandidatePair
	conf float64
	id   string
}

// lockAll takes the point locks in id order. Transitions hold a single
// point lock, so ordered acquisition cannot deadlock.
func (d *Detector) lockAll(kept []scored) (unlock func()) {
	ids := make([]string, len(kept))
	for i, k := range kept {
		ids[i] = k.id
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	unlocks := make([]func(), len(ids))
	for i, id := range ids {
		unlocks[i] = d.lock(id)
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

func (d *Detector) detectBatch(ctx context.Context, pairs []knowledge.CandidatePair, seen map[string]struct{}, res *Result) error {
	now := d.now()
	var kept []scored

	for _, p := range pairs {
		key := p.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		conf := d.Confidence(p)
		if conf < d.cfg.ConfidenceThreshold {
			res.Discarded++
			d.sink.Emit(ctx, events.New(events.PairDiscarded, now, key,
				"similarity", p.Similarity,
				"confidence", conf,
				"threshold", d.cfg.ConfidenceThreshold,
				"domains", knowledge.DomainPairKey(p.DomainA, p.DomainB),
			))
			continue
		}
		kept = append(kept, scored{pair: p, conf: conf, id: PointID(p.A, p.B)})
	}
	if len(kept) == 0 {
		return nil
	}

	unlock := d.lockAll(kept)
	defer unlock()

	var batch []pending
	for _, k := range kept {
		p, conf, id := k.pair, k.conf, k.id
		existing, err := d.points.GetIntegrationPoint(ctx, id)
		switch {
		case errors.Is(err, knowledge.ErrNotFound):
			batch = append(batch, pending{created: true, point: knowledge.IntegrationPoint{
				ID:           id,
				UnitA:        p.A,
				UnitB:        p.B,
				DomainA:      p.DomainA,
				DomainB:      p.DomainB,
				Similarity:   p.Similarity,
				Confidence:   conf,
				Status:       knowledge.StatusProposed,
				DiscoveredAt: now,
				UpdatedAt:    now,
			}})
		case err != nil:
			return fmt.Errorf("loading point %s: %w", id, err)
		default:
			switch existing.Status {
			case knowledge.StatusProposed, knowledge.StatusDecided:
				if existing.Confidence == conf && existing.Similarity == p.Similarity {
					res.Unchanged++
					continue
				}
				existing.Confidence = conf
				existing.Similarity = p.Similarity
				existing.UpdatedAt = now
				batch = append(batch, pending{point: *existing})
			default:
				res.Suppressed++
				d.logger.Debug("pair already settled",
					zap.String("point", id),
					zap.String("status", string(existing.Status)),
				)
			}
		}
	}

	if len(batch) == 0 {
		return nil
	}
	points := make([]knowledge.IntegrationPoint, len(batch))
	for i, b := range batch {
		points[i] = b.point
	}
	if err := d.points.UpsertIntegrationPoints(ctx, points); err != nil {
		return fmt.Errorf("committing %d points: %w", len(points), err)
	}

	for _, b := range batch {
		if b.created {
			res.Created++
		} else {
			res.Updated++
		}
		res.Points = append(res.Points, b.point)
		d.sink.Emit(ctx, events.New(events.PointDetected, now, b.point.ID,
			"pair", b.point.PairKey(),
			"confidence", b.point.Confidence,
			"similarity", b.point.Similarity,
			"status", string(b.point.Status),
			"created", b.created,
		))
	}
	return nil
}
