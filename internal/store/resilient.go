package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
	"github.com/fyrsmithlabs/acdkn/internal/retry"
)

// BreakerConfig configures the circuit breaker in front of a Store.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32

	// Interval after which closed-state counts reset.
	Interval time.Duration

	// Timeout before an open breaker moves to half-open.
	Timeout time.Duration

	// FailureThreshold is the failure ratio that trips the breaker.
	FailureThreshold float64

	// MinRequests before the failure ratio is evaluated.
	MinRequests uint32
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// Resilient wraps a Store with bounded retries and a circuit breaker.
//
// Only backend failures (knowledge.ErrStoreUnavailable, deadline exceeded)
// are retried and counted against the breaker. Not-found and validation
// errors pass straight through. While the breaker is open every call fails
// fast with knowledge.ErrStoreUnavailable.
type Resilient struct {
	inner  Store
	policy retry.Policy
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
}

// NewResilient wraps inner.
func NewResilient(inner Store, policy retry.Policy, cfg BreakerConfig, logger *zap.Logger) *Resilient {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy.Retryable = isBackendFailure

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isBackendFailure(err)
		},
	})

	return &Resilient{inner: inner, policy: policy, cb: cb, logger: logger}
}

func isBackendFailure(err error) bool {
	return errors.Is(err, knowledge.ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded)
}

// State reports the breaker state.
func (r *Resilient) State() gobreaker.State {
	return r.cb.State()
}

func call[T any](ctx context.Context, r *Resilient, op string, fn func(context.Context) (T, error)) (T, error) {
	v, err := retry.Do(ctx, r.policy, r.logger, "store."+op, func(ctx context.Context) (T, error) {
		out, err := r.cb.Execute(func() (interface{}, error) {
			return fn(ctx)
		})
		if err != nil {
			var zero T
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return zero, fmt.Errorf("%w: %s: %v", knowledge.ErrStoreUnavailable, op, err)
			}
			return zero, err
		}
		return out.(T), nil
	})
	if errors.Is(err, retry.ErrExhausted) && !errors.Is(err, knowledge.ErrStoreUnavailable) {
		err = fmt.Errorf("%w: %w", knowledge.ErrStoreUnavailable, err)
	}
	return v, err
}

func exec(ctx context.Context, r *Resilient, op string, fn func(context.Context) error) error {
	_, err := call(ctx, r, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (r *Resilient) Get(ctx context.Context, id string) (*knowledge.KnowledgeUnit, error) {
	return call(ctx, r, "get", func(ctx context.Context) (*knowledge.KnowledgeUnit, error) {
		return r.inner.Get(ctx, id)
	})
}

func (r *Resilient) Put(ctx context.Context, unit *knowledge.KnowledgeUnit) error {
	return exec(ctx, r, "put", func(ctx context.Context) error {
		return r.inner.Put(ctx, unit)
	})
}

func (r *Resilient) ListByDomain(ctx context.Context, domain knowledge.Domain) ([]knowledge.KnowledgeUnit, error) {
	return call(ctx, r, "list_by_domain", func(ctx context.Context) ([]knowledge.KnowledgeUnit, error) {
		return r.inner.ListByDomain(ctx, domain)
	})
}

func (r *Resilient) CountUnits(ctx context.Context) (int, error) {
	return call(ctx, r, "count_units", r.inner.CountUnits)
}

func (r *Resilient) GetIntegrationPoint(ctx context.Context, id string) (*knowledge.IntegrationPoint, error) {
	return call(ctx, r, "get_point", func(ctx context.Context) (*knowledge.IntegrationPoint, error) {
		return r.inner.GetIntegrationPoint(ctx, id)
	})
}

func (r *Resilient) UpsertIntegrationPoint(ctx context.Context, point *knowledge.IntegrationPoint) error {
	return exec(ctx, r, "upsert_point", func(ctx context.Context) error {
		return r.inner.UpsertIntegrationPoint(ctx, point)
	})
}

func (r *Resilient) UpsertIntegrationPoints(ctx context.Context, points []knowledge.IntegrationPoint) error {
	return exec(ctx, r, "upsert_points", func(ctx context.Context) error {
		return r.inner.UpsertIntegrationPoints(ctx, points)
	})
}

func (r *Resilient) ListIntegrationPoints(ctx context.Context) ([]knowledge.IntegrationPoint, error) {
	return call(ctx, r, "list_points", r.inner.ListIntegrationPoints)
}

func (r *Resilient) PutDecision(ctx context.Context, decision *knowledge.StrategyDecision) error {
	return exec(ctx, r, "put_decision", func(ctx context.Context) error {
		return r.inner.PutDecision(ctx, decision)
	})
}

func (r *Resilient) GetDecision(ctx context.Context, id string) (*knowledge.StrategyDecision, error) {
	return call(ctx, r, "get_decision", func(ctx context.Context) (*knowledge.StrategyDecision, error) {
		return r.inner.GetDecision(ctx, id)
	})
}

func (r *Resilient) ListDecisions(ctx context.Context) ([]knowledge.StrategyDecision, error) {
	return call(ctx, r, "list_decisions", r.inner.ListDecisions)
}

// Ping bypasses retries so health checks report the current state.
func (r *Resilient) Ping(ctx context.Context) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.inner.Ping(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: ping: %v", knowledge.ErrStoreUnavailable, err)
	}
	return err
}

func (r *Resilient) Close() error {
	return r.inner.Close()
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*BadgerStore)(nil)
	_ Store = (*Resilient)(nil)
)
