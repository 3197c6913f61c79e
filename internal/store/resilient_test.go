package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
	"github.com/fyrsmithlabs/acdkn/internal/retry"
)

// flakyStore fails the first n calls to Get with ErrStoreUnavailable.
type flakyStore struct {
	*MemoryStore
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyStore) Get(ctx context.Context, id string) (*knowledge.KnowledgeUnit, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, fmt.Errorf("%w: connection reset", knowledge.ErrStoreUnavailable)
	}
	return f.MemoryStore.Get(ctx, id)
}

func testPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     1,
		AttemptTimeout: time.Second,
	}
}

func TestResilient_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, inner.Put(ctx, unit("u1", "finance")))
	inner.failures.Store(2)

	r := NewResilient(inner, testPolicy(), DefaultBreakerConfig(), zaptest.NewLogger(t))
	got, err := r.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, int32(3), inner.calls.Load())
}

func TestResilient_NotFoundIsNotRetried(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	r := NewResilient(inner, testPolicy(), DefaultBreakerConfig(), nil)

	_, err := r.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
	assert.NotErrorIs(t, err, knowledge.ErrStoreUnavailable)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, gobreaker.StateClosed, r.State())
}

func TestResilient_ExhaustedSurfacesStoreUnavailable(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	inner.failures.Store(100)
	r := NewResilient(inner, testPolicy(), DefaultBreakerConfig(), nil)

	_, err := r.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, knowledge.ErrStoreUnavailable)
	assert.ErrorIs(t, err, retry.ErrExhausted)
}

func TestResilient_BreakerOpensAndFailsFast(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	inner.failures.Store(1000)

	cfg := BreakerConfig{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 0.5,
		MinRequests:      3,
	}
	r := NewResilient(inner, testPolicy(), cfg, nil)

	ctx := context.Background()
	_, err := r.Get(ctx, "u1")
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, r.State())

	before := inner.calls.Load()
	_, err = r.Get(ctx, "u1")
	assert.ErrorIs(t, err, knowledge.ErrStoreUnavailable)
	assert.Equal(t, before, inner.calls.Load(), "open breaker must not reach the backend")

	assert.ErrorIs(t, r.Ping(ctx), knowledge.ErrStoreUnavailable)
}

func TestResilient_PassesThroughWrites(t *testing.T) {
	ctx := context.Background()
	r := NewResilient(NewMemoryStore(), testPolicy(), DefaultBreakerConfig(), nil)

	require.NoError(t, r.Put(ctx, unit("u1", "finance")))
	require.NoError(t, r.UpsertIntegrationPoints(ctx, []knowledge.IntegrationPoint{point("p1", "u1", "u2")}))
	require.NoError(t, r.PutDecision(ctx, &knowledge.StrategyDecision{ID: "d1", PointID: "p1"}))

	n, err := r.CountUnits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	points, err := r.ListIntegrationPoints(ctx)
	require.NoError(t, err)
	assert.Len(t, points, 1)

	decisions, err := r.ListDecisions(ctx)
	require.NoError(t, err)
	assert.Len(t, decisions, 1)

	require.NoError(t, r.Ping(ctx))
	require.NoError(t, r.Close())
}
