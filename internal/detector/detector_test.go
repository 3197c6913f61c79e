package detector

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/acdkn/internal/events"
	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
	"github.com/fyrsmithlabs/acdkn/internal/store"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func matrix(t *testing.T) knowledge.CompatibilityMatrix {
	t.Helper()
	m, err := knowledge.NewCompatibilityMatrix(map[string]map[string]float64{
		"healthcare": {"technology": 0.9, "finance": 0.5},
		"finance":    {"technology": 1.0},
	})
	require.NoError(t, err)
	return m
}

func pair(a string, da knowledge.Domain, b string, db knowledge.Domain, sim float64) knowledge.CandidatePair {
	ua := knowledge.NewUnit(a, da, "x", nil)
	ub := knowledge.NewUnit(b, db, "y", nil)
	return knowledge.NewCandidatePair(&ua, &ub, sim)
}

func newDetector(t *testing.T, cfg Config, points store.PointStore) (*Detector, *events.Recorder, *time.Time) {
	t.Helper()
	rec := &events.Recorder{}
	now := t0
	d, err := New(cfg, matrix(t), points, WithSink(rec), WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return d, rec, &now
}

func TestDetect_ProposesWeightedPoint(t *testing.T) {
	st := store.NewMemoryStore()
	d, rec, _ := newDetector(t, Config{}, st)

	res, err := d.Detect(context.Background(), []knowledge.CandidatePair{
		pair("bp-monitoring", "healthcare", "sensor-streaming", "technology", 0.82),
	})
	require.NoError(t, err)
	require.Len(t, res.Points, 1)

	p := res.Points[0]
	assert.InDelta(t, 0.738, p.Confidence, 1e-9)
	assert.Equal(t, knowledge.StatusProposed, p.Status)
	assert.Equal(t, PointID("bp-monitoring", "sensor-streaming"), p.ID)
	assert.Equal(t, t0, p.DiscoveredAt)
	assert.Equal(t, 1, res.Created)

	stored, err := st.GetIntegrationPoint(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p, *stored)
	assert.Equal(t, 1, rec.Count(events.PointDetected))
}

func TestDetect_Idempotent(t *testing.T) {
	st := store.NewMemoryStore()
	d, _, _ := newDetector(t, Config{}, st)
	pairs := []knowledge.CandidatePair{
		pair("a", "healthcare", "b", "technology", 0.9),
		pair("c", "finance", "d", "technology", 0.8),
	}

	first, err := d.Detect(context.Background(), pairs)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	second, err := d.Detect(context.Background(), pairs)
	require.NoError(t, err)
	assert.Zero(t, second.Created)
	assert.Equal(t, 2, second.Unchanged)
	assert.Empty(t, second.Points)

	all, err := st.ListIntegrationPoints(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDetect_DiscardsBelowThreshold(t *testing.T) {
	st := store.NewMemoryStore()
	d, rec, _ := newDetector(t, Config{ConfidenceThreshold: 0.6}, st)

	res, err := d.Detect(context.Background(), []knowledge.CandidatePair{
		pair("a", "healthcare", "b", "finance", 0.9),   // 0.45
		pair("c", "healthcare", "d", "research", 0.99), // no weight
		pair("e", "finance", "f", "technology", 0.75),  // 0.75
	})
	require.NoError(t, err)
	require.Len(t, res.Points, 1)
	assert.Equal(t, "e", res.Points[0].UnitA)
	assert.Equal(t, 2, res.Discarded)

	discarded := rec.OfType(events.PairDiscarded)
	require.Len(t, discarded, 2)
	assert.Equal(t, "a|b", discarded[0].Subject)
	assert.Equal(t, 0.0, discarded[1].Fields["confidence"])

	all, err := st.ListIntegrationPoints(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDetect_UpdatesInPlace(t *testing.T) {
	for _, status := range []knowledge.Status{knowledge.StatusProposed, knowledge.StatusDecided} {
		t.Run(string(status), func(t *testing.T) {
			st := store.NewMemoryStore()
			d, _, now := newDetector(t, Config{}, st)
			ctx := context.Background()

			_, err := d.Detect(ctx, []knowledge.CandidatePair{pair("a", "finance", "b", "technology", 0.7)})
			require.NoError(t, err)
			id := PointID("a", "b")
			if status == knowledge.StatusDecided {
				p, err := st.GetIntegrationPoint(ctx, id)
				require.NoError(t, err)
				require.NoError(t, p.Transition(status, t0))
				require.NoError(t, st.UpsertIntegrationPoint(ctx, p))
			}

			*now = t0.Add(time.Hour)
			res, err := d.Detect(ctx, []knowledge.CandidatePair{pair("b", "technology", "a", "finance", 0.95)})
			require.NoError(t, err)
			require.Len(t, res.Points, 1)
			assert.Equal(t, 1, res.Updated)

			p := res.Points[0]
			assert.Equal(t, id, p.ID)
			assert.InDelta(t, 0.95, p.Confidence, 1e-9)
			assert.Equal(t, status, p.Status)
			assert.Equal(t, t0, p.DiscoveredAt)
			assert.Equal(t, t0.Add(time.Hour), p.UpdatedAt)
		})
	}
}

func TestDetect_SettledPointsUntouched(t *testing.T) {
	tests := []struct {
		name string
		path []knowledge.Status
	}{
		{name: "accepted", path: []knowledge.Status{knowledge.StatusAccepted}},
		{name: "rejected", path: []knowledge.Status{knowledge.StatusRejected}},
		{name: "applied", path: []knowledge.Status{knowledge.StatusDecided, knowledge.StatusApplied}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			d, _, _ := newDetector(t, Config{}, st)
			ctx := context.Background()

			_, err := d.Detect(ctx, []knowledge.CandidatePair{pair("a", "finance", "b", "technology", 0.7)})
			require.NoError(t, err)
			p, err := st.GetIntegrationPoint(ctx, PointID("a", "b"))
			require.NoError(t, err)
			p.DecisionID = "dc_1"
			for _, s := range tt.path {
				require.NoError(t, p.Transition(s, t0))
			}
			require.NoError(t, st.UpsertIntegrationPoint(ctx, p))

			res, err := d.Detect(ctx, []knowledge.CandidatePair{pair("a", "finance", "b", "technology", 0.99)})
			require.NoError(t, err)
			assert.Empty(t, res.Points)
			assert.Equal(t, 1, res.Suppressed)

			after, err := st.GetIntegrationPoint(ctx, p.ID)
			require.NoError(t, err)
			assert.InDelta(t, 0.7, after.Confidence, 1e-9)
			assert.Equal(t, tt.path[len(tt.path)-1], after.Status)
		})
	}
}

func TestDetect_SortedByConfidenceThenID(t *testing.T) {
	d, _, _ := newDetector(t, Config{}, store.NewMemoryStore())
	res, err := d.Detect(context.Background(), []knowledge.CandidatePair{
		pair("a", "finance", "b", "technology", 0.6),
		pair("c", "finance", "d", "technology", 0.9),
		pair("e", "finance", "f", "technology", 0.9),
		pair("g", "healthcare", "h", "technology", 0.8),
	})
	require.NoError(t, err)
	require.Len(t, res.Points, 4)
	for i := 1; i < len(res.Points); i++ {
		prev, cur := res.Points[i-1], res.Points[i]
		if prev.Confidence == cur.Confidence {
			assert.Less(t, prev.ID, cur.ID)
			continue
		}
		assert.Greater(t, prev.Confidence, cur.Confidence)
	}
	assert.InDelta(t, 0.6, res.Points[3].Confidence, 1e-9)
}

func TestConfidence_Clamped(t *testing.T) {
	m, err := knowledge.NewCompatibilityMatrix(map[string]map[string]float64{
		"a": {"b": 1.0, "c": 0.1},
	})
	require.NoError(t, err)
	d, err := New(Config{}, m, store.NewMemoryStore())
	require.NoError(t, err)

	tests := []struct {
		name string
		pair knowledge.CandidatePair
		want float64
	}{
		{name: "one by one", pair: pair("x", "a", "y", "b", 1.0), want: 1.0},
		{name: "tenth by tenth", pair: pair("x", "a", "y", "c", 0.1), want: 0.01},
		{name: "similarity above one", pair: pair("x", "a", "y", "b", 1.0000001), want: 1.0},
		{name: "missing weight", pair: pair("x", "b", "y", "c", 0.9), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Confidence(tt.pair)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

// cancelingStore cancels the run once the first batch is committed.
type cancelingStore struct {
	*store.MemoryStore
	cancel  context.CancelFunc
	batches int
}

func (s *cancelingStore) UpsertIntegrationPoints(ctx context.Context, points []knowledge.IntegrationPoint) error {
	if err := s.MemoryStore.UpsertIntegrationPoints(ctx, points); err != nil {
		return err
	}
	s.batches++
	s.cancel()
	return nil
}

func TestDetect_CanceledBetweenBatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := &cancelingStore{MemoryStore: store.NewMemoryStore(), cancel: cancel}
	d, _, _ := newDetector(t, Config{BatchSize: 2}, st)

	var pairs []knowledge.CandidatePair
	for i := range 5 {
		pairs = append(pairs, pair(fmt.Sprintf("f%d", i), "finance", fmt.Sprintf("t%d", i), "technology", 0.9))
	}

	res, err := d.Detect(ctx, pairs)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, st.batches)
	assert.Len(t, res.Points, 2)

	all, err := st.ListIntegrationPoints(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2, "only the committed batch is persisted")
}

func TestDetect_StoreUnavailable(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.Close())
	d, _, _ := newDetector(t, Config{}, st)

	_, err := d.Detect(context.Background(), []knowledge.CandidatePair{pair("a", "finance", "b", "technology", 0.9)})
	assert.ErrorIs(t, err, knowledge.ErrStoreUnavailable)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{}, matrix(t), nil)
	assert.Error(t, err)
	_, err = New(Config{ConfidenceThreshold: 1.2}, matrix(t), store.NewMemoryStore())
	assert.Error(t, err)
	_, err = New(Config{BatchSize: -1}, matrix(t), store.NewMemoryStore())
	assert.Error(t, err)
}

func TestPointID_Canonical(t *testing.T) {
	assert.Equal(t, PointID("a", "b"), PointID("b", "a"))
	assert.NotEqual(t, PointID("a", "b"), PointID("a", "c"))
}

// lockRecorder records lock order and checks that reads happen under lock.
type lockRecorder struct {
	mu       sync.Mutex
	held     map[string]bool
	order    []string
	released int
}

func (r *lockRecorder) lock(id string) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held == nil {
		r.held = map[string]bool{}
	}
	r.held[id] = true
	r.order = append(r.order, id)
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.held, id)
		r.released++
	}
}

func (r *lockRecorder) holds(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held[id]
}

type lockCheckingStore struct {
	*store.MemoryStore
	locks    *lockRecorder
	unlocked []string
}

func (s *lockCheckingStore) GetIntegrationPoint(ctx context.Context, id string) (*knowledge.IntegrationPoint, error) {
	if !s.locks.holds(id) {
		s.unlocked = append(s.unlocked, id)
	}
	return s.MemoryStore.GetIntegrationPoint(ctx, id)
}

func (s *lockCheckingStore) UpsertIntegrationPoints(ctx context.Context, points []knowledge.IntegrationPoint) error {
	for _, p := range points {
		if !s.locks.holds(p.ID) {
			s.unlocked = append(s.unlocked, p.ID)
		}
	}
	return s.MemoryStore.UpsertIntegrationPoints(ctx, points)
}

func TestDetect_LocksEveryPointInOrder(t *testing.T) {
	locks := &lockRecorder{}
	st := &lockCheckingStore{MemoryStore: store.NewMemoryStore(), locks: locks}
	d, err := New(Config{}, matrix(t), st, WithPointLock(locks.lock))
	require.NoError(t, err)

	res, err := d.Detect(context.Background(), []knowledge.CandidatePair{
		pair("c", "finance", "d", "technology", 0.8),
		pair("a", "healthcare", "b", "technology", 0.9),
		pair("e", "healthcare", "f", "technology", 0.1),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Discarded)

	assert.Empty(t, st.unlocked, "reads and writes must happen under the point lock")
	want := []string{PointID("a", "b"), PointID("c", "d")}
	slices.Sort(want)
	assert.Equal(t, want, locks.order)
	assert.Equal(t, 2, locks.released)
}
