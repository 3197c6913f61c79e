package strategy

import (
	"time"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

// LabelStats aggregates the completed outcomes of one strategy label.
type LabelStats struct {
	N   int     `json:"n"`
	Sum float64 `json:"sum"`
}

// Posterior returns the Beta(1,1) posterior mean of the outcome score.
func (l LabelStats) Posterior() float64 {
	return (1 + l.Sum) / (2 + float64(l.N))
}

// PairStats holds the history of one unordered domain pair, split into
// confidence buckets.
type PairStats struct {
	Total   int
	Buckets []map[string]LabelStats
}

// Stats is an immutable snapshot of completed-decision statistics. It is
// built once by a Builder and never modified afterwards.
type Stats struct {
	Version   uint64
	BuiltAt   time.Time
	Buckets   int
	Decisions int
	pairs     map[string]*PairStats
}

// Pair returns the statistics of the domain pair a×b, or nil.
func (s *Stats) Pair(a, b knowledge.Domain) *PairStats {
	if s == nil {
		return nil
	}
	return s.pairs[knowledge.DomainPairKey(a, b)]
}

// History returns the number of completed decisions for a×b.
func (s *Stats) History(a, b knowledge.Domain) int {
	if p := s.Pair(a, b); p != nil {
		return p.Total
	}
	return 0
}

// PairCount returns the number of domain pairs with history.
func (s *Stats) PairCount() int {
	if s == nil {
		return 0
	}
	return len(s.pairs)
}

// Bucket maps a confidence in [0,1] to one of n buckets.
func Bucket(confidence float64, n int) int {
	b := int(knowledge.Clamp01(confidence) * float64(n))
	return min(b, n-1)
}

// Builder accumulates completed decisions into the next Stats snapshot.
// A Builder is not safe for concurrent use.
type Builder struct {
	buckets int
	total   int
	pairs   map[string]*PairStats
}

// NewBuilder creates a builder with n confidence buckets.
func NewBuilder(n int) *Builder {
	if n <= 0 {
		n = DefaultBuckets
	}
	return &Builder{buckets: n, pairs: make(map[string]*PairStats)}
}

// Add folds a decision into the statistics. Decisions without an outcome
// are ignored. It reports whether the decision was counted.
func (b *Builder) Add(d knowledge.StrategyDecision) bool {
	if !d.Completed() || d.Strategy == "" {
		return false
	}
	key := knowledge.DomainPairKey(d.DomainA, d.DomainB)
	ps, ok := b.pairs[key]
	if !ok {
		ps = &PairStats{Buckets: make([]map[string]LabelStats, b.buckets)}
		b.pairs[key] = ps
	}
	i := Bucket(d.PointConfidence, b.buckets)
	if ps.Buckets[i] == nil {
		ps.Buckets[i] = make(map[string]LabelStats)
	}
	ls := ps.Buckets[i][d.Strategy]
	ls.N++
	ls.Sum += *d.Outcome
	ps.Buckets[i][d.Strategy] = ls
	ps.Total++
	b.total++
	return true
}

// Build freezes the accumulated statistics. The builder must not be used
// afterwards.
func (b *Builder) Build(version uint64, at time.Time) *Stats {
	s := &Stats{
		Version:   version,
		BuiltAt:   at,
		Buckets:   b.buckets,
		Decisions: b.total,
		pairs:     b.pairs,
	}
	b.pairs = nil
	return s
}
