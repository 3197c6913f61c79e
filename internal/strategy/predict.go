// Package strategy predicts an integration strategy for a point from the
// outcomes of past decisions on the same domain pair.
//
// Prediction is a pure function of the point and a read-only Stats
// snapshot. The feedback loop owns the snapshot and swaps it atomically;
// the predictor only reads it.
package strategy

import (
	"cmp"
	"slices"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

const (
	// ManualReview is the cold-start strategy.
	ManualReview = "manual-review"

	DefaultMinHistory = 5
	DefaultBuckets    = 10
)

// Config controls prediction.
type Config struct {
	// MinHistory is the number of completed decisions a domain pair needs
	// before predictions leave cold start.
	MinHistory int

	// Buckets is the number of confidence buckets used for the
	// nearest-neighbour lookup.
	Buckets int

	// DefaultStrategy is returned during cold start.
	DefaultStrategy string
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.MinHistory == 0 {
		c.MinHistory = DefaultMinHistory
	}
	if c.Buckets == 0 {
		c.Buckets = DefaultBuckets
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = ManualReview
	}
}

// LabelScore is the posterior mean of one candidate strategy.
type LabelScore struct {
	Strategy string  `json:"strategy"`
	Score    float64 `json:"score"`
	Support  int     `json:"support"`
}

// Prediction is the predicted strategy for a point.
type Prediction struct {
	Strategy   string  `json:"strategy"`
	Confidence float64 `json:"confidence"`
	ColdStart  bool    `json:"cold_start"`

	// History is the number of completed decisions for the domain pair.
	History int `json:"history"`

	// Radius is how far the lookup widened from the point's own bucket.
	Radius int `json:"radius"`

	// Scores ranks every label seen in the chosen buckets, best first.
	Scores []LabelScore `json:"scores,omitempty"`

	// StatsVersion identifies the snapshot the prediction was made from.
	StatsVersion uint64 `json:"stats_version"`
}

// Predict returns a strategy for point using stats.
//
// With fewer than MinHistory completed decisions for the point's domain
// pair, it returns DefaultStrategy with confidence 0. Otherwise it looks at
// the point's confidence bucket, widening by one bucket on each side until
// some bucket has observations, and picks the label with the highest Beta
// posterior mean. Ties go to the lexically smaller label.
func Predict(point knowledge.IntegrationPoint, stats *Stats, cfg Config) Prediction {
	cfg.ApplyDefaults()

	cold := Prediction{Strategy: cfg.DefaultStrategy, ColdStart: true}
	if stats != nil {
		cold.StatsVersion = stats.Version
	}
	ps := stats.Pair(point.DomainA, point.DomainB)
	if ps == nil || ps.Total < cfg.MinHistory {
		if ps != nil {
			cold.History = ps.Total
		}
		return cold
	}
	cold.History = ps.Total

	n := len(ps.Buckets)
	home := Bucket(point.Confidence, n)
	for r := 0; r < n; r++ {
		agg := make(map[string]LabelStats)
		ring := []int{home}
		if r > 0 {
			ring = []int{home - r, home + r}
		}
		for _, i := range ring {
			if i < 0 || i >= n {
				continue
			}
			for label, ls := range ps.Buckets[i] {
				a := agg[label]
				a.N += ls.N
				a.Sum += ls.Sum
				agg[label] = a
			}
		}
		if len(agg) == 0 {
			continue
		}

		scores := make([]LabelScore, 0, len(agg))
		for label, ls := range agg {
			scores = append(scores, LabelScore{Strategy: label, Score: ls.Posterior(), Support: ls.N})
		}
		slices.SortFunc(scores, func(a, b LabelScore) int {
			if c := cmp.Compare(b.Score, a.Score); c != 0 {
				return c
			}
			return cmp.Compare(a.Strategy, b.Strategy)
		})
		return Prediction{
			Strategy:     scores[0].Strategy,
			Confidence:   scores[0].Score,
			History:      ps.Total,
			Radius:       r,
			Scores:       scores,
			StatsVersion: stats.Version,
		}
	}
	return cold
}

// SnapshotSource supplies the current statistics snapshot.
type SnapshotSource interface {
	Snapshot() *Stats
}

// Predictor predicts against whatever snapshot its source currently holds.
type Predictor struct {
	cfg    Config
	source SnapshotSource
}

// NewPredictor creates a Predictor reading from source.
func NewPredictor(cfg Config, source SnapshotSource) *Predictor {
	cfg.ApplyDefaults()
	return &Predictor{cfg: cfg, source: source}
}

// Predict loads the current snapshot once and predicts from it.
func (p *Predictor) Predict(point knowledge.IntegrationPoint) Prediction {
	var stats *Stats
	if p.source != nil {
		stats = p.source.Snapshot()
	}
	return Predict(point, stats, p.cfg)
}

// Config returns the effective configuration.
func (p *Predictor) Config() Config {
	return p.cfg
}
