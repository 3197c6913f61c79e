// Package matcher finds cross-domain candidate pairs by cosine similarity.
//
// Small populations are compared exhaustively. Above Config.ExactLimit the
// configured index narrows the comparison set first: random-hyperplane LSH
// or an in-memory chromem-go collection per domain. Either way every
// returned pair has been verified with exact cosine against the threshold.
package matcher

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

var tracer = otel.Tracer("acdkn.matcher")

// Index names.
const (
	IndexLSH     = "lsh"
	IndexChromem = "chromem"
)

// Config configures a Matcher.
type Config struct {
	// SimilarityThreshold is the minimum cosine similarity of a pair.
	// Default: 0.7
	SimilarityThreshold float64

	// ExactLimit is the largest population compared exhaustively. A
	// negative value always uses the index.
	// Default: 2000
	ExactLimit int

	// Index is used above ExactLimit: "lsh" (default) or "chromem".
	Index string

	// Bands and BitsPerBand shape the LSH signature. More bands raise
	// recall at the cost of more verified candidates.
	// Defaults: 16 bands of 8 bits.
	Bands       int
	BitsPerBand int

	// Seed fixes the LSH hyperplanes. Default: 42
	Seed uint64

	// NeighborK is the per-domain neighbour count queried from chromem.
	// Default: 20
	NeighborK int

	// Concurrency bounds parallel workers. Default: 10
	Concurrency int

	// BlockSize is the number of rows per exhaustive work unit.
	// Default: 64
	BlockSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.7
	}
	if c.ExactLimit == 0 {
		c.ExactLimit = 2000
	}
	if c.Index == "" {
		c.Index = IndexLSH
	}
	if c.Bands == 0 {
		c.Bands = 16
	}
	if c.BitsPerBand == 0 {
		c.BitsPerBand = 8
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.NeighborK == 0 {
		c.NeighborK = 20
	}
	if c.Concurrency == 0 {
		c.Concurrency = 10
	}
	if c.BlockSize == 0 {
		c.BlockSize = 64
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold %f out of range (0,1]", c.SimilarityThreshold)
	}
	if c.Index != IndexLSH && c.Index != IndexChromem {
		return fmt.Errorf("unknown index %q", c.Index)
	}
	if c.BitsPerBand < 1 || c.BitsPerBand > 64 {
		return fmt.Errorf("bits per band %d out of range [1,64]", c.BitsPerBand)
	}
	if c.Bands < 1 || c.NeighborK < 1 || c.Concurrency < 1 || c.BlockSize < 1 {
		return fmt.Errorf("bands, neighbor_k, concurrency and block size must be positive")
	}
	return nil
}

// Matcher produces candidate pairs. It holds no state between calls and is
// safe for concurrent use.
type Matcher struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a Matcher.
func New(cfg Config, logger *zap.Logger) (*Matcher, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matcher config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{cfg: cfg, logger: logger}, nil
}

// Threshold returns the configured similarity threshold.
func (m *Matcher) Threshold() float64 {
	return m.cfg.SimilarityThreshold
}

// Match returns every cross-domain pair with similarity at or above the
// threshold, each unordered pair exactly once, ordered by similarity desc
// then (A, B) asc. Units without embeddings are ignored. Fewer than two
// domains with embedded units yields knowledge.ErrInsufficientData.
func (m *Matcher) Match(ctx context.Context, units []knowledge.KnowledgeUnit) ([]knowledge.CandidatePair, error) {
	ctx, span := tracer.Start(ctx, "Matcher.Match")
	defer span.End()

	pop := newPopulation(units)
	span.SetAttributes(
		attribute.Int("matcher.units", len(units)),
		attribute.Int("matcher.embedded", len(pop.items)),
		attribute.Int("matcher.domains", pop.domains),
	)
	if pop.skipped > 0 {
		m.logger.Warn("ignoring units with mismatched embedding dimension",
			zap.Int("skipped", pop.skipped),
			zap.Int("dimension", pop.dim),
		)
	}
	if pop.domains < 2 {
		err := fmt.Errorf("%w: %d domain(s) with embedded units", knowledge.ErrInsufficientData, pop.domains)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var (
		pairs []knowledge.CandidatePair
		err   error
		mode  = "exact"
	)
	switch {
	case len(pop.items) <= m.cfg.ExactLimit:
		pairs, err = m.exact(ctx, pop)
	case m.cfg.Index == IndexChromem:
		mode = IndexChromem
		pairs, err = m.chromem(ctx, pop)
	default:
		mode = IndexLSH
		pairs, err = m.lsh(ctx, pop)
	}
	span.SetAttributes(attribute.String("matcher.mode", mode))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	sortPairs(pairs)
	span.SetAttributes(attribute.Int("matcher.pairs", len(pairs)))
	m.logger.Debug("match complete",
		zap.String("mode", mode),
		zap.Int("embedded_units", len(pop.items)),
		zap.Int("pairs", len(pairs)),
	)
	return pairs, nil
}

// exact compares every cross-domain pair, one errgroup task per row block.
func (m *Matcher) exact(ctx context.Context, pop *population) ([]knowledge.CandidatePair, error) {
	n := len(pop.items)
	blocks := (n + m.cfg.BlockSize - 1) / m.cfg.BlockSize
	results := make([][]knowledge.CandidatePair, blocks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for b := 0; b < blocks; b++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lo, hi := b*m.cfg.BlockSize, min((b+1)*m.cfg.BlockSize, n)
			var out []knowledge.CandidatePair
			for i := lo; i < hi; i++ {
				for j := i + 1; j < n; j++ {
					if p, ok := pop.pair(i, j, m.cfg.SimilarityThreshold); ok {
						out = append(out, p)
					}
				}
			}
			results[b] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slices.Concat(results...), nil
}

// verify checks candidate index pairs with exact cosine in parallel.
func (m *Matcher) verify(ctx context.Context, pop *population, candidates [][2]int) ([]knowledge.CandidatePair, error) {
	chunk := m.cfg.BlockSize * m.cfg.BlockSize
	chunks := (len(candidates) + chunk - 1) / chunk
	results := make([][]knowledge.CandidatePair, chunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for c := 0; c < chunks; c++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var out []knowledge.CandidatePair
			for _, ij := range candidates[c*chunk : min((c+1)*chunk, len(candidates))] {
				if p, ok := pop.pair(ij[0], ij[1], m.cfg.SimilarityThreshold); ok {
					out = append(out, p)
				}
			}
			results[c] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slices.Concat(results...), nil
}

func sortPairs(pairs []knowledge.CandidatePair) {
	slices.SortFunc(pairs, func(a, b knowledge.CandidatePair) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		if c := strings.Compare(a.A, b.A); c != 0 {
			return c
		}
		return strings.Compare(a.B, b.B)
	})
}
