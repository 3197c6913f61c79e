package matcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

var errNoEmbeddingFunc = errors.New("matcher collections only accept precomputed embeddings")

func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbeddingFunc
}

// chromem loads one in-memory collection per domain, then queries every
// other domain's collection with each unit's vector for its NeighborK
// nearest neighbours. Hits are re-scored with exact cosine.
func (m *Matcher) chromem(ctx context.Context, pop *population) ([]knowledge.CandidatePair, error) {
	ctx, span := tracer.Start(ctx, "Matcher.chromem")
	defer span.End()

	domains, groups := pop.byDomain()
	db := chromem.NewDB()
	collections := make(map[knowledge.Domain]*chromem.Collection, len(domains))
	for _, d := range domains {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		col, err := db.CreateCollection(string(d), nil, noEmbed)
		if err != nil {
			return nil, fmt.Errorf("creating collection %s: %w", d, err)
		}
		docs := make([]chromem.Document, len(groups[d]))
		for k, idx := range groups[d] {
			docs[k] = chromem.Document{
				ID:        pop.items[idx].id,
				Embedding: toFloat32(pop.items[idx].vec),
				Content:   pop.items[idx].id,
			}
		}
		if err := col.AddDocuments(ctx, docs, m.cfg.Concurrency); err != nil {
			return nil, fmt.Errorf("indexing domain %s: %w", d, err)
		}
		collections[d] = col
	}

	var (
		mu         sync.Mutex
		seen       = make(map[[2]int]struct{})
		candidates [][2]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for i := range pop.items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			query := toFloat32(pop.items[i].vec)
			var found [][2]int
			for _, d := range domains {
				if d == pop.items[i].domain {
					continue
				}
				col := collections[d]
				k := min(m.cfg.NeighborK, col.Count())
				results, err := col.QueryEmbedding(gctx, query, k, nil, nil)
				if err != nil {
					return fmt.Errorf("querying domain %s: %w", d, err)
				}
				for _, r := range results {
					if float64(r.Similarity) < m.cfg.SimilarityThreshold-1e-4 {
						break
					}
					j := pop.index[r.ID]
					found = append(found, [2]int{min(i, j), max(i, j)})
				}
			}
			mu.Lock()
			for _, key := range found {
				if _, dup := seen[key]; !dup {
					seen[key] = struct{}{}
					candidates = append(candidates, key)
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("matcher.chromem.candidates", len(candidates)))

	return m.verify(ctx, pop, candidates)
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
