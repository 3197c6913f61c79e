package matcher

import (
	"context"
	"math/rand/v2"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

// hyperplanes draws Bands*BitsPerBand random Gaussian normals from the
// fixed seed, so identical snapshots hash identically across runs.
func (m *Matcher) hyperplanes(dim int) [][]float64 {
	rng := rand.New(rand.NewPCG(m.cfg.Seed, m.cfg.Seed^0x9e3779b97f4a7c15))
	planes := make([][]float64, m.cfg.Bands*m.cfg.BitsPerBand)
	for i := range planes {
		p := make([]float64, dim)
		for k := range p {
			p[k] = rng.NormFloat64()
		}
		planes[i] = p
	}
	return planes
}

// signature returns one bucket key per band for vec.
func (m *Matcher) signature(vec []float64, planes [][]float64) []uint64 {
	sig := make([]uint64, m.cfg.Bands)
	for b := range sig {
		var key uint64
		for bit := 0; bit < m.cfg.BitsPerBand; bit++ {
			plane := planes[b*m.cfg.BitsPerBand+bit]
			var dot float64
			for k := range vec {
				dot += vec[k] * plane[k]
			}
			if dot >= 0 {
				key |= 1 << bit
			}
		}
		sig[b] = key
	}
	return sig
}

// lsh buckets items by band signature and verifies every cross-domain pair
// that shares at least one bucket.
func (m *Matcher) lsh(ctx context.Context, pop *population) ([]knowledge.CandidatePair, error) {
	ctx, span := tracer.Start(ctx, "Matcher.lsh")
	defer span.End()

	planes := m.hyperplanes(pop.dim)
	sigs := make([][]uint64, len(pop.items))
	for i := range pop.items {
		if i%m.cfg.BlockSize == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		sigs[i] = m.signature(pop.items[i].vec, planes)
	}

	seen := make(map[[2]int]struct{})
	var candidates [][2]int
	for b := 0; b < m.cfg.Bands; b++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buckets := make(map[uint64][]int)
		for i := range pop.items {
			buckets[sigs[i][b]] = append(buckets[sigs[i][b]], i)
		}
		for _, members := range buckets {
			for x := 0; x < len(members); x++ {
				for y := x + 1; y < len(members); y++ {
					i, j := members[x], members[y]
					if pop.items[i].domain == pop.items[j].domain {
						continue
					}
					key := [2]int{i, j}
					if _, dup := seen[key]; dup {
						continue
					}
					seen[key] = struct{}{}
					candidates = append(candidates, key)
				}
			}
		}
	}
	span.SetAttributes(attribute.Int("matcher.lsh.candidates", len(candidates)))

	return m.verify(ctx, pop, candidates)
}
