package matcher

import (
	"math"
	"slices"
	"strings"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

// item is an embedded unit with its L2-normalized vector.
type item struct {
	id     string
	domain knowledge.Domain
	vec    []float64
}

// population is the sorted, deduplicated, normalized working set of a match.
type population struct {
	items   []item
	index   map[string]int
	dim     int
	domains int
	skipped int
}

// newPopulation keeps embedded units that share the dimension of the
// lowest-ID unit and have a non-zero vector, sorted by ID so results do not
// depend on input order.
func newPopulation(units []knowledge.KnowledgeUnit) *population {
	sorted := make([]*knowledge.KnowledgeUnit, 0, len(units))
	for i := range units {
		if units[i].Embedded() {
			sorted = append(sorted, &units[i])
		}
	}
	slices.SortStableFunc(sorted, func(a, b *knowledge.KnowledgeUnit) int {
		return strings.Compare(a.ID, b.ID)
	})

	p := &population{index: make(map[string]int, len(sorted))}
	if len(sorted) > 0 {
		p.dim = len(sorted[0].Embedding)
	}
	seenDomains := map[knowledge.Domain]struct{}{}
	for _, u := range sorted {
		if _, dup := p.index[u.ID]; dup {
			continue
		}
		if len(u.Embedding) != p.dim {
			p.skipped++
			continue
		}
		vec, ok := normalize(u.Embedding)
		if !ok {
			continue
		}
		p.index[u.ID] = len(p.items)
		p.items = append(p.items, item{id: u.ID, domain: u.Domain, vec: vec})
		seenDomains[u.Domain] = struct{}{}
	}
	p.domains = len(seenDomains)
	return p
}

func normalize(v []float32) ([]float64, bool) {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, false
	}
	norm = math.Sqrt(norm)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x) / norm
	}
	return out, true
}

// cosine returns the cosine similarity of items i and j, clamped to [-1,1].
func (p *population) cosine(i, j int) float64 {
	a, b := p.items[i].vec, p.items[j].vec
	var dot float64
	for k := range a {
		dot += a[k] * b[k]
	}
	return max(-1, min(1, dot))
}

// pair returns the canonical candidate pair of items i and j if they come
// from different domains and meet the threshold.
func (p *population) pair(i, j int, threshold float64) (knowledge.CandidatePair, bool) {
	a, b := &p.items[i], &p.items[j]
	if a.domain == b.domain {
		return knowledge.CandidatePair{}, false
	}
	sim := p.cosine(i, j)
	if sim < threshold {
		return knowledge.CandidatePair{}, false
	}
	if b.id < a.id {
		a, b = b, a
	}
	return knowledge.CandidatePair{
		A:          a.id,
		B:          b.id,
		DomainA:    a.domain,
		DomainB:    b.domain,
		Similarity: sim,
	}, true
}

// byDomain groups item indexes by domain, domains sorted.
func (p *population) byDomain() ([]knowledge.Domain, map[knowledge.Domain][]int) {
	groups := make(map[knowledge.Domain][]int)
	for i, it := range p.items {
		groups[it.domain] = append(groups[it.domain], i)
	}
	domains := make([]knowledge.Domain, 0, len(groups))
	for d := range groups {
		domains = append(domains, d)
	}
	slices.Sort(domains)
	return domains, groups
}
