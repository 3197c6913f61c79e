package knowledge

import (
	"fmt"
	"slices"
)

// DomainSet is the finite set of supported domains.
type DomainSet struct {
	domains map[Domain]struct{}
}

// NewDomainSet builds a set from domain names. Empty names are ignored.
func NewDomainSet(domains ...string) DomainSet {
	s := DomainSet{domains: make(map[Domain]struct{}, len(domains))}
	for _, d := range domains {
		if d == "" {
			continue
		}
		s.domains[Domain(d)] = struct{}{}
	}
	return s
}

// Contains reports whether d is supported.
func (s DomainSet) Contains(d Domain) bool {
	_, ok := s.domains[d]
	return ok
}

// Check returns ErrInvalidDomain when d is not supported.
func (s DomainSet) Check(d Domain) error {
	if !s.Contains(d) {
		return fmt.Errorf("%w: %q", ErrInvalidDomain, d)
	}
	return nil
}

// Len returns the number of supported domains.
func (s DomainSet) Len() int {
	return len(s.domains)
}

// List returns the domains sorted by name.
func (s DomainSet) List() []Domain {
	out := make([]Domain, 0, len(s.domains))
	for d := range s.domains {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

// CompatibilityMatrix maps unordered domain pairs to a weight in [0,1].
//
// The matrix is symmetric. A pair with no entry has weight 0 and never
// integrates.
type CompatibilityMatrix struct {
	weights map[[2]Domain]float64
}

// NewCompatibilityMatrix builds a symmetric matrix from a nested map as it
// appears in configuration. Either direction of a pair may be specified; when
// both are, they must agree.
func NewCompatibilityMatrix(raw map[string]map[string]float64) (CompatibilityMatrix, error) {
	m := CompatibilityMatrix{weights: make(map[[2]Domain]float64)}
	for a, row := range raw {
		for b, w := range row {
			if w < 0 || w > 1 {
				return CompatibilityMatrix{}, fmt.Errorf("compatibility %s×%s: weight %f out of range", a, b, w)
			}
			key := domainKey(Domain(a), Domain(b))
			if prev, ok := m.weights[key]; ok && prev != w {
				return CompatibilityMatrix{}, fmt.Errorf("compatibility %s×%s: asymmetric weights %f and %f", a, b, prev, w)
			}
			m.weights[key] = w
		}
	}
	return m, nil
}

// Weight returns the weight of the unordered pair, 0 when absent.
func (m CompatibilityMatrix) Weight(a, b Domain) float64 {
	return m.weights[domainKey(a, b)]
}

// Domains returns every domain referenced by the matrix.
func (m CompatibilityMatrix) Domains() []Domain {
	seen := make(map[Domain]struct{})
	for k := range m.weights {
		seen[k[0]] = struct{}{}
		seen[k[1]] = struct{}{}
	}
	out := make([]Domain, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	slices.Sort(out)
	return out
}

func domainKey(a, b Domain) [2]Domain {
	if b < a {
		a, b = b, a
	}
	return [2]Domain{a, b}
}

// DomainPairKey returns the canonical "a×b" label for an unordered domain pair.
func DomainPairKey(a, b Domain) string {
	k := domainKey(a, b)
	return string(k[0]) + "×" + string(k[1])
}

// Clamp01 clamps v into [0,1].
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
