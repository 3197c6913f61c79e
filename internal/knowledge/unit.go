package knowledge

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Domain is a knowledge domain tag such as "healthcare" or "finance".
type Domain string

// KnowledgeUnit is one atomic piece of domain content.
//
// Units are created by ingestion with zero confidence and no embedding.
// Timestamps are assigned by the ingestion path, never by NewUnit.
type KnowledgeUnit struct {
	// ID is the unique unit identifier.
	ID string `json:"id"`

	// Domain is the domain tag; must belong to the configured DomainSet.
	Domain Domain `json:"domain"`

	// Content is the raw text content.
	Content string `json:"content"`

	// Metadata holds arbitrary scalar attributes.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Embedding is set by the embedding step. Nil until embedded.
	Embedding []float32 `json:"embedding,omitempty"`

	// CreatedAt is assigned once on ingestion.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt changes on every mutation.
	UpdatedAt time.Time `json:"updated_at"`

	// Confidence reflects trust in the content, in [0,1].
	Confidence float64 `json:"confidence"`
}

// NewUnit builds an unembedded unit with zero confidence.
func NewUnit(id string, domain Domain, content string, metadata map[string]any) KnowledgeUnit {
	return KnowledgeUnit{
		ID:       id,
		Domain:   domain,
		Content:  content,
		Metadata: metadata,
	}
}

// Embedded reports whether the unit carries an embedding.
func (u *KnowledgeUnit) Embedded() bool {
	return len(u.Embedding) > 0
}

// Validate checks the structural invariants of a unit. Domain membership is
// checked separately against a DomainSet.
func (u *KnowledgeUnit) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidUnit)
	}
	if strings.TrimSpace(u.Content) == "" {
		return fmt.Errorf("%w: content cannot be empty", ErrInvalidUnit)
	}
	if u.Confidence < 0 || u.Confidence > 1 {
		return fmt.Errorf("%w: confidence %f out of range", ErrInvalidUnit, u.Confidence)
	}
	return nil
}

// Clone returns a deep copy so snapshots never alias live units.
func (u KnowledgeUnit) Clone() KnowledgeUnit {
	c := u
	if u.Metadata != nil {
		c.Metadata = maps.Clone(u.Metadata)
	}
	if u.Embedding != nil {
		c.Embedding = append([]float32(nil), u.Embedding...)
	}
	return c
}

// CandidatePair is a transient cross-domain match produced by the matcher.
// A and B are stored in canonical order (A < B).
type CandidatePair struct {
	A          string  `json:"a"`
	B          string  `json:"b"`
	DomainA    Domain  `json:"domain_a"`
	DomainB    Domain  `json:"domain_b"`
	Similarity float64 `json:"similarity"`
}

// NewCandidatePair orders the two units canonically.
func NewCandidatePair(a, b *KnowledgeUnit, similarity float64) CandidatePair {
	if b.ID < a.ID {
		a, b = b, a
	}
	return CandidatePair{
		A:          a.ID,
		B:          b.ID,
		DomainA:    a.Domain,
		DomainB:    b.Domain,
		Similarity: similarity,
	}
}

// Key returns the canonical unordered pair key.
func (p CandidatePair) Key() string {
	return PairKey(p.A, p.B)
}

// PairKey returns the canonical key of an unordered unit pair.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}
