package embeddings

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// DefaultHashDimension matches all-MiniLM-L6-v2 so stores can switch
// providers without a dimension change.
const DefaultHashDimension = 384

// HashProvider embeds text by signed feature hashing of lowercased word
// unigrams and bigrams, then L2-normalizes the result.
//
// It needs no model files or network and is fully deterministic, which
// makes it the default for tests and offline runs. Texts sharing
// vocabulary get high cosine similarity; it captures no semantics beyond
// lexical overlap.
type HashProvider struct {
	dimension int
}

// NewHashProvider creates a hash provider. A non-positive dimension selects
// DefaultHashDimension.
func NewHashProvider(dimension int) (*HashProvider, error) {
	if dimension <= 0 {
		dimension = DefaultHashDimension
	}
	if dimension < 8 {
		return nil, fmt.Errorf("%w: hash dimension %d too small", ErrInvalidConfig, dimension)
	}
	return &HashProvider{dimension: dimension}, nil
}

// Embed hashes a single text.
func (p *HashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.vector(text), nil
}

// EmbedBatch hashes texts in order.
func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(text)
	}
	return out, nil
}

// Dimension returns the vector length.
func (p *HashProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op.
func (p *HashProvider) Close() error {
	return nil
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (p *HashProvider) vector(text string) []float32 {
	acc := make([]float64, p.dimension)
	add := func(feature string, weight float64) {
		h := xxhash.Sum64String(feature)
		idx := h % uint64(p.dimension)
		if h>>63 == 1 {
			weight = -weight
		}
		acc[idx] += weight
	}

	tokens := tokenize(text)
	for i, tok := range tokens {
		add(tok, 1)
		if i > 0 {
			add(tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make([]float32, p.dimension)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range acc {
		out[i] = float32(v / norm)
	}
	return out
}
