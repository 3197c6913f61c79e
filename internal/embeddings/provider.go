package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates a single provider call failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider generates embeddings.
//
// Output is deterministic for identical input under a fixed provider
// version, every vector has length Dimension(), and EmbedBatch preserves
// input order.
type Provider interface {
	// Embed returns the embedding of a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one embedding per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding length.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "hash", "tei", "openai" or "fastembed".
	Provider string

	// Model is the embedding model name.
	Model string

	// BaseURL is the server URL for the TEI and OpenAI providers.
	BaseURL string

	// APIKey is sent by the OpenAI provider.
	APIKey string

	// CacheDir is the model cache directory (only used for FastEmbed).
	CacheDir string

	// Dimension is the vector length for the hash provider, and an override
	// for TEI models whose dimension cannot be inferred from the name.
	Dimension int

	// RateLimit is the remote request budget per second. Zero disables limiting.
	RateLimit float64
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Falls back to 384 if model is unknown.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	switch {
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "large"):
		return 1024
	default:
		return 384
	}
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig, logger *zap.Logger) (Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := NewMetrics(logger)

	switch cfg.Provider {
	case "hash", "":
		p, err := NewHashProvider(cfg.Dimension)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "tei":
		dim := cfg.Dimension
		if dim <= 0 {
			dim = detectDimensionFromModel(cfg.Model)
		}
		p, err := NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: dim,
			RateLimit: cfg.RateLimit,
		}, metrics)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "openai":
		dim := cfg.Dimension
		if dim <= 0 {
			dim = detectDimensionFromModel(cfg.Model)
		}
		p, err := NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: dim,
			RateLimit: cfg.RateLimit,
		}, metrics)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "fastembed":
		p, err := NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// checkBatch verifies a provider result against the request.
func checkBatch(vectors [][]float32, n, dim int) error {
	if len(vectors) != n {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), n)
	}
	if dim <= 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has length %d, want %d", ErrEmbeddingFailed, i, len(v), dim)
		}
	}
	return nil
}
