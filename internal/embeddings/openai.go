package embeddings

import (
	"context"
	"fmt"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// OpenAIConfig configures an OpenAIProvider.
//
// Any server that speaks the OpenAI embeddings API works, including TEI's
// /v1 route and local gateways.
type OpenAIConfig struct {
	// BaseURL is the API root, e.g. https://api.openai.com/v1.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// APIKey authenticates the request. Local servers usually need none.
	APIKey string

	// Dimension is the expected vector length.
	Dimension int

	// RateLimit is requests per second. Zero disables limiting.
	RateLimit float64
}

// Validate validates the configuration.
func (c OpenAIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// OpenAIProvider generates embeddings through langchaingo's OpenAI client.
type OpenAIProvider struct {
	config   OpenAIConfig
	embedder *lcembeddings.EmbedderImpl
	limiter  *rate.Limiter
	metrics  *Metrics
}

// NewOpenAIProvider creates an OpenAI-compatible provider. metrics may be nil.
func NewOpenAIProvider(config OpenAIConfig, metrics *Metrics) (*OpenAIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	token := config.APIKey
	if token == "" {
		// The client refuses to start without a token.
		token = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithModel(config.Model),
		openai.WithToken(token),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), max(1, int(config.RateLimit)))
	}

	return &OpenAIProvider{
		config:   config,
		embedder: embedder,
		limiter:  limiter,
		metrics:  metrics,
	}, nil
}

// Embed generates an embedding for a single text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) (vector []float32, err error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed", time.Since(start), 1, err)
	}()

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrEmbeddingFailed, err)
	}
	vector, err = p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if err := checkBatch([][]float32{vector}, 1, p.config.Dimension); err != nil {
		return nil, err
	}
	return vector, nil
}

// EmbedBatch generates embeddings for multiple texts.
func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_batch", time.Since(start), len(texts), err)
	}()

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrEmbeddingFailed, err)
	}
	vectors, err = p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if err := checkBatch(vectors, len(texts), p.config.Dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Dimension returns the configured embedding dimension.
func (p *OpenAIProvider) Dimension() int {
	return p.config.Dimension
}

// Close is a no-op; the client holds no persistent connections.
func (p *OpenAIProvider) Close() error {
	return nil
}
