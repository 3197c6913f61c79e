package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// TEIConfig configures a TEIProvider.
type TEIConfig struct {
	// BaseURL is the base URL of the text-embeddings-inference server.
	BaseURL string

	// Model is reported in metrics; TEI serves a single model per instance.
	Model string

	// Dimension is the expected vector length.
	Dimension int

	// RateLimit is requests per second. Zero disables limiting.
	RateLimit float64

	// Timeout bounds one HTTP request. Defaults to 30 seconds.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c TEIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// TEIProvider calls a text-embeddings-inference server's /embed endpoint.
type TEIProvider struct {
	config  TEIConfig
	client  *http.Client
	limiter *rate.Limiter
	metrics *Metrics
}

// NewTEIProvider creates a TEI provider. metrics may be nil.
func NewTEIProvider(config TEIConfig, metrics *Metrics) (*TEIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), max(1, int(config.RateLimit)))
	}

	return &TEIProvider{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: limiter,
		metrics: metrics,
	}, nil
}

type teiRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// Embed generates an embedding for a single text.
func (p *TEIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embed(ctx, "embed", []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (p *TEIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return p.embed(ctx, "embed_batch", texts)
}

func (p *TEIProvider) embed(ctx context.Context, operation string, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, operation, time.Since(start), len(texts), err)
	}()

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrEmbeddingFailed, err)
	}

	body, err := json.Marshal(teiRequest{Inputs: texts, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrEmbeddingFailed, err)
	}
	if err := checkBatch(vectors, len(texts), p.config.Dimension); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Dimension returns the configured embedding dimension.
func (p *TEIProvider) Dimension() int {
	return p.config.Dimension
}

// Close is a no-op for TEI since it uses HTTP.
func (p *TEIProvider) Close() error {
	return nil
}
