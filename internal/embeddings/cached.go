package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
	"github.com/fyrsmithlabs/acdkn/internal/retry"
)

// CacheConfig configures a Cached provider.
type CacheConfig struct {
	// TTL is how long an embedding stays cached. Default: 1 hour.
	TTL time.Duration

	// Size is the maximum number of cached embeddings. Default: 10000.
	Size int

	// ChunkSize is the number of texts sent per provider call. Default: 32.
	ChunkSize int

	// Concurrency bounds parallel provider calls. Default: 10.
	Concurrency int

	// Model labels metrics.
	Model string
}

func (c *CacheConfig) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.Size <= 0 {
		c.Size = 10000
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 32
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 10
	}
}

// Cached decorates a Provider with a TTL cache keyed by the SHA-256 of the
// content, bounded retries and dimension checks.
//
// Every failure that survives the retry policy is reported as
// knowledge.ErrEmbeddingUnavailable.
type Cached struct {
	inner   Provider
	cache   *expirable.LRU[string, []float32]
	policy  retry.Policy
	cfg     CacheConfig
	metrics *Metrics
	logger  *zap.Logger
}

// NewCached wraps inner. metrics may be nil.
func NewCached(inner Provider, cfg CacheConfig, policy retry.Policy, metrics *Metrics, logger *zap.Logger) *Cached {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(logger)
	}
	policy.Retryable = func(err error) bool {
		return !errors.Is(err, ErrEmptyInput) && !errors.Is(err, ErrInvalidConfig) && !errors.Is(err, context.Canceled)
	}
	return &Cached{
		inner:   inner,
		cache:   expirable.NewLRU[string, []float32](cfg.Size, nil, cfg.TTL),
		policy:  policy,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// ContentKey returns the cache key of a text.
func ContentKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Embed returns the embedding of text, from cache when possible.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in order. Cache misses are deduplicated, split
// into chunks and embedded with bounded parallelism; any chunk failing
// after retries fails the whole batch.
func (c *Cached) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	out := make([][]float32, len(texts))
	missing := make(map[string][]int)
	var order []string
	for i, text := range texts {
		key := ContentKey(text)
		if v, ok := c.cache.Get(key); ok {
			out[i] = slices.Clone(v)
			continue
		}
		if _, seen := missing[key]; !seen {
			order = append(order, key)
		}
		missing[key] = append(missing[key], i)
	}
	c.metrics.RecordCache(ctx, len(texts)-countIndexes(missing), countIndexes(missing))
	if len(order) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for start := 0; start < len(order); start += c.cfg.ChunkSize {
		keys := order[start:min(start+c.cfg.ChunkSize, len(order))]
		g.Go(func() error {
			chunk := make([]string, len(keys))
			for j, key := range keys {
				chunk[j] = texts[missing[key][0]]
			}
			vectors, err := c.embedChunk(gctx, chunk)
			if err != nil {
				return err
			}
			for j, key := range keys {
				c.cache.Add(key, vectors[j])
				for _, idx := range missing[key] {
					out[idx] = slices.Clone(vectors[j])
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Cached) embedChunk(ctx context.Context, chunk []string) ([][]float32, error) {
	vectors, err := retry.Do(ctx, c.policy, c.logger, "embeddings.batch", func(ctx context.Context) ([][]float32, error) {
		vectors, err := c.inner.EmbedBatch(ctx, chunk)
		if err != nil {
			return nil, err
		}
		if err := checkBatch(vectors, len(chunk), c.inner.Dimension()); err != nil {
			return nil, err
		}
		return vectors, nil
	})
	if err != nil {
		if errors.Is(err, ErrEmptyInput) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", knowledge.ErrEmbeddingUnavailable, err)
	}
	return vectors, nil
}

func countIndexes(m map[string][]int) int {
	n := 0
	for _, idx := range m {
		n += len(idx)
	}
	return n
}

// Dimension returns the wrapped provider's dimension.
func (c *Cached) Dimension() int {
	return c.inner.Dimension()
}

// Len returns the number of cached embeddings.
func (c *Cached) Len() int {
	return c.cache.Len()
}

// Purge drops every cached embedding.
func (c *Cached) Purge() {
	c.cache.Purge()
}

// Close closes the wrapped provider.
func (c *Cached) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

var (
	_ Provider = (*Cached)(nil)
	_ Provider = (*HashProvider)(nil)
	_ Provider = (*TEIProvider)(nil)
	_ Provider = (*FastEmbedProvider)(nil)
)
