package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/acdkn/internal/embeddings"

// Metrics holds the embedding instruments.
type Metrics struct {
	meter     metric.Meter
	logger    *zap.Logger
	duration  metric.Float64Histogram
	batchSize metric.Int64Histogram
	errors    metric.Int64Counter
	cache     metric.Int64Counter
}

// NewMetrics registers instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{meter: meter, logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"acdkn.embedding.generation_duration_seconds",
		metric.WithDescription("Duration of embedding provider calls in seconds, labeled by model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = m.meter.Int64Histogram(
		"acdkn.embedding.batch_size",
		metric.WithDescription("Number of texts per embedding provider call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		m.logger.Warn("failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"acdkn.embedding.errors_total",
		metric.WithDescription("Embedding provider call failures by model and operation"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.cache, err = m.meter.Int64Counter(
		"acdkn.embedding.cache_lookups_total",
		metric.WithDescription("Embedding cache lookups by result (hit, miss)"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		m.logger.Warn("failed to create cache counter", zap.Error(err))
	}
}

// RecordGeneration records one provider call.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, duration time.Duration, batchSize int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)

	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
	if batchSize > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batchSize), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

// RecordCache records cache hits and misses.
func (m *Metrics) RecordCache(ctx context.Context, hits, misses int) {
	if m.cache == nil {
		return
	}
	if hits > 0 {
		m.cache.Add(ctx, int64(hits), metric.WithAttributes(attribute.String("result", "hit")))
	}
	if misses > 0 {
		m.cache.Add(ctx, int64(misses), metric.WithAttributes(attribute.String("result", "miss")))
	}
}
