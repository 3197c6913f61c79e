package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

const instrumentationName = "github.com/fyrsmithlabs/acdkn/internal/mcp"

// toolMetrics records tool calls.
//
// Metrics:
//   - acdkn.mcp.tool.calls_total{tool,outcome}, outcome is "ok" or an
//     error category from categorizeError
//   - acdkn.mcp.tool.duration_seconds{tool}
//   - acdkn.mcp.tool.in_flight{tool}
type toolMetrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

// newToolMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil.
func newToolMetrics(meter metric.Meter, logger *zap.Logger) *toolMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	m := &toolMetrics{}
	var err error
	if m.calls, err = meter.Int64Counter("acdkn.mcp.tool.calls_total",
		metric.WithDescription("MCP tool calls by tool and outcome."),
		metric.WithUnit("{call}")); err != nil {
		logger.Warn("failed to create tool call counter", zap.Error(err))
	}
	if m.duration, err = meter.Float64Histogram("acdkn.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120)); err != nil {
		logger.Warn("failed to create tool duration histogram", zap.Error(err))
	}
	if m.inFlight, err = meter.Int64UpDownCounter("acdkn.mcp.tool.in_flight",
		metric.WithDescription("MCP tool calls currently running."),
		metric.WithUnit("{call}")); err != nil {
		logger.Warn("failed to create tool in-flight counter", zap.Error(err))
	}
	return m
}

// start marks a call to tool as running. The returned func records its
// end and must be called exactly once.
func (m *toolMetrics) start(ctx context.Context, tool string) func(error) {
	begun := time.Now()
	toolAttr := metric.WithAttributes(attribute.String("tool", tool))
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, toolAttr)
	}
	return func(err error) {
		if m.inFlight != nil {
			m.inFlight.Add(ctx, -1, toolAttr)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(begun).Seconds(), toolAttr)
		}
		if m.calls != nil {
			outcome := "ok"
			if err != nil {
				outcome = categorizeError(err)
			}
			m.calls.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("outcome", outcome),
			))
		}
	}
}

// categorizeError maps an engine error to a low-cardinality label.
func categorizeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, knowledge.ErrNotFound):
		return "not_found"
	case errors.Is(err, knowledge.ErrInvalidTransition), errors.Is(err, knowledge.ErrDuplicateTransition):
		return "conflict"
	case errors.Is(err, knowledge.ErrInvalidScore), errors.Is(err, knowledge.ErrInvalidDomain),
		errors.Is(err, knowledge.ErrInvalidUnit), errors.Is(err, errInvalidArgument):
		return "validation_error"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	case errors.Is(err, knowledge.ErrStoreUnavailable), errors.Is(err, knowledge.ErrEmbeddingUnavailable):
		return "unavailable"
	default:
		return "internal_error"
	}
}
