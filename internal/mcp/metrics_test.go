package mcp

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
	"github.com/fyrsmithlabs/acdkn/internal/telemetry"
)

// callCounts sums acdkn.mcp.tool.calls_total by tool and outcome.
func callCounts(t *testing.T, tt *telemetry.TestTelemetry) map[[2]string]int64 {
	t.Helper()
	m, ok, err := tt.Metric(context.Background(), "acdkn.mcp.tool.calls_total")
	require.NoError(t, err)
	require.True(t, ok)
	sum, isSum := m.Data.(metricdata.Sum[int64])
	require.True(t, isSum)

	out := map[[2]string]int64{}
	for _, dp := range sum.DataPoints {
		tool, _ := dp.Attributes.Value("tool")
		outcome, _ := dp.Attributes.Value("outcome")
		out[[2]string{tool.AsString(), outcome.AsString()}] += dp.Value
	}
	return out
}

func TestToolMetrics_ThroughServer(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	cs := connectWith(t, &Config{
		Logger: zap.NewNop(),
		Meter:  tt.Meter(instrumentationName),
	}, newTestEngine(t))

	call(t, cs, "list_integration_points", map[string]any{}, &listOutput{})
	call(t, cs, "get_integration_point", map[string]any{"point_id": "ip_missing"}, nil)
	call(t, cs, "record_outcome", map[string]any{"decision_id": "dc_x", "score": 2}, nil)

	counts := callCounts(t, tt)
	assert.Equal(t, int64(1), counts[[2]string{"list_integration_points", "ok"}])
	assert.Equal(t, int64(1), counts[[2]string{"get_integration_point", "not_found"}])
	assert.Equal(t, int64(1), counts[[2]string{"record_outcome", "validation_error"}])
}

func TestToolMetrics_InFlightReturnsToZero(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	m := newToolMetrics(tt.Meter(instrumentationName), zap.NewNop())
	ctx := context.Background()

	first := m.start(ctx, "detect_integration_points")
	second := m.start(ctx, "detect_integration_points")

	gauge := func() int64 {
		metric, ok, err := tt.Metric(ctx, "acdkn.mcp.tool.in_flight")
		require.NoError(t, err)
		require.True(t, ok)
		var total int64
		for _, dp := range metric.Data.(metricdata.Sum[int64]).DataPoints {
			total += dp.Value
		}
		return total
	}
	assert.Equal(t, int64(2), gauge())

	first(nil)
	second(errors.New("boom"))
	assert.Equal(t, int64(0), gauge())

	h, ok, err := tt.Metric(ctx, "acdkn.mcp.tool.duration_seconds")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), h.Data.(metricdata.Histogram[float64]).DataPoints[0].Count)
}

func TestToolMetrics_NilMeterUsesGlobal(t *testing.T) {
	m := newToolMetrics(nil, zap.NewNop())
	done := m.start(context.Background(), "ingest_units")
	done(knowledge.ErrInvalidUnit)
}
