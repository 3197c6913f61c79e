package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/engine"
	"github.com/fyrsmithlabs/acdkn/internal/telemetry"
)

func meteredServer(t *testing.T) (*Server, *telemetry.TestTelemetry) {
	t.Helper()
	tt := telemetry.NewTestTelemetry()
	server, err := NewServer(newFakeEngine(), zap.NewNop(), &Config{
		Gatherer: prometheus.NewRegistry(),
		Meter:    tt.Meter(instrumentationName),
	})
	require.NoError(t, err)
	return server, tt
}

// requestCounts sums acdkn.http.requests_total by route and status.
func requestCounts(t *testing.T, tt *telemetry.TestTelemetry) map[[2]string]int64 {
	t.Helper()
	m, ok, err := tt.Metric(context.Background(), "acdkn.http.requests_total")
	require.NoError(t, err)
	require.True(t, ok)
	sum, isSum := m.Data.(metricdata.Sum[int64])
	require.True(t, isSum)

	out := map[[2]string]int64{}
	for _, dp := range sum.DataPoints {
		route, _ := dp.Attributes.Value("route")
		status, _ := dp.Attributes.Value("status")
		out[[2]string{route.AsString(), status.AsString()}] += dp.Value
	}
	return out
}

func TestRouteMetrics_CountsByRoutePattern(t *testing.T) {
	server, tt := meteredServer(t)

	do(t, server, http.MethodGet, "/api/v1/points/ip_1", nil)
	do(t, server, http.MethodGet, "/api/v1/points/ip_2", nil)
	do(t, server, http.MethodGet, "/api/v1/points/ip_404", nil)
	do(t, server, http.MethodGet, "/nowhere", nil)

	counts := requestCounts(t, tt)
	assert.Equal(t, int64(2), counts[[2]string{"/api/v1/points/:id", "200"}])
	assert.Equal(t, int64(1), counts[[2]string{"/api/v1/points/:id", "404"}], "error status comes from the returned error")
	for key := range counts {
		assert.NotContains(t, key[0], "ip_", "route label must not carry ids")
	}
}

func TestRouteMetrics_Duration(t *testing.T) {
	server, tt := meteredServer(t)
	do(t, server, http.MethodGet, "/health", nil)

	m, ok, err := tt.Metric(context.Background(), "acdkn.http.request_duration_seconds")
	require.NoError(t, err)
	require.True(t, ok)
	hist, isHist := m.Data.(metricdata.Histogram[float64])
	require.True(t, isHist)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	route, _ := hist.DataPoints[0].Attributes.Value(attribute.Key("route"))
	assert.Equal(t, "/health", route.AsString())
}

func TestRouteMetrics_IngestUnits(t *testing.T) {
	server, tt := meteredServer(t)
	rec := do(t, server, http.MethodPost, "/api/v1/units", IngestRequest{Units: []engine.UnitInput{
		{Domain: "finance", Content: "a"},
		{Domain: "research", Content: "b"},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	m, ok, err := tt.Metric(context.Background(), "acdkn.http.ingest_units")
	require.NoError(t, err)
	require.True(t, ok)
	hist := m.Data.(metricdata.Histogram[int64])
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, int64(2), hist.DataPoints[0].Sum)
}

func TestStatusOf(t *testing.T) {
	e := echo.New()
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "no error", err: nil, want: http.StatusOK},
		{name: "http error", err: echo.NewHTTPError(http.StatusConflict, "invalid transition"), want: http.StatusConflict},
		{name: "wrapped http error", err: fmt.Errorf("handler: %w", echo.ErrNotFound), want: http.StatusNotFound},
		{name: "plain error", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
			c.Response().Status = http.StatusOK
			assert.Equal(t, tt.want, statusOf(c, tt.err))
		})
	}
}
