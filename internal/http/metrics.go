package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/acdkn/internal/http"

// routeMetrics records per-route request metrics.
//
// Metrics:
//   - acdkn.http.requests_total{method,route,status}
//   - acdkn.http.request_duration_seconds{method,route,status}
//   - acdkn.http.in_flight
//   - acdkn.http.ingest_units (histogram of units per ingest request)
type routeMetrics struct {
	requests    metric.Int64Counter
	duration    metric.Float64Histogram
	inFlight    metric.Int64UpDownCounter
	ingestUnits metric.Int64Histogram
}

// newRouteMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil. An instrument that fails to register is
// logged and left nil.
func newRouteMetrics(meter metric.Meter, logger *zap.Logger) *routeMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	m := &routeMetrics{}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("failed to create http instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	var err error
	m.requests, err = meter.Int64Counter("acdkn.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status."),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	m.duration, err = meter.Float64Histogram("acdkn.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30))
	warn("request_duration_seconds", err)

	m.inFlight, err = meter.Int64UpDownCounter("acdkn.http.in_flight",
		metric.WithDescription("Requests currently being served."),
		metric.WithUnit("{request}"))
	warn("in_flight", err)

	m.ingestUnits, err = meter.Int64Histogram("acdkn.http.ingest_units",
		metric.WithDescription("Knowledge units submitted per ingest request."),
		metric.WithUnit("{unit}"),
		metric.WithExplicitBucketBoundaries(1, 10, 50, 100, 500, 1000))
	warn("ingest_units", err)

	return m
}

// middleware records every request against its route pattern, so
// /api/v1/points/:id is one series whatever the id. Requests that match no
// route share the "unmatched" series.
func (m *routeMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}

			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("route", route),
				attribute.String("status", strconv.Itoa(statusOf(c, err))),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			return err
		}
	}
}

// recordIngest records the size of one accepted ingest request.
func (m *routeMetrics) recordIngest(c echo.Context, units int) {
	if m == nil || m.ingestUnits == nil {
		return
	}
	m.ingestUnits.Record(c.Request().Context(), int64(units))
}

// statusOf returns the status the error handler will write for err. The
// response is not committed yet when a handler returns an error.
func statusOf(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}
