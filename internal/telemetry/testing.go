package telemetry

import (
	"context"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

// TestTelemetry is an enabled Telemetry that keeps ended spans and
// metrics in memory. The otel globals are left alone, so packages under
// test must take their tracer or meter from it.
type TestTelemetry struct {
	*Telemetry

	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

// NewTestTelemetry builds a TestTelemetry.
func NewTestTelemetry() *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()

	tel := &Telemetry{
		config:         cfg,
		logger:         zap.NewNop(),
		tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
		meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
	}
	tel.healthy.Store(true)

	return &TestTelemetry{Telemetry: tel, spans: spans, reader: reader}
}

// SpanNames lists ended spans in end order.
func (t *TestTelemetry) SpanNames() []string {
	ended := t.spans.Ended()
	names := make([]string, len(ended))
	for i, s := range ended {
		names[i] = s.Name()
	}
	return names
}

// Span returns the first ended span called name.
func (t *TestTelemetry) Span(name string) (sdktrace.ReadOnlySpan, bool) {
	ended := t.spans.Ended()
	i := slices.IndexFunc(ended, func(s sdktrace.ReadOnlySpan) bool { return s.Name() == name })
	if i < 0 {
		return nil, false
	}
	return ended[i], true
}

// SpanAttr returns attribute key of the first ended span called name.
func (t *TestTelemetry) SpanAttr(name string, key attribute.Key) (attribute.Value, bool) {
	s, ok := t.Span(name)
	if !ok {
		return attribute.Value{}, false
	}
	for _, kv := range s.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

// Metric collects the current metrics and returns the one called name.
func (t *TestTelemetry) Metric(ctx context.Context, name string) (metricdata.Metrics, bool, error) {
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return metricdata.Metrics{}, false, err
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true, nil
			}
		}
	}
	return metricdata.Metrics{}, false, nil
}
