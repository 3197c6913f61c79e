// Package telemetry provides OpenTelemetry tracing and metrics for acdknd.
//
// Traces and metrics are exported over OTLP, http/protobuf by default or
// gRPC when configured, to a collector on telemetry.endpoint. The engine
// packages obtain tracers through otel.Tracer, so once New installs the
// providers every detection run, transition and sync message is traced.
//
//	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version), logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Configuration:
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4318"
//	  protocol: "http/protobuf"
//	  service_name: "acdkn"
//	  sample_rate: 0.25
//
// Telemetry failures do not stop the daemon. A provider that cannot be
// created marks the instance degraded and the global no-op provider stays
// in place.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
