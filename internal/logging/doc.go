// Package logging provides structured logging for acdkn with OpenTelemetry
// integration.
//
// # Overview
//
// The package wraps Zap with:
//   - a Trace level (-2, below Debug)
//   - dual output (stdout and an OpenTelemetry log provider)
//   - context field injection (trace_id, span_id, run.id, request.id)
//   - secret redaction in the stdout encoder
//   - sampling below error level (errors are never sampled)
//
// # Usage
//
//	cfg, err := logging.FromConfig(daemonCfg.Logging)
//	if err != nil {
//	    return err
//	}
//	logger, err := logging.NewLogger(cfg, tel.LoggerProvider())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "detection finished", zap.Int("points", n))
//
// Engine components take a plain *zap.Logger; pass logger.Underlying().
package logging
