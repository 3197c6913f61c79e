// Package mcp exposes the integration engine as Model Context Protocol
// tools over stdio, so agents can ingest units, run detection and drive
// integration points through their lifecycle.
//
// Tools:
//   - ingest_units, detect_integration_points
//   - list_integration_points, get_integration_point
//   - preview_strategy, decide_strategy
//   - transition_point (accept, reject, apply)
//   - record_outcome
package mcp
