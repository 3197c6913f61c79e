// Package knowledge defines the shared data model of the semantic integration
// engine: knowledge units, candidate pairs, integration points and strategy
// decisions, together with the domain set, the domain-compatibility matrix and
// the error kinds every stage reports.
//
// # Integration Point Lifecycle
//
// Points are created proposed by the detector and move through:
//
//	proposed -> accepted | rejected | decided
//	accepted -> decided | rejected
//	decided  -> accepted | applied | rejected
//
// rejected and applied are terminal. applied is only reachable from decided,
// so no point is applied without a recorded strategy decision.
package knowledge
