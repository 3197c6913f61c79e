// Package events defines the structured observability events the engine
// emits and the sinks that consume them.
//
// Sinks never fail the caller: emission is fire-and-forget.
package events

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// Type names an engine event.
type Type string

const (
	UnitIngested        Type = "unit_ingested"
	UnitEmbedded        Type = "unit_embedded"
	UnitRejected        Type = "unit_rejected"
	SecretsRedacted     Type = "secrets_redacted"
	PairMatched         Type = "pair_matched"
	PairDiscarded       Type = "pair_discarded"
	PointDetected       Type = "point_detected"
	PointTransitioned   Type = "point_transitioned"
	DuplicateTransition Type = "duplicate_transition"
	DecisionPredicted   Type = "decision_predicted"
	OutcomeRecorded     Type = "outcome_recorded"
	StatsRetrained      Type = "stats_retrained"
	EmbeddingSkipped    Type = "embedding_skipped"
)

// Event is one structured engine event.
type Event struct {
	Type Type
	Time time.Time

	// Subject is the id of the unit, point or decision the event is about.
	Subject string

	// Fields carries event-specific attributes.
	Fields map[string]any
}

// New builds an event. kv alternates keys and values; a trailing key
// without a value is dropped.
func New(t Type, at time.Time, subject string, kv ...any) Event {
	e := Event{Type: t, Time: at, Subject: subject}
	if len(kv) >= 2 {
		e.Fields = make(map[string]any, len(kv)/2)
		for i := 0; i+1 < len(kv); i += 2 {
			if k, ok := kv[i].(string); ok {
				e.Fields[k] = kv[i+1]
			}
		}
	}
	return e
}

// SortedKeys returns the field keys in order, for stable rendering.
func (e Event) SortedKeys() []string {
	return slices.Sorted(maps.Keys(e.Fields))
}

// Sink consumes events.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

// Recorder keeps every event in memory. Tests use it to assert on emission.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Count returns the number of recorded events of type t.
func (r *Recorder) Count(t Type) int {
	return len(r.OfType(t))
}
