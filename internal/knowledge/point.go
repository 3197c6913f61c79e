package knowledge

import (
	"fmt"
	"time"
)

// Status is the lifecycle status of an integration point.
type Status string

const (
	// StatusProposed is the initial status assigned by the detector.
	StatusProposed Status = "proposed"

	// StatusAccepted marks a point confirmed by policy or an external caller.
	StatusAccepted Status = "accepted"

	// StatusRejected is terminal; the pair is suppressed from re-detection.
	StatusRejected Status = "rejected"

	// StatusDecided marks a point with a recorded strategy decision.
	StatusDecided Status = "decided"

	// StatusApplied is terminal; the synchronizer executed the decision.
	StatusApplied Status = "applied"
)

var transitions = map[Status][]Status{
	StatusProposed: {StatusAccepted, StatusRejected, StatusDecided},
	StatusAccepted: {StatusDecided, StatusRejected},
	StatusDecided:  {StatusAccepted, StatusApplied, StatusRejected},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusProposed, StatusAccepted, StatusRejected, StatusDecided, StatusApplied:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusApplied
}

// CanTransition reports whether s -> to is an edge of the lifecycle graph.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IntegrationPoint is a discovered cross-domain alignment.
type IntegrationPoint struct {
	ID string `json:"id"`

	// UnitA and UnitB are the canonical (ordered) pair of unit IDs.
	UnitA string `json:"unit_a"`
	UnitB string `json:"unit_b"`

	DomainA Domain `json:"domain_a"`
	DomainB Domain `json:"domain_b"`

	// Similarity is the raw matcher score.
	Similarity float64 `json:"similarity"`

	// Confidence is similarity weighted by domain compatibility, in [0,1].
	Confidence float64 `json:"confidence"`

	Status Status `json:"status"`

	DiscoveredAt time.Time `json:"discovered_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Strategy is the decided strategy label, empty until a decision is recorded.
	Strategy string `json:"strategy,omitempty"`

	// DecisionID links the recorded strategy decision.
	DecisionID string `json:"decision_id,omitempty"`
}

// PairKey returns the canonical pair key of the point.
func (p *IntegrationPoint) PairKey() string {
	return PairKey(p.UnitA, p.UnitB)
}

// Transition moves the point to status to at time now.
//
// Transitioning to the current status returns ErrDuplicateTransition so
// callers can treat a lost race as a no-op. Any other disallowed edge returns
// ErrInvalidTransition.
func (p *IntegrationPoint) Transition(to Status, now time.Time) error {
	if p.Status == to {
		return fmt.Errorf("%w: point %s already %s", ErrDuplicateTransition, p.ID, to)
	}
	if !p.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	if to == StatusApplied && p.DecisionID == "" {
		return fmt.Errorf("%w: point %s has no decision", ErrInvalidTransition, p.ID)
	}
	p.Status = to
	p.UpdatedAt = now
	return nil
}

// StrategyDecision is a predicted strategy for an integration point and,
// once observed, its realized outcome.
type StrategyDecision struct {
	ID      string `json:"id"`
	PointID string `json:"point_id"`

	DomainA Domain `json:"domain_a"`
	DomainB Domain `json:"domain_b"`

	// PointConfidence is the point's confidence at decision time; it selects
	// the nearest-neighbour bucket during retraining.
	PointConfidence float64 `json:"point_confidence"`

	Strategy            string  `json:"strategy"`
	PredictedConfidence float64 `json:"predicted_confidence"`

	// Outcome is nil until the feedback loop records the realized score.
	Outcome *float64 `json:"outcome,omitempty"`

	DecidedAt  time.Time  `json:"decided_at"`
	ObservedAt *time.Time `json:"observed_at,omitempty"`
}

// Completed reports whether an outcome has been observed.
func (d *StrategyDecision) Completed() bool {
	return d.Outcome != nil
}

// Complete records the realized outcome. A decision completes at most once.
func (d *StrategyDecision) Complete(score float64, now time.Time) error {
	if score < 0 || score > 1 {
		return fmt.Errorf("%w: %f", ErrInvalidScore, score)
	}
	if d.Completed() {
		return fmt.Errorf("%w: decision %s already has an outcome", ErrDuplicateTransition, d.ID)
	}
	d.Outcome = &score
	d.ObservedAt = &now
	return nil
}
