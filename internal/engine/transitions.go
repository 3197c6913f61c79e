package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/events"
	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
	"github.com/fyrsmithlabs/acdkn/internal/strategy"
	"github.com/fyrsmithlabs/acdkn/internal/synchronizer"
)

// Accept confirms a proposed or decided point.
//
// changed is false when the point was already accepted: a concurrent caller
// won the transition and this call is a no-op.
func (e *Engine) Accept(ctx context.Context, pointID string) (*knowledge.IntegrationPoint, bool, error) {
	return e.transition(ctx, pointID, knowledge.StatusAccepted, nil)
}

// Reject rejects a point. The pair is never proposed again.
func (e *Engine) Reject(ctx context.Context, pointID string) (*knowledge.IntegrationPoint, bool, error) {
	return e.transition(ctx, pointID, knowledge.StatusRejected, nil)
}

// Apply marks a decided point as executed downstream.
func (e *Engine) Apply(ctx context.Context, pointID string) (*knowledge.IntegrationPoint, bool, error) {
	return e.transition(ctx, pointID, knowledge.StatusApplied, nil)
}

// transition moves a point to status under its lock. mutate, when set, runs
// on the loaded point before the status changes.
func (e *Engine) transition(ctx context.Context, pointID string, to knowledge.Status, mutate func(*knowledge.IntegrationPoint) error) (*knowledge.IntegrationPoint, bool, error) {
	ctx, span := tracer.Start(ctx, "Engine.transition")
	defer span.End()

	unlock := e.points.Lock(pointID)
	defer unlock()

	p, err := e.store.GetIntegrationPoint(ctx, pointID)
	if err != nil {
		return nil, false, fmt.Errorf("loading point: %w", err)
	}
	from := p.Status
	if from == to {
		e.duplicate(ctx, pointID, string(to))
		return p, false, nil
	}
	if !from.CanTransition(to) {
		return p, false, fmt.Errorf("%w: %s -> %s", knowledge.ErrInvalidTransition, from, to)
	}
	if mutate != nil {
		if err := mutate(p); err != nil {
			return p, false, err
		}
	}
	now := e.now()
	if err := p.Transition(to, now); err != nil {
		return p, false, err
	}
	if err := e.store.UpsertIntegrationPoint(ctx, p); err != nil {
		return nil, false, fmt.Errorf("saving point: %w", err)
	}
	e.sink.Emit(ctx, events.New(events.PointTransitioned, now, pointID,
		"from", string(from),
		"to", string(to),
	))
	return p, true, nil
}

func (e *Engine) duplicate(ctx context.Context, subject, transition string) {
	e.logger.Info("duplicate transition", zap.String("subject", subject), zap.String("transition", transition))
	e.sink.Emit(ctx, events.New(events.DuplicateTransition, e.now(), subject, "transition", transition))
}

// DecideResult is the outcome of Decide.
type DecideResult struct {
	Point      *knowledge.IntegrationPoint `json:"point"`
	Decision   *knowledge.StrategyDecision `json:"decision,omitempty"`
	Prediction strategy.Prediction         `json:"prediction"`

	// Changed is false when the point was already decided.
	Changed bool `json:"changed"`
}

// Preview returns the prediction for a point without recording anything.
func (e *Engine) Preview(ctx context.Context, pointID string) (strategy.Prediction, error) {
	p, err := e.store.GetIntegrationPoint(ctx, pointID)
	if err != nil {
		return strategy.Prediction{}, fmt.Errorf("loading point: %w", err)
	}
	return e.predictor.Predict(*p), nil
}

// Decide predicts a strategy for a point, records the decision and moves the
// point to decided. A non-empty override replaces the predicted label.
//
// The notifier is called after the point is saved. A notification failure is
// logged and does not undo the decision; the point stays decided and can be
// applied once a consumer picks it up.
func (e *Engine) Decide(ctx context.Context, pointID, override string) (*DecideResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.Decide")
	defer span.End()

	var (
		pred     strategy.Prediction
		decision *knowledge.StrategyDecision
	)
	p, changed, err := e.transition(ctx, pointID, knowledge.StatusDecided, func(p *knowledge.IntegrationPoint) error {
		pred = e.predictor.Predict(*p)
		label := pred.Strategy
		if override != "" {
			label = override
		}
		decision = &knowledge.StrategyDecision{
			ID:                  "dc_" + uuid.NewString(),
			PointID:             p.ID,
			DomainA:             p.DomainA,
			DomainB:             p.DomainB,
			PointConfidence:     p.Confidence,
			Strategy:            label,
			PredictedConfidence: pred.Confidence,
			DecidedAt:           e.now(),
		}
		if err := e.store.PutDecision(ctx, decision); err != nil {
			return fmt.Errorf("saving decision: %w", err)
		}
		p.Strategy = label
		p.DecisionID = decision.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	res := &DecideResult{Point: p, Changed: changed}
	if !changed {
		res.Prediction = e.predictor.Predict(*p)
		if p.DecisionID != "" {
			if d, err := e.store.GetDecision(ctx, p.DecisionID); err == nil {
				res.Decision = d
			}
		}
		return res, nil
	}
	res.Decision = decision
	res.Prediction = pred

	e.sink.Emit(ctx, events.New(events.DecisionPredicted, decision.DecidedAt, decision.ID,
		"point", p.ID,
		"strategy", decision.Strategy,
		"confidence", decision.PredictedConfidence,
		"cold_start", pred.ColdStart,
		"override", override != "",
	))

	if err := e.notifier.Notify(ctx, *p, *decision); err != nil {
		e.logger.Warn("decision notification failed",
			zap.String("point", p.ID),
			zap.String("decision", decision.ID),
			zap.Error(err),
		)
	}
	return res, nil
}

// ReportOutcome completes an applied decision. changed is false when the
// outcome was already recorded.
func (e *Engine) ReportOutcome(ctx context.Context, decisionID string, score float64) (*knowledge.StrategyDecision, bool, error) {
	d, err := e.feedback.ReportOutcome(ctx, decisionID, score)
	if errors.Is(err, knowledge.ErrDuplicateTransition) {
		return d, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return d, true, nil
}

// SyncHandlers adapts the engine to the synchronizer subscriber. A no-op
// call surfaces as knowledge.ErrDuplicateTransition so the reply can say so.
func (e *Engine) SyncHandlers() synchronizer.Handlers {
	return synchronizer.Handlers{
		Apply: func(ctx context.Context, pointID string) error {
			_, changed, err := e.Apply(ctx, pointID)
			return duplicateIfUnchanged(changed, err)
		},
		ReportOutcome: func(ctx context.Context, decisionID string, score float64) error {
			_, changed, err := e.ReportOutcome(ctx, decisionID, score)
			return duplicateIfUnchanged(changed, err)
		},
	}
}

func duplicateIfUnchanged(changed bool, err error) error {
	if err == nil && !changed {
		return knowledge.ErrDuplicateTransition
	}
	return err
}
