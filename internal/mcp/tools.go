package mcp

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/acdkn/internal/engine"
	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
	"github.com/fyrsmithlabs/acdkn/internal/strategy"
)

type ingestInput struct {
	Units []engine.UnitInput `json:"units" jsonschema:"Knowledge units to store; an empty id is generated"`
}

type ingestOutput struct {
	Results  []engine.IngestResult `json:"results" jsonschema:"Per unit outcome in input order"`
	Created  int                   `json:"created"`
	Updated  int                   `json:"updated"`
	Rejected int                   `json:"rejected"`
}

type detectInput struct{}

type detectOutput struct {
	RunID            string                       `json:"run_id"`
	Units            int                          `json:"units" jsonschema:"Embedded units considered by the matcher"`
	Candidates       int                          `json:"candidates" jsonschema:"Cross-domain pairs above the similarity threshold"`
	InsufficientData bool                         `json:"insufficient_data" jsonschema:"True when fewer than two domains had embedded units"`
	Points           []knowledge.IntegrationPoint `json:"points" jsonschema:"New and updated points, best first"`
	Created          int                          `json:"created"`
	Updated          int                          `json:"updated"`
	Unchanged        int                          `json:"unchanged"`
	Discarded        int                          `json:"discarded"`
	Suppressed       int                          `json:"suppressed" jsonschema:"Pairs skipped because their point was rejected"`
}

type listInput struct {
	Status string `json:"status,omitempty" jsonschema:"Filter by status: proposed accepted decided applied or rejected"`
}

type listOutput struct {
	Points []knowledge.IntegrationPoint `json:"points"`
	Count  int                          `json:"count"`
}

type pointInput struct {
	PointID string `json:"point_id" jsonschema:"Integration point ID"`
}

type pointOutput struct {
	Point    *knowledge.IntegrationPoint `json:"point"`
	Decision *knowledge.StrategyDecision `json:"decision,omitempty"`
}

type previewOutput struct {
	PointID    string              `json:"point_id"`
	Prediction strategy.Prediction `json:"prediction"`
}

type decideInput struct {
	PointID  string `json:"point_id" jsonschema:"Integration point ID"`
	Strategy string `json:"strategy,omitempty" jsonschema:"Strategy label that overrides the prediction"`
}

type transitionInput struct {
	PointID string `json:"point_id" jsonschema:"Integration point ID"`
	Action  string `json:"action" jsonschema:"One of accept reject or apply"`
}

type transitionOutput struct {
	Point   *knowledge.IntegrationPoint `json:"point"`
	Changed bool                        `json:"changed" jsonschema:"False when the point already had the target status"`
}

type outcomeInput struct {
	DecisionID string  `json:"decision_id" jsonschema:"Strategy decision ID"`
	Score      float64 `json:"score" jsonschema:"Realized outcome score in [0,1]"`
}

type outcomeOutput struct {
	Decision *knowledge.StrategyDecision `json:"decision"`
	Changed  bool                        `json:"changed" jsonschema:"False when the outcome was already recorded"`
}

func (s *Server) registerTools() {
	addTool(s, "ingest_units",
		"Store knowledge units for later detection. Units in unsupported domains or with empty content are rejected individually.",
		s.ingest)
	addTool(s, "detect_integration_points",
		"Embed pending units, match them across domains and record integration points above the confidence threshold.",
		s.detect)
	addTool(s, "list_integration_points",
		"List integration points, optionally filtered by status.",
		s.list)
	addTool(s, "get_integration_point",
		"Get one integration point and its strategy decision, if any.",
		s.get)
	addTool(s, "preview_strategy",
		"Predict the integration strategy for a point without recording a decision.",
		s.preview)
	addTool(s, "decide_strategy",
		"Record a strategy decision for a point and move it to decided. Decided points are published to downstream consumers.",
		s.decide)
	addTool(s, "transition_point",
		"Accept, reject or apply an integration point. Rejected pairs are never proposed again.",
		s.transition)
	addTool(s, "record_outcome",
		"Record the realized outcome score of an applied decision. Outcomes feed strategy prediction.",
		s.outcome)
}

func (s *Server) ingest(ctx context.Context, in ingestInput) (ingestOutput, error) {
	if len(in.Units) == 0 {
		return ingestOutput{}, fmt.Errorf("%w: units cannot be empty", errInvalidArgument)
	}
	if len(in.Units) > s.maxUnits {
		return ingestOutput{}, fmt.Errorf("%w: %d units exceeds the limit of %d", errInvalidArgument, len(in.Units), s.maxUnits)
	}
	results, err := s.engine.Ingest(ctx, in.Units)
	if err != nil {
		return ingestOutput{}, fmt.Errorf("ingest failed: %w", err)
	}
	out := ingestOutput{Results: make([]engine.IngestResult, 0, len(results))}
	for _, r := range results {
		switch r.Status {
		case engine.IngestCreated:
			out.Created++
		case engine.IngestUpdated:
			out.Updated++
		case engine.IngestRejected:
			out.Rejected++
		}
		out.Results = append(out.Results, r)
	}
	return out, nil
}

func (s *Server) detect(ctx context.Context, _ detectInput) (detectOutput, error) {
	rep, err := s.engine.Detect(ctx)
	if err != nil {
		return detectOutput{}, fmt.Errorf("detection failed: %w", err)
	}
	out := detectOutput{
		RunID:            rep.RunID,
		Units:            rep.Units,
		Candidates:       rep.Candidates,
		InsufficientData: rep.InsufficientData,
		Points:           rep.Points,
		Created:          rep.Created,
		Updated:          rep.Updated,
		Unchanged:        rep.Unchanged,
		Discarded:        rep.Discarded,
		Suppressed:       rep.Suppressed,
	}
	if out.Points == nil {
		out.Points = []knowledge.IntegrationPoint{}
	}
	return out, nil
}

func (s *Server) list(ctx context.Context, in listInput) (listOutput, error) {
	status := knowledge.Status(in.Status)
	if status != "" && !status.Valid() {
		return listOutput{}, fmt.Errorf("%w: unknown status %q", errInvalidArgument, in.Status)
	}
	points, err := s.engine.ListPoints(ctx, status)
	if err != nil {
		return listOutput{}, fmt.Errorf("listing points failed: %w", err)
	}
	if points == nil {
		points = []knowledge.IntegrationPoint{}
	}
	return listOutput{Points: points, Count: len(points)}, nil
}

func (s *Server) get(ctx context.Context, in pointInput) (pointOutput, error) {
	p, err := s.engine.GetPoint(ctx, in.PointID)
	if err != nil {
		return pointOutput{}, err
	}
	out := pointOutput{Point: p}
	if p.DecisionID != "" {
		d, err := s.engine.GetDecision(ctx, p.DecisionID)
		if err != nil {
			return pointOutput{}, fmt.Errorf("loading decision: %w", err)
		}
		out.Decision = d
	}
	return out, nil
}

func (s *Server) preview(ctx context.Context, in pointInput) (previewOutput, error) {
	pred, err := s.engine.Preview(ctx, in.PointID)
	if err != nil {
		return previewOutput{}, err
	}
	return previewOutput{PointID: in.PointID, Prediction: pred}, nil
}

func (s *Server) decide(ctx context.Context, in decideInput) (engine.DecideResult, error) {
	res, err := s.engine.Decide(ctx, in.PointID, in.Strategy)
	if err != nil {
		return engine.DecideResult{}, err
	}
	return *res, nil
}

func (s *Server) transition(ctx context.Context, in transitionInput) (transitionOutput, error) {
	var op func(context.Context, string) (*knowledge.IntegrationPoint, bool, error)
	switch in.Action {
	case "accept":
		op = s.engine.Accept
	case "reject":
		op = s.engine.Reject
	case "apply":
		op = s.engine.Apply
	default:
		return transitionOutput{}, fmt.Errorf("%w: unknown action %q", errInvalidArgument, in.Action)
	}
	p, changed, err := op(ctx, in.PointID)
	if err != nil {
		return transitionOutput{}, err
	}
	return transitionOutput{Point: p, Changed: changed}, nil
}

func (s *Server) outcome(ctx context.Context, in outcomeInput) (outcomeOutput, error) {
	d, changed, err := s.engine.ReportOutcome(ctx, in.DecisionID, in.Score)
	if err != nil {
		return outcomeOutput{}, err
	}
	return outcomeOutput{Decision: d, Changed: changed}, nil
}
