package http

import (
	"github.com/fyrsmithlabs/acdkn/internal/engine"
	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status  string             `json:"status"`
	Version string             `json:"version,omitempty"`
	Domains []knowledge.Domain `json:"domains"`
	Points  PointCounts        `json:"points"`
}

// PointCounts holds the number of integration points per status.
type PointCounts struct {
	Total    int `json:"total"`
	Proposed int `json:"proposed"`
	Accepted int `json:"accepted"`
	Decided  int `json:"decided"`
	Applied  int `json:"applied"`
	Rejected int `json:"rejected"`
}

// IngestRequest is the request body for POST /api/v1/units.
type IngestRequest struct {
	Units []engine.UnitInput `json:"units"`
}

// IngestResponse is the response body for POST /api/v1/units.
type IngestResponse struct {
	Results  []engine.IngestResult `json:"results"`
	Created  int                   `json:"created"`
	Updated  int                   `json:"updated"`
	Rejected int                   `json:"rejected"`
}

// PointsResponse is the response body for GET /api/v1/points.
type PointsResponse struct {
	Points []knowledge.IntegrationPoint `json:"points"`
}

// TransitionResponse is returned by the accept, reject and apply endpoints.
// Changed is false when the point was already in the requested status.
type TransitionResponse struct {
	Point   *knowledge.IntegrationPoint `json:"point"`
	Changed bool                        `json:"changed"`
}

// DecideRequest is the optional body for POST /api/v1/points/:id/decide.
type DecideRequest struct {
	// Strategy overrides the predicted strategy label.
	Strategy string `json:"strategy,omitempty"`
}

// OutcomeRequest is the request body for POST /api/v1/decisions/:id/outcome.
type OutcomeRequest struct {
	Score *float64 `json:"score"`
}

// OutcomeResponse is the response body for POST /api/v1/decisions/:id/outcome.
type OutcomeResponse struct {
	Decision *knowledge.StrategyDecision `json:"decision"`
	Changed  bool                        `json:"changed"`
}
