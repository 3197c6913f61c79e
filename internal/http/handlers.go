package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/engine"
	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	resp := StatusResponse{
		Status:  "ok",
		Version: s.config.Version,
		Domains: s.engine.Domains(),
	}
	if err := s.engine.Ping(ctx); err != nil {
		resp.Status = "degraded"
		return c.JSON(http.StatusOK, resp)
	}
	counts, err := CountPoints(ctx, s.engine)
	if err != nil {
		return s.fail(c, "status", err)
	}
	resp.Points = counts
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Units) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "units field is required")
	}
	if len(req.Units) > s.config.MaxIngestBatch {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			fmt.Sprintf("at most %d units per request", s.config.MaxIngestBatch))
	}
	s.metrics.recordIngest(c, len(req.Units))

	results, err := s.engine.Ingest(c.Request().Context(), req.Units)
	if err != nil {
		return s.fail(c, "ingest", err)
	}

	resp := IngestResponse{Results: results}
	for _, r := range results {
		switch r.Status {
		case engine.IngestCreated:
			resp.Created++
		case engine.IngestUpdated:
			resp.Updated++
		case engine.IngestRejected:
			resp.Rejected++
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleGetUnit(c echo.Context) error {
	u, err := s.engine.GetUnit(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, "get unit", err)
	}
	return c.JSON(http.StatusOK, u)
}

func (s *Server) handleDetect(c echo.Context) error {
	report, err := s.engine.Detect(c.Request().Context())
	if err != nil {
		return s.fail(c, "detect", err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleListPoints(c echo.Context) error {
	status := knowledge.Status(c.QueryParam("status"))
	if status != "" && !status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
	}
	points, err := s.engine.ListPoints(c.Request().Context(), status)
	if err != nil {
		return s.fail(c, "list points", err)
	}
	if points == nil {
		points = []knowledge.IntegrationPoint{}
	}
	return c.JSON(http.StatusOK, PointsResponse{Points: points})
}

func (s *Server) handleGetPoint(c echo.Context) error {
	p, err := s.engine.GetPoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, "get point", err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handlePreview(c echo.Context) error {
	pred, err := s.engine.Preview(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, "preview", err)
	}
	return c.JSON(http.StatusOK, pred)
}

type transitionFunc func(ctx context.Context, pointID string) (*knowledge.IntegrationPoint, bool, error)

func (s *Server) handleTransition(fn transitionFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, changed, err := fn(c.Request().Context(), c.Param("id"))
		if err != nil {
			return s.fail(c, "transition", err)
		}
		return c.JSON(http.StatusOK, TransitionResponse{Point: p, Changed: changed})
	}
}

func (s *Server) handleDecide(c echo.Context) error {
	var req DecideRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	res, err := s.engine.Decide(c.Request().Context(), c.Param("id"), req.Strategy)
	if err != nil {
		return s.fail(c, "decide", err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetDecision(c echo.Context) error {
	d, err := s.engine.GetDecision(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, "get decision", err)
	}
	return c.JSON(http.StatusOK, d)
}

func (s *Server) handleOutcome(c echo.Context) error {
	var req OutcomeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Score == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "score field is required")
	}
	d, changed, err := s.engine.ReportOutcome(c.Request().Context(), c.Param("id"), *req.Score)
	if err != nil {
		return s.fail(c, "report outcome", err)
	}
	return c.JSON(http.StatusOK, OutcomeResponse{Decision: d, Changed: changed})
}
