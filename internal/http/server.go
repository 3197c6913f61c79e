// Package http provides the HTTP API for acdknd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/engine"
	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
	"github.com/fyrsmithlabs/acdkn/internal/logging"
	"github.com/fyrsmithlabs/acdkn/internal/strategy"
)

// Engine is the subset of *engine.Engine served over HTTP.
type Engine interface {
	Ping(ctx context.Context) error
	Domains() []knowledge.Domain
	Ingest(ctx context.Context, inputs []engine.UnitInput) ([]engine.IngestResult, error)
	Detect(ctx context.Context) (*engine.RunReport, error)
	GetUnit(ctx context.Context, id string) (*knowledge.KnowledgeUnit, error)
	GetPoint(ctx context.Context, id string) (*knowledge.IntegrationPoint, error)
	ListPoints(ctx context.Context, status knowledge.Status) ([]knowledge.IntegrationPoint, error)
	Accept(ctx context.Context, pointID string) (*knowledge.IntegrationPoint, bool, error)
	Reject(ctx context.Context, pointID string) (*knowledge.IntegrationPoint, bool, error)
	Apply(ctx context.Context, pointID string) (*knowledge.IntegrationPoint, bool, error)
	Preview(ctx context.Context, pointID string) (strategy.Prediction, error)
	Decide(ctx context.Context, pointID, override string) (*engine.DecideResult, error)
	GetDecision(ctx context.Context, id string) (*knowledge.StrategyDecision, error)
	ReportOutcome(ctx context.Context, decisionID string, score float64) (*knowledge.StrategyDecision, bool, error)
}

var _ Engine = (*engine.Engine)(nil)

// Server provides HTTP endpoints for the integration engine.
type Server struct {
	echo    *echo.Echo
	engine  Engine
	logger  *zap.Logger
	config  *Config
	metrics *routeMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string

	// Gatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Meter records request metrics. Defaults to the global meter provider.
	Meter metric.Meter

	// MaxIngestBatch caps the units accepted per ingest request.
	MaxIngestBatch int
}

const defaultMaxIngestBatch = 1000

// NewServer creates a new HTTP server.
func NewServer(eng Engine, logger *zap.Logger, cfg *Config) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.MaxIngestBatch == 0 {
		cfg.MaxIngestBatch = defaultMaxIngestBatch
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, rid string) {
			// Client supplied ids that would not survive log correlation
			// stay in the response header only.
			if logging.ValidateID(rid, "request id") != nil {
				return
			}
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), rid)))
		},
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			fields := append([]zap.Field{
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
			}, logging.ContextFields(c.Request().Context())...)
			logger.Info("http request", fields...)

			return err
		}
	})
	metrics := newRouteMetrics(cfg.Meter, logger)
	e.Use(metrics.middleware())

	s := &Server{
		echo:    e,
		engine:  eng,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)

	v1.POST("/units", s.handleIngest)
	v1.GET("/units/:id", s.handleGetUnit)

	v1.POST("/detect", s.handleDetect)

	v1.GET("/points", s.handleListPoints)
	v1.GET("/points/:id", s.handleGetPoint)
	v1.GET("/points/:id/prediction", s.handlePreview)
	v1.POST("/points/:id/accept", s.handleTransition(s.engine.Accept))
	v1.POST("/points/:id/reject", s.handleTransition(s.engine.Reject))
	v1.POST("/points/:id/apply", s.handleTransition(s.engine.Apply))
	v1.POST("/points/:id/decide", s.handleDecide)

	v1.GET("/decisions/:id", s.handleGetDecision)
	v1.POST("/decisions/:id/outcome", s.handleOutcome)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.engine.Ping(c.Request().Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, knowledge.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, knowledge.ErrInvalidTransition),
		errors.Is(err, knowledge.ErrDuplicateTransition):
		return http.StatusConflict
	case errors.Is(err, knowledge.ErrInvalidScore),
		errors.Is(err, knowledge.ErrInvalidDomain),
		errors.Is(err, knowledge.ErrInvalidUnit):
		return http.StatusBadRequest
	case errors.Is(err, knowledge.ErrStoreUnavailable),
		errors.Is(err, knowledge.ErrEmbeddingUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail converts err to an echo.HTTPError, logging server-side failures.
func (s *Server) fail(c echo.Context, op string, err error) error {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(op+" failed",
			append(logging.ContextFields(c.Request().Context()), zap.Error(err))...)
	}
	return echo.NewHTTPError(code, err.Error())
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
