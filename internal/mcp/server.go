package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/engine"
	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
	"github.com/fyrsmithlabs/acdkn/internal/strategy"
)

// Engine is the part of the integration engine the tools call.
type Engine interface {
	Ingest(ctx context.Context, inputs []engine.UnitInput) ([]engine.IngestResult, error)
	Detect(ctx context.Context) (*engine.RunReport, error)
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

var errInvalidArgument = errors.New("invalid argument")

// Server serves the engine tools over MCP.
type Server struct {
	mcp     *mcp.Server
	engine  Engine
	metrics *toolMetrics
	logger  *zap.Logger

	// maxUnits caps one ingest_units call.
	maxUnits int
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name reported to clients (default: "acdknd").
	Name string

	// Version is the implementation version (default: "dev").
	Version string

	// MaxIngestBatch caps the units accepted per ingest call (default: 1000).
	MaxIngestBatch int

	Logger *zap.Logger

	// Meter records tool call metrics. Defaults to the global meter provider.
	Meter metric.Meter
}

// DefaultConfig returns the defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:           "acdknd",
		Version:        "dev",
		MaxIngestBatch: 1000,
		Logger:         zap.NewNop(),
	}
}

// NewServer creates an MCP server with every engine tool registered.
func NewServer(cfg *Config, eng Engine) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	defaults := DefaultConfig()
	if cfg == nil {
		cfg = defaults
	}
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.MaxIngestBatch <= 0 {
		cfg.MaxIngestBatch = defaults.MaxIngestBatch
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		engine:   eng,
		metrics:  newToolMetrics(cfg.Meter, cfg.Logger),
		logger:   cfg.Logger,
		maxUnits: cfg.MaxIngestBatch,
	}
	s.registerTools()
	return s, nil
}

// Run serves on stdin/stdout until ctx is cancelled or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves a single session on transport. Run uses stdio; tests use
// in-memory transports.
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, transport, nil)
}

// addTool registers a typed tool whose calls are timed and counted.
func addTool[In, Out any](s *Server, name, description string, h func(context.Context, In) (Out, error)) {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: description,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		done := s.metrics.start(ctx, name)
		out, err := h(ctx, in)
		done(err)
		if err != nil {
			s.logger.Debug("tool call failed", zap.String("tool", name), zap.Error(err))
			var zero Out
			return nil, zero, err
		}
		return nil, out, nil
	})
}
