package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/acdkn/internal/config"
	"github.com/fyrsmithlabs/acdkn/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the engine as MCP tools over stdio",
		Long: `Serve ingestion, detection and the integration point lifecycle as Model
Context Protocol tools on stdin/stdout. Logs go to stderr.

Example client configuration:
  {"command": "acdknd", "args": ["mcp"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.LoadWithFile(configPath)
			if err != nil {
				return err
			}
			return runMCP(ctx, cfg, zapcore.AddSync(cmd.ErrOrStderr()))
		},
	}
}

func runMCP(ctx context.Context, cfg *config.Config, logOut zapcore.WriteSyncer) error {
	a, err := buildApp(ctx, cfg, buildOptions{
		sync:      true,
		logOutput: logOut,
	})
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.Background()) }()

	stopFeedback, err := a.startFeedback(ctx)
	if err != nil {
		return err
	}
	defer stopFeedback()

	srv, err := mcp.NewServer(&mcp.Config{
		Version: version,
		Logger:  a.logger.Named("mcp"),
		Meter:   a.tel.Meter("github.com/fyrsmithlabs/acdkn/internal/mcp"),
	}, a.engine)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	return srv.Run(ctx)
}
