package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/acdkn/internal/config"
	httpserver "github.com/fyrsmithlabs/acdkn/internal/http"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the integration daemon",
		Long: `Start the HTTP API, the retraining scheduler and, when sync is enabled,
the NATS publisher and outcome subscriber.

Examples:
  # Start with the default config file
  acdknd serve

  # Use an explicit config file
  acdknd serve --config /etc/acdkn/config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.LoadWithFile(configPath)
			if err != nil {
				return err
			}
			return runServe(ctx, cfg)
		},
	}
}

// runServe wires the daemon and blocks until ctx is cancelled or the HTTP
// server fails.
func runServe(ctx context.Context, cfg *config.Config) error {
	a, err := buildApp(ctx, cfg, buildOptions{
		sync:       true,
		registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
	}()
	logger := a.logger

	logger.Info("starting acdknd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Strings("domains", cfg.Engine.SupportedDomains),
		zap.String("store", cfg.Store.Backend),
		zap.Bool("sync", a.nc != nil),
		zap.Bool("telemetry", a.tel.IsEnabled()),
	)

	stopFeedback, err := a.startFeedback(ctx)
	if err != nil {
		return err
	}
	defer stopFeedback()

	srv, err := httpserver.NewServer(a.engine, logger.Named("http"), &httpserver.Config{
		Host:     cfg.Server.Host,
		Port:     cfg.Server.Port,
		Version:  version,
		Gatherer: prometheus.DefaultGatherer,
		Meter:    a.tel.Meter("github.com/fyrsmithlabs/acdkn/internal/http"),
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("server shutdown complete")
	return nil
}
