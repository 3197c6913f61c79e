package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/acdkn/internal/config"
	"github.com/fyrsmithlabs/acdkn/internal/detector"
	"github.com/fyrsmithlabs/acdkn/internal/embeddings"
	"github.com/fyrsmithlabs/acdkn/internal/engine"
	"github.com/fyrsmithlabs/acdkn/internal/events"
	"github.com/fyrsmithlabs/acdkn/internal/feedback"
	"github.com/fyrsmithlabs/acdkn/internal/logging"
	"github.com/fyrsmithlabs/acdkn/internal/matcher"
	"github.com/fyrsmithlabs/acdkn/internal/redact"
	"github.com/fyrsmithlabs/acdkn/internal/retry"
	"github.com/fyrsmithlabs/acdkn/internal/store"
	"github.com/fyrsmithlabs/acdkn/internal/strategy"
	"github.com/fyrsmithlabs/acdkn/internal/synchronizer"
	"github.com/fyrsmithlabs/acdkn/internal/telemetry"
)

// app holds the wired components of one acdknd process.
type app struct {
	cfg    *config.Config
	log    *logging.Logger
	logger *zap.Logger
	tel    *telemetry.Telemetry

	store      store.Store
	provider   embeddings.Provider
	nc         *nats.Conn
	subscriber *synchronizer.Subscriber
	engine     *engine.Engine
}

// buildOptions adjust wiring per command.
type buildOptions struct {
	// memoryStore forces the in-memory backend regardless of config.
	memoryStore bool

	// sync connects to NATS when the config enables it.
	sync bool

	// registerer receives the event metrics.
	registerer prometheus.Registerer

	// logOutput defaults to stdout.
	logOutput zapcore.WriteSyncer
}

// buildApp wires every component from cfg. On error, whatever was already
// opened is closed again.
func buildApp(ctx context.Context, cfg *config.Config, opts buildOptions) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if a.log, err = newLogger(cfg, opts.logOutput, nil); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = a.log.Underlying()

	if a.tel, err = telemetry.New(ctx, telemetryConfig(cfg), a.logger); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if lp := a.tel.LoggerProvider(); lp != nil {
		// Rebuild with the OTEL bridge so logs follow traces to the collector.
		if a.log, err = newLogger(cfg, opts.logOutput, lp); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.logger = a.log.Underlying()
	}

	if a.store, err = openStore(ctx, cfg, opts.memoryStore, a.logger); err != nil {
		return nil, err
	}

	policy := retryPolicy(cfg)
	inner, err := embeddings.NewProvider(providerConfig(cfg), a.logger.Named("embeddings"))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	a.provider = embeddings.NewCached(inner, embeddings.CacheConfig{
		TTL:         cfg.Embeddings.CacheTTL,
		Size:        cfg.Embeddings.CacheSize,
		ChunkSize:   cfg.Engine.BatchSize,
		Concurrency: cfg.Engine.MaxConcurrency,
		Model:       cfg.Embeddings.Model,
	}, policy, embeddings.NewMetrics(a.logger), a.logger.Named("embeddings"))
	a.logger.Info("embedding provider initialized",
		zap.String("provider", cfg.Embeddings.Provider),
		zap.String("model", cfg.Embeddings.Model),
		zap.Int("dimension", a.provider.Dimension()),
	)

	registerer := opts.registerer
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	sink := events.Multi{
		events.NewZapSink(a.logger),
		events.NewPrometheusSink(registerer),
	}

	var notifier synchronizer.Notifier
	if opts.sync && cfg.Sync.Enabled {
		if a.nc, err = connectNATS(cfg, a.logger); err != nil {
			return nil, err
		}
		if notifier, err = synchronizer.NewNATSNotifier(a.nc, cfg.Sync.SubjectPrefix, a.logger.Named("synchronizer")); err != nil {
			return nil, err
		}
	}

	redactor, err := redact.New(redact.Config{
		Enabled: cfg.Redaction.Enabled,
		Allow:   cfg.Redaction.Allow,
	}, a.logger.Named("redact"))
	if err != nil {
		return nil, fmt.Errorf("failed to create redactor: %w", err)
	}

	ecfg, err := engineConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.engine, err = engine.New(ecfg, engine.Deps{
		Store:    a.store,
		Embedder: a.provider,
		Notifier: notifier,
		Redactor: redactor,
		Sink:     sink,
		Logger:   a.logger.Named("engine"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	if a.nc != nil {
		a.subscriber, err = synchronizer.NewSubscriber(a.nc, cfg.Sync.SubjectPrefix,
			a.engine.SyncHandlers(), cfg.Sync.Timeout, a.logger.Named("synchronizer"))
		if err != nil {
			return nil, err
		}
		if err := a.subscriber.Start(); err != nil {
			return nil, fmt.Errorf("failed to subscribe: %w", err)
		}
	}
	return a, nil
}

// startFeedback loads the persisted outcome history into the predictor and
// starts the retraining scheduler. A failed initial load is logged and left
// to the scheduler's next run.
func (a *app) startFeedback(ctx context.Context) (stop func(), err error) {
	loop := a.engine.Feedback()
	if stats, err := loop.Retrain(ctx); err != nil {
		a.logger.Warn("initial retrain failed", zap.Error(err))
	} else {
		a.logger.Info("outcome history loaded",
			zap.Int("decisions", stats.Decisions),
			zap.Uint64("version", stats.Version),
		)
	}
	if err := loop.Start(); err != nil {
		return nil, fmt.Errorf("failed to start retraining scheduler: %w", err)
	}
	return func() {
		if err := loop.Stop(); err != nil {
			a.logger.Warn("retraining scheduler stop failed", zap.Error(err))
		}
	}, nil
}

// Close releases every component in reverse wiring order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.subscriber != nil {
		if err := a.subscriber.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("subscriber stop: %w", err))
		}
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.nc.Close()
		}
	}
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("embedding provider close: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if a.tel != nil {
		if err := a.tel.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return errors.Join(errs...)
}

func newLogger(cfg *config.Config, out zapcore.WriteSyncer, otelProvider log.LoggerProvider) (*logging.Logger, error) {
	lc, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	lc.Output.OTEL = otelProvider != nil
	if out == nil {
		return logging.NewLogger(lc, otelProvider)
	}
	return logging.NewLoggerTo(lc, out, otelProvider)
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	return telemetry.FromConfig(cfg.Telemetry, version)
}

func retryPolicy(cfg *config.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		Multiplier:     cfg.Retry.Multiplier,
		AttemptTimeout: cfg.Retry.AttemptTimeout,
	}
}

func providerConfig(cfg *config.Config) embeddings.ProviderConfig {
	return embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey.Value(),
		CacheDir:  expandHome(cfg.Embeddings.CacheDir),
		Dimension: cfg.Embeddings.Dimension,
		RateLimit: cfg.Embeddings.RateLimit,
	}
}

func engineConfig(cfg *config.Config) (engine.Config, error) {
	matrix, err := cfg.CompatibilityMatrix()
	if err != nil {
		return engine.Config{}, fmt.Errorf("invalid compatibility matrix: %w", err)
	}
	return engine.Config{
		Domains:           cfg.DomainSet(),
		Compatibility:     matrix,
		MaxKnowledgeUnits: cfg.Engine.MaxKnowledgeUnits,
		MaxConcurrency:    cfg.Engine.MaxConcurrency,
		EmbedBatchSize:    cfg.Engine.BatchSize,
		Matcher: matcher.Config{
			SimilarityThreshold: cfg.Engine.SimilarityThreshold,
			ExactLimit:          cfg.Matcher.ExactLimit,
			Index:               cfg.Matcher.Index,
			Bands:               cfg.Matcher.Bands,
			BitsPerBand:         cfg.Matcher.BitsPerBand,
			Seed:                cfg.Matcher.Seed,
			NeighborK:           cfg.Matcher.NeighborK,
			Concurrency:         cfg.Engine.MaxConcurrency,
		},
		Detector: detector.Config{
			ConfidenceThreshold: cfg.Engine.ConfidenceThreshold,
			BatchSize:           cfg.Engine.BatchSize,
		},
		Predictor: strategy.Config{
			MinHistory:      cfg.Predictor.MinHistory,
			Buckets:         cfg.Predictor.Buckets,
			DefaultStrategy: cfg.Predictor.DefaultStrategy,
		},
		Feedback: feedback.Config{
			RetrainEvery:    cfg.Feedback.RetrainEvery,
			RetrainInterval: cfg.Feedback.RetrainInterval,
			BatchSize:       cfg.Feedback.BatchSize,
			Buckets:         cfg.Predictor.Buckets,
		},
	}, nil
}

// openStore opens the configured backend and checks it answers.
func openStore(ctx context.Context, cfg *config.Config, forceMemory bool, logger *zap.Logger) (store.Store, error) {
	backend := cfg.Store.Backend
	if forceMemory {
		backend = "memory"
	}

	var st store.Store
	switch backend {
	case "badger":
		dir := expandHome(cfg.Store.Path)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		bs, err := store.NewBadgerStore(store.BadgerOptions{
			Dir:        dir,
			SyncWrites: cfg.Store.SyncWrites,
		}, logger.Named("store"))
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		breaker := store.DefaultBreakerConfig()
		breaker.FailureThreshold = cfg.Store.BreakerFailureRatio
		breaker.MinRequests = cfg.Store.BreakerMinRequests
		breaker.Timeout = cfg.Store.BreakerTimeout
		st = store.NewResilient(bs, retryPolicy(cfg), breaker, logger.Named("store"))
		logger.Info("store opened", zap.String("backend", backend), zap.String("path", dir))
	default:
		st = store.NewMemoryStore()
		logger.Info("store opened", zap.String("backend", "memory"))
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := st.Ping(pingCtx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("store connection test failed: %w", err)
	}
	return st, nil
}

func connectNATS(cfg *config.Config, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{nats.Timeout(cfg.Sync.Timeout)}
	if cfg.Sync.Token.IsSet() {
		opts = append(opts, nats.Token(cfg.Sync.Token.Value()))
	}
	nc, err := synchronizer.Connect(cfg.Sync.NATSURL, logger.Named("nats"), opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to nats",
		zap.String("url", nc.ConnectedUrl()),
		zap.String("subject_prefix", cfg.Sync.SubjectPrefix),
		logging.Secret("token", cfg.Sync.Token),
	)
	return nc, nil
}

// expandHome replaces a leading ~/ with the user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
