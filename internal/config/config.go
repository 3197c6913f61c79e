// Package config loads acdknd configuration from a YAML file and ACDKN_
// environment variables.
//
// Loading applies defaults to every unset field, then validates the result
// with struct tags (go-playground/validator) and a few cross-field checks
// the tags cannot express.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

// Config holds the complete acdknd configuration.
type Config struct {
	Engine     EngineConfig     `koanf:"engine"`
	Matcher    MatcherConfig    `koanf:"matcher"`
	Predictor  PredictorConfig  `koanf:"predictor"`
	Feedback   FeedbackConfig   `koanf:"feedback"`
	Retry      RetryConfig      `koanf:"retry"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Redaction  RedactionConfig  `koanf:"redaction"`
	Store      StoreConfig      `koanf:"store"`
	Sync       SyncConfig       `koanf:"sync"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// EngineConfig holds the core integration settings.
type EngineConfig struct {
	SupportedDomains    []string                      `koanf:"supported_domains" validate:"min=2,unique,dive,required"`
	SimilarityThreshold float64                       `koanf:"similarity_threshold" validate:"gt=0,lte=1"`
	ConfidenceThreshold float64                       `koanf:"confidence_threshold" validate:"gte=0,lte=1"`
	BatchSize           int                           `koanf:"batch_size" validate:"min=1"`
	MaxKnowledgeUnits   int                           `koanf:"max_knowledge_units" validate:"gte=0"`
	MaxConcurrency      int                           `koanf:"max_concurrency" validate:"min=1,max=1000"`
	Compatibility       map[string]map[string]float64 `koanf:"compatibility"`
}

// MatcherConfig tunes candidate search.
type MatcherConfig struct {
	// ExactLimit of -1 always uses the index.
	ExactLimit  int    `koanf:"exact_limit" validate:"gte=-1"`
	Index       string `koanf:"index" validate:"oneof=lsh chromem"`
	Bands       int    `koanf:"bands" validate:"min=1"`
	BitsPerBand int    `koanf:"bits_per_band" validate:"min=1,max=64"`
	Seed        uint64 `koanf:"seed"`
	NeighborK   int    `koanf:"neighbor_k" validate:"min=1"`
}

// PredictorConfig tunes strategy prediction.
type PredictorConfig struct {
	MinHistory      int    `koanf:"min_history" validate:"min=1"`
	Buckets         int    `koanf:"buckets" validate:"min=1,max=1000"`
	DefaultStrategy string `koanf:"default_strategy" validate:"required"`
}

// FeedbackConfig tunes retraining.
type FeedbackConfig struct {
	RetrainEvery    int           `koanf:"retrain_every" validate:"min=1"`
	RetrainInterval time.Duration `koanf:"retrain_interval" validate:"gt=0"`
	BatchSize       int           `koanf:"batch_size" validate:"min=1"`
}

// RetryConfig bounds store and embedding retries.
type RetryConfig struct {
	MaxAttempts    int           `koanf:"max_attempts" validate:"min=1,max=10"`
	InitialBackoff time.Duration `koanf:"initial_backoff" validate:"gt=0"`
	MaxBackoff     time.Duration `koanf:"max_backoff" validate:"gtefield=InitialBackoff"`
	Multiplier     float64       `koanf:"multiplier" validate:"gte=1"`
	AttemptTimeout time.Duration `koanf:"attempt_timeout" validate:"gt=0"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	Provider  string        `koanf:"provider" validate:"oneof=hash tei openai fastembed"`
	Model     string        `koanf:"model" validate:"required"`
	BaseURL   string        `koanf:"base_url" validate:"required_if=Provider tei,required_if=Provider openai,omitempty,url"`
	APIKey    Secret        `koanf:"api_key"`
	CacheDir  string        `koanf:"cache_dir"`
	Dimension int           `koanf:"dimension" validate:"min=1"`
	CacheTTL  time.Duration `koanf:"cache_ttl" validate:"gt=0"`
	CacheSize int           `koanf:"cache_size" validate:"min=1"`
	RateLimit float64       `koanf:"rate_limit" validate:"gte=0"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend             string        `koanf:"backend" validate:"oneof=memory badger"`
	Path                string        `koanf:"path" validate:"required_if=Backend badger"`
	SyncWrites          bool          `koanf:"sync_writes"`
	BreakerFailureRatio float64       `koanf:"breaker_failure_ratio" validate:"gt=0,lte=1"`
	BreakerMinRequests  uint32        `koanf:"breaker_min_requests" validate:"min=1"`
	BreakerTimeout      time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// SyncConfig configures the NATS synchronizer.
type SyncConfig struct {
	Enabled       bool          `koanf:"enabled"`
	NATSURL       string        `koanf:"nats_url" validate:"required_if=Enabled true"`
	Token         Secret        `koanf:"token"`
	SubjectPrefix string        `koanf:"subject_prefix" validate:"required,excludesall=.*>"`
	Timeout       time.Duration `koanf:"timeout" validate:"gt=0"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"http_port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig holds the logging settings exposed in the config file.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// RedactionConfig controls secret scrubbing of ingested content.
type RedactionConfig struct {
	Enabled bool `koanf:"enabled"`

	// Allow lists regular expressions for secrets that may be kept.
	Allow []string `koanf:"allow"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint" validate:"required_if=Enabled true"`
	Protocol    string  `koanf:"protocol" validate:"oneof=http/protobuf grpc"`
	ServiceName string  `koanf:"service_name" validate:"required"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// DefaultCompatibility is the matrix used when none is configured.
func DefaultCompatibility() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"healthcare": {"technology": 0.9, "research": 0.8, "finance": 0.5},
		"finance":    {"technology": 0.8, "research": 0.6},
		"technology": {"research": 0.85},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	matrix, err := c.CompatibilityMatrix()
	if err != nil {
		return err
	}
	domains := c.DomainSet()
	for _, d := range matrix.Domains() {
		if !domains.Contains(d) {
			return fmt.Errorf("engine.compatibility references unsupported domain %q", d)
		}
	}
	return nil
}

// DomainSet returns the supported domains.
func (c *Config) DomainSet() knowledge.DomainSet {
	return knowledge.NewDomainSet(c.Engine.SupportedDomains...)
}

// CompatibilityMatrix parses the configured matrix.
func (c *Config) CompatibilityMatrix() (knowledge.CompatibilityMatrix, error) {
	m, err := knowledge.NewCompatibilityMatrix(c.Engine.Compatibility)
	if err != nil {
		return knowledge.CompatibilityMatrix{}, fmt.Errorf("engine.compatibility: %w", err)
	}
	return m, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	e := &cfg.Engine
	if len(e.SupportedDomains) == 0 {
		e.SupportedDomains = []string{"healthcare", "finance", "technology", "research"}
	}
	if e.SimilarityThreshold == 0 {
		e.SimilarityThreshold = 0.7
	}
	if e.ConfidenceThreshold == 0 {
		e.ConfidenceThreshold = 0.5
	}
	if e.BatchSize == 0 {
		e.BatchSize = 100
	}
	if e.MaxKnowledgeUnits == 0 {
		e.MaxKnowledgeUnits = 10000
	}
	if e.MaxConcurrency == 0 {
		e.MaxConcurrency = 10
	}
	if e.Compatibility == nil {
		e.Compatibility = DefaultCompatibility()
	}

	m := &cfg.Matcher
	if m.ExactLimit == 0 {
		m.ExactLimit = 2000
	}
	if m.Index == "" {
		m.Index = "lsh"
	}
	if m.Bands == 0 {
		m.Bands = 16
	}
	if m.BitsPerBand == 0 {
		m.BitsPerBand = 8
	}
	if m.Seed == 0 {
		m.Seed = 42
	}
	if m.NeighborK == 0 {
		m.NeighborK = 20
	}

	p := &cfg.Predictor
	if p.MinHistory == 0 {
		p.MinHistory = 5
	}
	if p.Buckets == 0 {
		p.Buckets = 10
	}
	if p.DefaultStrategy == "" {
		p.DefaultStrategy = "manual-review"
	}

	f := &cfg.Feedback
	if f.RetrainEvery == 0 {
		f.RetrainEvery = 20
	}
	if f.RetrainInterval == 0 {
		f.RetrainInterval = 5 * time.Minute
	}
	if f.BatchSize == 0 {
		f.BatchSize = 500
	}

	r := &cfg.Retry
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 3
	}
	if r.InitialBackoff == 0 {
		r.InitialBackoff = time.Second
	}
	if r.MaxBackoff == 0 {
		r.MaxBackoff = 10 * time.Second
	}
	if r.Multiplier == 0 {
		r.Multiplier = 2
	}
	if r.AttemptTimeout == 0 {
		r.AttemptTimeout = 5 * time.Second
	}

	em := &cfg.Embeddings
	if em.Provider == "" {
		em.Provider = "hash"
	}
	if em.Model == "" {
		em.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if em.BaseURL == "" {
		em.BaseURL = "http://localhost:8080"
	}
	if em.Dimension == 0 {
		em.Dimension = 384
	}
	if em.CacheTTL == 0 {
		em.CacheTTL = time.Hour
	}
	if em.CacheSize == 0 {
		em.CacheSize = 10000
	}
	if em.RateLimit == 0 {
		em.RateLimit = 20
	}

	s := &cfg.Store
	if s.Backend == "" {
		s.Backend = "memory"
	}
	if s.Path == "" {
		s.Path = "~/.local/share/acdkn/badger"
	}
	if s.BreakerFailureRatio == 0 {
		s.BreakerFailureRatio = 0.6
	}
	if s.BreakerMinRequests == 0 {
		s.BreakerMinRequests = 5
	}
	if s.BreakerTimeout == 0 {
		s.BreakerTimeout = 30 * time.Second
	}

	if cfg.Sync.NATSURL == "" {
		cfg.Sync.NATSURL = "nats://localhost:4222"
	}
	if cfg.Sync.SubjectPrefix == "" {
		cfg.Sync.SubjectPrefix = "acdkn"
	}
	if cfg.Sync.Timeout == 0 {
		cfg.Sync.Timeout = 5 * time.Second
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	t := &cfg.Telemetry
	if t.Endpoint == "" {
		t.Endpoint = "localhost:4318"
	}
	if t.Protocol == "" {
		t.Protocol = "http/protobuf"
	}
	if t.ServiceName == "" {
		t.ServiceName = "acdkn"
	}
	if t.SampleRate == 0 {
		t.SampleRate = 1
	}
}
