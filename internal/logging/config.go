package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/acdkn/internal/config"
)

// Config holds logger construction options. The daemon builds it from the
// logging section of its configuration with FromConfig.
type Config struct {
	Level  zapcore.Level
	Format string
	Output OutputConfig

	Sampling SamplingConfig

	// Caller adds the calling file and line to every entry.
	Caller bool

	// StacktraceLevel is the lowest level that carries a stack trace.
	StacktraceLevel zapcore.Level

	// Fields are attached to every entry.
	Fields map[string]string

	Redaction RedactionConfig
}

// OutputConfig selects the sinks.
type OutputConfig struct {
	Stdout bool
	OTEL   bool
}

// SamplingConfig bounds repeated entries below error level. Within each
// Tick the first Initial entries with the same message are written, then
// every Thereafter-th.
type SamplingConfig struct {
	Enabled    bool
	Tick       time.Duration
	Initial    int
	Thereafter int
}

// RedactionConfig masks sensitive values on the stdout encoder.
type RedactionConfig struct {
	Enabled bool

	// Fields are masked by key, case-insensitively.
	Fields []string

	// Patterns are masked wherever they match a string value.
	Patterns []string
}

// NewDefaultConfig returns config with production defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{Stdout: true},
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       time.Second,
			Initial:    100,
			Thereafter: 10,
		},
		Caller:          true,
		StacktraceLevel: zapcore.ErrorLevel,
		Fields:          map[string]string{"service": "acdkn"},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key",
				"authorization", "bearer", "credential",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
			},
		},
	}
}

// FromConfig applies the daemon's logging section to the defaults.
func FromConfig(lc config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	level, err := LevelFromString(lc.Level)
	if err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}
	cfg.Level = level
	if lc.Format != "" {
		cfg.Format = lc.Format
	}
	// Trace output is for following one run; sampling would hide pairs.
	if level == TraceLevel {
		cfg.Sampling.Enabled = false
	}
	return cfg, nil
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Format != "json" && c.Format != "console" {
		errs = append(errs, fmt.Errorf("format must be json or console, got %q", c.Format))
	}
	if !c.Output.Stdout && !c.Output.OTEL {
		errs = append(errs, errors.New("at least one output must be enabled (stdout or otel)"))
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick <= 0 {
			errs = append(errs, errors.New("sampling tick must be positive"))
		}
		if c.Sampling.Initial < 1 || c.Sampling.Thereafter < 0 {
			errs = append(errs, fmt.Errorf("sampling needs initial >= 1 and thereafter >= 0, got %d/%d",
				c.Sampling.Initial, c.Sampling.Thereafter))
		}
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if _, err := compilePattern(p); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			errs = append(errs, fmt.Errorf("static field %q=%q needs a key and a value", k, v))
		}
	}
	return errors.Join(errs...)
}

func compilePattern(p string) (*regexp.Regexp, error) {
	if len(p) > maxPatternLen {
		return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
	}
	return re, nil
}
