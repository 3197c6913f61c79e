package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ACDKN_"
)

// listKeys are split on commas when set from the environment.
var listKeys = map[string]bool{
	"engine.supported_domains": true,
	"redaction.allow":          true,
}

// LoadWithFile loads configuration from a YAML or TOML file (by extension),
// then overrides it with environment variables.
//
// Precedence (highest first):
//  1. Environment variables (ACDKN_SERVER_HTTP_PORT, ACDKN_STORE_BACKEND, ...)
//  2. YAML config file (~/.config/acdkn/config.yaml)
//  3. Defaults
//
// An empty configPath uses the default path. A missing file is not an error.
//
// # Security Considerations
//
// The file must live under ~/.config/acdkn/ or /etc/acdkn/, have 0600 or
// 0400 permissions and be at most 1MB.
//
// # Environment Variable Mapping
//
// The prefix is stripped and the first underscore separates the section
// from the field:
//
//	ACDKN_SERVER_HTTP_PORT        -> server.http_port
//	ACDKN_ENGINE_SUPPORTED_DOMAINS -> engine.supported_domains (comma separated)
//	ACDKN_SYNC_NATS_URL           -> sync.nats_url
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "acdkn", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	if _, err := os.Stat(configPath); err == nil {
		// Validate through the open descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), parserFor(configPath)); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	return finish(k)
}

// LoadBytes loads configuration from YAML content plus the environment. It
// skips the file checks and is meant for embedded or generated configs.
func LoadBytes(content []byte) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(k)
}

func finish(k *koanf.Koanf) (*Config, error) {
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := rejectExplicitZeros(k); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// zeroMeansDefault lists keys whose zero value is replaced by a default.
// Writing 0 for one of them is an error rather than a silent substitution.
var zeroMeansDefault = []string{
	"engine.similarity_threshold",
	"engine.confidence_threshold",
}

func rejectExplicitZeros(k *koanf.Koanf) error {
	var errs []error
	for _, key := range zeroMeansDefault {
		if k.Exists(key) && k.String(key) != "" && k.Float64(key) == 0 {
			errs = append(errs, fmt.Errorf("%s: 0 is not allowed; omit the key to use the default", key))
		}
	}
	return errors.Join(errs...)
}

// envKey maps ACDKN_SECTION_FIELD_NAME to section.field_name.
func envKey(key, value string) (string, any) {
	lower := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok || section == "" || field == "" {
		return "", nil
	}
	path := section + "." + field
	if listKeys[path] {
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return path, items
	}
	return path, value
}

// EnsureConfigDir creates ~/.config/acdkn with 0700 permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	configDir := filepath.Join(home, ".config", "acdkn")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}
	return nil
}

// validateConfigPath checks the path is inside an allowed directory. It runs
// even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Paths that do not exist yet are checked as given.
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	allowedDirs := []string{
		filepath.Join(home, ".config", "acdkn"),
		"/etc/acdkn",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/acdkn/ or /etc/acdkn/")
}

// validateConfigFileProperties checks permissions and size of an open file.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
