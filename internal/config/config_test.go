package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/acdkn/internal/knowledge"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"healthcare", "finance", "technology", "research"}, cfg.Engine.SupportedDomains)
	assert.Equal(t, 0.7, cfg.Engine.SimilarityThreshold)
	assert.Equal(t, 0.5, cfg.Engine.ConfidenceThreshold)
	assert.Equal(t, 100, cfg.Engine.BatchSize)
	assert.Equal(t, 10000, cfg.Engine.MaxKnowledgeUnits)
	assert.Equal(t, 10, cfg.Engine.MaxConcurrency)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxBackoff)
	assert.Equal(t, time.Hour, cfg.Embeddings.CacheTTL)
	assert.Equal(t, "sentence-transformers/all-MiniLM-L6-v2", cfg.Embeddings.Model)
	assert.Equal(t, 5, cfg.Predictor.MinHistory)
	assert.Equal(t, "manual-review", cfg.Predictor.DefaultStrategy)
	assert.Equal(t, 5*time.Minute, cfg.Feedback.RetrainInterval)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.False(t, cfg.Sync.Enabled)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 9191, cfg.Server.Port)

	m, err := cfg.CompatibilityMatrix()
	require.NoError(t, err)
	assert.Equal(t, 0.9, m.Weight("technology", "healthcare"))
	assert.Equal(t, 0.0, m.Weight("healthcare", "healthcare"))
	assert.True(t, cfg.DomainSet().Contains(knowledge.Domain("research")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "single domain",
			mutate:  func(c *Config) { c.Engine.SupportedDomains = []string{"finance"} },
			wantErr: "SupportedDomains",
		},
		{
			name:    "duplicate domains",
			mutate:  func(c *Config) { c.Engine.SupportedDomains = []string{"finance", "finance"} },
			wantErr: "unique",
		},
		{
			name:    "similarity above one",
			mutate:  func(c *Config) { c.Engine.SimilarityThreshold = 1.2 },
			wantErr: "SimilarityThreshold",
		},
		{
			name:    "unknown index",
			mutate:  func(c *Config) { c.Matcher.Index = "faiss" },
			wantErr: "Index",
		},
		{
			name:    "max backoff below initial",
			mutate:  func(c *Config) { c.Retry.MaxBackoff = 100 * time.Millisecond },
			wantErr: "MaxBackoff",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Embeddings.Provider = "cohere" },
			wantErr: "Provider",
		},
		{
			name:    "openai without base url",
			mutate:  func(c *Config) { c.Embeddings.Provider = "openai"; c.Embeddings.BaseURL = "" },
			wantErr: "BaseURL",
		},
		{
			name:    "tei base url not a url",
			mutate:  func(c *Config) { c.Embeddings.Provider = "tei"; c.Embeddings.BaseURL = "not a url" },
			wantErr: "BaseURL",
		},
		{
			name:    "badger without path",
			mutate:  func(c *Config) { c.Store.Backend = "badger"; c.Store.Path = "" },
			wantErr: "Path",
		},
		{
			name:    "wildcard subject prefix",
			mutate:  func(c *Config) { c.Sync.SubjectPrefix = "acdkn.>" },
			wantErr: "SubjectPrefix",
		},
		{
			name:    "sync enabled without url",
			mutate:  func(c *Config) { c.Sync.Enabled = true; c.Sync.NATSURL = "" },
			wantErr: "NATSURL",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "Level",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "Port",
		},
		{
			name: "matrix weight out of range",
			mutate: func(c *Config) {
				c.Engine.Compatibility = map[string]map[string]float64{"finance": {"research": 1.5}}
			},
			wantErr: "out of range",
		},
		{
			name: "asymmetric matrix",
			mutate: func(c *Config) {
				c.Engine.Compatibility = map[string]map[string]float64{
					"finance":  {"research": 0.6},
					"research": {"finance": 0.4},
				}
			},
			wantErr: "asymmetric",
		},
		{
			name: "matrix domain not supported",
			mutate: func(c *Config) {
				c.Engine.Compatibility = map[string]map[string]float64{"finance": {"astrology": 0.3}}
			},
			wantErr: "unsupported domain",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_SecretNotPrinted(t *testing.T) {
	cfg := Default()
	cfg.Sync.Token = "s3cr3t"
	cfg.Sync.SubjectPrefix = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "s3cr3t")
}
