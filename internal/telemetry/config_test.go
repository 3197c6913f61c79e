package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/acdkn/internal/config"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4318", cfg.Endpoint)
	assert.Equal(t, ProtocolHTTP, cfg.Protocol)
	assert.Equal(t, "acdkn", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.Equal(t, 15*time.Second, cfg.ExportInterval)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "disabled skips checks", mutate: func(c *Config) { c.Enabled = false; c.Endpoint = "" }},
		{name: "valid", mutate: func(c *Config) {}},
		{name: "grpc", mutate: func(c *Config) { c.Protocol = ProtocolGRPC }},
		{name: "missing endpoint", mutate: func(c *Config) { c.Endpoint = "" }, wantErr: "endpoint"},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service_name"},
		{name: "missing service version", mutate: func(c *Config) { c.ServiceVersion = "" }, wantErr: "service_version"},
		{name: "unknown protocol", mutate: func(c *Config) { c.Protocol = "thrift" }, wantErr: "protocol"},
		{name: "insecure remote", mutate: func(c *Config) { c.Endpoint = "collector.example.com:4318" }, wantErr: "insecure"},
		{name: "tls remote", mutate: func(c *Config) { c.Endpoint = "collector.example.com:4318"; c.Insecure = false }},
		{name: "sampling above one", mutate: func(c *Config) { c.SampleRate = 1.5 }, wantErr: "sample_rate"},
		{name: "negative sampling", mutate: func(c *Config) { c.SampleRate = -0.1 }, wantErr: "sample_rate"},
		{name: "zero export interval", mutate: func(c *Config) { c.ExportInterval = 0 }, wantErr: "export_interval"},
		{name: "metrics off ignores interval", mutate: func(c *Config) { c.Metrics = false; c.ExportInterval = 0 }},
		{name: "every problem reported", mutate: func(c *Config) { c.ServiceName = ""; c.SampleRate = 3 }, wantErr: "service_name is required\nsample_rate"},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.ShutdownTimeout = 0 }, wantErr: "shutdown_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Enabled = true
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_isLocalEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     bool
	}{
		{"localhost:4318", true},
		{"localhost", true},
		{"127.0.0.1:4317", true},
		{"http://localhost:4318", true},
		{"[::1]:4317", true},
		{"[::1]", true},
		{"otel-collector:4317", false},
		{"https://collector.example.com", false},
		{"10.0.0.5:4318", false},
		{"127.0.0.1", true},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			c := &Config{Endpoint: tt.endpoint}
			assert.Equal(t, tt.want, c.isLocalEndpoint())
		})
	}
}

func TestFromConfig(t *testing.T) {
	c := FromConfig(config.TelemetryConfig{
		Enabled:     true,
		Endpoint:    "collector:4317",
		Protocol:    ProtocolGRPC,
		ServiceName: "acdkn-east",
		SampleRate:  0.25,
	}, "1.4.0")

	assert.True(t, c.Enabled)
	assert.Equal(t, "collector:4317", c.Endpoint)
	assert.Equal(t, ProtocolGRPC, c.Protocol)
	assert.Equal(t, "acdkn-east", c.ServiceName)
	assert.Equal(t, "1.4.0", c.ServiceVersion)
	assert.False(t, c.Insecure)
	assert.Equal(t, 0.25, c.SampleRate)
	assert.NoError(t, c.Validate())

	d := FromConfig(config.TelemetryConfig{}, "")
	assert.Equal(t, NewDefaultConfig().Endpoint, d.Endpoint)
	assert.Equal(t, "dev", d.ServiceVersion)
}
