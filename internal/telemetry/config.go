package telemetry

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/fyrsmithlabs/acdkn/internal/config"
)

// Exporter protocols.
const (
	ProtocolHTTP = "http/protobuf"
	ProtocolGRPC = "grpc"
)

// Config controls OTLP export.
type Config struct {
	Enabled  bool
	Endpoint string
	Protocol string

	ServiceName    string
	ServiceVersion string

	// Insecure disables TLS. Only loopback endpoints may be insecure.
	Insecure      bool
	TLSSkipVerify bool

	// SampleRate is the fraction of root traces kept, 0 to 1.
	SampleRate float64

	Metrics        bool
	ExportInterval time.Duration

	// ShutdownTimeout bounds the final flush.
	ShutdownTimeout time.Duration
}

// NewDefaultConfig returns telemetry defaults. Export is off until an
// OTLP collector is configured.
func NewDefaultConfig() *Config {
	return &Config{
		Endpoint:        "localhost:4318",
		Protocol:        ProtocolHTTP,
		ServiceName:     "acdkn",
		ServiceVersion:  "dev",
		Insecure:        true,
		SampleRate:      1,
		Metrics:         true,
		ExportInterval:  15 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// FromConfig applies the daemon's telemetry section to the defaults.
func FromConfig(tc config.TelemetryConfig, version string) *Config {
	c := NewDefaultConfig()
	c.Enabled = tc.Enabled
	if tc.Endpoint != "" {
		c.Endpoint = tc.Endpoint
	}
	if tc.Protocol != "" {
		c.Protocol = tc.Protocol
	}
	if tc.ServiceName != "" {
		c.ServiceName = tc.ServiceName
	}
	if version != "" {
		c.ServiceVersion = version
	}
	c.Insecure = tc.Insecure
	c.SampleRate = tc.SampleRate
	return c
}

// Validate checks an enabled configuration. A disabled one is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	}
	if c.ServiceName == "" {
		errs = append(errs, errors.New("service_name is required"))
	}
	if c.ServiceVersion == "" {
		errs = append(errs, errors.New("service_version is required"))
	}
	if c.Protocol != "" && c.Protocol != ProtocolHTTP && c.Protocol != ProtocolGRPC {
		errs = append(errs, fmt.Errorf("unknown protocol %q (want %s or %s)", c.Protocol, ProtocolHTTP, ProtocolGRPC))
	}
	if c.Endpoint != "" && c.Insecure && !c.isLocalEndpoint() {
		errs = append(errs, fmt.Errorf("insecure export to remote endpoint %q; disable insecure or use a loopback collector", c.Endpoint))
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("sample_rate must be within [0, 1], got %g", c.SampleRate))
	}
	if c.Metrics && c.ExportInterval <= 0 {
		errs = append(errs, errors.New("export_interval must be positive when metrics are enabled"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// isLocalEndpoint reports whether the endpoint host is loopback.
func (c *Config) isLocalEndpoint() bool {
	host := stripScheme(c.Endpoint)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
