// Package config handles loading and validating doppler-mcp configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for doppler-mcp.
type Config struct {
	Doppler       DopplerConfig        `json:"doppler" yaml:"doppler"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	Logging       LoggingConfig        `json:"logging" yaml:"logging"`
	HTTP          *HTTPConfig          `json:"http,omitempty" yaml:"http,omitempty"`                   // nil = stdio only
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// DopplerConfig configures the upstream Doppler API channel.
type DopplerConfig struct {
	Token          string `json:"token,omitempty" yaml:"token,omitempty"` // Override: DOPPLER_TOKEN env var. Required.
	BaseURL        string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-request ceiling. Default: 30.
	MaxRetries     int    `json:"max_retries" yaml:"max_retries"`         // Retries on 429/5xx. Default: 2. -1 = disabled.
}

// Timeout returns the request timeout with a default of 30s.
func (d *DopplerConfig) Timeout() time.Duration {
	if d.TimeoutSeconds > 0 {
		return time.Duration(d.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// Retries returns the retry budget with a default of 2. -1 disables retries.
func (d *DopplerConfig) Retries() int {
	if d.MaxRetries == -1 {
		return -1
	}
	if d.MaxRetries > 0 {
		return d.MaxRetries
	}
	return 2
}

// ToolsConfig controls which capability sets the server advertises.
type ToolsConfig struct {
	// ReadWrite enables the additive write/promote/token/audit tool set.
	// Off by default: the baseline catalog is read-only.
	ReadWrite bool `json:"read_write" yaml:"read_write"`
	// Resources enables the doppler:// resource listing surface.
	Resources bool `json:"resources" yaml:"resources"`
}

// LoggingConfig configures the slog handler. Logs always go to stderr —
// stdout carries the MCP stdio transport.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // "debug", "info", "warn", "error". Default: "info".
	Format string `json:"format" yaml:"format"` // "json" (default) or "text".
}

// HTTPConfig configures the streamable HTTP gateway mode.
// When nil, the server only speaks stdio.
type HTTPConfig struct {
	ListenAddr string          `json:"listen_addr" yaml:"listen_addr"`                   // Default: ":8080".
	AuthToken  string          `json:"auth_token,omitempty" yaml:"auth_token,omitempty"` // Override: DOPPLER_MCP_AUTH_TOKEN env var. Empty = no auth.
	RateLimit  RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig bounds per-client request rates on the MCP endpoint.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	BurstSize         int `json:"burst_size" yaml:"burst_size"`                   // 0 = RequestsPerMinute.
}

// Addr returns the listen address with a default of ":8080".
func (h *HTTPConfig) Addr() string {
	if h != nil && h.ListenAddr != "" {
		return h.ListenAddr
	}
	return ":8080"
}

// ObservabilityConfig configures metrics and tracing.
// When nil, both are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "doppler-mcp"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// Default returns the configuration used when no config file is given:
// read-only tools over stdio, credentials from the environment.
func Default() (*Config, error) {
	cfg := &Config{}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. The Doppler token can be set in the file or overridden by
// the DOPPLER_TOKEN environment variable; env vars take precedence.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// applyEnv applies environment variable overrides — env vars take
// precedence over config file values.
func (c *Config) applyEnv() {
	if env := os.Getenv("DOPPLER_TOKEN"); env != "" {
		c.Doppler.Token = env
	}
	if env := os.Getenv("DOPPLER_API_BASE_URL"); env != "" {
		c.Doppler.BaseURL = env
	}
	if env := os.Getenv("DOPPLER_MCP_LOG_LEVEL"); env != "" {
		c.Logging.Level = env
	}
	if env := os.Getenv("DOPPLER_MCP_READ_WRITE"); env == "true" || env == "1" {
		c.Tools.ReadWrite = true
	}
	if env := os.Getenv("DOPPLER_MCP_AUTH_TOKEN"); env != "" {
		if c.HTTP == nil {
			c.HTTP = &HTTPConfig{}
		}
		c.HTTP.AuthToken = env
	}
}

func (c *Config) validate() error {
	// Missing credential is a fatal startup condition, not a per-call error.
	if c.Doppler.Token == "" {
		return fmt.Errorf("doppler.token is required (set DOPPLER_TOKEN env var)")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported (use debug, info, warn, or error)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not supported (use json or text)", c.Logging.Format)
	}
	if c.Doppler.MaxRetries < -1 {
		return fmt.Errorf("doppler.max_retries must be >= -1")
	}
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch c.Observability.Tracing.Protocol {
		case "", "grpc", "http":
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", c.Observability.Tracing.Protocol)
		}
	}
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
