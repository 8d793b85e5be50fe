// Package config loads sentinel's YAML configuration and assembles the
// runtime (gate, event sinks, audit log) it describes.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/sentinel/internal/contract"
	"github.com/ppiankov/sentinel/internal/events"
	"github.com/ppiankov/sentinel/internal/ratelimit"
	"github.com/ppiankov/sentinel/internal/scoring"
)

// Limits overrides the structural telemetry ceilings. Zero keeps the default.
type Limits struct {
	MaxTelemetryBytes int `yaml:"max_telemetry_bytes"`
	MaxTelemetryNodes int `yaml:"max_telemetry_nodes"`
}

// Contract converts to validator limits.
func (l Limits) Contract() contract.Limits {
	return contract.Limits{MaxBytes: l.MaxTelemetryBytes, MaxNodes: l.MaxTelemetryNodes}
}

// Model points at an optional scoring-model artifact.
type Model struct {
	Path     string `yaml:"path"`
	SHA3_256 string `yaml:"sha3_256"`
}

// Ledger configures the SQLite anomaly-event ledger. Empty path disables it.
type Ledger struct {
	Path string `yaml:"path"`
}

// RPC configures the chain node polled by the stall watcher.
type RPC struct {
	URL            string        `yaml:"url"`
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	StallThreshold time.Duration `yaml:"stall_threshold"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// Server configures the network adapters.
type Server struct {
	HTTPAddr  string           `yaml:"http_addr"`
	GRPCPort  int              `yaml:"grpc_port"`
	RateLimit ratelimit.Config `yaml:"rate_limit"`
}

// Config is the whole sentinel configuration.
type Config struct {
	Component       string                 `yaml:"component"`
	CircuitBreakers scoring.Thresholds     `yaml:"circuit_breakers"`
	Limits          Limits                 `yaml:"limits"`
	Model           Model                  `yaml:"model"`
	Alerts          []events.WebhookConfig `yaml:"alerts"`
	Ledger          Ledger                 `yaml:"ledger"`
	AuditLog        string                 `yaml:"audit_log"`
	RPC             RPC                    `yaml:"rpc"`
	Server          Server                 `yaml:"server"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Component:       contract.Component,
		CircuitBreakers: scoring.DefaultThresholds(),
		RPC: RPC{
			StallThreshold: 10 * time.Minute,
			PollInterval:   30 * time.Second,
		},
		Server: Server{
			HTTPAddr: "127.0.0.1:8080",
			GRPCPort: 50051,
		},
	}
}

// DefaultPath returns ~/.sentinel/config.yaml, or "" when there is no home.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sentinel", "config.yaml")
}

// Load reads configuration from a YAML file.
// Empty path falls back to ~/.sentinel/config.yaml.
// Missing file returns defaults. Invalid YAML returns an error.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash also returns "sha256:<hex>" of the raw file bytes. When no
// file exists the hash is over empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}
	if path == "" {
		return Default(), hashBytes(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), hashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	return cfg, hashBytes(data), nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

var alertFormats = map[string]bool{"": true, "generic": true, "slack": true, "pagerduty": true}

// Validate rejects configurations the gate cannot run with.
func (c *Config) Validate() error {
	if c.Component == "" {
		return errors.New("config: component must not be empty")
	}
	if err := c.CircuitBreakers.Validate(); err != nil {
		return fmt.Errorf("config: circuit_breakers: %w", err)
	}
	if c.Limits.MaxTelemetryBytes < 0 || c.Limits.MaxTelemetryBytes > contract.MaxTelemetryBytes {
		return fmt.Errorf("config: max_telemetry_bytes must be within [0, %d]", contract.MaxTelemetryBytes)
	}
	if c.Limits.MaxTelemetryNodes < 0 || c.Limits.MaxTelemetryNodes > contract.MaxTelemetryNodes {
		return fmt.Errorf("config: max_telemetry_nodes must be within [0, %d]", contract.MaxTelemetryNodes)
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			return fmt.Errorf("config: alerts[%d]: url is required", i)
		}
		if !alertFormats[a.Format] {
			return fmt.Errorf("config: alerts[%d]: unknown format %q", i, a.Format)
		}
	}
	if c.RPC.StallThreshold < 0 || c.RPC.PollInterval < 0 {
		return errors.New("config: rpc durations must not be negative")
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("config: grpc_port %d out of range", c.Server.GRPCPort)
	}
	if err := c.Server.RateLimit.Validate(); err != nil {
		return fmt.Errorf("config: server.%w", err)
	}
	return nil
}

// DefaultYAML returns a commented starter configuration.
func DefaultYAML() string {
	return `# Sentinel configuration
# Loaded from ~/.sentinel/config.yaml unless --config is given.

component: sentinel

# Aggregation cut points and circuit breakers.
# A breaker fires when its feature strictly exceeds the limit; any breach
# forces BLOCK and adds breach_penalty to the risk score.
circuit_breakers:
  warn_score: 0.40
  block_score: 0.70
  max_reorg_depth: 6
  max_entropy_drop: 0.80
  max_mempool_anomaly: 0.90
  breach_penalty: 0.25

# Structural ceilings on telemetry. 0 keeps the built-in value; limits
# can only be lowered.
limits:
  max_telemetry_bytes: 0
  max_telemetry_nodes: 0

# Optional logistic scoring model. sha3_256 pins the artifact digest.
model:
  path: ""
  sha3_256: ""

# Webhook sinks for WARN/BLOCK events and chain stalls.
# alerts:
#   - url: https://hooks.slack.com/services/XXX
#     format: slack
#     events: [BLOCK, chain_stall]

# SQLite ledger of anomaly events. Empty disables it.
ledger:
  path: ""

# Hash-chained JSONL log of every decision. Empty disables it.
audit_log: ""

# Chain node polled by "sentinel watch".
rpc:
  url: ""
  user: ""
  password: ""
  stall_threshold: 10m0s
  poll_interval: 30s

server:
  http_addr: 127.0.0.1:8080
  grpc_port: 50051
  # Per-client HTTP evaluation limit. 0 disables.
  rate_limit:
    max_requests: 0
    window: 0s
`
}
