package sentinel

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/contract"
	"github.com/ppiankov/sentinel/internal/gate"
)

// Client evaluates requests against one immutable gate. Safe for
// concurrent use.
type Client struct {
	cfg  clientConfig
	gate *gate.Gate
}

// New creates a Client with the given options.
func New(opts ...Option) (*Client, error) {
	var cfg clientConfig
	for _, o := range opts {
		o(&cfg)
	}

	conf, err := config.Load(cfg.configPath)
	if err != nil {
		return nil, fmt.Errorf("sentinel: %w", err)
	}
	if cfg.thresholds != nil {
		conf.CircuitBreakers = *cfg.thresholds
	}
	if cfg.modelPath != "" {
		conf.Model = config.Model{Path: cfg.modelPath, SHA3_256: cfg.modelDigest}
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("sentinel: %w", err)
	}

	g, err := config.BuildGate(conf, nil)
	if err != nil {
		return nil, fmt.Errorf("sentinel: %w", err)
	}
	return &Client{cfg: cfg, gate: g}, nil
}

// Evaluate runs a full contract v3 request. It never fails: malformed
// input yields an ERROR response.
func (c *Client) Evaluate(request any) Response {
	return c.gate.Evaluate(request)
}

// Check wraps telemetry in a well-formed request and evaluates it. An
// empty requestID gets a fresh UUID.
func (c *Client) Check(requestID string, telemetry map[string]any) Response {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return c.gate.Evaluate(c.request(requestID, telemetry))
}

// EvaluateSnapshot is the legacy adapter: flat telemetry in, status
// triple out. Any failure returns the ERROR triple.
func (c *Client) EvaluateSnapshot(telemetry map[string]any) Result {
	return c.gate.Snapshot(telemetry)
}

// Thresholds returns the thresholds the gate was built with.
func (c *Client) Thresholds() Thresholds { return c.gate.Thresholds() }

func (c *Client) request(requestID string, telemetry map[string]any) map[string]any {
	if telemetry == nil {
		telemetry = map[string]any{}
	}
	return map[string]any{
		contract.KeyContractVersion: contract.Version,
		contract.KeyComponent:       c.gate.Component(),
		contract.KeyRequestID:       requestID,
		contract.KeyTelemetry:       telemetry,
	}
}

func (c *Client) passes(d Decision, allowWarn bool) bool {
	return d == Allow || (d == Warn && (allowWarn || c.cfg.allowWarn))
}
