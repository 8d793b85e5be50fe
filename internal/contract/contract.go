// Package contract defines the versioned request/response shapes of the
// sentinel gate and the validator that turns untyped input into a Request.
package contract

// Contract identity.
const (
	Version   = 3
	Component = "sentinel"
)

// Request defaults.
const (
	DefaultRequestID    = "unknown"
	DefaultMaxLatencyMS = 2500
)

// Hard ceilings for the telemetry tree. They are operator constants;
// nothing in a request can raise them.
const (
	MaxTelemetryBytes = 200_000
	MaxTelemetryNodes = 20_000
)

// Top-level request keys. The set is closed.
const (
	KeyContractVersion = "contract_version"
	KeyComponent       = "component"
	KeyRequestID       = "request_id"
	KeyTelemetry       = "telemetry"
	KeyConstraints     = "constraints"
)

var topLevelKeys = map[string]bool{
	KeyContractVersion: true,
	KeyComponent:       true,
	KeyRequestID:       true,
	KeyTelemetry:       true,
	KeyConstraints:     true,
}

// TopLevelKeys returns the allowlist of top-level request keys.
func TopLevelKeys() []string {
	return []string{KeyContractVersion, KeyComponent, KeyRequestID, KeyTelemetry, KeyConstraints}
}

// Constraints are the caller hints honored by the gate.
// FailClosed is always true; callers cannot opt out.
type Constraints struct {
	FailClosed   bool `json:"fail_closed"`
	MaxLatencyMS int  `json:"max_latency_ms"`
}

// Request is a validated evaluation request. Telemetry is a private deep
// copy of the caller's tree with every map normalized to map[string]any.
type Request struct {
	ContractVersion int
	Component       string
	RequestID       string
	Telemetry       map[string]any
	Constraints     Constraints
}

// Limits are the structural ceilings enforced by a Validator.
type Limits struct {
	MaxBytes int
	MaxNodes int
}

// DefaultLimits returns the production ceilings.
func DefaultLimits() Limits {
	return Limits{MaxBytes: MaxTelemetryBytes, MaxNodes: MaxTelemetryNodes}
}
