package contract

import (
	"encoding/json"

	"github.com/ppiankov/sentinel/internal/reason"
)

// Decision is the gate verdict.
type Decision string

const (
	Allow Decision = "ALLOW"
	Warn  Decision = "WARN"
	Block Decision = "BLOCK"
	Error Decision = "ERROR"
)

// Tier is a coarse risk bucket for display.
type Tier string

const (
	TierLow      Tier = "LOW"
	TierMedium   Tier = "MEDIUM"
	TierHigh     Tier = "HIGH"
	TierCritical Tier = "CRITICAL"
)

// TierFor buckets a risk score by fixed cut points.
func TierFor(score float64) Tier {
	switch {
	case score < 0.25:
		return TierLow
	case score < 0.50:
		return TierMedium
	case score < 0.75:
		return TierHigh
	default:
		return TierCritical
	}
}

// Risk is the scored risk block of a response.
type Risk struct {
	Score float64 `json:"score"`
	Tier  Tier    `json:"tier"`
}

// Evidence carries the legacy bridging payload. Features stays empty.
type Evidence struct {
	Features map[string]any `json:"features"`
	Details  map[string]any `json:"details"`
}

// Legacy compatibility keys inside Evidence.Details.
const (
	DetailV2Status    = "v2_status"
	DetailV2RiskScore = "v2_risk_score"
	DetailV2Details   = "v2_details"
	DetailError       = "error"
	DetailStage       = "stage"
)

// Meta describes how the response was produced.
type Meta struct {
	ModelUsed  bool  `json:"model_used"`
	LatencyMS  int64 `json:"latency_ms"`
	FailClosed bool  `json:"fail_closed"`
}

// Response is the gate output contract.
type Response struct {
	ContractVersion int           `json:"contract_version"`
	Component       string        `json:"component"`
	RequestID       string        `json:"request_id"`
	ContextHash     string        `json:"context_hash"`
	Decision        Decision      `json:"decision"`
	Risk            Risk          `json:"risk"`
	ReasonCodes     []reason.Code `json:"reason_codes"`
	Evidence        Evidence      `json:"evidence"`
	Meta            Meta          `json:"meta"`
}

// HasReason reports whether code is among the response reason codes.
func (r Response) HasReason(code reason.Code) bool {
	for _, c := range r.ReasonCodes {
		if c == code {
			return true
		}
	}
	return false
}

// Map renders the response as a generic JSON-like map.
func (r Response) Map() (map[string]any, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}
