package gate

import (
	"github.com/ppiankov/sentinel/internal/contract"
)

// Legacy request constants for flat-telemetry callers.
const (
	LegacyRequestID = "v2-evaluate_snapshot"
	LegacyErrorCode = "SENTINEL_V3_ERROR"
	StatusError     = "ERROR"
)

// Result is the simplified status triple older integrations consume.
type Result struct {
	Status    string   `json:"status"`
	RiskScore float64  `json:"risk_score"`
	Details   []string `json:"details"`
}

// LegacyRequest wraps flat telemetry in a well-formed request.
func (g *Gate) LegacyRequest(telemetry map[string]any) map[string]any {
	if telemetry == nil {
		telemetry = map[string]any{}
	}
	return map[string]any{
		contract.KeyContractVersion: contract.Version,
		contract.KeyComponent:       g.component,
		contract.KeyRequestID:       LegacyRequestID,
		contract.KeyTelemetry:       telemetry,
		contract.KeyConstraints:     map[string]any{"fail_closed": true},
	}
}

// Snapshot evaluates flat telemetry and returns the legacy triple.
func (g *Gate) Snapshot(telemetry map[string]any) Result {
	return ToResult(g.Evaluate(g.LegacyRequest(telemetry)))
}

// ToResult maps a response to the legacy triple. ERROR decisions, and any
// response missing its compatibility payload, become a safe failure.
func ToResult(resp contract.Response) Result {
	failed := Result{Status: StatusError, RiskScore: 0, Details: []string{LegacyErrorCode}}
	if resp.Decision == contract.Error {
		return failed
	}

	status, ok := resp.Evidence.Details[contract.DetailV2Status].(string)
	if !ok {
		return failed
	}
	score, ok := resp.Evidence.Details[contract.DetailV2RiskScore].(float64)
	if !ok {
		return failed
	}
	var details []string
	switch d := resp.Evidence.Details[contract.DetailV2Details].(type) {
	case []string:
		details = append([]string{}, d...)
	case []any:
		for _, item := range d {
			s, ok := item.(string)
			if !ok {
				return failed
			}
			details = append(details, s)
		}
	default:
		return failed
	}
	if details == nil {
		details = []string{}
	}
	return Result{Status: status, RiskScore: score, Details: details}
}
