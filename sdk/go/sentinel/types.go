package sentinel

import (
	"fmt"
	"strings"

	"github.com/ppiankov/sentinel/internal/contract"
	"github.com/ppiankov/sentinel/internal/gate"
	"github.com/ppiankov/sentinel/internal/reason"
	"github.com/ppiankov/sentinel/internal/scoring"
)

// Decision is the gate verdict.
type Decision = contract.Decision

const (
	Allow = contract.Allow
	Warn  = contract.Warn
	Block = contract.Block
	Error = contract.Error
)

// Response is the full contract v3 response.
type Response = contract.Response

// Result is the legacy {status, risk_score, details} triple.
type Result = gate.Result

// Thresholds are the scoring cut points and circuit breakers.
type Thresholds = scoring.Thresholds

// DefaultThresholds returns the built-in thresholds.
func DefaultThresholds() Thresholds { return scoring.DefaultThresholds() }

// BlockedError is returned when the gate does not allow a guarded call.
type BlockedError struct {
	RequestID   string
	Decision    Decision
	ReasonCodes []reason.Code
	RiskScore   float64
	ContextHash string
}

func (e *BlockedError) Error() string {
	codes := make([]string, len(e.ReasonCodes))
	for i, c := range e.ReasonCodes {
		codes[i] = string(c)
	}
	return fmt.Sprintf("sentinel blocked (%s): %s", e.Decision, strings.Join(codes, ","))
}

func blocked(resp Response) *BlockedError {
	return &BlockedError{
		RequestID:   resp.RequestID,
		Decision:    resp.Decision,
		ReasonCodes: append([]reason.Code(nil), resp.ReasonCodes...),
		RiskScore:   resp.Risk.Score,
		ContextHash: resp.ContextHash,
	}
}
