// Package events carries anomaly events out of the gate. Sinks are
// fire-and-forget: their failures never change a decision.
package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/sentinel/internal/contract"
	"github.com/ppiankov/sentinel/internal/features"
)

// Layer identifies events raised by this component.
const Layer = "sentinel"

// Anomaly types raised outside the threat bank.
const (
	TypeRiskSignal = "risk_signal"
	TypeChainStall = "chain_stall"
)

// Event is one anomaly record.
type Event struct {
	ID           string    `json:"id"`
	Layer        string    `json:"layer"`
	AnomalyType  string    `json:"anomaly_type"`
	Severity     float64   `json:"severity"`
	RiskBefore   float64   `json:"risk_before"`
	RiskAfter    float64   `json:"risk_after"`
	BlockHeight  *int64    `json:"block_height,omitempty"`
	TxID         *string   `json:"txid,omitempty"`
	WasMitigated bool      `json:"was_mitigated"`
	Details      string    `json:"details,omitempty"`
	Decision     string    `json:"decision,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	ContextHash  string    `json:"context_hash,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Sink receives events.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Emit(ctx context.Context, e Event) error { return f(ctx, e) }

// New returns an event with a fresh ID and the sentinel layer.
func New(anomalyType string, now time.Time) Event {
	return Event{
		ID:          uuid.NewString(),
		Layer:       Layer,
		AnomalyType: anomalyType,
		CreatedAt:   now.UTC(),
	}
}

// FromResponse builds the event for a WARN or BLOCK decision. The anomaly
// type is the first threat model that fired, or risk_signal. Block height
// and txid are copied from top-level telemetry when present. A BLOCK counts
// as mitigated.
func FromResponse(resp contract.Response, telemetry map[string]any, now time.Time) Event {
	e := New(TypeRiskSignal, now)
	e.Severity = resp.Risk.Score
	e.RiskBefore = resp.Risk.Score
	e.RiskAfter = resp.Risk.Score
	e.WasMitigated = resp.Decision == contract.Block
	e.Decision = string(resp.Decision)
	e.RequestID = resp.RequestID
	e.ContextHash = resp.ContextHash

	details := stringList(resp.Evidence.Details[contract.DetailV2Details])
	if len(details) > 0 {
		if name, _, ok := strings.Cut(details[0], ":"); ok {
			e.AnomalyType = name
		}
		e.Details = strings.Join(details, ", ")
	}

	if h, ok := features.Number(telemetry["block_height"]); ok && h >= 0 && h == float64(int64(h)) {
		height := int64(h)
		e.BlockHeight = &height
	}
	if tx, ok := telemetry["txid"].(string); ok && tx != "" {
		e.TxID = &tx
	}
	return e
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Multi fans an event out to every sink in order.
type Multi []Sink

// Emit delivers to all sinks, even after a failure, and joins the errors.
func (m Multi) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
