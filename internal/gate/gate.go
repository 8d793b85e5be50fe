// Package gate implements the contract v3 evaluator: a fail-closed, pure
// function from a raw request to a complete Response.
package gate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/sentinel/internal/canonical"
	"github.com/ppiankov/sentinel/internal/contract"
	"github.com/ppiankov/sentinel/internal/events"
	"github.com/ppiankov/sentinel/internal/features"
	"github.com/ppiankov/sentinel/internal/reason"
	"github.com/ppiankov/sentinel/internal/scoring"
	"github.com/ppiankov/sentinel/internal/threat"
)

// State is a step of the evaluation state machine. Error responses record
// the state in which the failure was detected.
type State string

const (
	StateStart            State = "START"
	StateVersionChecked   State = "VERSION_CHECKED"
	StateParsed           State = "PARSED"
	StateComponentChecked State = "COMPONENT_CHECKED"
	StateScored           State = "SCORED"
	StateResponseBuilt    State = "RESPONSE_BUILT"
	StateError            State = "ERROR"
)

const (
	emitTimeout = 2 * time.Second
	// maxPendingEmits bounds concurrent sink deliveries; events past it are dropped.
	maxPendingEmits = 256
)

// Model is the optional external scoring collaborator.
type Model interface {
	Infer(f features.Set) float64
}

// Gate holds immutable evaluation configuration. It is safe for
// concurrent use; reconfiguration means building a new Gate.
type Gate struct {
	component string
	validator *contract.Validator
	scorer    *scoring.Scorer
	model     Model
	sink      events.Sink
	now       func() time.Time

	pending *sync.WaitGroup
	slots   chan struct{}
}

// Option configures a Gate at construction.
type Option func(*Gate)

// WithThresholds sets the circuit-breaker cut points.
func WithThresholds(t scoring.Thresholds) Option {
	return func(g *Gate) { g.scorer = scoring.NewScorer(g.scorer.Bank(), t) }
}

// WithBank replaces the threat bank, keeping the current thresholds.
func WithBank(bank []threat.Model) Option {
	return func(g *Gate) { g.scorer = scoring.NewScorer(bank, g.scorer.Thresholds()) }
}

// WithModel attaches a scoring model. A nil model is the same as none.
func WithModel(m Model) Option {
	return func(g *Gate) { g.model = m }
}

// WithSink attaches an event sink for WARN and BLOCK decisions.
func WithSink(s events.Sink) Option {
	return func(g *Gate) { g.sink = s }
}

// WithLimits overrides the validator ceilings.
func WithLimits(l contract.Limits) Option {
	return func(g *Gate) { g.validator = contract.NewValidator(l) }
}

// WithComponent overrides the gate identity checked against requests.
func WithComponent(name string) Option {
	return func(g *Gate) {
		if name != "" {
			g.component = name
		}
	}
}

// WithClock sets the time source used for latency and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New builds a Gate with default thresholds, no model and no sink.
func New(opts ...Option) *Gate {
	g := &Gate{
		component: contract.Component,
		validator: contract.NewValidator(contract.DefaultLimits()),
		scorer:    scoring.NewScorer(nil, scoring.DefaultThresholds()),
		now:       time.Now,
		pending:   &sync.WaitGroup{},
		slots:     make(chan struct{}, maxPendingEmits),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Component returns the gate identity.
func (g *Gate) Component() string { return g.component }

// Thresholds returns the active cut points.
func (g *Gate) Thresholds() scoring.Thresholds { return g.scorer.Thresholds() }

// Wait blocks until every event delivery started by Evaluate has finished.
func (g *Gate) Wait() { g.pending.Wait() }

// ModelConfigured reports whether a scoring model is attached.
func (g *Gate) ModelConfigured() bool { return g.model != nil }

// failure is an evaluation stop carrying its reason code.
type failure struct {
	code   reason.Code
	state  State
	detail string
}

// Evaluate runs the state machine over raw and always returns a complete
// Response. Internal faults become an ERROR response.
func (g *Gate) Evaluate(raw any) (resp contract.Response) {
	start := g.now()
	requestID := contract.DefaultRequestID
	state := StateStart

	defer func() {
		if r := recover(); r != nil {
			resp = g.errorResponse(requestID, failure{code: reason.Internal, state: state, detail: "internal error"}, start)
		}
	}()

	top, _, ok := contract.Object(raw)
	if !ok {
		return g.errorResponse(requestID, failure{reason.InvalidRequest, state, "request must be an object"}, start)
	}
	requestID = contract.RequestIDOf(top)

	if !contract.VersionMatches(top[contract.KeyContractVersion]) {
		return g.errorResponse(requestID, failure{reason.SchemaVersion, state, "contract_version must be 3"}, start)
	}
	state = StateVersionChecked

	req, err := g.validator.Validate(raw)
	if err != nil {
		return g.errorResponse(requestID, failure{contract.CodeOf(err), state, validationDetail(err)}, start)
	}
	state = StateParsed

	if req.Component != g.component {
		return g.errorResponse(requestID, failure{reason.InvalidRequest, state, "component mismatch"}, start)
	}
	state = StateComponentChecked

	feats := features.Extract(req.Telemetry)
	modelUsed := false
	if g.model != nil {
		score := g.model.Infer(feats)
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return g.errorResponse(requestID, failure{reason.Internal, state, "model returned a non-finite score"}, start)
		}
		feats = feats.WithModelScore(math.Min(1, math.Max(0, score)))
		modelUsed = true
	}
	assessment := g.scorer.Score(feats)
	state = StateScored

	contextHash, err := canonical.Hash(map[string]any{
		"component":        g.component,
		"contract_version": contract.Version,
		"telemetry":        req.Telemetry,
		"thresholds":       g.scorer.Thresholds().Fingerprint(),
		"model_used":       modelUsed,
	})
	if err != nil {
		return g.errorResponse(requestID, failure{reason.Internal, state, "context hash failed"}, start)
	}

	resp = contract.Response{
		ContractVersion: contract.Version,
		Component:       g.component,
		RequestID:       req.RequestID,
		ContextHash:     contextHash,
		Decision:        DecisionFor(assessment.Status),
		Risk: contract.Risk{
			Score: assessment.RiskScore,
			Tier:  contract.TierFor(assessment.RiskScore),
		},
		ReasonCodes: reasonCodesFor(assessment.Details),
		Evidence: contract.Evidence{
			Features: map[string]any{},
			Details: map[string]any{
				contract.DetailV2Status:    assessment.Status,
				contract.DetailV2RiskScore: assessment.RiskScore,
				contract.DetailV2Details:   append([]string{}, assessment.Details...),
			},
		},
		Meta: contract.Meta{
			ModelUsed:  modelUsed,
			LatencyMS:  g.now().Sub(start).Milliseconds(),
			FailClosed: true,
		},
	}
	state = StateResponseBuilt

	if resp.Decision == contract.Warn || resp.Decision == contract.Block {
		g.emit(resp, req.Telemetry)
	}
	return resp
}

// Reject builds the ERROR response for input an adapter could not decode
// into a request at all, such as malformed JSON or an oversized body.
func (g *Gate) Reject(requestID string, code reason.Code, detail string) contract.Response {
	if requestID == "" {
		requestID = contract.DefaultRequestID
	}
	return g.errorResponse(requestID, failure{code, StateStart, detail}, g.now())
}

// DecisionFor maps a scorer status label to a decision. Unrecognized
// labels deny.
func DecisionFor(status string) contract.Decision {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "OK", "ALLOW", "SAFE", "GREEN":
		return contract.Allow
	case "WARN", "WARNING", "CAUTION", "YELLOW":
		return contract.Warn
	case "ERROR":
		return contract.Error
	default:
		return contract.Block
	}
}

func reasonCodesFor(details []string) []reason.Code {
	if len(details) == 0 {
		return []reason.Code{reason.OK}
	}
	return []reason.Code{reason.Signal}
}

// ErrorContextHash is the digest bound to an error response.
func ErrorContextHash(component, requestID string, code reason.Code) (string, error) {
	return canonical.Hash(map[string]any{
		"component":        component,
		"contract_version": contract.Version,
		"request_id":       requestID,
		"reason_code":      string(code),
	})
}

func (g *Gate) errorResponse(requestID string, f failure, start time.Time) contract.Response {
	hash, err := ErrorContextHash(g.component, requestID, f.code)
	if err != nil {
		// Unreachable: the payload holds only strings and an int.
		panic(fmt.Sprintf("gate: error context hash: %v", err))
	}
	return contract.Response{
		ContractVersion: contract.Version,
		Component:       g.component,
		RequestID:       requestID,
		ContextHash:     hash,
		Decision:        contract.Error,
		Risk:            contract.Risk{Score: 0, Tier: contract.TierLow},
		ReasonCodes:     []reason.Code{f.code},
		Evidence: contract.Evidence{
			Features: map[string]any{},
			Details: map[string]any{
				contract.DetailError: f.detail,
				contract.DetailStage: string(f.state),
			},
		},
		Meta: contract.Meta{
			ModelUsed:  false,
			LatencyMS:  g.now().Sub(start).Milliseconds(),
			FailClosed: true,
		},
	}
}

// emit hands the decision event to the sink on its own goroutine so a slow
// sink never holds up the response. Failures, panics and events past
// maxPendingEmits are dropped.
func (g *Gate) emit(resp contract.Response, telemetry map[string]any) {
	if g.sink == nil {
		return
	}
	select {
	case g.slots <- struct{}{}:
	default:
		return
	}
	at := g.now()
	g.pending.Add(1)
	go func() {
		defer g.pending.Done()
		defer func() { <-g.slots }()
		defer func() { _ = recover() }()
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		_ = g.sink.Emit(ctx, events.FromResponse(resp, telemetry, at))
	}()
}

func validationDetail(err error) string {
	var ve *contract.ValidationError
	if errors.As(err, &ve) && ve.Detail != "" {
		return ve.Detail
	}
	return "invalid request"
}
