package gate

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/sentinel/internal/canonical"
	"github.com/ppiankov/sentinel/internal/contract"
	"github.com/ppiankov/sentinel/internal/events"
	"github.com/ppiankov/sentinel/internal/features"
	"github.com/ppiankov/sentinel/internal/reason"
	"github.com/ppiankov/sentinel/internal/scoring"
	"github.com/ppiankov/sentinel/internal/threat"
)

func nominalTelemetry() map[string]any {
	return map[string]any{
		"entropy": map[string]any{"score": 0.0},
		"mempool": map[string]any{"anomaly": 0},
		"reorg":   map[string]any{"depth": 0},
	}
}

func healthyTelemetry() map[string]any {
	return map[string]any{
		"entropy": map[string]any{"score": 0.8},
		"mempool": map[string]any{"score": 0.9},
		"reorg":   map[string]any{"score": 1.0},
	}
}

func attackTelemetry() map[string]any {
	return map[string]any{
		"block_height": 5000,
		"entropy":      map[string]any{"score": 0.5, "drop": 0.5},
		"mempool":      map[string]any{"score": 0.3, "anomaly": 0.6},
		"reorg":        map[string]any{"depth": 3},
	}
}

func request(telemetry map[string]any) map[string]any {
	return map[string]any{
		"contract_version": 3,
		"component":        "sentinel",
		"request_id":       "req-1",
		"telemetry":        telemetry,
		"constraints":      map[string]any{"max_latency_ms": 2500},
	}
}

func requireError(t *testing.T, resp contract.Response, code reason.Code) {
	t.Helper()
	if resp.Decision != contract.Error {
		t.Fatalf("expected ERROR, got %s (%v)", resp.Decision, resp.ReasonCodes)
	}
	if !resp.HasReason(code) {
		t.Fatalf("expected reason %s, got %v", code, resp.ReasonCodes)
	}
	if len(resp.ReasonCodes) != 1 {
		t.Errorf("expected exactly one reason code, got %v", resp.ReasonCodes)
	}
	if resp.Risk.Score != 0 || resp.Risk.Tier != contract.TierLow {
		t.Errorf("error risk must be 0/LOW, got %+v", resp.Risk)
	}
	if resp.Meta.ModelUsed || !resp.Meta.FailClosed {
		t.Errorf("unexpected error meta %+v", resp.Meta)
	}
	if len(resp.Evidence.Features) != 0 {
		t.Errorf("features must be empty, got %v", resp.Evidence.Features)
	}
	if _, ok := resp.Evidence.Details[contract.DetailError]; !ok {
		t.Error("error detail missing")
	}
	if _, ok := resp.Evidence.Details[contract.DetailStage]; !ok {
		t.Error("stage detail missing")
	}
}

func TestNominalScoringAllows(t *testing.T) {
	resp := New().Evaluate(request(nominalTelemetry()))
	if resp.Decision != contract.Allow {
		t.Fatalf("expected ALLOW, got %s", resp.Decision)
	}
	if resp.Risk.Score >= 0.4 {
		t.Errorf("expected risk < 0.4, got %v", resp.Risk.Score)
	}
	if resp.Evidence.Details[contract.DetailV2Status] != scoring.StatusOK {
		t.Errorf("expected OK status, got %v", resp.Evidence.Details[contract.DetailV2Status])
	}
	if !resp.HasReason(reason.Signal) {
		t.Errorf("fired models must surface the umbrella code, got %v", resp.ReasonCodes)
	}
	if resp.ContractVersion != 3 || resp.Component != "sentinel" || resp.RequestID != "req-1" {
		t.Errorf("unexpected header %+v", resp)
	}
	if !resp.Meta.FailClosed || resp.Meta.ModelUsed {
		t.Errorf("unexpected meta %+v", resp.Meta)
	}
}

func TestHealthyTelemetryIsQuiet(t *testing.T) {
	resp := New().Evaluate(request(healthyTelemetry()))
	if resp.Decision != contract.Allow || resp.Risk.Tier != contract.TierLow {
		t.Fatalf("expected ALLOW/LOW, got %s/%s", resp.Decision, resp.Risk.Tier)
	}
	if !reflect.DeepEqual(resp.ReasonCodes, []reason.Code{reason.OK}) {
		t.Errorf("expected [SNTL_OK], got %v", resp.ReasonCodes)
	}
	if d := resp.Evidence.Details[contract.DetailV2Details].([]string); len(d) != 0 {
		t.Errorf("expected no details, got %v", d)
	}
}

func TestAttackBlocks(t *testing.T) {
	resp := New().Evaluate(request(attackTelemetry()))
	if resp.Decision != contract.Block {
		t.Fatalf("expected BLOCK, got %s", resp.Decision)
	}
	if resp.Risk.Tier != contract.TierCritical {
		t.Errorf("expected CRITICAL, got %s", resp.Risk.Tier)
	}
	if len(resp.Evidence.Features) != 0 {
		t.Error("features must never be exposed")
	}
}

func TestDeterminism(t *testing.T) {
	g := New()
	first := g.Evaluate(request(attackTelemetry()))
	for i := 0; i < 20; i++ {
		r := g.Evaluate(request(attackTelemetry()))
		if r.ContextHash != first.ContextHash || r.Decision != first.Decision || !reflect.DeepEqual(r.ReasonCodes, first.ReasonCodes) {
			t.Fatalf("run %d differs: %+v vs %+v", i, r, first)
		}
	}
}

func TestSuccessHashAgreement(t *testing.T) {
	g := New()
	tel := attackTelemetry()
	resp := g.Evaluate(request(tel))
	want, err := canonical.Hash(map[string]any{
		"component":        "sentinel",
		"contract_version": 3,
		"telemetry":        tel,
		"thresholds":       scoring.DefaultThresholds().Fingerprint(),
		"model_used":       false,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ContextHash != want {
		t.Errorf("expected %s, got %s", want, resp.ContextHash)
	}
}

func TestErrorHashAgreement(t *testing.T) {
	resp := New().Evaluate(map[string]any{"contract_version": 2, "request_id": "x"})
	want, err := canonical.Hash(map[string]any{
		"component":        "sentinel",
		"contract_version": 3,
		"request_id":       "x",
		"reason_code":      "SNTL_ERROR_SCHEMA_VERSION",
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ContextHash != want {
		t.Errorf("expected %s, got %s", want, resp.ContextHash)
	}
}

func TestHashDependsOnThresholds(t *testing.T) {
	custom := scoring.DefaultThresholds()
	custom.WarnScore = 0.3
	a := New().Evaluate(request(healthyTelemetry()))
	b := New(WithThresholds(custom)).Evaluate(request(healthyTelemetry()))
	if a.ContextHash == b.ContextHash {
		t.Error("threshold change must change the context hash")
	}
}

func TestFailClosedTotality(t *testing.T) {
	inputs := []any{
		nil,
		"not a dict",
		42,
		3.5,
		true,
		[]any{1, 2},
		map[string]any{},
		map[string]any{"contract_version": 3},
		map[string]any{"contract_version": 3, "component": 1, "telemetry": map[string]any{}},
		map[string]any{"contract_version": 3, "component": "sentinel", "telemetry": []any{}},
		map[string]any{"contract_version": 3, "component": "sentinel", "telemetry": map[string]any{}, "constraints": "fast"},
		map[any]any{true: 1},
	}
	g := New()
	for i, in := range inputs {
		resp := g.Evaluate(in)
		if resp.Decision != contract.Error {
			t.Errorf("input %d: expected ERROR, got %s", i, resp.Decision)
		}
		if len(resp.ReasonCodes) != 1 || !resp.ReasonCodes[0].IsError() {
			t.Errorf("input %d: unexpected reason codes %v", i, resp.ReasonCodes)
		}
		if resp.ContextHash == "" || resp.ContractVersion != 3 || !resp.Meta.FailClosed {
			t.Errorf("input %d: incomplete response %+v", i, resp)
		}
	}
}

func TestNonMapIsInvalidRequest(t *testing.T) {
	resp := New().Evaluate("nope")
	requireError(t, resp, reason.InvalidRequest)
	if resp.RequestID != contract.DefaultRequestID {
		t.Errorf("expected default request id, got %q", resp.RequestID)
	}
	if resp.Evidence.Details[contract.DetailStage] != string(StateStart) {
		t.Errorf("expected stage START, got %v", resp.Evidence.Details[contract.DetailStage])
	}
}

func TestVersionGatePrecedence(t *testing.T) {
	cases := []map[string]any{
		{"contract_version": 2},
		{"contract_version": 2, "unexpected": true, "telemetry": "x"},
		{"contract_version": "3", "component": "sentinel", "telemetry": map[string]any{}},
		{"component": "sentinel", "telemetry": map[string]any{}},
	}
	for _, in := range cases {
		resp := New().Evaluate(in)
		requireError(t, resp, reason.SchemaVersion)
	}
}

func TestUnknownTopLevelKey(t *testing.T) {
	req := request(healthyTelemetry())
	req["unexpected"] = 1
	resp := New().Evaluate(req)
	requireError(t, resp, reason.UnknownTopLevelKey)
	if resp.RequestID != "req-1" {
		t.Errorf("request id must be echoed, got %q", resp.RequestID)
	}
	if resp.Evidence.Details[contract.DetailStage] != string(StateVersionChecked) {
		t.Errorf("unexpected stage %v", resp.Evidence.Details[contract.DetailStage])
	}
}

func TestBadNumbersAtDepth(t *testing.T) {
	for _, bad := range []any{math.NaN(), math.Inf(1), math.Inf(-1), false} {
		tel := map[string]any{"entropy": map[string]any{"history": []any{0.1, map[string]any{"x": bad}}}}
		requireError(t, New().Evaluate(request(tel)), reason.BadNumber)
	}
}

func TestTooLarge(t *testing.T) {
	g := New(WithLimits(contract.Limits{MaxNodes: 10}))
	tel := map[string]any{}
	for i := 0; i < 20; i++ {
		tel[string(rune('a'+i))] = i
	}
	requireError(t, g.Evaluate(request(tel)), reason.TelemetryTooLarge)
}

func TestComponentMismatch(t *testing.T) {
	req := request(healthyTelemetry())
	req["component"] = "shield"
	resp := New().Evaluate(req)
	requireError(t, resp, reason.InvalidRequest)
	if resp.Evidence.Details[contract.DetailStage] != string(StateParsed) {
		t.Errorf("expected stage PARSED, got %v", resp.Evidence.Details[contract.DetailStage])
	}

	custom := New(WithComponent("shield"))
	if r := custom.Evaluate(req); r.Decision == contract.Error {
		t.Errorf("configured identity must be accepted, got %v", r.ReasonCodes)
	}
	if r := custom.Evaluate(request(healthyTelemetry())); r.Decision != contract.Error {
		t.Error("default identity must be rejected by a renamed gate")
	}
}

func TestYAMLRequest(t *testing.T) {
	src := `
contract_version: 3
component: sentinel
request_id: yaml-1
telemetry:
  entropy: {score: 0.8}
  mempool: {score: 0.9}
  reorg: {score: 1.0}
`
	var raw any
	if err := yaml.Unmarshal([]byte(src), &raw); err != nil {
		t.Fatal(err)
	}
	resp := New().Evaluate(raw)
	if resp.Decision != contract.Allow || resp.RequestID != "yaml-1" {
		t.Fatalf("unexpected response %s %s %v", resp.Decision, resp.RequestID, resp.ReasonCodes)
	}
	direct := New().Evaluate(func() map[string]any {
		r := request(healthyTelemetry())
		r["request_id"] = "yaml-1"
		return r
	}())
	if resp.ContextHash != direct.ContextHash {
		t.Error("YAML and JSON-shaped inputs must hash identically")
	}
}

type fixedModel float64

func (m fixedModel) Infer(features.Set) float64 { return float64(m) }

type panicModel struct{}

func (panicModel) Infer(features.Set) float64 { panic("model exploded") }

func TestModelUsed(t *testing.T) {
	plain := New().Evaluate(request(healthyTelemetry()))
	withModel := New(WithModel(fixedModel(0.9))).Evaluate(request(healthyTelemetry()))

	if !withModel.Meta.ModelUsed || plain.Meta.ModelUsed {
		t.Fatalf("model_used: plain=%v model=%v", plain.Meta.ModelUsed, withModel.Meta.ModelUsed)
	}
	if withModel.ContextHash == plain.ContextHash {
		t.Error("model_used must change the context hash")
	}
	if withModel.Risk.Score <= plain.Risk.Score {
		t.Errorf("high model score must raise risk: %v <= %v", withModel.Risk.Score, plain.Risk.Score)
	}
	details := withModel.Evidence.Details[contract.DetailV2Details].([]string)
	if len(details) != 1 || details[0] != "quantum_preimage_attack:0.50" {
		t.Errorf("unexpected details %v", details)
	}
}

func TestModelOutOfRangeClamped(t *testing.T) {
	resp := New(WithModel(fixedModel(7))).Evaluate(request(healthyTelemetry()))
	if resp.Decision == contract.Error {
		t.Fatalf("unexpected error %v", resp.ReasonCodes)
	}
}

func TestModelFaults(t *testing.T) {
	nan := New(WithModel(fixedModel(math.NaN()))).Evaluate(request(healthyTelemetry()))
	requireError(t, nan, reason.Internal)

	boom := New(WithModel(panicModel{})).Evaluate(request(healthyTelemetry()))
	requireError(t, boom, reason.Internal)
	if boom.Evidence.Details[contract.DetailError] != "internal error" {
		t.Errorf("panic text must not leak, got %v", boom.Evidence.Details[contract.DetailError])
	}
	if boom.Evidence.Details[contract.DetailStage] != string(StateComponentChecked) {
		t.Errorf("unexpected stage %v", boom.Evidence.Details[contract.DetailStage])
	}
	if boom.RequestID != "req-1" {
		t.Errorf("request id must survive a fault, got %q", boom.RequestID)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Emit(_ context.Context, e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestSinkReceivesWarnAndBlock(t *testing.T) {
	sink := &recordingSink{}
	g := New(WithSink(sink))

	g.Evaluate(request(healthyTelemetry()))
	g.Wait()
	if sink.count() != 0 {
		t.Fatalf("ALLOW must not emit, got %d events", sink.count())
	}

	resp := g.Evaluate(request(attackTelemetry()))
	g.Wait()
	if sink.count() != 1 {
		t.Fatalf("expected 1 event, got %d", sink.count())
	}
	e := sink.events[0]
	if e.ContextHash != resp.ContextHash || e.Decision != "BLOCK" || e.BlockHeight == nil || *e.BlockHeight != 5000 {
		t.Errorf("unexpected event %+v", e)
	}

	g.Evaluate(map[string]any{"contract_version": 2})
	g.Wait()
	if sink.count() != 1 {
		t.Error("ERROR responses must not emit")
	}
}

func TestSinkFailuresIgnored(t *testing.T) {
	want := New().Evaluate(request(attackTelemetry()))

	failing := events.SinkFunc(func(context.Context, events.Event) error { return errors.New("down") })
	panicking := events.SinkFunc(func(context.Context, events.Event) error { panic("sink exploded") })

	for _, s := range []events.Sink{failing, panicking} {
		g := New(WithSink(s))
		got := g.Evaluate(request(attackTelemetry()))
		g.Wait()
		if got.Decision != want.Decision || got.ContextHash != want.ContextHash {
			t.Errorf("sink changed the result: %+v", got)
		}
	}
}

func TestSlowSinkDoesNotDelayDecision(t *testing.T) {
	release := make(chan struct{})
	var delivered sync.WaitGroup
	delivered.Add(1)
	stuck := events.SinkFunc(func(ctx context.Context, _ events.Event) error {
		defer delivered.Done()
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	g := New(WithSink(stuck))

	breach := request(map[string]any{
		"entropy": map[string]any{"drop": 0.9},
		"reorg":   map[string]any{"depth": 9},
	})
	begin := time.Now()
	resp := g.Evaluate(breach)
	elapsed := time.Since(begin)

	if resp.Decision != contract.Block {
		t.Fatalf("expected BLOCK, got %s", resp.Decision)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Evaluate waited on the sink: %v", elapsed)
	}
	if resp.Meta.LatencyMS >= 500 {
		t.Errorf("latency includes sink time: %dms", resp.Meta.LatencyMS)
	}

	close(release)
	delivered.Wait()
	g.Wait()
}

func TestPendingEmitsBounded(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	started := 0
	stuck := events.SinkFunc(func(context.Context, events.Event) error {
		mu.Lock()
		started++
		mu.Unlock()
		<-release
		return nil
	})
	g := New(WithSink(stuck))
	for i := 0; i < maxPendingEmits+10; i++ {
		g.Evaluate(request(attackTelemetry()))
	}
	close(release)
	g.Wait()
	if started != maxPendingEmits {
		t.Errorf("expected %d deliveries, got %d", maxPendingEmits, started)
	}
}

type alwaysBreach struct{}

func (alwaysBreach) Name() string { return "always" }
func (alwaysBreach) Evaluate(features.Set) float64 { return 1 }

func TestBankSurvivesThresholdOverride(t *testing.T) {
	bank := []threat.Model{alwaysBreach{}}
	th := scoring.DefaultThresholds()

	orders := map[string][]Option{
		"bank first":       {WithBank(bank), WithThresholds(th)},
		"thresholds first": {WithThresholds(th), WithBank(bank)},
	}
	for name, opts := range orders {
		t.Run(name, func(t *testing.T) {
			resp := New(opts...).Evaluate(request(healthyTelemetry()))
			if resp.Decision != contract.Block {
				t.Fatalf("expected BLOCK from the custom bank, got %s", resp.Decision)
			}
			details := resp.Evidence.Details[contract.DetailV2Details].([]string)
			if !reflect.DeepEqual(details, []string{"always:1.00"}) {
				t.Errorf("unexpected details %v", details)
			}
		})
	}
}

func TestLatencyFromClock(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	calls := 0
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return base.Add(time.Duration(calls-1) * 7 * time.Millisecond)
	}
	resp := New(WithClock(clock)).Evaluate(request(healthyTelemetry()))
	if resp.Meta.LatencyMS != 7 {
		t.Errorf("expected 7ms, got %d", resp.Meta.LatencyMS)
	}
}

func TestConcurrentEvaluation(t *testing.T) {
	g := New()
	want := g.Evaluate(request(attackTelemetry())).ContextHash

	var wg sync.WaitGroup
	errs := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := g.Evaluate(request(attackTelemetry())).ContextHash; got != want {
				errs <- got
			}
		}()
	}
	wg.Wait()
	close(errs)
	for got := range errs {
		t.Errorf("concurrent hash mismatch: %s", got)
	}
}

func TestDecisionFor(t *testing.T) {
	cases := map[string]contract.Decision{
		"OK": contract.Allow, "allow": contract.Allow, " SAFE ": contract.Allow, "green": contract.Allow,
		"WARN": contract.Warn, "warning": contract.Warn, "Caution": contract.Warn, "YELLOW": contract.Warn,
		"ERROR":  contract.Error,
		"BLOCK":  contract.Block,
		"NORMAL": contract.Block,
		"":       contract.Block,
		"okay":   contract.Block,
	}
	for status, want := range cases {
		if got := DecisionFor(status); got != want {
			t.Errorf("DecisionFor(%q) = %s, want %s", status, got, want)
		}
	}
}

func TestResponseMapShape(t *testing.T) {
	m, err := New().Evaluate(request(healthyTelemetry())).Map()
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"contract_version", "component", "request_id", "context_hash", "decision", "risk", "reason_codes", "evidence", "meta"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing key %s", key)
		}
	}
	if len(m) != 9 {
		t.Errorf("expected 9 keys, got %d", len(m))
	}
}

func TestReject(t *testing.T) {
	g := New()
	resp := g.Reject("", reason.TelemetryTooLarge, "request body too large")
	requireError(t, resp, reason.TelemetryTooLarge)
	if resp.RequestID != contract.DefaultRequestID {
		t.Errorf("expected default request id, got %q", resp.RequestID)
	}
	if resp.Evidence.Details[contract.DetailStage] != string(StateStart) {
		t.Errorf("expected START stage, got %v", resp.Evidence.Details[contract.DetailStage])
	}
	want, _ := ErrorContextHash(contract.Component, contract.DefaultRequestID, reason.TelemetryTooLarge)
	if resp.ContextHash != want {
		t.Errorf("context hash %s != %s", resp.ContextHash, want)
	}
}
