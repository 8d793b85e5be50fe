package config

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/sentinel/internal/audit"
	"github.com/ppiankov/sentinel/internal/contract"
	"github.com/ppiankov/sentinel/internal/reason"
	"github.com/ppiankov/sentinel/internal/scoremodel"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func attackRequest(id string) map[string]any {
	return map[string]any{
		"contract_version": 3,
		"component":        "sentinel",
		"request_id":       id,
		"telemetry": map[string]any{
			"block_height": 5000,
			"entropy":      map[string]any{"score": 0.5, "drop": 0.5},
			"mempool":      map[string]any{"score": 0.3, "anomaly": 0.6},
			"reorg":        map[string]any{"depth": 3},
		},
	}
}

func TestRuntimeRecordsAndEmits(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.AuditLog = filepath.Join(dir, "audit.jsonl")
	cfg.Ledger.Path = filepath.Join(dir, "events.db")

	rt, err := NewRuntime(cfg, "sha256:test", quietLogger())
	if err != nil {
		t.Fatal(err)
	}

	resp := rt.Evaluate(attackRequest("req-1"), SourceHTTP)
	if resp.Decision != contract.Block {
		t.Fatalf("expected BLOCK, got %s", resp.Decision)
	}
	bad := rt.Evaluate(map[string]any{"contract_version": 2}, SourceCLI)
	if bad.Decision != contract.Error {
		t.Fatalf("expected ERROR, got %s", bad.Decision)
	}
	legacy := rt.Snapshot(map[string]any{"entropy": map[string]any{"score": 0.0}}, SourceMCP)
	if legacy.Status == "" {
		t.Fatal("expected legacy status")
	}

	rt.Flush()
	recent, err := rt.Ledger().Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].RequestID != "req-1" || !recent[0].WasMitigated {
		t.Errorf("expected one mitigated event for req-1, got %+v", recent)
	}

	if err := rt.Close(); err != nil {
		t.Fatal(err)
	}

	if v := audit.Verify(cfg.AuditLog); !v.Valid || v.Lines != 3 {
		t.Fatalf("expected 3-line valid audit chain, got %+v", v)
	}
	result, err := audit.Replay(cfg.AuditLog, audit.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	first := result.Entries[0]
	if first.Source != SourceHTTP || first.ConfigHash != "sha256:test" || first.ContextHash != resp.ContextHash {
		t.Errorf("unexpected first entry %+v", first)
	}
	if result.Entries[2].RequestID != "v2-evaluate_snapshot" {
		t.Errorf("expected legacy request id, got %q", result.Entries[2].RequestID)
	}
}

func TestRuntimeWithoutSinks(t *testing.T) {
	rt, err := NewRuntime(Default(), "sha256:x", quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()
	if rt.Sink() != nil || rt.Ledger() != nil {
		t.Error("expected no sinks")
	}
	if rt.Evaluate(attackRequest("r"), SourceCLI).Decision != contract.Block {
		t.Error("expected BLOCK")
	}
}

func TestRuntimeRejectsInvalidConfig(t *testing.T) {
	cfg := Default()
	cfg.CircuitBreakers.WarnScore = 0.9
	cfg.CircuitBreakers.BlockScore = 0.1
	if _, err := NewRuntime(cfg, "", quietLogger()); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestBuildGateModel(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.yaml")
	if err := os.WriteFile(modelPath, []byte("name: demo\nbias: -1.0\nweights:\n  entropy_drop: 2.0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.Model.Path = modelPath
	cfg.Model.SHA3_256 = "c69d304a7d861b90b6addc15466a19d2cc7fdaa348291a9e4bf77b8cbc8b1fb4"
	g, err := BuildGate(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !g.ModelConfigured() {
		t.Error("expected model configured")
	}
	if !g.Evaluate(attackRequest("m")).Meta.ModelUsed {
		t.Error("expected model_used")
	}

	cfg.Model.SHA3_256 = strings.Repeat("0", 64)
	if _, err := BuildGate(cfg, nil); !errors.Is(err, scoremodel.ErrHashMismatch) {
		t.Errorf("expected hash mismatch, got %v", err)
	}

	cfg.Model.Path = filepath.Join(dir, "missing.yaml")
	cfg.Model.SHA3_256 = ""
	if _, err := BuildGate(cfg, nil); !errors.Is(err, scoremodel.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestRuntimeWarnsOnUnpinnedModel(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.yaml")
	if err := os.WriteFile(modelPath, []byte("name: demo\nbias: -1.0\nweights:\n  entropy_drop: 2.0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, pin := range []string{"", "c69d304a7d861b90b6addc15466a19d2cc7fdaa348291a9e4bf77b8cbc8b1fb4"} {
		var buf bytes.Buffer
		cfg := Default()
		cfg.Model.Path = modelPath
		cfg.Model.SHA3_256 = pin
		rt, err := NewRuntime(cfg, "sha256:m", slog.New(slog.NewTextHandler(&buf, nil)))
		if err != nil {
			t.Fatal(err)
		}
		rt.Close()

		warned := strings.Contains(buf.String(), "without a sha3_256 pin")
		if warned != (pin == "") {
			t.Errorf("pin %q: warned=%v, log:\n%s", pin, warned, buf.String())
		}
	}
}

func TestRuntimeReload(t *testing.T) {
	path := writeConfig(t, "component: sentinel\n")
	rt, err := Open(path, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	before := rt.Gate()
	hashBefore := rt.ConfigHash()
	if rt.Evaluate(attackRequest("a"), SourceCLI).Decision != contract.Block {
		t.Fatal("expected BLOCK with defaults")
	}

	// Raising every breaker and cut point lets the same telemetry pass.
	relaxed := `component: sentinel
circuit_breakers:
  warn_score: 0.95
  block_score: 0.99
  max_reorg_depth: 100
  max_entropy_drop: 1.0
  max_mempool_anomaly: 1.0
  breach_penalty: 0.25
`
	if err := os.WriteFile(path, []byte(relaxed), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := rt.Reload(); err != nil {
		t.Fatal(err)
	}
	if rt.Gate() == before {
		t.Error("expected a new gate after reload")
	}
	if rt.ConfigHash() == hashBefore {
		t.Error("expected config hash to change")
	}
	if rt.Config().CircuitBreakers.BlockScore != 0.99 {
		t.Errorf("expected reloaded thresholds, got %+v", rt.Config().CircuitBreakers)
	}
	if d := rt.Evaluate(attackRequest("b"), SourceCLI).Decision; d != contract.Allow {
		t.Errorf("expected ALLOW after relaxing thresholds, got %s", d)
	}

	live := rt.Gate()
	if err := os.WriteFile(path, []byte("circuit_breakers:\n  block_score: 7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := rt.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if rt.Gate() != live {
		t.Error("expected failed reload to keep the live gate")
	}
}

func TestRuntimeReject(t *testing.T) {
	cfg := Default()
	cfg.AuditLog = filepath.Join(t.TempDir(), "audit.jsonl")
	rt, err := NewRuntime(cfg, "sha256:r", quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	resp := rt.Reject("", reason.InvalidRequest, "malformed JSON", SourceGRPC)
	if resp.Decision != contract.Error || !resp.HasReason(reason.InvalidRequest) {
		t.Errorf("unexpected response %+v", resp)
	}
	rt.Close()

	result, err := audit.Replay(cfg.AuditLog, audit.Filter{Decision: "ERROR"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Entries) != 1 || result.Entries[0].Source != SourceGRPC || result.Entries[0].RequestID != "unknown" {
		t.Errorf("unexpected audit entries %+v", result.Entries)
	}
}
