package config

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ppiankov/sentinel/internal/audit"
	"github.com/ppiankov/sentinel/internal/contract"
	"github.com/ppiankov/sentinel/internal/events"
	"github.com/ppiankov/sentinel/internal/gate"
	"github.com/ppiankov/sentinel/internal/reason"
	"github.com/ppiankov/sentinel/internal/scoremodel"
)

// Adapter names recorded as the audit source.
const (
	SourceCLI  = "cli"
	SourceHTTP = "http"
	SourceGRPC = "grpc"
	SourceMCP  = "mcp"
)

// BuildGate constructs a gate from cfg. The scoring model, when configured,
// is loaded and its digest verified here so a bad artifact fails startup.
func BuildGate(cfg *Config, sink events.Sink) (*gate.Gate, error) {
	opts := []gate.Option{
		gate.WithComponent(cfg.Component),
		gate.WithThresholds(cfg.CircuitBreakers),
		gate.WithLimits(cfg.Limits.Contract()),
	}
	if cfg.Model.Path != "" {
		m, err := scoremodel.Load(cfg.Model.Path, cfg.Model.SHA3_256)
		if err != nil {
			return nil, fmt.Errorf("failed to load scoring model: %w", err)
		}
		opts = append(opts, gate.WithModel(m))
	}
	if sink != nil {
		opts = append(opts, gate.WithSink(sink))
	}
	return gate.New(opts...), nil
}

type snapshot struct {
	cfg  *Config
	hash string
	gate *gate.Gate
}

// Runtime owns the live gate and the long-lived sinks around it. The gate
// is replaced wholesale on reload; a live gate is never mutated.
type Runtime struct {
	path   string
	logger *slog.Logger

	current atomic.Pointer[snapshot]
	reload  sync.Mutex
	retired []*gate.Gate

	sink    events.Sink
	webhook *events.Webhook
	ledger  *events.Ledger
	audit   *audit.Log
}

// Open loads the configuration at path and builds a runtime from it.
func Open(path string, logger *slog.Logger) (*Runtime, error) {
	cfg, hash, err := LoadWithHash(path)
	if err != nil {
		return nil, err
	}
	rt, err := NewRuntime(cfg, hash, logger)
	if err != nil {
		return nil, err
	}
	rt.path = path
	return rt, nil
}

// NewRuntime opens the sinks and audit log cfg names and builds the gate.
// Sinks and the audit log are opened once and survive reloads.
func NewRuntime(cfg *Config, hash string, logger *slog.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{logger: logger}

	var sinks events.Multi
	if wh := events.NewWebhook(cfg.Alerts, logger); wh != nil {
		rt.webhook = wh
		sinks = append(sinks, wh)
	}
	if cfg.Ledger.Path != "" {
		ledger, err := events.OpenLedger(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open event ledger: %w", err)
		}
		rt.ledger = ledger
		sinks = append(sinks, ledger)
	}
	if len(sinks) > 0 {
		rt.sink = sinks
	}

	if cfg.AuditLog != "" {
		log, err := audit.Open(cfg.AuditLog)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		rt.audit = log
	}

	g, err := BuildGate(cfg, rt.sink)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.warnUnpinned(cfg)
	rt.current.Store(&snapshot{cfg: cfg, hash: hash, gate: g})
	return rt, nil
}

func (r *Runtime) warnUnpinned(cfg *Config) {
	if cfg.Model.Path != "" && cfg.Model.SHA3_256 == "" {
		r.logger.Warn("scoring model loaded without a sha3_256 pin", "path", cfg.Model.Path)
	}
}

// Gate returns the live gate.
func (r *Runtime) Gate() *gate.Gate { return r.current.Load().gate }

// Config returns the configuration the live gate was built from.
func (r *Runtime) Config() *Config { return r.current.Load().cfg }

// ConfigHash returns the hash of the configuration the live gate was built from.
func (r *Runtime) ConfigHash() string { return r.current.Load().hash }

// Path returns the configuration file path, empty when built in memory.
func (r *Runtime) Path() string { return r.path }

// Ledger returns the event ledger, or nil when disabled.
func (r *Runtime) Ledger() *events.Ledger { return r.ledger }

// Sink returns the event sink the gate emits to, or nil.
func (r *Runtime) Sink() events.Sink { return r.sink }

// Evaluate runs raw through the live gate and records the decision.
func (r *Runtime) Evaluate(raw any, source string) contract.Response {
	snap := r.current.Load()
	resp := snap.gate.Evaluate(raw)
	r.record(resp, source, snap.hash)
	return resp
}

// Snapshot evaluates flat telemetry through the legacy adapter and records
// the underlying decision.
func (r *Runtime) Snapshot(telemetry map[string]any, source string) gate.Result {
	snap := r.current.Load()
	resp := snap.gate.Evaluate(snap.gate.LegacyRequest(telemetry))
	r.record(resp, source, snap.hash)
	return gate.ToResult(resp)
}

// Reject builds and records the ERROR response for input an adapter could
// not decode.
func (r *Runtime) Reject(requestID string, code reason.Code, detail, source string) contract.Response {
	snap := r.current.Load()
	resp := snap.gate.Reject(requestID, code, detail)
	r.record(resp, source, snap.hash)
	return resp
}

func (r *Runtime) record(resp contract.Response, source, hash string) {
	if r.audit == nil {
		return
	}
	if err := r.audit.RecordResponse(resp, source, hash); err != nil {
		r.logger.Error("audit record failed", "request_id", resp.RequestID, "error", err)
	}
}

// Reload re-reads the configuration file and swaps in a new gate. On any
// error the live gate is kept. Sink, ledger and audit settings are fixed
// at startup; changes to them are logged and ignored.
func (r *Runtime) Reload() error {
	r.reload.Lock()
	defer r.reload.Unlock()

	cfg, hash, err := LoadWithHash(r.path)
	if err != nil {
		return err
	}
	g, err := BuildGate(cfg, r.sink)
	if err != nil {
		return err
	}

	r.warnUnpinned(cfg)
	old := r.current.Load()
	if old.cfg.AuditLog != cfg.AuditLog || old.cfg.Ledger != cfg.Ledger || len(old.cfg.Alerts) != len(cfg.Alerts) {
		r.logger.Warn("sink settings changed; restart to apply")
	}
	r.current.Store(&snapshot{cfg: cfg, hash: hash, gate: g})
	r.retired = append(r.retired, old.gate)
	r.logger.Info("configuration reloaded", "config_hash", hash)
	return nil
}

// Flush waits for event deliveries started by the live gate and by any gate
// it replaced.
func (r *Runtime) Flush() {
	r.reload.Lock()
	retired := append([]*gate.Gate{}, r.retired...)
	r.reload.Unlock()
	for _, g := range retired {
		g.Wait()
	}
	if snap := r.current.Load(); snap != nil {
		snap.gate.Wait()
	}

	r.reload.Lock()
	r.retired = r.retired[len(retired):]
	r.reload.Unlock()
}

// Close flushes pending events, waits for in-flight webhook deliveries and
// closes the ledger and audit log.
func (r *Runtime) Close() error {
	r.Flush()
	if r.webhook != nil {
		r.webhook.Wait()
	}
	var errs []error
	if r.ledger != nil {
		errs = append(errs, r.ledger.Close())
	}
	if r.audit != nil {
		errs = append(errs, r.audit.Close())
	}
	return errors.Join(errs...)
}
