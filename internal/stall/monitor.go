// Package stall watches chain height and reports when it stops advancing.
package stall

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ppiankov/sentinel/internal/events"
)

// Status labels.
const (
	StatusOK      = "ok"
	StatusStalled = "stalled"
)

// DefaultThreshold is how long height may stay flat before it is a stall.
const DefaultThreshold = 10 * time.Minute

// HeightSource reports the current chain height.
type HeightSource interface {
	CurrentHeight(ctx context.Context) (int64, error)
}

// Status is the result of one progress check.
type Status struct {
	Timestamp      time.Time     `json:"timestamp"`
	CurrentHeight  int64         `json:"current_height"`
	PreviousHeight *int64        `json:"previous_height"`
	Status         string        `json:"status"`
	StalledFor     time.Duration `json:"stalled_for_ns"`
}

// Monitor tracks height between checks. Safe for concurrent use.
type Monitor struct {
	source    HeightSource
	threshold time.Duration
	sink      events.Sink
	logger    *slog.Logger
	now       func() time.Time

	mu         sync.Mutex
	lastHeight *int64
	lastChange time.Time
	stalled    bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSink emits a chain_stall event on each transition into a stall.
func WithSink(s events.Sink) Option { return func(m *Monitor) { m.sink = s } }

// WithLogger sets the logger. Default is slog.Default.
func WithLogger(l *slog.Logger) Option { return func(m *Monitor) { m.logger = l } }

// WithClock sets the time source.
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// New returns a monitor. A non-positive threshold uses DefaultThreshold.
func New(source HeightSource, threshold time.Duration, opts ...Option) *Monitor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	m := &Monitor{source: source, threshold: threshold, logger: slog.Default(), now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Check polls the source once. StalledFor measures time since the height
// last changed, not time since the previous check.
func (m *Monitor) Check(ctx context.Context) (Status, error) {
	height, err := m.source.CurrentHeight(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("stall: current height: %w", err)
	}

	m.mu.Lock()
	now := m.now()
	st := Status{Timestamp: now, CurrentHeight: height, PreviousHeight: m.lastHeight, Status: StatusOK}

	if m.lastHeight == nil || *m.lastHeight != height {
		h := height
		m.lastHeight = &h
		m.lastChange = now
		m.stalled = false
		m.mu.Unlock()
		m.logger.Info("block progress", "height", height, "status", st.Status)
		return st, nil
	}

	st.StalledFor = now.Sub(m.lastChange)
	entering := false
	if st.StalledFor >= m.threshold {
		st.Status = StatusStalled
		entering = !m.stalled
		m.stalled = true
	}
	m.mu.Unlock()

	if st.Status == StatusStalled {
		m.logger.Warn("block progress", "height", height, "status", st.Status, "stalled_for", st.StalledFor.String())
	} else {
		m.logger.Info("block progress", "height", height, "status", st.Status, "flat_for", st.StalledFor.String())
	}
	if entering {
		m.emit(ctx, st)
	}
	return st, nil
}

// Run checks every interval until ctx ends, passing each status to fn.
// Source errors are logged and polling continues.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, fn func(Status)) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		st, err := m.Check(ctx)
		if err != nil {
			m.logger.Error("block progress check failed", "error", err)
		} else if fn != nil {
			fn(st)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) emit(ctx context.Context, st Status) {
	if m.sink == nil {
		return
	}
	e := events.New(events.TypeChainStall, st.Timestamp)
	e.Severity = 1.0
	e.RiskBefore = 1.0
	e.RiskAfter = 1.0
	h := st.CurrentHeight
	e.BlockHeight = &h
	e.Details = fmt.Sprintf("no new block for %s", st.StalledFor.Round(time.Second))
	if err := m.sink.Emit(ctx, e); err != nil {
		m.logger.Warn("stall event not delivered", "error", err)
	}
}
