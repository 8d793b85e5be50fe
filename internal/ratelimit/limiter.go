package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// CheckResult is the outcome of a rate limit check.
type CheckResult struct {
	Exceeded bool
	Current  int
	Limit    int
	Reason   string
}

// Check compares the current count against the limit.
func Check(count int, limit Config) CheckResult {
	if !limit.Enabled() {
		return CheckResult{}
	}
	if count >= limit.MaxRequests {
		return CheckResult{
			Exceeded: true,
			Current:  count,
			Limit:    limit.MaxRequests,
			Reason: fmt.Sprintf("rate limit exceeded: %d/%d requests in %s window",
				count, limit.MaxRequests, limit.Window),
		}
	}
	return CheckResult{Current: count, Limit: limit.MaxRequests}
}

type window struct {
	start time.Time
	count int
}

// Limiter tracks per-key counters. Safe for concurrent use.
type Limiter struct {
	cfg Config
	now func() time.Time

	mu   sync.Mutex
	keys map[string]*window
}

// New returns a limiter for cfg. A disabled cfg allows everything.
func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, now: time.Now, keys: make(map[string]*window)}
}

// Allow counts one request for key. The counter is only incremented when
// the request is within the limit.
func (l *Limiter) Allow(key string) CheckResult {
	if !l.cfg.Enabled() {
		return CheckResult{}
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.keys[key]
	if w == nil || now.Sub(w.start) >= l.cfg.Window {
		l.sweep(now)
		w = &window{start: now}
		l.keys[key] = w
	}
	result := Check(w.count, l.cfg)
	if !result.Exceeded {
		w.count++
	}
	return result
}

// sweep drops expired windows so idle clients do not accumulate.
func (l *Limiter) sweep(now time.Time) {
	for k, w := range l.keys {
		if now.Sub(w.start) >= l.cfg.Window {
			delete(l.keys, k)
		}
	}
}
