// Package ratelimit caps how many evaluations one client may request in a
// fixed window.
package ratelimit

import (
	"fmt"
	"time"
)

// Config is one fixed-window limit. Zero values mean no limit.
type Config struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// Enabled reports whether the limit is active.
func (c Config) Enabled() bool {
	return c.MaxRequests > 0 && c.Window > 0
}

// Validate rejects negative values.
func (c Config) Validate() error {
	if c.MaxRequests < 0 || c.Window < 0 {
		return fmt.Errorf("rate_limit: max_requests and window must not be negative")
	}
	return nil
}
