package sentinel

import (
	"context"

	"github.com/google/uuid"
)

// ToolFunc is the function signature that Wrap guards. telemetry is the
// snapshot the gate judges before fn runs.
type ToolFunc func(ctx context.Context, telemetry map[string]any) (any, error)

// Wrap returns a ToolFunc that evaluates telemetry before calling fn.
// Unless the gate allows, fn is not called and a *BlockedError is returned.
func (c *Client) Wrap(fn ToolFunc, opts ...WrapOption) ToolFunc {
	wcfg := wrapConfig{requestID: uuid.NewString}
	for _, o := range opts {
		o(&wcfg)
	}

	return func(ctx context.Context, telemetry map[string]any) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp := c.Check(wcfg.requestID(), telemetry)
		if !c.passes(resp.Decision, wcfg.allowWarn) {
			return nil, blocked(resp)
		}
		return fn(ctx, telemetry)
	}
}

// Guard evaluates telemetry and returns a *BlockedError unless the gate
// allows.
func (c *Client) Guard(telemetry map[string]any) error {
	resp := c.Check("", telemetry)
	if !c.passes(resp.Decision, false) {
		return blocked(resp)
	}
	return nil
}
