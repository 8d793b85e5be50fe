// Package sentinel provides in-process access to the sentinel decision gate
// for Go services. It evaluates contract v3 requests, wraps flat telemetry
// for legacy callers, and guards functions and HTTP handlers so they only
// run when the gate allows.
//
// Usage:
//
//	gate, err := sentinel.New(sentinel.WithConfig("/etc/sentinel/config.yaml"))
//	broadcast := gate.Wrap(sendTx)
//	out, err := broadcast(ctx, telemetry)
//	var blocked *sentinel.BlockedError
//	if errors.As(err, &blocked) {
//	    // the gate said WARN, BLOCK or ERROR
//	}
//
// The SDK links directly against internal packages for zero-subprocess
// overhead. External users import github.com/ppiankov/sentinel/sdk/go/sentinel.
package sentinel
