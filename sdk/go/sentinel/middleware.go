package sentinel

import (
	"encoding/json"
	"net/http"
)

// RequestIDHeader is echoed as the request ID when present.
const RequestIDHeader = "X-Request-ID"

// TelemetryFunc supplies the snapshot to judge for an HTTP request.
type TelemetryFunc func(r *http.Request) (map[string]any, error)

// Middleware returns middleware that evaluates telemetry before each
// request reaches next. Requests the gate does not allow receive a 403
// with a JSON body; a telemetry error is 503.
func (c *Client) Middleware(telemetry TelemetryFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tel, err := telemetry(r)
			if err != nil {
				writeBlocked(w, http.StatusServiceUnavailable, map[string]any{
					"blocked":  true,
					"decision": string(Error),
					"reason":   "telemetry unavailable",
				})
				return
			}

			resp := c.Check(r.Header.Get(RequestIDHeader), tel)
			if !c.passes(resp.Decision, false) {
				writeBlocked(w, http.StatusForbidden, map[string]any{
					"blocked":      true,
					"decision":     string(resp.Decision),
					"reason_codes": resp.ReasonCodes,
					"request_id":   resp.RequestID,
					"context_hash": resp.ContextHash,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeBlocked(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
