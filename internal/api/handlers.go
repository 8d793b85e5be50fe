package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ppiankov/sentinel/internal/canonical"
	"github.com/ppiankov/sentinel/internal/gate"
	"github.com/ppiankov/sentinel/internal/reason"
)

const sourceHTTP = "http"

type healthResponse struct {
	OK     bool   `json:"ok"`
	Status string `json:"status"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	raw, code, detail := s.decode(w, r)
	if code != "" {
		resp := s.eval.Reject("", code, detail, sourceHTTP)
		s.remember(gate.ToResult(resp))
		writeJSON(w, statusFor(code), resp)
		return
	}
	resp := s.eval.Evaluate(raw, sourceHTTP)
	s.remember(gate.ToResult(resp))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	raw, code, detail := s.decode(w, r)
	telemetry, ok := raw.(map[string]any)
	if code == "" && !ok {
		code, detail = reason.InvalidRequest, "telemetry must be an object"
	}
	if code != "" {
		result := gate.ToResult(s.eval.Reject(gate.LegacyRequestID, code, detail, sourceHTTP))
		s.remember(result)
		writeJSON(w, statusFor(code), result)
		return
	}
	result := s.eval.Snapshot(telemetry, sourceHTTP)
	s.remember(result)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	last, ok := s.LastStatus()
	if !ok {
		last = gate.Result{Status: StatusNoData, RiskScore: 0, Details: []string{}}
	}
	writeJSON(w, http.StatusOK, last)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := StatusNoData
	if last, ok := s.LastStatus(); ok {
		status = last.Status
	}
	writeJSON(w, http.StatusOK, healthResponse{OK: true, Status: status})
}

// decode reads one JSON value from the body. Numbers stay json.Number so
// integer and float literals keep their identity through hashing.
func (s *Server) decode(w http.ResponseWriter, r *http.Request) (any, reason.Code, string) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, reason.TelemetryTooLarge, "request body too large"
		}
		return nil, reason.InvalidRequest, "invalid request body"
	}

	raw, err := canonical.DecodeJSON(body)
	if err != nil {
		return nil, reason.InvalidRequest, "malformed JSON"
	}
	return raw, "", ""
}

func statusFor(code reason.Code) int {
	if code == reason.TelemetryTooLarge {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
