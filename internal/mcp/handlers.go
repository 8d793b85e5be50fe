package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/sentinel/internal/contract"
	"github.com/ppiankov/sentinel/internal/gate"
	"github.com/ppiankov/sentinel/internal/reason"
)

// EvaluateInput defines parameters for the sentinel_evaluate tool.
type EvaluateInput struct {
	Request map[string]any `json:"request" jsonschema:"contract v3 request: contract_version, component, request_id, telemetry, constraints"`
}

// SnapshotInput defines parameters for the sentinel_snapshot tool.
type SnapshotInput struct {
	Telemetry map[string]any `json:"telemetry" jsonschema:"flat telemetry object, e.g. {entropy: {score, drop}, mempool: {score, anomaly}, reorg: {score, depth}}"`
}

// handleEvaluate marks ERROR decisions as tool errors; the structured
// output still carries the full response.
func (s *Server) handleEvaluate(_ context.Context, _ *mcpsdk.CallToolRequest, input EvaluateInput) (result *mcpsdk.CallToolResult, out contract.Response, err error) {
	defer func() {
		if recover() != nil {
			out = s.eval.Reject("", reason.Internal, "internal error", source)
			result, err = &mcpsdk.CallToolResult{IsError: true}, nil
		}
	}()

	if input.Request == nil {
		out = s.eval.Reject("", reason.InvalidRequest, "request must be an object", source)
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	out = s.eval.Evaluate(contract.IntegralDoubles(input.Request), source)
	if out.Decision == contract.Error {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleSnapshot(_ context.Context, _ *mcpsdk.CallToolRequest, input SnapshotInput) (result *mcpsdk.CallToolResult, out gate.Result, err error) {
	defer func() {
		if recover() != nil {
			out = gate.ToResult(contract.Response{Decision: contract.Error})
			result, err = &mcpsdk.CallToolResult{IsError: true}, nil
		}
	}()

	telemetry, _ := contract.IntegralDoubles(input.Telemetry).(map[string]any)
	out = s.eval.Snapshot(telemetry, source)
	if out.Status == gate.StatusError {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}
