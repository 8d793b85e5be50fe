// Package mcp exposes the gate as Model Context Protocol tools over stdio.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/sentinel/internal/contract"
	"github.com/ppiankov/sentinel/internal/gate"
	"github.com/ppiankov/sentinel/internal/reason"
)

// Tool names.
const (
	ToolEvaluate = "sentinel_evaluate"
	ToolSnapshot = "sentinel_snapshot"
)

const source = "mcp"

// Evaluator is the gate surface the MCP adapter needs.
type Evaluator interface {
	Evaluate(raw any, source string) contract.Response
	Snapshot(telemetry map[string]any, source string) gate.Result
	Reject(requestID string, code reason.Code, detail, source string) contract.Response
}

// Server wraps the MCP SDK server around an Evaluator.
type Server struct {
	mcpServer *mcpsdk.Server
	eval      Evaluator
}

// New creates an MCP server with the sentinel tools registered.
func New(eval Evaluator, version string) *Server {
	s := &Server{eval: eval}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "sentinel",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves on the stdio transport until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all sentinel tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        ToolEvaluate,
		Description: "Evaluate a contract v3 telemetry request and return an ALLOW/WARN/BLOCK/ERROR decision. Callers must treat anything but ALLOW as a stop.",
	}, s.handleEvaluate)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        ToolSnapshot,
		Description: "Score flat telemetry and return the legacy {status, risk_score, details} triple.",
	}, s.handleSnapshot)
}
