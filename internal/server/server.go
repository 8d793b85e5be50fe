// Package server serves the gate over gRPC and hot-reloads its
// configuration.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/sentinel/internal/contract"
	"github.com/ppiankov/sentinel/internal/gate"
	"github.com/ppiankov/sentinel/internal/reason"
)

const source = "grpc"

// Evaluator is the gate surface the gRPC adapter needs.
type Evaluator interface {
	Evaluate(raw any, source string) contract.Response
	Snapshot(telemetry map[string]any, source string) gate.Result
	Reject(requestID string, code reason.Code, detail, source string) contract.Response
}

// Server implements GateServer.
type Server struct {
	eval       Evaluator
	logger     *slog.Logger
	grpcServer *grpc.Server
}

// New creates a gRPC server over eval. A nil logger uses slog.Default.
func New(eval Evaluator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{eval: eval, logger: logger}
	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(s.recoverInterceptor))
	s.grpcServer.RegisterService(&ServiceDesc, s)
	return s
}

// Serve listens on port and serves until stopped.
func (s *Server) Serve(port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return s.grpcServer.Serve(lis)
}

// ServeOn serves on an existing listener.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight calls and stops the server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Evaluate implements the Evaluate RPC. Contract failures are reported in
// the response document, never as gRPC errors.
func (s *Server) Evaluate(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return responseStruct(s.eval.Evaluate(fromStruct(in), source))
}

// Snapshot implements the Snapshot RPC over flat telemetry.
func (s *Server) Snapshot(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	telemetry, _ := fromStruct(in).(map[string]any)
	return resultStruct(s.eval.Snapshot(telemetry, source))
}

// recoverInterceptor converts a handler panic into a fail-closed document.
func (s *Server) recoverInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		s.logger.Error("grpc handler panic", "method", info.FullMethod, "panic", rec)
		if info.FullMethod == SnapshotMethod {
			resp, err = resultStruct(gate.ToResult(contract.Response{Decision: contract.Error}))
			return
		}
		resp, err = responseStruct(s.eval.Reject("", reason.Internal, "internal error", source))
	}()
	return handler(ctx, req)
}

// fromStruct converts a Struct to plain Go values. Struct numbers are all
// doubles, so integral values are restored to integers before hashing.
func fromStruct(in *structpb.Struct) any {
	if in == nil {
		return map[string]any{}
	}
	return contract.IntegralDoubles(in.AsMap())
}

func responseStruct(resp contract.Response) (*structpb.Struct, error) {
	m, err := resp.Map()
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return structpb.NewStruct(m)
}

func resultStruct(r gate.Result) (*structpb.Struct, error) {
	details := make([]any, len(r.Details))
	for i, d := range r.Details {
		details[i] = d
	}
	return structpb.NewStruct(map[string]any{
		"status":     r.Status,
		"risk_score": r.RiskScore,
		"details":    details,
	})
}
