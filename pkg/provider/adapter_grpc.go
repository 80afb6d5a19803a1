package provider

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// grpcCompletionMethod is the fully-qualified method name of the self-hosted
// model's completion RPC.
const grpcCompletionMethod = "/llmproto.Completion/Call"

// GRPCAdapter calls a self-hosted model over gRPC, the non-hosted backend
// reached by the Provider Manager alongside the hosted HTTP providers.
type GRPCAdapter struct {
	id   string
	conn *grpc.ClientConn
}

// NewGRPCAdapter dials addr and wraps it as a Provider. Dialing is lazy and
// non-blocking; the connection is established on first Call.
func NewGRPCAdapter(id, addr string) (*GRPCAdapter, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc adapter %q: dial %s: %w", id, addr, err)
	}
	return &GRPCAdapter{id: id, conn: conn}, nil
}

// ID implements Provider.
func (a *GRPCAdapter) ID() string { return a.id }

// Close releases the underlying connection.
func (a *GRPCAdapter) Close() error { return a.conn.Close() }

// Call implements Provider by invoking the completion RPC with a
// structpb.Struct request/response pair, avoiding a dependency on
// build-time protoc codegen while still exercising the real grpc and
// protobuf runtime libraries.
func (a *GRPCAdapter) Call(ctx context.Context, req Request) (Response, error) {
	in, err := structpb.NewStruct(map[string]any{
		"prompt":           req.Prompt,
		"estimated_tokens": req.EstimatedTokens,
	})
	if err != nil {
		return Response{}, fmt.Errorf("grpc adapter %q: encode request: %w", a.id, err)
	}

	out := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, grpcCompletionMethod, in, out); err != nil {
		return Response{}, fmt.Errorf("grpc adapter %q: %w", a.id, err)
	}

	fields := out.GetFields()
	text := fields["text"].GetStringValue()
	tokens := int64(fields["actual_tokens"].GetNumberValue())
	return Response{Text: text, ActualTokens: tokens}, nil
}

// WaitForReady blocks until the underlying connection leaves the idle
// state or ctx expires, useful at process startup to fail fast on a
// misconfigured endpoint instead of on the first real request.
func (a *GRPCAdapter) WaitForReady(ctx context.Context, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	a.conn.Connect()
	for {
		state := a.conn.GetState()
		if state.String() == "READY" {
			return nil
		}
		if !a.conn.WaitForStateChange(waitCtx, state) {
			return fmt.Errorf("grpc adapter %q: not ready after %s: %w", a.id, timeout, waitCtx.Err())
		}
	}
}
