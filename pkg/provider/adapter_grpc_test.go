package provider

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// callHandler implements the single "Call" method of the completion
// service for test servers below.
func callHandler(fn func(in *structpb.Struct) (*structpb.Struct, error)) grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: "llmproto.Completion",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "Call",
				Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
					in := &structpb.Struct{}
					if err := dec(in); err != nil {
						return nil, err
					}
					return fn(in)
				},
			},
		},
	}
}

func startTestGRPCServer(t *testing.T, desc grpc.ServiceDesc) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	srv.RegisterService(&desc, struct{}{})
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	return lis.Addr().String()
}

func TestGRPCAdapter_CallSuccess(t *testing.T) {
	desc := callHandler(func(in *structpb.Struct) (*structpb.Struct, error) {
		prompt := in.GetFields()["prompt"].GetStringValue()
		require.Equal(t, "check this policy", prompt)
		return structpb.NewStruct(map[string]any{
			"text":          "compliant",
			"actual_tokens": float64(17),
		})
	})
	addr := startTestGRPCServer(t, desc)

	a, err := NewGRPCAdapter("local-model", addr)
	require.NoError(t, err)
	defer a.Close()

	resp, err := a.Call(context.Background(), Request{Prompt: "check this policy", EstimatedTokens: 50})
	require.NoError(t, err)
	require.Equal(t, "compliant", resp.Text)
	require.Equal(t, int64(17), resp.ActualTokens)
	require.Equal(t, "local-model", a.ID())
}

func TestGRPCAdapter_CallPropagatesServerError(t *testing.T) {
	desc := callHandler(func(in *structpb.Struct) (*structpb.Struct, error) {
		return nil, errors.New("model overloaded")
	})
	addr := startTestGRPCServer(t, desc)

	a, err := NewGRPCAdapter("local-model", addr)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Call(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
}
