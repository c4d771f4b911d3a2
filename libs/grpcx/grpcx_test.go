package grpcx

import (
	"context"
	"testing"

	"github.com/schedai/schedai/libs/httpx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/metadata"
)

func TestJSONCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(JSONCodecName)
	if c == nil {
		t.Fatalf("json codec not registered")
	}
	type msg struct {
		HostUserID string `json:"host_user_id"`
	}
	raw, err := c.Marshal(msg{HostUserID: "h1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `{"host_user_id":"h1"}` {
		t.Fatalf("unexpected wire form %s", raw)
	}
	var out msg
	if err := c.Unmarshal(raw, &out); err != nil || out.HostUserID != "h1" {
		t.Fatalf("unmarshal: %+v %v", out, err)
	}
}

func TestClientInterceptor_PropagatesRequestID(t *testing.T) {
	ctx := httpx.ContextWithRequestID(context.Background(), "http-id")

	var got []string
	invoker := func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		got = md.Get(RequestIDMetadataKey)
		return nil
	}
	if err := UnaryClientRequestIDInterceptor()(ctx, "/svc/M", nil, nil, nil, invoker); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if len(got) != 1 || got[0] != "http-id" {
		t.Fatalf("expected http-id propagated, got %v", got)
	}
}

func TestServerInterceptor_StoresIncomingID(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(RequestIDMetadataKey, "abc"))
	var seen string
	handler := func(ctx context.Context, _ any) (any, error) {
		seen = httpx.RequestIDFromContext(ctx)
		return nil, nil
	}
	_, _ = UnaryServerRequestIDInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/svc/M"}, handler)
	if seen != "abc" {
		t.Fatalf("expected abc, got %q", seen)
	}
}
