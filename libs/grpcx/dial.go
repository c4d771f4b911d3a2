package grpcx

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type DialOptions struct {
	// If nil, defaults to insecure credentials (suitable for local dev / inside a cluster with mTLS at mesh layer).
	TransportCredentials grpc.DialOption
	// JSON makes the JSON codec the default for every call on the connection.
	JSON bool
}

// NewClient builds a lazily connecting client with tracing and request id
// propagation installed.
func NewClient(addr string, opts DialOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(UnaryClientRequestIDInterceptor()),
	}
	if opts.TransportCredentials != nil {
		dialOpts = append(dialOpts, opts.TransportCredentials)
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if opts.JSON {
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(grpc.CallContentSubtype(JSONCodecName)))
	}
	dialOpts = append(dialOpts, extra...)

	return grpc.NewClient(addr, dialOpts...)
}

// NewServer returns a server with tracing, request ids and access logging.
func NewServer(interceptors []grpc.UnaryServerInterceptor, extra ...grpc.ServerOption) *grpc.Server {
	chain := append([]grpc.UnaryServerInterceptor{UnaryServerRequestIDInterceptor()}, interceptors...)
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	}
	return grpc.NewServer(append(opts, extra...)...)
}
