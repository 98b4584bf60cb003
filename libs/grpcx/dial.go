package grpcx

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

type ClientConfig struct {
	UserAgent string

	// Creds replaces plaintext transport when set.
	Creds credentials.TransportCredentials
}

// NewClient returns a traced client connection that forwards the request id.
// It connects lazily; the first RPC dials and is bounded by its own context.
func NewClient(addr string, cfg ClientConfig, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	creds := cfg.Creds
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(UnaryClientRequestIDInterceptor()),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, grpc.WithUserAgent(cfg.UserAgent))
	}
	return grpc.NewClient(addr, append(opts, extra...)...)
}
