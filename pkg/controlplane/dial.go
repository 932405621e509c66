package controlplane

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/openfroyo/converge/pkg/transport"
)

// DialConfig configures a client connection to the control plane.
type DialConfig struct {
	// Endpoint is the host:port of the control plane.
	Endpoint string

	// Token is sent as a bearer token on every call when set.
	Token string

	// Insecure disables TLS.
	Insecure bool

	// Retry is the retry policy. A zero MaxRetries disables retries.
	Retry transport.RetryPolicy

	// Interceptors run inside the retry interceptor, once per attempt.
	Interceptors []grpc.UnaryClientInterceptor

	// DialOptions are appended to the generated options.
	DialOptions []grpc.DialOption
}

// Dial creates a client connection with the retry interceptor installed.
func Dial(cfg DialConfig) (*grpc.ClientConn, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("control plane endpoint is required")
	}

	opts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}
	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	}
	if cfg.Token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(tokenCredentials{token: cfg.Token, secure: !cfg.Insecure}))
	}

	interceptors := make([]grpc.UnaryClientInterceptor, 0, len(cfg.Interceptors)+1)
	if cfg.Retry.MaxRetries > 0 {
		interceptors = append(interceptors, transport.UnaryRetryInterceptor(cfg.Retry))
	}
	interceptors = append(interceptors, cfg.Interceptors...)
	if len(interceptors) > 0 {
		opts = append(opts, grpc.WithChainUnaryInterceptor(interceptors...))
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control plane at %s: %w", cfg.Endpoint, err)
	}
	return conn, nil
}

type tokenCredentials struct {
	token  string
	secure bool
}

func (t tokenCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + t.token}, nil
}

func (t tokenCredentials) RequireTransportSecurity() bool {
	return t.secure
}

// TokenAuthInterceptor rejects calls that do not carry the bearer token.
func TokenAuthInterceptor(token string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 || strings.TrimPrefix(values[0], "Bearer ") != token {
			return nil, status.Error(codes.Unauthenticated, "invalid or missing token")
		}
		return handler(ctx, req)
	}
}
