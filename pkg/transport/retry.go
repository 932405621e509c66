package transport

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Retry defaults: two retries after the first attempt, starting at 50ms and
// doubling, each delay jittered by ±10%.
const (
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 50 * time.Millisecond
	DefaultJitter     = 0.1
)

// RetryPolicy configures UnaryRetryInterceptor.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// Jitter is the randomization factor applied to every delay.
	Jitter float64

	// RetrySafe reports whether a full method name is idempotent or free of
	// side effects. Internal errors are retried only for such methods.
	RetrySafe func(fullMethod string) bool

	// Logger receives one debug line per retry.
	Logger zerolog.Logger

	// OnRetry is called before each retry, after the delay is chosen.
	OnRetry func(fullMethod string, code codes.Code)
}

// DefaultRetryPolicy returns the default policy for the given method table.
func DefaultRetryPolicy(retrySafe func(fullMethod string) bool) RetryPolicy {
	return RetryPolicy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		Jitter:     DefaultJitter,
		RetrySafe:  retrySafe,
		Logger:     zerolog.Nop(),
	}
}

// ShouldRetry reports whether err returned by fullMethod may be retried.
func (p RetryPolicy) ShouldRetry(fullMethod string, err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted:
		return true
	case codes.Internal:
		return p.RetrySafe != nil && p.RetrySafe(fullMethod)
	default:
		return false
	}
}

func (p RetryPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = p.Jitter
	b.MaxInterval = p.BaseDelay << max(p.MaxRetries, 1)
	return b
}

// UnaryRetryInterceptor retries failed unary calls according to p. Streaming
// calls are not intercepted.
func UnaryRetryInterceptor(p RetryPolicy) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		attempt := 0
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			attempt++
			err := invoker(ctx, method, req, reply, cc, opts...)
			if err == nil {
				return struct{}{}, nil
			}
			if !p.ShouldRetry(method, err) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		},
			backoff.WithBackOff(p.newBackOff()),
			backoff.WithMaxTries(uint(p.MaxRetries+1)),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, next time.Duration) {
				code := status.Code(err)
				p.Logger.Debug().
					Str("method", method).
					Str("code", code.String()).
					Int("attempt", attempt).
					Dur("delay", next).
					Msg("Retrying RPC")
				if p.OnRetry != nil {
					p.OnRetry(method, code)
				}
			}),
		)
		return err
	}
}
