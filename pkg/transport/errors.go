package transport

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openfroyo/converge/pkg/engine"
)

// Classify converts an RPC error into a classified engine error. Errors
// that are already classified, and nil, are returned unchanged.
func Classify(err error, operation, resource string) error {
	if err == nil {
		return nil
	}
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return engine.NewPermanentError("request aborted", err).
			WithOperation(operation).
			WithResource(resource).
			WithCode(engine.ErrCodeCancelled)
	}

	var out *engine.EngineError
	switch status.Code(err) {
	case codes.Unavailable:
		out = engine.NewTransientError("control plane unavailable", err).WithCode(engine.ErrCodeUnavailable)
	case codes.ResourceExhausted:
		out = engine.NewTransientError("control plane overloaded", err).WithCode(engine.ErrCodeRateLimited)
	case codes.FailedPrecondition:
		out = engine.NewRemoteRejectionError("control plane rejected the request", err).WithCode(engine.ErrCodeStillReferenced)
	case codes.AlreadyExists:
		out = engine.NewRemoteRejectionError("resource already exists", err).WithCode(engine.ErrCodeAlreadyExists)
	case codes.PermissionDenied, codes.Unauthenticated:
		out = engine.NewRemoteRejectionError("permission denied", err).WithCode(engine.ErrCodePermissionDenied)
	case codes.InvalidArgument, codes.OutOfRange:
		out = engine.NewRemoteRejectionError("control plane rejected the request", err).WithCode(engine.ErrCodeValidation)
	case codes.NotFound:
		out = engine.NewPermanentError("resource not found", err).WithCode(engine.ErrCodeNotFound)
	default:
		out = engine.NewPermanentError("control plane request failed", err).WithCode(engine.ErrCodeInternal)
	}
	return out.WithOperation(operation).WithResource(resource)
}

// IsNotFound reports whether err carries the NotFound status code.
func IsNotFound(err error) bool {
	var ee *engine.EngineError
	if errors.As(err, &ee) && ee.Code == engine.ErrCodeNotFound {
		return true
	}
	return status.Code(err) == codes.NotFound
}

// IgnoreNotFound returns nil when err is a NotFound error. Listing callers use
// it to treat a parent that was never created as an empty collection.
func IgnoreNotFound(err error) error {
	if IsNotFound(err) {
		return nil
	}
	return err
}
