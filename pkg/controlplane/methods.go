package controlplane

import "strings"

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "converge.controlplane.v1.ControlPlane"

// Metadata method names.
const (
	MethodGetMetadata = "GetMetadata"
	MethodSetMetadata = "SetMetadata"
)

// Operation names, also used as method name prefixes.
const (
	OpCreate = "Create"
	OpUpdate = "Update"
	OpDelete = "Delete"
	OpGet    = "Get"
	OpList   = "List"
)

// IdempotencyLevel declares what a retry of a method may do.
type IdempotencyLevel int

const (
	// IdempotencyUnknown methods may have applied before failing; never retried on Internal.
	IdempotencyUnknown IdempotencyLevel = iota

	// Idempotent methods produce the same state when repeated.
	Idempotent

	// NoSideEffects methods only read.
	NoSideEffects
)

func (l IdempotencyLevel) String() string {
	switch l {
	case Idempotent:
		return "idempotent"
	case NoSideEffects:
		return "no_side_effects"
	default:
		return "unknown"
	}
}

// FullMethod returns the gRPC path of a method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// MethodName builds the RPC method name of an operation on kind.
func MethodName(op string, info KindInfo) string {
	if op == OpList {
		return OpList + info.Method + "s"
	}
	return op + info.Method
}

var opIdempotency = map[string]IdempotencyLevel{
	OpCreate: IdempotencyUnknown,
	OpUpdate: Idempotent,
	OpDelete: Idempotent,
	OpGet:    NoSideEffects,
	OpList:   NoSideEffects,
}

var methodIdempotency = func() map[string]IdempotencyLevel {
	m := map[string]IdempotencyLevel{
		FullMethod(MethodGetMetadata): NoSideEffects,
		FullMethod(MethodSetMetadata): Idempotent,
	}
	for _, info := range kindTable {
		for op, level := range opIdempotency {
			m[FullMethod(MethodName(op, info))] = level
		}
	}
	return m
}()

// Idempotency returns the declared level of a full method name.
// Unknown methods report IdempotencyUnknown.
func Idempotency(fullMethod string) IdempotencyLevel {
	return methodIdempotency[fullMethod]
}

// IsRetrySafe reports whether fullMethod may be retried after an Internal error.
func IsRetrySafe(fullMethod string) bool {
	return Idempotency(fullMethod) != IdempotencyUnknown
}

// IsReadOnly reports whether fullMethod only reads.
func IsReadOnly(fullMethod string) bool {
	return Idempotency(fullMethod) == NoSideEffects
}

// ShortMethod strips the service prefix from a full method name.
func ShortMethod(fullMethod string) string {
	if i := strings.LastIndex(fullMethod, "/"); i >= 0 {
		return fullMethod[i+1:]
	}
	return fullMethod
}
