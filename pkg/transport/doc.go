// Package transport holds the client-side RPC plumbing shared by every kind:
// a retrying unary interceptor, cursor pagination and error classification.
//
// Unavailable and ResourceExhausted are retried for every method. Internal
// is retried only for methods the caller declares idempotent or free of side
// effects, because a request that failed with Internal may still have been
// applied. NotFound on a listing is left to callers (IgnoreNotFound).
package transport
