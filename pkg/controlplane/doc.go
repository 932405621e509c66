// Package controlplane defines the remote control-plane API: the gRPC
// service descriptor, its JSON wire codec, the typed client used by kinds,
// and a reference server over a pluggable Store used by the local emulator
// and by tests.
//
// Every kind exposes Create<K>, Update<K>, Delete<K>, Get<K> and List<K>s.
// Ownership labels live in a separate metadata map keyed by resource TRN,
// read and written with GetMetadata and SetMetadata.
package controlplane
