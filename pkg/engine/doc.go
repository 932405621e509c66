// Package engine provides the reconciliation core of converge.
//
// # Overview
//
// A run converges the remote control plane to the locally declared
// application in three steps:
//
//  1. Plan - every Kind fetches remote state and diffs it against the
//     desired state (Diff), resolving ownership labels along the way
//     (OwnershipResolver).
//  2. Gate - ownership transfers, adoptions of unmanaged resources and
//     deletions of important kinds each require consent (Gate).
//  3. Apply - the Orchestrator walks the fixed Phases list, calling every
//     Kind once per phase. Each phase is a barrier.
//
// # Ownership
//
// Every resource carries an out-of-band label naming the application that
// owns it (OwnerLabelKey). Diff never deletes a resource it does not own:
//
//   - owned by the current application: updated, or deleted when no longer desired
//   - owned by another application: updated only after confirmation (OwnerConflict)
//   - unlabeled: adopted only after confirmation (UnmanagedResource)
//
// # Phases
//
// Services are provided before the gateway that composes them and deleted
// only after it, since the control plane refuses to delete a service the
// gateway still references:
//
//	provide-dependencies -> shed-sub-resources -> update-gateway ->
//	provide-dependents -> delete-dependents -> delete-static-sites ->
//	delete-gateway -> delete-services -> delete-empty-applications
//
// A failure aborts the run. Phases already completed are not rolled back.
//
// # Error Classification
//
// Errors carry an ErrorClass:
//
//   - Transient: network or overload failures, retried by the transport
//   - Cancelled: the operator declined a confirmation; nothing was modified
//   - Validation: malformed configuration, surfaced before any RPC
//   - RemoteRejection: the control plane refused a mutation
//   - Permanent: anything else
package engine
