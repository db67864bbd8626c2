// Package host owns the sandbox side of an invocation: it loads compiled
// reducer modules into a wazero runtime, instantiates them, and drives the
// start/resume exchange as a single context-aware operation.
//
// The driver resolves each Awaiting request through a QueryProvider supplied
// by the caller, marshals the response into guest memory, and re-enters the
// sandbox until the invocation finishes. Everything the driver allocates in
// guest memory is freed before the corresponding entry returns to the caller,
// on success, failure and trap paths alike.
//
// Sandboxes are single-threaded by construction: one instance never serves
// two invocations concurrently. Run concurrent invocations against separate
// instances, or let a Pool hand out exclusive instances and retire the ones
// that fault.
package host
