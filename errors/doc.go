// Package errors provides the structured error type shared by the host-side
// packages. Every error carries the phase it occurred in and a kind that
// classifies it against the invocation error taxonomy: protocol errors,
// sandbox faults and resource errors are fatal and end the invocation;
// provider failures are not represented here at all, because they travel back
// into the sandbox as data.
package errors
