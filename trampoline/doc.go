// Package trampoline turns the guest's stepwise suspension into a completed
// result. Every guest entry returns exactly one of two states: Awaiting,
// carrying a request the host must resolve before the next resume, or
// Finished, carrying the terminal result. The trampoline re-enters the
// sandbox until Finished.
//
// There is no third state: reducer-level failures ride inside the Finished
// result, while anything that corrupts the sandbox itself (a trap, a memory
// fault, an allocation failure) surfaces as an ordinary Go error that bypasses
// the state machine entirely and ends the invocation.
package trampoline
