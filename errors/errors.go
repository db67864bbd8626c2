package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in an invocation the error occurred.
type Phase string

const (
	PhaseLoad     Phase = "load"     // module compilation and instantiation
	PhaseProtocol Phase = "protocol" // wire message encoding/decoding
	PhaseMarshal  Phase = "marshal"  // guest memory transfer
	PhaseGuest    Phase = "guest"    // guest entry/resume execution
	PhaseProvider Phase = "provider" // external query resolution
	PhaseRuntime  Phase = "runtime"  // driver orchestration
)

// Kind categorizes the error.
type Kind string

const (
	KindInvalidData   Kind = "invalid_data"   // undecodable or malformed bytes
	KindTrap          Kind = "trap"           // guest trapped or faulted
	KindAllocation    Kind = "allocation"     // guest allocator returned zero
	KindInstantiation Kind = "instantiation"  // module could not be instantiated
	KindMissingExport Kind = "missing_export" // contract export absent
	KindNotFound      Kind = "not_found"
	KindCanceled      Kind = "canceled"
	KindTimeout       Kind = "timeout"
	KindSingleFlight  Kind = "single_flight" // request/response correlation broken
	KindClosed        Kind = "closed"        // sandbox already torn down
)

// Error is the structured error type used by the host-side packages.
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error's phase and kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// New creates an error with an explicit phase and kind.
func New(phase Phase, kind Kind, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail}
}

// Wrap wraps an existing error with phase, kind and context.
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail, Cause: cause}
}

// Protocol creates a fatal wire-framing error. Protocol errors are never
// retried; retry cannot fix a framing mismatch.
func Protocol(detail string, cause error) *Error {
	return &Error{Phase: PhaseProtocol, Kind: KindInvalidData, Detail: detail, Cause: cause}
}

// Trap creates a fatal sandbox-fault error. The instance that produced it
// must be discarded, never reused.
func Trap(detail string, cause error) *Error {
	return &Error{Phase: PhaseGuest, Kind: KindTrap, Detail: detail, Cause: cause}
}

// Allocation creates a fatal guest allocation failure.
func Allocation(size uint32) *Error {
	return &Error{
		Phase:  PhaseMarshal,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("guest allocator returned null for %d bytes", size),
	}
}

// Instantiation creates a module instantiation error.
func Instantiation(cause error) *Error {
	return &Error{Phase: PhaseLoad, Kind: KindInstantiation, Detail: "instantiate module", Cause: cause}
}

// MissingExport reports a module that does not satisfy the binary contract.
func MissingExport(name string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMissingExport,
		Detail: fmt.Sprintf("module does not export %q", name),
	}
}

// NotFound creates a not-found error.
func NotFound(phase Phase, what, name string) *Error {
	return &Error{Phase: phase, Kind: KindNotFound, Detail: fmt.Sprintf("%s %q not found", what, name)}
}

// IsFatal reports whether err must retire the sandbox instance that produced
// it. Any invocation error qualifies: provider failures re-enter the guest as
// error replies and never surface here, so what does surface is framing
// damage, a trap, an allocation failure or a teardown. Lookup misses are the
// one exception; they say nothing about instance health.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if stderrors.As(err, &e) && e.Kind == KindNotFound {
		return false
	}
	return true
}

// Classify maps an arbitrary error to a Kind, recognizing context
// cancellation and deadline expiry.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, context.Canceled):
		return KindCanceled
	case stderrors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInvalidData
}
