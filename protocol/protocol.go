package protocol

import "fmt"

// ValueKind discriminates the typed cell values that appear in query
// parameters, result rows and mutation statements. The kinds mirror SQLite's
// storage classes.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindInteger
	KindReal
	KindText
	KindBlob
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindText:
		return "text"
	case KindBlob:
		return "blob"
	default:
		return fmt.Sprintf("value-kind(%d)", uint8(k))
	}
}

// Value is one typed cell. Exactly the field named by Kind is meaningful;
// the others stay at their zero value and are omitted on the wire.
type Value struct {
	Kind    ValueKind `cbor:"1,keyasint"`
	Integer int64     `cbor:"2,keyasint,omitempty"`
	Real    float64   `cbor:"3,keyasint,omitempty"`
	Text    string    `cbor:"4,keyasint,omitempty"`
	Blob    []byte    `cbor:"5,keyasint,omitempty"`
}

func Null() Value               { return Value{Kind: KindNull} }
func Integer(v int64) Value     { return Value{Kind: KindInteger, Integer: v} }
func Real(v float64) Value      { return Value{Kind: KindReal, Real: v} }
func Text(v string) Value       { return Value{Kind: KindText, Text: v} }
func Blob(v []byte) Value       { return Value{Kind: KindBlob, Blob: v} }
func Bool(v bool) Value {
	if v {
		return Integer(1)
	}
	return Integer(0)
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInteger:
		return fmt.Sprintf("%d", v.Integer)
	case KindReal:
		return fmt.Sprintf("%g", v.Real)
	case KindText:
		return fmt.Sprintf("%q", v.Text)
	case KindBlob:
		return fmt.Sprintf("x'%x'", v.Blob)
	default:
		return v.Kind.String()
	}
}

// Query is a single statement with bound parameters, sent guest to host.
type Query struct {
	SQL    string  `cbor:"1,keyasint"`
	Params []Value `cbor:"2,keyasint,omitempty"`
}

// Row is one ordered sequence of typed cells.
type Row struct {
	Cells []Value `cbor:"1,keyasint,omitempty"`
}

// QueryResult carries ordered rows back to the guest.
type QueryResult struct {
	Columns []string `cbor:"1,keyasint,omitempty"`
	Rows    []Row    `cbor:"2,keyasint,omitempty"`
}

// ErrorReply is a structured failure. It is the only error shape that crosses
// back into the sandbox: the reducer decides whether it is recoverable.
type ErrorReply struct {
	Code    string `cbor:"1,keyasint,omitempty"`
	Message string `cbor:"2,keyasint"`
}

func (e *ErrorReply) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Statement is one mutation to apply, in order, after the invocation
// finishes.
type Statement struct {
	SQL    string  `cbor:"1,keyasint"`
	Params []Value `cbor:"2,keyasint,omitempty"`
}

// Effects is the MutationEffects terminal payload: the ordered list of
// statements a finished invocation wants applied.
type Effects struct {
	Statements []Statement `cbor:"1,keyasint,omitempty"`
}

// Request correlates a guest query with its response. IDs are per-invocation
// monotonic counters starting at 1; the protocol is strictly
// request-then-response, never pipelined.
type Request struct {
	ID    uint32 `cbor:"1,keyasint"`
	Query *Query `cbor:"2,keyasint,omitempty"`
}

// Response answers exactly one Request. Exactly one of Result and Error is
// set.
type Response struct {
	ID     uint32       `cbor:"1,keyasint"`
	Result *QueryResult `cbor:"2,keyasint,omitempty"`
	Error  *ErrorReply  `cbor:"3,keyasint,omitempty"`
}

// Validate checks the one-of invariant.
func (r *Response) Validate() error {
	if (r.Result == nil) == (r.Error == nil) {
		return fmt.Errorf("response %d must carry exactly one of result and error", r.ID)
	}
	return nil
}

// SuspendStatus tags a SuspendState. There are exactly two states; failures
// ride inside the Finished result rather than forming a third state.
type SuspendStatus uint8

const (
	StatusAwaiting SuspendStatus = 1
	StatusFinished SuspendStatus = 2
)

func (s SuspendStatus) String() string {
	switch s {
	case StatusAwaiting:
		return "awaiting"
	case StatusFinished:
		return "finished"
	default:
		return fmt.Sprintf("suspend-status(%d)", uint8(s))
	}
}

// InvocationResult is the terminal payload of a Finished invocation: either
// the effects to apply or a structured failure, never both.
type InvocationResult struct {
	Effects *Effects    `cbor:"1,keyasint,omitempty"`
	Failure *ErrorReply `cbor:"2,keyasint,omitempty"`
}

// SuspendState is the frame every guest entry returns: Awaiting carries the
// request the host must resolve before the next resume, Finished carries the
// terminal result and ends the invocation.
type SuspendState struct {
	Status  SuspendStatus     `cbor:"1,keyasint"`
	Request *Request          `cbor:"2,keyasint,omitempty"`
	Result  *InvocationResult `cbor:"3,keyasint,omitempty"`
}

// Validate checks that the state carries exactly the payload its status
// names.
func (s *SuspendState) Validate() error {
	switch s.Status {
	case StatusAwaiting:
		if s.Request == nil || s.Result != nil {
			return fmt.Errorf("awaiting state must carry a request and no result")
		}
		if s.Request.Query == nil {
			return fmt.Errorf("awaiting request %d carries no query", s.Request.ID)
		}
	case StatusFinished:
		if s.Result == nil || s.Request != nil {
			return fmt.Errorf("finished state must carry a result and no request")
		}
		if (s.Result.Effects == nil) == (s.Result.Failure == nil) {
			return fmt.Errorf("finished result must carry exactly one of effects and failure")
		}
	default:
		return fmt.Errorf("unknown suspend status %d", uint8(s.Status))
	}
	return nil
}

// Awaiting builds a validated awaiting state.
func Awaiting(req *Request) *SuspendState {
	return &SuspendState{Status: StatusAwaiting, Request: req}
}

// Finished builds a finished state carrying effects.
func Finished(effects *Effects) *SuspendState {
	return &SuspendState{Status: StatusFinished, Result: &InvocationResult{Effects: effects}}
}

// Failed builds a finished state carrying a failure.
func Failed(code, message string) *SuspendState {
	return &SuspendState{
		Status: StatusFinished,
		Result: &InvocationResult{Failure: &ErrorReply{Code: code, Message: message}},
	}
}
