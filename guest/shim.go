package guest

import (
	stderrors "errors"
	"fmt"

	"github.com/driftsync/reducer-runtime/protocol"
)

// Reducer is the deterministic mutation logic a module author writes. It may
// query through tx as often as it needs; every call is one full
// request/response round trip with the host. The returned effects are the
// only thing applied to the database.
type Reducer func(tx *Tx) (*protocol.Effects, error)

// QueryError is how a provider failure surfaces inside the reducer. The
// reducer may recover from it, propagate it, or produce a partial result;
// propagating turns it into the invocation's failure.
type QueryError struct {
	Reply protocol.ErrorReply
}

func (e *QueryError) Error() string {
	return e.Reply.Error()
}

// suspendSignal unwinds the reducer at the first unanswered query. Private to
// the shim; any other panic propagates and traps the sandbox.
type suspendSignal struct{}

// invocation is one run of a reducer from start to Finished: its arguments,
// the journal of responses accumulated across suspend points, and the request
// recorded by the current entry, if any.
type invocation struct {
	args    []byte
	journal []*protocol.Response
	pending *protocol.Request
	cursor  int
}

// Shim adapts a Reducer to the start/resume entry points. One Shim serves one
// invocation at a time; the sandbox has a single call stack, so the host
// never overlaps entries.
type Shim struct {
	reducer Reducer
	inv     *invocation
}

func NewShim(r Reducer) *Shim {
	return &Shim{reducer: r}
}

// Start begins a fresh invocation and runs the reducer until it finishes or
// suspends on its first query. The returned bytes are an encoded suspend
// state frame. A non-nil error means the shim itself cannot uphold the
// protocol; the export wiring turns it into the fault sentinel.
func (s *Shim) Start(args []byte) ([]byte, error) {
	s.inv = &invocation{args: args}
	return s.run()
}

// Resume continues the suspended invocation with the host's response to the
// request the previous entry yielded.
func (s *Shim) Resume(respBytes []byte) ([]byte, error) {
	if s.inv == nil {
		return nil, fmt.Errorf("resume without an active invocation")
	}

	resp, err := protocol.DecodeResponse(respBytes)
	if err != nil {
		return nil, err
	}

	// Strict request/then/response: the only acceptable response answers the
	// request recorded by the previous entry.
	if want := uint32(len(s.inv.journal)) + 1; resp.ID != want {
		return nil, fmt.Errorf("response %d answers no outstanding request (want %d)", resp.ID, want)
	}

	s.inv.journal = append(s.inv.journal, resp)
	return s.run()
}

// run re-invokes the reducer from the top, replaying the journal. Replay is
// exact because the reducer is deterministic and sees identical inputs.
func (s *Shim) run() ([]byte, error) {
	inv := s.inv
	inv.cursor = 0
	inv.pending = nil

	st := s.invokeReducer(inv)
	if st.Status == protocol.StatusFinished {
		s.inv = nil
	}
	return protocol.EncodeSuspendState(st)
}

func (s *Shim) invokeReducer(inv *invocation) (st *protocol.SuspendState) {
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(suspendSignal); ok {
				st = protocol.Awaiting(inv.pending)
				return
			}
			panic(r)
		}
	}()

	effects, err := s.reducer(&Tx{inv: inv})
	if err != nil {
		var reply *protocol.ErrorReply
		if stderrors.As(err, &reply) {
			return protocol.Failed(reply.Code, reply.Message)
		}
		var qe *QueryError
		if stderrors.As(err, &qe) {
			return protocol.Failed(qe.Reply.Code, qe.Reply.Message)
		}
		return protocol.Failed("reducer", err.Error())
	}
	if effects == nil {
		effects = &protocol.Effects{}
	}
	return protocol.Finished(effects)
}

// Tx is the reducer's handle for querying the host-controlled database. It is
// only valid for the duration of one reducer call.
type Tx struct {
	inv *invocation
}

// Args returns the invocation's serialized input arguments.
func (tx *Tx) Args() []byte {
	return tx.inv.args
}

// Query issues one statement and blocks, from the reducer's point of view,
// until the host has resolved it. If the journal already holds the answer
// (this entry is a replay) it returns immediately; otherwise it records the
// request and unwinds so the shim can report Awaiting.
func (tx *Tx) Query(sql string, params ...protocol.Value) (*protocol.QueryResult, error) {
	inv := tx.inv

	if inv.cursor < len(inv.journal) {
		resp := inv.journal[inv.cursor]
		inv.cursor++
		if resp.Error != nil {
			return nil, &QueryError{Reply: *resp.Error}
		}
		return resp.Result, nil
	}

	inv.pending = &protocol.Request{
		ID:    uint32(len(inv.journal)) + 1,
		Query: &protocol.Query{SQL: sql, Params: params},
	}
	panic(suspendSignal{})
}

// registered is the module-level reducer the wasm exports dispatch to.
var registered *Shim

// Register installs the module's reducer behind the start/resume exports.
// Call it once from an init function: a c-shared reactor runs package
// initializers at _initialize time but never calls main.
func Register(r Reducer) {
	registered = NewShim(r)
}
