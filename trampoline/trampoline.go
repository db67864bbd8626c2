package trampoline

import (
	"context"
	"fmt"

	"github.com/driftsync/reducer-runtime/errors"
	"github.com/driftsync/reducer-runtime/protocol"
)

// EnterFunc performs one guest entry: marshal the payload in, call the export,
// copy the guest's suspend state frame out. Start receives the invocation
// arguments; resume receives an encoded Response. A returned error is fatal.
type EnterFunc func(ctx context.Context, payload []byte) ([]byte, error)

// ResolveFunc answers one Awaiting request. It is the single place the
// invocation may suspend cooperatively while external work happens. Provider
// failures must be encoded into the Response, not returned: a returned error
// aborts the invocation.
type ResolveFunc func(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

// Trampoline drives one invocation. The loop is strictly sequential: at most
// one request is ever awaiting a response, because the sandbox cannot make
// progress while suspended.
type Trampoline struct {
	start   EnterFunc
	resume  EnterFunc
	resolve ResolveFunc
}

func New(start, resume EnterFunc, resolve ResolveFunc) *Trampoline {
	return &Trampoline{start: start, resume: resume, resolve: resolve}
}

// Run enters the guest and loops until Finished, resolving each Awaiting
// request in turn. Cancellation is checked before every entry; a cancelled
// invocation is never resumed.
func (t *Trampoline) Run(ctx context.Context, args []byte) (*protocol.InvocationResult, error) {
	frame, err := t.start(ctx, args)
	if err != nil {
		return nil, err
	}

	var lastID uint32
	for {
		st, err := protocol.DecodeSuspendState(frame)
		if err != nil {
			return nil, err
		}

		if st.Status == protocol.StatusFinished {
			return st.Result, nil
		}

		req := st.Request
		if req.ID <= lastID {
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindSingleFlight, nil,
				fmt.Sprintf("request id %d does not advance past %d", req.ID, lastID))
		}
		lastID = req.ID

		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.PhaseRuntime, errors.Classify(err), err, "invocation cancelled")
		}

		resp, err := t.resolve(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.ID != req.ID {
			return nil, errors.Wrap(errors.PhaseRuntime, errors.KindSingleFlight, nil,
				fmt.Sprintf("response %d answers request %d", resp.ID, req.ID))
		}

		respBytes, err := protocol.EncodeResponse(resp)
		if err != nil {
			return nil, err
		}

		// A cancelled invocation must be torn down, never resumed.
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(errors.PhaseRuntime, errors.Classify(err), err, "invocation cancelled")
		}

		frame, err = t.resume(ctx, respBytes)
		if err != nil {
			return nil, err
		}
	}
}
