package host

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	reducerruntime "github.com/driftsync/reducer-runtime"
	"github.com/driftsync/reducer-runtime/errors"
	"github.com/driftsync/reducer-runtime/marshal"
	"github.com/driftsync/reducer-runtime/protocol"
	"github.com/driftsync/reducer-runtime/trampoline"
)

// Driver runs invocations. It is stateless and safe for concurrent use; all
// per-invocation state lives in the sandbox instance it is handed.
type Driver struct {
	log     *zap.Logger
	timeout time.Duration
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the driver's logger. Defaults to the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Driver) {
		if l != nil {
			d.log = l
		}
	}
}

// WithTimeout bounds each invocation. 0 means no driver-imposed deadline;
// the caller's context still applies.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Driver) {
		d.timeout = timeout
	}
}

func NewDriver(opts ...Option) *Driver {
	d := &Driver{log: Logger()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Invoke runs one invocation against a fresh instance of mod and tears the
// instance down afterwards, whatever the outcome.
func (d *Driver) Invoke(ctx context.Context, mod *Module, args []byte, provider QueryProvider) (*protocol.InvocationResult, error) {
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		return nil, err
	}
	defer inst.Close(context.WithoutCancel(ctx))

	return d.InvokeSandbox(ctx, inst, args, provider)
}

// InvokeSandbox runs one invocation against a caller-owned sandbox: start the
// guest, resolve each query it suspends on, resume, repeat until Finished.
// The caller decides what happens to the sandbox afterwards; on error it must
// be discarded, never reused.
func (d *Driver) InvokeSandbox(ctx context.Context, sb reducerruntime.Sandbox, args []byte, provider QueryProvider) (*protocol.InvocationResult, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	log := d.log.With(zap.String("invocation", uuid.NewString()))
	m := marshal.New(sb.Memory(), sb.Allocator())

	tr := trampoline.New(
		enterFunc(log, m, reducerruntime.ExportStart, sb.Start),
		enterFunc(log, m, reducerruntime.ExportResume, sb.Resume),
		resolveFunc(log, provider),
	)

	res, err := tr.Run(ctx, args)
	if err != nil {
		log.Warn("invocation failed", zap.Error(err))
		return nil, err
	}

	if res.Failure != nil {
		log.Debug("reducer reported failure", zap.String("code", res.Failure.Code))
	} else {
		statements := 0
		if res.Effects != nil {
			statements = len(res.Effects.Statements)
		}
		log.Debug("invocation finished", zap.Int("statements", statements))
	}
	return res, nil
}

// entryCall is the shape of Sandbox.Start and Sandbox.Resume.
type entryCall func(ctx context.Context, ptr, length uint32) (uint64, error)

// enterFunc builds one guest entry: lease a buffer for the payload, call the
// export, copy the suspend state frame out. The lease releases the payload
// buffer on every exit path; the frame buffer is guest-owned and the guest
// reclaims it on its next entry.
func enterFunc(log *zap.Logger, m *marshal.Marshaller, name string, call entryCall) trampoline.EnterFunc {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		lease := m.NewLease()
		defer lease.Release()

		buf, err := lease.Write(payload)
		if err != nil {
			return nil, err
		}

		packed, err := call(ctx, buf.Ptr, buf.Len)
		if err != nil {
			return nil, err
		}
		if packed == 0 {
			return nil, errors.Trap(name+" returned the fault sentinel", nil)
		}

		outPtr, outLen := reducerruntime.UnpackBuffer(packed)
		frame, err := m.Read(marshal.Buffer{Ptr: outPtr, Len: outLen})
		if err != nil {
			return nil, err
		}

		log.Debug("guest entry",
			zap.String("entry", name),
			zap.Int("payload_bytes", len(payload)),
			zap.Int("frame_bytes", len(frame)))
		return frame, nil
	}
}

// resolveFunc adapts a QueryProvider to the trampoline. Provider failures are
// reported into the guest; only context cancellation aborts the invocation.
func resolveFunc(log *zap.Logger, provider QueryProvider) trampoline.ResolveFunc {
	return func(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
		result, err := provider.Resolve(ctx, req.Query)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.Wrap(errors.PhaseProvider, errors.Classify(ctxErr), err, "resolve query")
			}
			log.Debug("query failed, reporting into guest",
				zap.Uint32("request", req.ID),
				zap.Error(err))
			return &protocol.Response{ID: req.ID, Error: errorReply(err)}, nil
		}
		if result == nil {
			result = &protocol.QueryResult{}
		}
		return &protocol.Response{ID: req.ID, Result: result}, nil
	}
}

func errorReply(err error) *protocol.ErrorReply {
	var reply *protocol.ErrorReply
	if stderrors.As(err, &reply) {
		return reply
	}
	return &protocol.ErrorReply{Code: "provider_error", Message: err.Error()}
}
