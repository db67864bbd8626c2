package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	reducerruntime "github.com/driftsync/reducer-runtime"
	"github.com/driftsync/reducer-runtime/errors"
)

// Instance is a running reducer sandbox.
// It is NOT safe for concurrent use from multiple goroutines: it has a single
// call stack, and the driver owns it exclusively for an invocation's lifetime.
type Instance struct {
	mod      api.Module
	startFn  api.Function
	resumeFn api.Function
	mem      *instanceMemory
	alloc    *instanceAllocator
	stackBuf []uint64
	closed   bool
}

func newInstance(mod api.Module) (*Instance, error) {
	mem := mod.Memory()
	if mem == nil {
		return nil, errors.New(errors.PhaseLoad, errors.KindMissingExport, "module does not export linear memory")
	}

	startFn := mod.ExportedFunction(reducerruntime.ExportStart)
	if startFn == nil {
		return nil, errors.MissingExport(reducerruntime.ExportStart)
	}
	resumeFn := mod.ExportedFunction(reducerruntime.ExportResume)
	if resumeFn == nil {
		return nil, errors.MissingExport(reducerruntime.ExportResume)
	}
	allocFn := mod.ExportedFunction(reducerruntime.ExportAlloc)
	if allocFn == nil {
		return nil, errors.MissingExport(reducerruntime.ExportAlloc)
	}
	deallocFn := mod.ExportedFunction(reducerruntime.ExportDealloc)
	if deallocFn == nil {
		return nil, errors.MissingExport(reducerruntime.ExportDealloc)
	}

	return &Instance{
		mod:      mod,
		startFn:  startFn,
		resumeFn: resumeFn,
		mem:      &instanceMemory{mem: mem},
		alloc: &instanceAllocator{
			allocFn:  allocFn,
			freeFn:   deallocFn,
			stackBuf: make([]uint64, 2),
		},
		stackBuf: make([]uint64, 2),
	}, nil
}

func (i *Instance) Memory() reducerruntime.Memory       { return i.mem }
func (i *Instance) Allocator() reducerruntime.Allocator { return i.alloc }

func (i *Instance) Start(ctx context.Context, argsPtr, argsLen uint32) (uint64, error) {
	return i.call(ctx, i.startFn, reducerruntime.ExportStart, argsPtr, argsLen)
}

func (i *Instance) Resume(ctx context.Context, respPtr, respLen uint32) (uint64, error) {
	return i.call(ctx, i.resumeFn, reducerruntime.ExportResume, respPtr, respLen)
}

func (i *Instance) call(ctx context.Context, fn api.Function, name string, ptr, length uint32) (uint64, error) {
	if i.closed {
		return 0, errors.New(errors.PhaseGuest, errors.KindClosed, "sandbox already closed")
	}

	i.stackBuf[0] = uint64(ptr)
	i.stackBuf[1] = uint64(length)
	if err := fn.CallWithStack(ctx, i.stackBuf[:2]); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, errors.Wrap(errors.PhaseGuest, errors.Classify(ctxErr), err, name+" interrupted")
		}
		return 0, errors.Trap(name, err)
	}
	return i.stackBuf[0], nil
}

func (i *Instance) Close(ctx context.Context) error {
	if i.closed {
		return nil
	}
	i.closed = true
	return i.mod.Close(ctx)
}

// instanceMemory wraps wazero memory to implement reducerruntime.Memory. Read
// returns a view into linear memory, valid only until the next guest call.
type instanceMemory struct {
	mem api.Memory
}

func (m *instanceMemory) Read(offset, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *instanceMemory) Write(offset uint32, data []byte) error {
	if !m.mem.Write(offset, data) {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

// instanceAllocator implements reducerruntime.Allocator over the guest's
// exported alloc/dealloc pair. Calls are short and must succeed even after
// the invocation context is cancelled, so they run on a background context.
type instanceAllocator struct {
	allocFn  api.Function
	freeFn   api.Function
	stackBuf []uint64
	mu       sync.Mutex
}

func (a *instanceAllocator) Alloc(size uint32) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stackBuf[0] = uint64(size)
	if err := a.allocFn.CallWithStack(context.Background(), a.stackBuf[:1]); err != nil {
		return 0, err
	}
	return uint32(a.stackBuf[0]), nil
}

func (a *instanceAllocator) Free(ptr, size uint32) {
	if ptr == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.stackBuf[0] = uint64(ptr)
	a.stackBuf[1] = uint64(size)
	if err := a.freeFn.CallWithStack(context.Background(), a.stackBuf[:2]); err != nil {
		Logger().Warn("Free: guest dealloc call failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("size", size),
			zap.Error(err))
	}
}

// Compile-time check that Instance satisfies the sandbox contract.
var _ reducerruntime.Sandbox = (*Instance)(nil)
