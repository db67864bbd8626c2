package host

import (
	"context"
	"fmt"

	reducerruntime "github.com/driftsync/reducer-runtime"
	"github.com/driftsync/reducer-runtime/errors"
	"github.com/driftsync/reducer-runtime/guest"
	"github.com/driftsync/reducer-runtime/marshal"
)

// fakeMemory is a flat byte slice with bounds checking, standing in for guest
// linear memory.
type fakeMemory struct {
	data []byte
}

func newFakeMemory(size int) *fakeMemory {
	return &fakeMemory{data: make([]byte, size)}
}

func (m *fakeMemory) Read(offset, length uint32) ([]byte, error) {
	end := uint64(offset) + uint64(length)
	if end > uint64(len(m.data)) {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return m.data[offset:end], nil
}

func (m *fakeMemory) Write(offset uint32, data []byte) error {
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(m.data)) {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	copy(m.data[offset:], data)
	return nil
}

// spyAllocator bump-allocates and records every alloc/free pair so tests can
// assert the no-leak invariant across whole invocations.
type spyAllocator struct {
	next   uint32
	live   map[uint32]uint32
	allocs int
	frees  int
}

func newSpyAllocator() *spyAllocator {
	return &spyAllocator{next: 8, live: map[uint32]uint32{}}
}

func (a *spyAllocator) Alloc(size uint32) (uint32, error) {
	ptr := a.next
	a.next += size
	a.live[ptr] = size
	a.allocs++
	return ptr, nil
}

func (a *spyAllocator) Free(ptr, size uint32) {
	if got, ok := a.live[ptr]; !ok || got != size {
		panic(fmt.Sprintf("free of unknown buffer ptr=%d size=%d", ptr, size))
	}
	delete(a.live, ptr)
	a.frees++
}

func (a *spyAllocator) leaked() int { return len(a.live) }

// fakeSandbox runs the real guest shim in-process behind the Sandbox
// interface, standing in for a compiled module. It reproduces the export
// wiring faithfully: payloads are read out of fake linear memory, suspend
// state frames are allocated in it, shim faults become the zero sentinel, and
// the frame from the previous entry is reclaimed on re-entry.
type fakeSandbox struct {
	mem      *fakeMemory
	alloc    *spyAllocator
	shim     *guest.Shim
	outFrame marshal.Buffer
	entries  int
	trapOn   int // entry ordinal that traps; 0 = never
	faultOn  int // entry ordinal that returns the fault sentinel; 0 = never
	closed   bool
}

func newFakeSandbox(r guest.Reducer) *fakeSandbox {
	return &fakeSandbox{
		mem:   newFakeMemory(1 << 20),
		alloc: newSpyAllocator(),
		shim:  guest.NewShim(r),
	}
}

func (f *fakeSandbox) Memory() reducerruntime.Memory       { return f.mem }
func (f *fakeSandbox) Allocator() reducerruntime.Allocator { return f.alloc }

func (f *fakeSandbox) Start(_ context.Context, argsPtr, argsLen uint32) (uint64, error) {
	return f.enter(argsPtr, argsLen, f.shim.Start)
}

func (f *fakeSandbox) Resume(_ context.Context, respPtr, respLen uint32) (uint64, error) {
	return f.enter(respPtr, respLen, f.shim.Resume)
}

func (f *fakeSandbox) enter(ptr, length uint32, run func([]byte) ([]byte, error)) (uint64, error) {
	if f.closed {
		return 0, errors.New(errors.PhaseGuest, errors.KindClosed, "sandbox already closed")
	}

	f.entries++
	if f.trapOn == f.entries {
		return 0, errors.Trap("wasm trap: unreachable", nil)
	}
	if f.faultOn == f.entries {
		return 0, nil
	}

	view, err := f.mem.Read(ptr, length)
	if err != nil {
		return 0, err
	}
	payload := append([]byte(nil), view...)

	frame, err := run(payload)
	if err != nil {
		// The export wiring reports shim faults as the zero sentinel.
		return 0, nil
	}

	f.reclaimFrame()
	fptr, err := f.alloc.Alloc(uint32(len(frame)))
	if err != nil {
		return 0, err
	}
	if err := f.mem.Write(fptr, frame); err != nil {
		return 0, err
	}
	f.outFrame = marshal.Buffer{Ptr: fptr, Len: uint32(len(frame))}
	return reducerruntime.PackBuffer(fptr, uint32(len(frame))), nil
}

func (f *fakeSandbox) reclaimFrame() {
	if f.outFrame.Ptr != 0 {
		f.alloc.Free(f.outFrame.Ptr, f.outFrame.Len)
		f.outFrame = marshal.Buffer{}
	}
}

func (f *fakeSandbox) Close(context.Context) error {
	if !f.closed {
		f.reclaimFrame()
		f.closed = true
	}
	return nil
}

var _ reducerruntime.Sandbox = (*fakeSandbox)(nil)
