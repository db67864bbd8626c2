//go:build wasip1

package guest

import (
	"unsafe"

	reducerruntime "github.com/driftsync/reducer-runtime"
)

// Host-allocated buffers are pinned here from alloc until dealloc so the GC
// cannot collect them while the host owns the region.
var hostBuffers = map[uint32][]byte{}

// outFrame pins the most recent suspend state frame until the next entry
// replaces it; the host copies it out immediately after start/resume return.
var outFrame []byte

//go:wasmexport alloc
func guestAlloc(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	buf := make([]byte, size)
	ptr := uint32(uintptr(unsafe.Pointer(&buf[0])))
	hostBuffers[ptr] = buf
	return ptr
}

//go:wasmexport dealloc
func guestDealloc(ptr, size uint32) {
	delete(hostBuffers, ptr)
}

//go:wasmexport start
func guestStart(argsPtr, argsLen uint32) uint64 {
	return enter(func(payload []byte) ([]byte, error) {
		return registered.Start(payload)
	}, argsPtr, argsLen)
}

//go:wasmexport resume
func guestResume(respPtr, respLen uint32) uint64 {
	return enter(func(payload []byte) ([]byte, error) {
		return registered.Resume(payload)
	}, respPtr, respLen)
}

func enter(fn func([]byte) ([]byte, error), ptr, length uint32) uint64 {
	if registered == nil {
		return 0
	}

	// The host wrote the payload into a buffer it obtained from alloc; copy it
	// so the shim's view outlives the host freeing that buffer.
	var payload []byte
	if length > 0 {
		region := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length)
		payload = make([]byte, length)
		copy(payload, region)
	}

	frame, err := fn(payload)
	if err != nil || len(frame) == 0 {
		// Fault sentinel: the host tears the invocation down as fatal.
		outFrame = nil
		return 0
	}

	outFrame = frame
	return reducerruntime.PackBuffer(
		uint32(uintptr(unsafe.Pointer(&frame[0]))),
		uint32(len(frame)),
	)
}
