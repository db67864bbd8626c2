package reducerruntime

import "context"

// Export names a compiled reducer module must provide. These four names and
// their signatures are the binary contract between host and guest; everything
// else crosses the boundary as serialized bytes.
const (
	// ExportStart begins an invocation: start(args_ptr: i32, args_len: i32) -> i64.
	// The i64 result packs (ptr << 32) | len of a serialized suspend state in
	// guest memory. A zero result signals a guest-side fault.
	ExportStart = "start"

	// ExportResume continues a suspended invocation with a serialized
	// response: resume(resp_ptr: i32, resp_len: i32) -> i64. Result packing is
	// identical to start.
	ExportResume = "resume"

	// ExportAlloc allocates guest memory: alloc(size: i32) -> i32. A zero
	// offset means allocation failed.
	ExportAlloc = "alloc"

	// ExportDealloc frees guest memory: dealloc(ptr: i32, size: i32).
	ExportDealloc = "dealloc"
)

// PackBuffer packs a guest memory region into the i64 returned by start and
// resume. PackBuffer(0, 0) is the fault sentinel.
func PackBuffer(ptr, length uint32) uint64 {
	return uint64(ptr)<<32 | uint64(length)
}

// UnpackBuffer splits the packed i64 returned by start and resume.
func UnpackBuffer(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed)
}

// Memory is the host's view of guest linear memory. Implementations must
// treat offsets as untrusted and fail on out-of-bounds access rather than
// panic. The bytes Read returns are only valid until the next guest call;
// callers that retain data must copy it out (the marshaller does).
type Memory interface {
	Read(offset, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
}

// Allocator allocates and frees regions of guest linear memory by calling the
// guest's own exported allocator. The side that allocated a buffer is the
// side that frees it.
type Allocator interface {
	Alloc(size uint32) (uint32, error)
	Free(ptr, size uint32)
}

// Sandbox is one live, instantiated reducer module: its linear memory plus
// the four contract exports. A Sandbox has a single call stack and must never
// be driven by two invocations concurrently; the host driver owns it
// exclusively for an invocation's lifetime.
//
// Start and Resume return the packed (ptr, len) of the guest's serialized
// suspend state. A returned error means the sandbox trapped or was torn down
// and must not be reused.
type Sandbox interface {
	Memory() Memory
	Allocator() Allocator
	Start(ctx context.Context, argsPtr, argsLen uint32) (uint64, error)
	Resume(ctx context.Context, respPtr, respLen uint32) (uint64, error)
	Close(ctx context.Context) error
}
