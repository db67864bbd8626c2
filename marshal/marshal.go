package marshal

import (
	reducerruntime "github.com/driftsync/reducer-runtime"
	"github.com/driftsync/reducer-runtime/errors"
)

// Buffer describes a region inside guest linear memory. Whoever allocated a
// buffer owns it and is the only side that frees it.
type Buffer struct {
	Ptr uint32
	Len uint32
}

// Marshaller copies bytes in and out of one sandbox's linear memory.
type Marshaller struct {
	mem   reducerruntime.Memory
	alloc reducerruntime.Allocator
}

func New(mem reducerruntime.Memory, alloc reducerruntime.Allocator) *Marshaller {
	return &Marshaller{mem: mem, alloc: alloc}
}

// Write allocates inside guest memory via the guest's exported allocator and
// copies data in. A zero offset from the allocator is a fatal invocation
// error: it signals the module cannot satisfy its own memory contract, and is
// never retried.
func (m *Marshaller) Write(data []byte) (Buffer, error) {
	size := uint32(len(data))
	if size == 0 {
		return Buffer{}, nil
	}

	ptr, err := m.alloc.Alloc(size)
	if err != nil {
		return Buffer{}, errors.Wrap(errors.PhaseMarshal, errors.KindAllocation, err, "guest alloc call")
	}
	if ptr == 0 {
		return Buffer{}, errors.Allocation(size)
	}

	if err := m.mem.Write(ptr, data); err != nil {
		m.alloc.Free(ptr, size)
		return Buffer{}, errors.Wrap(errors.PhaseMarshal, errors.KindInvalidData, err, "copy into guest memory")
	}

	return Buffer{Ptr: ptr, Len: size}, nil
}

// Read copies a guest buffer out into host memory. It never frees: the buffer
// stays owned by whichever side allocated it.
func (m *Marshaller) Read(buf Buffer) ([]byte, error) {
	if buf.Len == 0 {
		return nil, nil
	}
	data, err := m.mem.Read(buf.Ptr, buf.Len)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseMarshal, errors.KindInvalidData, err, "copy out of guest memory")
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Free releases a buffer through the guest's exported deallocator. Only call
// it on buffers this marshaller's Write allocated.
func (m *Marshaller) Free(buf Buffer) {
	if buf.Ptr != 0 {
		m.alloc.Free(buf.Ptr, buf.Len)
	}
}
