package marshal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
// assert the no-leak invariant.
type spyAllocator struct {
	next    uint32
	live    map[uint32]uint32
	frees   int
	allocs  int
	failAll bool
}

func newSpyAllocator() *spyAllocator {
	return &spyAllocator{next: 8, live: map[uint32]uint32{}}
}

func (a *spyAllocator) Alloc(size uint32) (uint32, error) {
	if a.failAll {
		return 0, nil
	}
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

func TestWriteRead_RoundTrip(t *testing.T) {
	mem := newFakeMemory(1 << 16)
	alloc := newSpyAllocator()
	m := New(mem, alloc)

	payload := []byte("suspend state frame")
	buf, err := m.Write(payload)
	require.NoError(t, err)
	require.NotZero(t, buf.Ptr)
	assert.Equal(t, uint32(len(payload)), buf.Len)

	got, err := m.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	m.Free(buf)
	assert.Zero(t, alloc.leaked())
}

func TestRead_ReturnsCopy(t *testing.T) {
	mem := newFakeMemory(128)
	m := New(mem, newSpyAllocator())

	buf, err := m.Write([]byte{1, 2, 3})
	require.NoError(t, err)

	got, err := m.Read(buf)
	require.NoError(t, err)

	// Mutating guest memory must not be visible through the copy.
	mem.data[buf.Ptr] = 99
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestWrite_AllocationFailureIsFatal(t *testing.T) {
	alloc := newSpyAllocator()
	alloc.failAll = true
	m := New(newFakeMemory(128), alloc)

	_, err := m.Write([]byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allocation")
	assert.Zero(t, alloc.allocs)
}

func TestWrite_Empty(t *testing.T) {
	alloc := newSpyAllocator()
	m := New(newFakeMemory(128), alloc)

	buf, err := m.Write(nil)
	require.NoError(t, err)
	assert.Zero(t, buf.Ptr)
	assert.Zero(t, alloc.allocs)
}

func TestWrite_CopyFailureFreesBuffer(t *testing.T) {
	// Memory too small for the payload: Write must free what it allocated.
	alloc := newSpyAllocator()
	alloc.next = 120
	m := New(newFakeMemory(128), alloc)

	_, err := m.Write(make([]byte, 64))
	require.Error(t, err)
	assert.Zero(t, alloc.leaked())
}

func TestLease_ReleasesAllBuffers(t *testing.T) {
	alloc := newSpyAllocator()
	m := New(newFakeMemory(1<<16), alloc)

	lease := m.NewLease()
	for i := 0; i < 5; i++ {
		_, err := lease.Write([]byte("payload"))
		require.NoError(t, err)
	}
	assert.Equal(t, 5, lease.Count())

	lease.Release()
	assert.Zero(t, alloc.leaked())
	assert.Equal(t, alloc.allocs, alloc.frees)
}

func TestLease_ReleaseOnErrorPath(t *testing.T) {
	alloc := newSpyAllocator()
	m := New(newFakeMemory(1<<16), alloc)

	err := func() (err error) {
		lease := m.NewLease()
		defer lease.Release()

		if _, err = lease.Write([]byte("first")); err != nil {
			return err
		}
		// Simulated guest trap mid-call.
		return fmt.Errorf("wasm trap: out of bounds memory access")
	}()

	require.Error(t, err)
	assert.Zero(t, alloc.leaked())
}
