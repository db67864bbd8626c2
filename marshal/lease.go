package marshal

import "sync"

// Lease collects the buffers the host allocated for one guest call so they
// can be released together on every exit path.
type Lease struct {
	m    *Marshaller
	bufs []Buffer
}

var leasePool = sync.Pool{
	New: func() any {
		return &Lease{bufs: make([]Buffer, 0, 4)}
	},
}

const maxPooledLeaseCapacity = 64

// NewLease returns a pooled lease bound to this marshaller.
func (m *Marshaller) NewLease() *Lease {
	l := leasePool.Get().(*Lease)
	l.m = m
	return l
}

// Write allocates and copies like Marshaller.Write and records the buffer for
// release.
func (l *Lease) Write(data []byte) (Buffer, error) {
	buf, err := l.m.Write(data)
	if err != nil {
		return Buffer{}, err
	}
	if buf.Ptr != 0 {
		l.bufs = append(l.bufs, buf)
	}
	return buf, nil
}

// Release frees every recorded buffer and returns the lease to the pool. The
// lease is invalid afterwards. Safe to call exactly once, typically deferred
// right after NewLease.
func (l *Lease) Release() {
	for _, buf := range l.bufs {
		l.m.Free(buf)
	}
	l.m = nil
	// Only pool small leases to keep the pool from hoarding memory.
	if cap(l.bufs) > maxPooledLeaseCapacity {
		return
	}
	l.bufs = l.bufs[:0]
	leasePool.Put(l)
}

// Count reports how many buffers the lease currently tracks.
func (l *Lease) Count() int {
	return len(l.bufs)
}
