package host

import (
	"context"

	"github.com/driftsync/reducer-runtime/protocol"
)

// QueryProvider resolves the queries a suspended reducer is waiting on.
// Resolve runs between guest entries and may block on I/O; the driver
// enforces single-flight, so at most one Resolve per invocation is in
// progress at a time.
//
// A returned error does not abort the invocation: the driver reports it into
// the guest as an error reply, and the reducer decides whether to recover.
// The exception is context cancellation, which tears the invocation down.
type QueryProvider interface {
	Resolve(ctx context.Context, query *protocol.Query) (*protocol.QueryResult, error)
}

// QueryProviderFunc adapts a function to the QueryProvider interface.
type QueryProviderFunc func(ctx context.Context, query *protocol.Query) (*protocol.QueryResult, error)

func (f QueryProviderFunc) Resolve(ctx context.Context, query *protocol.Query) (*protocol.QueryResult, error) {
	return f(ctx, query)
}
