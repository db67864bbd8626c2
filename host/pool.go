package host

import (
	"context"
	"sync"

	reducerruntime "github.com/driftsync/reducer-runtime"
	"github.com/driftsync/reducer-runtime/errors"
	"github.com/driftsync/reducer-runtime/protocol"
)

// Factory instantiates a fresh sandbox.
type Factory func(ctx context.Context) (reducerruntime.Sandbox, error)

// Pool hands out exclusive sandbox instances and recycles the healthy ones.
// An instance that produced a fatal error is retired: a trapped or
// protocol-violating sandbox is never repaired in place, a fresh
// instantiation replaces it.
type Pool struct {
	factory Factory
	mu      sync.Mutex
	idle    []reducerruntime.Sandbox
	maxIdle int
	closed  bool
}

// NewPool creates a pool over a compiled module, keeping at most maxIdle
// instances warm.
func NewPool(mod *Module, maxIdle int) *Pool {
	return NewPoolWith(func(ctx context.Context) (reducerruntime.Sandbox, error) {
		return mod.Instantiate(ctx)
	}, maxIdle)
}

// NewPoolWith creates a pool over an arbitrary sandbox factory.
func NewPoolWith(factory Factory, maxIdle int) *Pool {
	if maxIdle <= 0 {
		maxIdle = 4
	}
	return &Pool{factory: factory, maxIdle: maxIdle}
}

// Get returns an idle instance or instantiates a new one. The caller owns it
// exclusively until Put.
func (p *Pool) Get(ctx context.Context) (reducerruntime.Sandbox, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New(errors.PhaseRuntime, errors.KindClosed, "pool closed")
	}
	if n := len(p.idle); n > 0 {
		sb := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return sb, nil
	}
	p.mu.Unlock()

	return p.factory(ctx)
}

// Put returns an instance after an invocation. healthy=false closes it
// instead of recycling; so does a full or closed pool.
func (p *Pool) Put(sb reducerruntime.Sandbox, healthy bool) {
	if sb == nil {
		return
	}
	if !healthy {
		_ = sb.Close(context.Background())
		return
	}

	p.mu.Lock()
	if !p.closed && len(p.idle) < p.maxIdle {
		p.idle = append(p.idle, sb)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	_ = sb.Close(context.Background())
}

// Close retires every idle instance. Instances currently out via Get are the
// callers' to close.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()

	var firstErr error
	for _, sb := range idle {
		if err := sb.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// InvokePooled runs one invocation on an instance borrowed from the pool.
// The instance goes back only if the invocation produced no fatal error; a
// reducer-reported failure still returns a healthy instance.
func (d *Driver) InvokePooled(ctx context.Context, pool *Pool, args []byte, provider QueryProvider) (*protocol.InvocationResult, error) {
	sb, err := pool.Get(ctx)
	if err != nil {
		return nil, err
	}

	res, err := d.InvokeSandbox(ctx, sb, args, provider)
	pool.Put(sb, !errors.IsFatal(err))
	return res, err
}
