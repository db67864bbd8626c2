package host

import (
	"context"

	"github.com/tetratelabs/wazero"

	"github.com/driftsync/reducer-runtime/errors"
)

// Module is a compiled reducer module. One Module can be instantiated many
// times; instances are independent sandboxes with separate linear memories.
type Module struct {
	engine   *Engine
	compiled wazero.CompiledModule
}

// Instantiate creates a fresh sandbox and validates the binary contract: the
// module must export start, resume, alloc and dealloc, plus linear memory. A
// module missing any of them is rejected before the first entry.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	if err := m.engine.initWASI(ctx); err != nil {
		return nil, err
	}

	// Anonymous name so instances of the same module can coexist. Start
	// functions are cleared; reactor initialization runs explicitly below.
	modCfg := wazero.NewModuleConfig().WithName("").WithStartFunctions()

	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, modCfg)
	if err != nil {
		return nil, errors.Instantiation(err)
	}

	// Go and Rust wasip1 reactors export _initialize instead of _start.
	if initFn := mod.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = mod.Close(ctx)
			return nil, errors.Instantiation(err)
		}
	}

	inst, err := newInstance(mod)
	if err != nil {
		_ = mod.Close(ctx)
		return nil, err
	}
	return inst, nil
}

func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}
