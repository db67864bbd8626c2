package host

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	wasi "github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/driftsync/reducer-runtime/errors"
)

const wasiModuleName = "wasi_snapshot_preview1"

// Config holds configuration for engine creation.
type Config struct {
	// MemoryLimitPages caps linear memory per instance in pages (64KiB each).
	// 0 means the wazero default (65536 pages = 4GiB).
	// 256 = 16MiB, 1024 = 64MiB, 4096 = 256MiB
	MemoryLimitPages uint32

	// DisableWASI skips instantiating wasi_snapshot_preview1. Reducers built
	// for wasip1 need it; disable only for freestanding modules.
	DisableWASI bool
}

// Engine owns one wazero runtime. Compiled modules and their instances share
// it; close the engine last.
type Engine struct {
	runtime      wazero.Runtime
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
	disableWASI  bool
}

// NewEngine creates a wazero-backed engine. The runtime is configured to
// interrupt in-flight guest execution when the invocation context is
// cancelled; without that, a looping reducer would outlive its deadline.
func NewEngine(ctx context.Context, cfg *Config) (*Engine, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)

	disableWASI := false
	if cfg != nil {
		if cfg.MemoryLimitPages > 0 {
			runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
		}
		disableWASI = cfg.DisableWASI
	}

	return &Engine{
		runtime:     wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		disableWASI: disableWASI,
	}, nil
}

// Load compiles a reducer module. The four contract exports are validated at
// instantiation time, not here: compilation only proves the bytes are valid
// WebAssembly.
func (e *Engine) Load(ctx context.Context, wasmBytes []byte) (*Module, error) {
	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "compile module")
	}
	return &Module{engine: e, compiled: compiled}, nil
}

func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// initWASI instantiates the WASI singleton for this engine's runtime.
// Safe for concurrent calls from multiple modules sharing the same engine.
func (e *Engine) initWASI(ctx context.Context) error {
	if e.disableWASI || e.wasiInitDone.Load() {
		return nil
	}

	e.wasiInitMu.Lock()
	defer e.wasiInitMu.Unlock()

	if e.wasiInitDone.Load() {
		return nil
	}

	if e.runtime.Module(wasiModuleName) == nil {
		if _, err := wasi.Instantiate(ctx, e.runtime); err != nil {
			return errors.Wrap(errors.PhaseLoad, errors.KindInstantiation, err, "instantiate WASI")
		}
	}

	e.wasiInitDone.Store(true)
	return nil
}
