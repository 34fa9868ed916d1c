package engine

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	csound "github.com/jamestiotio/csound"
	csounderrors "github.com/jamestiotio/csound/errors"
)

// Exported primitives the image must provide.
var requiredExports = []string{
	"csoundCreate",
	"csoundStart",
	"csoundStop",
	"csoundReset",
	"csoundPerformKsmps",
	"csoundGetKsmps",
	"csoundGetNchnls",
	"csoundGetNchnlsInput",
	"csoundGet0dBFS",
	"csoundGetSpout",
	"csoundGetSpin",
	"csoundSetOption",
}

// Optional primitives, resolved when present.
var optionalExports = []string{
	"csoundCompileOrc",
	"csoundReadScore",
	"csoundPushMidiMessage",
	"malloc",
	"free",
}

// Plugin is one loadable engine extension: a WASM image instantiated
// into the same runtime before the main module.
type Plugin struct {
	Name  string
	Image []byte
}

// Config holds configuration for engine loading.
type Config struct {
	// Plugins are instantiated before the main image; failures are
	// logged and skipped.
	Plugins []Plugin

	// FS is mounted read-only at the guest root. Nil means an empty
	// filesystem.
	FS *MemFS

	// MessageOutput receives the guest's stdout and stderr. Nil
	// discards them.
	MessageOutput io.Writer

	// MemoryLimitPages caps instance memory in 64KB pages. 0 means the
	// wazero default.
	MemoryLimitPages uint32
}

// WasmEngine implements csound.Engine over a wazero instance of a
// Csound WASM image.
//
// PerformKsmps and the buffer pointer getters run allocation-free on
// pre-resolved functions with a reused call stack. WasmEngine is not
// safe for concurrent use; the render engine serializes access.
type WasmEngine struct {
	runtime wazero.Runtime
	mod     api.Module
	mem     *wazeroMemory
	fs      *MemFS
	log     *zap.Logger

	cs    uint64 // engine handle from csoundCreate
	fns   map[string]api.Function
	stack []uint64 // reused for allocation-free calls

	mu     sync.Mutex
	closed bool
}

// Load compiles and instantiates image and creates one engine
// instance.
func Load(ctx context.Context, image []byte, cfg Config) (*WasmEngine, error) {
	if len(image) == 0 {
		return nil, csounderrors.InvalidInput(csounderrors.PhaseLoad, "empty wasm image")
	}

	rcfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		rcfg = rcfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, rcfg)

	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	log := Logger()
	for _, p := range cfg.Plugins {
		if err := instantiatePlugin(ctx, r, p); err != nil {
			log.Warn("plugin skipped", zap.String("plugin", p.Name), zap.Error(err))
		}
	}

	fsys := cfg.FS
	if fsys == nil {
		fsys = NewMemFS()
	}
	out := cfg.MessageOutput
	if out == nil {
		out = io.Discard
	}

	compiled, err := r.CompileModule(ctx, image)
	if err != nil {
		r.Close(ctx)
		return nil, csounderrors.Load("compile module", err)
	}

	modCfg := wazero.NewModuleConfig().
		WithName("csound").
		WithStdout(out).
		WithStderr(out).
		WithFSConfig(wazero.NewFSConfig().WithFSMount(fsys, "/")).
		WithStartFunctions() // explicit init below

	mod, err := r.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		r.Close(ctx)
		return nil, csounderrors.Load("instantiate module", err)
	}

	// Reactor-style images export _initialize instead of _start.
	if initFn := mod.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			r.Close(ctx)
			return nil, csounderrors.Load("run _initialize", err)
		}
	}

	e := &WasmEngine{
		runtime: r,
		mod:     mod,
		mem:     &wazeroMemory{mem: mod.Memory()},
		fs:      fsys,
		log:     log,
		fns:     make(map[string]api.Function, len(requiredExports)+len(optionalExports)),
		stack:   make([]uint64, 8),
	}

	for _, name := range requiredExports {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			e.Close(ctx)
			return nil, csounderrors.NotFound(csounderrors.PhaseLoad, "export", name)
		}
		e.fns[name] = fn
	}
	for _, name := range optionalExports {
		if fn := mod.ExportedFunction(name); fn != nil {
			e.fns[name] = fn
		}
	}

	cs, err := e.call(ctx, "csoundCreate")
	if err != nil {
		e.Close(ctx)
		return nil, csounderrors.Load("csoundCreate", err)
	}
	e.cs = cs

	return e, nil
}

func instantiatePlugin(ctx context.Context, r wazero.Runtime, p Plugin) error {
	if len(p.Image) == 0 {
		return csounderrors.InvalidInput(csounderrors.PhaseLoad, "empty plugin image")
	}
	mod, err := r.InstantiateWithConfig(ctx, p.Image,
		wazero.NewModuleConfig().WithName(p.Name).WithStartFunctions())
	if err != nil {
		return csounderrors.Load("instantiate plugin", err)
	}
	if initFn := mod.ExportedFunction("csoundModuleInit"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			return csounderrors.Load("csoundModuleInit", err)
		}
	}
	return nil
}

// call invokes a resolved export on the reused stack and returns its
// first result.
func (e *WasmEngine) call(ctx context.Context, name string, args ...uint64) (uint64, error) {
	fn, ok := e.fns[name]
	if !ok {
		return 0, csounderrors.Unsupported(csounderrors.PhaseLoad, name+" not exported by image")
	}
	for i := range e.stack {
		e.stack[i] = 0
	}
	copy(e.stack, args)
	if err := fn.CallWithStack(ctx, e.stack); err != nil {
		return 0, err
	}
	return e.stack[0], nil
}

// withString allocates s (NUL-terminated) in guest memory, invokes fn
// with the pointer, and frees it.
func (e *WasmEngine) withString(ctx context.Context, s string, fn func(ptr uint64) error) error {
	if _, ok := e.fns["malloc"]; !ok {
		return csounderrors.Unsupported(csounderrors.PhaseLoad, "image exports no allocator")
	}
	n := uint64(len(s) + 1)
	ptr, err := e.call(ctx, "malloc", n)
	if err != nil {
		return csounderrors.Wrap(csounderrors.PhaseLoad, csounderrors.KindInstantiation, err, "guest malloc")
	}
	buf := make([]byte, len(s)+1)
	copy(buf, s)
	if !e.mod.Memory().Write(uint32(ptr), buf) {
		return csounderrors.InvalidInput(csounderrors.PhaseLoad, "string write out of bounds")
	}
	err = fn(ptr)
	if _, ok := e.fns["free"]; ok {
		if _, ferr := e.call(ctx, "free", ptr); ferr != nil {
			e.log.Warn("guest free failed", zap.Error(ferr))
		}
	}
	return err
}

func (e *WasmEngine) Start(ctx context.Context) error {
	res, err := e.call(ctx, "csoundStart", e.cs)
	if err != nil {
		return csounderrors.Wrap(csounderrors.PhaseStart, csounderrors.KindInstantiation, err, "csoundStart")
	}
	if int32(res) != 0 {
		return csounderrors.InvalidState(csounderrors.PhaseStart,
			fmt.Sprintf("csoundStart returned %d", int32(res)))
	}
	return nil
}

func (e *WasmEngine) Stop(ctx context.Context) error {
	_, err := e.call(ctx, "csoundStop", e.cs)
	return err
}

func (e *WasmEngine) Reset(ctx context.Context) error {
	_, err := e.call(ctx, "csoundReset", e.cs)
	return err
}

func (e *WasmEngine) SetOption(ctx context.Context, option string) error {
	return e.withString(ctx, option, func(ptr uint64) error {
		res, err := e.call(ctx, "csoundSetOption", e.cs, ptr)
		if err != nil {
			return err
		}
		if int32(res) != 0 {
			return csounderrors.InvalidInput(csounderrors.PhaseStart, "rejected option "+option)
		}
		return nil
	})
}

func (e *WasmEngine) CompileOrc(ctx context.Context, orc string) error {
	return e.withString(ctx, orc, func(ptr uint64) error {
		res, err := e.call(ctx, "csoundCompileOrc", e.cs, ptr)
		if err != nil {
			return err
		}
		if int32(res) != 0 {
			return csounderrors.InvalidInput(csounderrors.PhaseStart,
				fmt.Sprintf("csoundCompileOrc returned %d", int32(res)))
		}
		return nil
	})
}

func (e *WasmEngine) ReadScore(ctx context.Context, sco string) error {
	return e.withString(ctx, sco, func(ptr uint64) error {
		_, err := e.call(ctx, "csoundReadScore", e.cs, ptr)
		return err
	})
}

// PerformKsmps renders one frame. A trap is mapped to -1 so the render
// loop treats it as end of performance instead of unwinding the audio
// callback.
func (e *WasmEngine) PerformKsmps(ctx context.Context) int32 {
	fn := e.fns["csoundPerformKsmps"]
	if fn == nil {
		return -1
	}
	e.stack[0] = e.cs
	if err := fn.CallWithStack(ctx, e.stack[:1]); err != nil {
		e.log.Warn("csoundPerformKsmps trapped", zap.Error(err))
		return -1
	}
	return int32(e.stack[0])
}

func (e *WasmEngine) Ksmps(ctx context.Context) (uint32, error) {
	v, err := e.call(ctx, "csoundGetKsmps", e.cs)
	return uint32(v), err
}

func (e *WasmEngine) Nchnls(ctx context.Context) (uint32, error) {
	v, err := e.call(ctx, "csoundGetNchnls", e.cs)
	return uint32(v), err
}

func (e *WasmEngine) NchnlsInput(ctx context.Context) (uint32, error) {
	v, err := e.call(ctx, "csoundGetNchnlsInput", e.cs)
	return uint32(v), err
}

func (e *WasmEngine) ZeroDBFS(ctx context.Context) (float64, error) {
	v, err := e.call(ctx, "csoundGet0dBFS", e.cs)
	return math.Float64frombits(v), err
}

func (e *WasmEngine) SpoutPtr(ctx context.Context) (uint32, error) {
	v, err := e.call(ctx, "csoundGetSpout", e.cs)
	return uint32(v), err
}

func (e *WasmEngine) SpinPtr(ctx context.Context) (uint32, error) {
	v, err := e.call(ctx, "csoundGetSpin", e.cs)
	return uint32(v), err
}

// PushMIDI forwards one raw MIDI message when the image exports the
// entry point.
func (e *WasmEngine) PushMIDI(ctx context.Context, status, data1, data2 byte) error {
	_, err := e.call(ctx, "csoundPushMidiMessage",
		e.cs, uint64(status), uint64(data1), uint64(data2))
	return err
}

func (e *WasmEngine) Memory() csound.Memory { return e.mem }

// FS returns the engine's virtual filesystem.
func (e *WasmEngine) FS() *MemFS { return e.fs }

func (e *WasmEngine) Close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var firstErr error
	if e.mod != nil {
		if err := e.mod.Close(ctx); err != nil {
			firstErr = err
		}
		e.mod = nil
	}
	if e.runtime != nil {
		if err := e.runtime.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		e.runtime = nil
	}
	e.mem = &wazeroMemory{}
	e.fns = nil
	return firstErr
}

var (
	_ csound.Engine     = (*WasmEngine)(nil)
	_ csound.MIDISink   = (*WasmEngine)(nil)
	_ csound.FileSystem = (*MemFS)(nil)
)
