package engine

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	wasmcache "github.com/wippyai/wasm-cache"
	"github.com/wippyai/wasm-cache/errors"
	"github.com/wippyai/wasm-cache/internal/wasmbin"
)

// WazeroEngine implements wasmcache.Engine using wazero runtime
type WazeroEngine struct {
	runtime   wazero.Runtime
	native    wazero.CompilationCache
	listeners experimental.FunctionListenerFactory
	logger    *zap.Logger
	version   string
	gas       GasConfig
	closeOnce sync.Once
}

// Config holds configuration for engine creation
type Config struct {
	Logger *zap.Logger

	// CacheDir enables wazero's native code cache in this directory.
	// Deserialize is cheap only when it is set.
	CacheDir string

	// MemoryLimit caps the linear memory of every instance in bytes,
	// rounded down to whole pages. 0 means wazero's default (4GiB).
	MemoryLimit uint64

	// Interpreter forces the interpreter instead of the optimizing compiler.
	Interpreter bool

	Gas GasConfig
}

// NewWazeroEngine creates a new engine with the given configuration
func NewWazeroEngine(ctx context.Context, cfg Config) (*WazeroEngine, error) {
	var runtimeCfg wazero.RuntimeConfig
	if cfg.Interpreter {
		runtimeCfg = wazero.NewRuntimeConfigInterpreter()
	} else {
		runtimeCfg = wazero.NewRuntimeConfig()
	}
	runtimeCfg = runtimeCfg.WithCloseOnContextDone(true)

	if cfg.MemoryLimit > 0 {
		pages := cfg.MemoryLimit / wasmbin.PageSize
		if pages == 0 || pages > 65536 {
			return nil, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("memory limit %d bytes is outside [64KiB, 4GiB]", cfg.MemoryLimit))
		}
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(uint32(pages))
	}

	var native wazero.CompilationCache
	if cfg.CacheDir != "" {
		var err error
		native, err = wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, errors.IO(errors.PhaseConfig, "open native code cache", err)
		}
		runtimeCfg = runtimeCfg.WithCompilationCache(native)
	}

	gas := cfg.Gas.withDefaults()
	e := &WazeroEngine{
		runtime:   wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		native:    native,
		listeners: newGasListenerFactory(gas.FunctionCall),
		logger:    loggerOrNop(cfg.Logger),
		version:   buildVersion(cfg.Interpreter),
		gas:       gas,
	}

	if _, err := instantiateEnv(ctx, e.runtime); err != nil {
		_ = e.Close(ctx)
		return nil, errors.New(errors.PhaseConfig, errors.KindInstantiation).
			Detail("instantiate env host module").
			Cause(err).
			Build()
	}

	e.logger.Info("wazero engine ready",
		zap.String("version", e.version),
		zap.Bool("native_cache", native != nil))
	return e, nil
}

// Version implements wasmcache.Engine.
func (e *WazeroEngine) Version() string {
	return e.version
}

// Compile implements wasmcache.Engine.
func (e *WazeroEngine) Compile(ctx context.Context, code []byte) (wasmcache.Artifact, error) {
	return e.compile(ctx, code)
}

func (e *WazeroEngine) compile(ctx context.Context, code []byte) (*artifact, error) {
	// listeners are bound at compile time
	compiled, err := e.runtime.CompileModule(experimental.WithFunctionListenerFactory(ctx, e.listeners), code)
	if err != nil {
		return nil, errors.Compile("", err)
	}
	art := newArtifact(compiled, code)
	e.logger.Debug("compiled module",
		zap.Int("code_size", len(code)),
		zap.Uint32("memory_pages", art.memoryPages))
	return art, nil
}

// payloadMagic prefixes serialized artifacts.
var payloadMagic = []byte("WZA1")

// Deserialize implements wasmcache.Engine. The payload carries the validated
// bytecode; with a native code cache configured wazero skips code generation.
func (e *WazeroEngine) Deserialize(ctx context.Context, data []byte) (wasmcache.Artifact, error) {
	if !bytes.HasPrefix(data, payloadMagic) {
		return nil, errors.New(errors.PhaseCompile, errors.KindInvalidInput).
			Detail("serialized artifact has unknown format").
			Build()
	}
	return e.compile(ctx, data[len(payloadMagic):])
}

// Instantiate implements wasmcache.Engine.
func (e *WazeroEngine) Instantiate(ctx context.Context, art wasmcache.Artifact, backend wasmcache.Backend, opts wasmcache.InstanceOptions) (wasmcache.Instance, error) {
	a, ok := art.(*artifact)
	if !ok {
		return nil, errors.InvalidInput(errors.PhaseInstantiate, fmt.Sprintf("artifact %T was not built by this engine", art))
	}

	initial := uint64(a.memoryPages) * wasmbin.PageSize
	if opts.MemoryLimit > 0 && initial > uint64(opts.MemoryLimit) {
		return nil, errors.Limit(errors.PhaseInstantiate, "initial memory bytes", initial, uint64(opts.MemoryLimit))
	}

	ictx := ctx
	if opts.MemoryLimit > 0 {
		ictx = experimental.WithMemoryAllocator(ctx, limitedAllocator{limit: uint64(opts.MemoryLimit)})
	}
	mod, err := e.runtime.InstantiateModule(ictx, a.compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
	if err != nil {
		return nil, errors.Instantiation("", err)
	}

	return &WazeroInstance{
		mod: mod,
		env: &callEnv{
			backend: backend,
			meter:   &gasMeter{limit: opts.GasLimit},
			gas:     e.gas,
			logger:  e.logger,
			debug:   opts.PrintDebug,
		},
	}, nil
}

// Close implements wasmcache.Engine. Artifacts and instances must not be
// used afterwards.
func (e *WazeroEngine) Close(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		err = e.runtime.Close(ctx)
		if e.native != nil {
			if cerr := e.native.Close(ctx); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

var _ wasmcache.Engine = (*WazeroEngine)(nil)
