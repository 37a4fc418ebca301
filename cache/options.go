package cache

import (
	"fmt"

	"go.uber.org/zap"

	wasmcache "github.com/wippyai/wasm-cache"
	"github.com/wippyai/wasm-cache/analyzer"
	"github.com/wippyai/wasm-cache/capability"
	"github.com/wippyai/wasm-cache/engine"
	"github.com/wippyai/wasm-cache/errors"
)

const (
	DefaultMemoryCacheSize     = 256 * wasmcache.MiB
	DefaultInstanceMemoryLimit = 32 * wasmcache.MiB

	// MaxInstanceMemoryLimit is the 32-bit linear memory ceiling.
	MaxInstanceMemoryLimit = 4 * wasmcache.GiB
)

// Options configures a Cache.
type Options struct {
	// Engine compiles and runs modules. When nil, New builds a wazero
	// engine from Interpreter and Gas and closes it on Close.
	Engine wasmcache.Engine
	Logger *zap.Logger

	// BaseDir holds raw bytecode, reports and compiled artifacts.
	BaseDir string

	// AvailableCapabilities gates Save and Instantiate.
	AvailableCapabilities capability.Set

	AnalyzerConfig analyzer.Config
	Gas            engine.GasConfig

	// MemoryCacheSize bounds the memory tier. Zero disables it.
	MemoryCacheSize wasmcache.Size

	// InstanceMemoryLimit caps the linear memory of every instance.
	InstanceMemoryLimit wasmcache.Size

	Interpreter bool
}

// DefaultOptions returns options with the default sizes and every known
// capability enabled.
func DefaultOptions(baseDir string) Options {
	return Options{
		BaseDir:               baseDir,
		AvailableCapabilities: capability.New(capability.Iterator, capability.Staking, capability.Stargate),
		AnalyzerConfig:        analyzer.DefaultConfig(),
		MemoryCacheSize:       DefaultMemoryCacheSize,
		InstanceMemoryLimit:   DefaultInstanceMemoryLimit,
	}
}

func (o Options) validate() error {
	if o.BaseDir == "" {
		return errors.InvalidInput(errors.PhaseConfig, "base directory is required")
	}
	if o.InstanceMemoryLimit < 64*wasmcache.KiB || o.InstanceMemoryLimit > MaxInstanceMemoryLimit {
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("instance memory limit %s is outside [64KiB, 4GiB]", o.InstanceMemoryLimit))
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.InstanceMemoryLimit == 0 {
		o.InstanceMemoryLimit = DefaultInstanceMemoryLimit
	}
	return o
}
