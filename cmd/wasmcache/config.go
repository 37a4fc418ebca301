package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	wasmcache "github.com/wippyai/wasm-cache"
	"github.com/wippyai/wasm-cache/cache"
	"github.com/wippyai/wasm-cache/capability"
	"github.com/wippyai/wasm-cache/checksum"
)

const (
	baseDirKey             = "base-dir"
	capabilitiesKey        = "capabilities"
	memoryCacheSizeKey     = "memory-cache-size"
	instanceMemoryLimitKey = "instance-memory-limit"
	interpreterKey         = "interpreter"
	logLevelKey            = "log-level"
	configFileKey          = "config"

	envPrefix = "WASMCACHE"
)

// globalOptions are resolved from flags, WASMCACHE_* variables and an
// optional config file, in that order of precedence.
type globalOptions struct {
	v      *viper.Viper
	logger *zap.Logger
}

func defaultBaseDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "wasmcache")
	}
	return ".wasmcache"
}

func (g *globalOptions) addFlags(fs *pflag.FlagSet) {
	fs.String(baseDirKey, defaultBaseDir(), "Cache base directory")
	fs.String(capabilitiesKey, "iterator,staking,stargate", "Available capabilities (comma separated)")
	fs.String(memoryCacheSizeKey, cache.DefaultMemoryCacheSize.String(), "Memory tier capacity, 0 disables it")
	fs.String(instanceMemoryLimitKey, cache.DefaultInstanceMemoryLimit.String(), "Linear memory limit per instance")
	fs.Bool(interpreterKey, false, "Use the wazero interpreter instead of the compiler")
	fs.String(logLevelKey, "warn", "Log level (debug, info, warn, error)")
	fs.String(configFileKey, "", "Config file (yaml, json or toml)")
}

func (g *globalOptions) load(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	if file := v.GetString(configFileKey); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	g.v = v

	logger, err := newLogger(v.GetString(logLevelKey))
	if err != nil {
		return err
	}
	g.logger = logger
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func (g *globalOptions) cacheOptions() (cache.Options, error) {
	opts := cache.DefaultOptions(g.v.GetString(baseDirKey))
	opts.Logger = g.logger
	opts.AvailableCapabilities = capability.FromCSV(g.v.GetString(capabilitiesKey))
	opts.Interpreter = g.v.GetBool(interpreterKey)

	var err error
	if opts.MemoryCacheSize, err = wasmcache.ParseSize(g.v.GetString(memoryCacheSizeKey)); err != nil {
		return opts, fmt.Errorf("%s: %w", memoryCacheSizeKey, err)
	}
	if opts.InstanceMemoryLimit, err = wasmcache.ParseSize(g.v.GetString(instanceMemoryLimitKey)); err != nil {
		return opts, fmt.Errorf("%s: %w", instanceMemoryLimitKey, err)
	}
	return opts, nil
}

// openCache opens the configured cache. The caller must Close it.
func (g *globalOptions) openCache(ctx context.Context) (*cache.Cache, error) {
	opts, err := g.cacheOptions()
	if err != nil {
		return nil, err
	}
	return cache.New(ctx, opts)
}

// withCache runs fn with an open cache and closes it afterwards.
func (g *globalOptions) withCache(ctx context.Context, fn func(*cache.Cache) error) error {
	c, err := g.openCache(ctx)
	if err != nil {
		return err
	}
	defer c.Close(ctx)
	return fn(c)
}

func parseChecksums(args []string) ([]checksum.Checksum, error) {
	out := make([]checksum.Checksum, 0, len(args))
	for _, a := range args {
		sum, err := checksum.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("checksum %q: %w", a, err)
		}
		out = append(out, sum)
	}
	return out, nil
}
