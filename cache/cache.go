package cache

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/moby/locker"
	"go.uber.org/zap"

	wasmcache "github.com/wippyai/wasm-cache"
	"github.com/wippyai/wasm-cache/analyzer"
	"github.com/wippyai/wasm-cache/checksum"
	"github.com/wippyai/wasm-cache/engine"
	"github.com/wippyai/wasm-cache/errors"
	"github.com/wippyai/wasm-cache/store"
)

// Cache coordinates the pinned, memory and filesystem tiers. All methods
// are safe for concurrent use.
type Cache struct {
	engine  wasmcache.Engine
	logger  *zap.Logger
	store   *store.Store
	dirLock *flock.Flock
	locks   *locker.Locker
	pinned  *pinnedTier
	memory  *memoryTier
	reports map[checksum.Checksum]*analyzer.Report
	opts    Options
	version string

	counters   counters
	reportsMu  sync.RWMutex
	closeOnce  sync.Once
	closed     atomic.Bool
	ownsEngine bool
}

// New opens the cache rooted at opts.BaseDir.
func New(ctx context.Context, opts Options) (*Cache, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	fl, err := lockBaseDir(opts.BaseDir)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(opts.BaseDir, store.WithLogger(opts.Logger))
	if err != nil {
		_ = fl.Unlock()
		return nil, err
	}

	eng := opts.Engine
	ownsEngine := eng == nil
	if ownsEngine {
		eng, err = engine.NewWazeroEngine(ctx, engine.Config{
			Logger:      opts.Logger,
			CacheDir:    st.NativeCacheDir(),
			MemoryLimit: uint64(opts.InstanceMemoryLimit),
			Interpreter: opts.Interpreter,
			Gas:         opts.Gas,
		})
		if err != nil {
			_ = fl.Unlock()
			return nil, err
		}
	}

	c := &Cache{
		engine:     eng,
		logger:     opts.Logger,
		store:      st,
		dirLock:    fl,
		locks:      locker.New(),
		pinned:     newPinnedTier(),
		memory:     newMemoryTier(uint64(opts.MemoryCacheSize), opts.Logger),
		reports:    make(map[checksum.Checksum]*analyzer.Report),
		opts:       opts,
		version:    eng.Version(),
		ownsEngine: ownsEngine,
	}
	c.logger.Info("cache opened",
		zap.String("base_dir", opts.BaseDir),
		zap.String("engine_version", c.version),
		zap.Stringer("memory_cache_size", opts.MemoryCacheSize),
		zap.Stringer("capabilities", opts.AvailableCapabilities))
	return c, nil
}

// Close unpins everything, empties the memory tier, closes an engine the
// cache created and releases the directory lock. Instances still open keep
// their modules referenced but must not be used once the engine is closed.
func (c *Cache) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		releaseAll(c.pinned.drain(), c.logger)
		c.memory.close()
		if c.ownsEngine {
			err = c.engine.Close(ctx)
		}
		if uerr := c.dirLock.Unlock(); uerr != nil && err == nil {
			err = errors.IO(errors.PhaseConfig, "release directory lock", uerr)
		}
		c.logger.Info("cache closed", zap.String("base_dir", c.opts.BaseDir))
	})
	return err
}

func (c *Cache) checkOpen(phase errors.Phase) error {
	if c.closed.Load() {
		return errors.Closed(phase, "cache")
	}
	return nil
}

// EngineVersion returns the version compiled artifacts are stored under.
func (c *Cache) EngineVersion() string { return c.version }

// Store exposes the filesystem tier for operator tooling.
func (c *Cache) Store() *store.Store { return c.store }

// Save analyzes code, checks its capabilities and persists it. Saving
// known code returns its checksum without any further work. On failure
// nothing is persisted.
func (c *Cache) Save(code []byte) (checksum.Checksum, error) {
	if err := c.checkOpen(errors.PhaseSave); err != nil {
		return checksum.Checksum{}, err
	}
	sum := checksum.Compute(code)
	if c.store.HasRaw(sum) {
		return sum, nil
	}

	report, err := analyzer.Analyze(code, c.opts.AnalyzerConfig)
	if err != nil {
		return checksum.Checksum{}, errors.New(errors.PhaseSave, errors.KindValidation).
			Checksum(sum.String()).
			Detail("analyze module").
			Cause(err).
			Build()
	}
	if missing, ok := analyzer.RequiresSubsetOf(report, c.opts.AvailableCapabilities); !ok {
		return checksum.Checksum{}, errors.NewMissingCapabilitiesError(sum.String(), missing)
	}

	// the raw file marks the checksum as known, so it is written last
	if err := c.store.PutReport(sum, report); err != nil {
		return checksum.Checksum{}, err
	}
	if err := c.store.PutRaw(sum, code); err != nil {
		_ = c.store.RemoveReport(sum)
		return checksum.Checksum{}, err
	}
	c.cacheReport(sum, report)

	c.logger.Debug("saved module",
		zap.String("checksum", sum.Short()),
		zap.Int("size", len(code)),
		zap.Strings("capabilities", report.RequiredCapabilities))
	return sum, nil
}

// Load returns the raw bytecode of sum.
func (c *Cache) Load(sum checksum.Checksum) ([]byte, error) {
	if err := c.checkOpen(errors.PhaseLoad); err != nil {
		return nil, err
	}
	return c.store.GetRaw(sum)
}

// Analyze returns the report of sum without compiling. A missing or
// unreadable report is regenerated from the raw bytecode.
func (c *Cache) Analyze(sum checksum.Checksum) (*analyzer.Report, error) {
	if err := c.checkOpen(errors.PhaseAnalyze); err != nil {
		return nil, err
	}
	c.reportsMu.RLock()
	report, ok := c.reports[sum]
	c.reportsMu.RUnlock()
	if ok {
		return report, nil
	}

	report, err := c.store.GetReport(sum)
	if err != nil {
		if !stderrors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		if report, err = c.regenerateReport(sum); err != nil {
			return nil, err
		}
	}
	c.cacheReport(sum, report)
	return report, nil
}

func (c *Cache) regenerateReport(sum checksum.Checksum) (*analyzer.Report, error) {
	code, err := c.store.GetRaw(sum)
	if err != nil {
		return nil, err
	}
	report, err := analyzer.Analyze(code, c.opts.AnalyzerConfig)
	if err != nil {
		return nil, errors.New(errors.PhaseAnalyze, errors.KindValidation).
			Checksum(sum.String()).
			Detail("reanalyze stored module").
			Cause(err).
			Build()
	}
	if err := c.store.PutReport(sum, report); err != nil {
		c.logger.Warn("cannot persist regenerated report", zap.String("checksum", sum.Short()), zap.Error(err))
	}
	c.logger.Info("regenerated report", zap.String("checksum", sum.Short()))
	return report, nil
}

func (c *Cache) cacheReport(sum checksum.Checksum, r *analyzer.Report) {
	c.reportsMu.Lock()
	c.reports[sum] = r
	c.reportsMu.Unlock()
}

// Pin makes sum resident in the pinned tier. Pinning resolves through the
// memory tier, the filesystem tier or a compile and counts that resolution.
// Pinning a pinned checksum is a no-op.
func (c *Cache) Pin(ctx context.Context, sum checksum.Checksum) error {
	if err := c.checkOpen(errors.PhasePin); err != nil {
		return err
	}
	if c.pinned.has(sum) {
		return nil
	}
	if !c.store.HasRaw(sum) {
		return errors.NotFound(errors.PhasePin, "wasm", sum.String())
	}

	key := sum.String()
	c.locks.Lock(key)
	defer func() { _ = c.locks.Unlock(key) }()

	if c.pinned.has(sum) {
		return nil
	}

	m := c.memory.take(sum)
	if m != nil {
		c.counters.hitsMemory.Add(1)
	} else {
		var err error
		if m, err = c.loadOrCompile(ctx, sum); err != nil {
			return err
		}
	}
	if !c.pinned.insert(sum, m) {
		// Close drained the tier while the module was resolved
		if err := m.Release(ctx); err != nil {
			return err
		}
		return errors.Closed(errors.PhasePin, "cache")
	}

	c.logger.Info("pinned module", zap.String("checksum", sum.Short()), zap.Uint64("size", m.size))
	return nil
}

// Unpin drops sum from the pinned tier. Unpinning an unpinned checksum is
// a no-op. Instances created before keep working.
func (c *Cache) Unpin(ctx context.Context, sum checksum.Checksum) error {
	if err := c.checkOpen(errors.PhasePin); err != nil {
		return err
	}
	m := c.pinned.remove(sum)
	if m == nil {
		return nil
	}
	c.logger.Info("unpinned module", zap.String("checksum", sum.Short()))
	return m.Release(ctx)
}

// Instantiate creates an instance of sum with backend and opts. The memory
// limit in opts is capped at Options.InstanceMemoryLimit.
func (c *Cache) Instantiate(ctx context.Context, sum checksum.Checksum, backend wasmcache.Backend, opts wasmcache.InstanceOptions) (*Instance, error) {
	if err := c.checkOpen(errors.PhaseInstantiate); err != nil {
		return nil, err
	}
	report, err := c.Analyze(sum)
	if err != nil {
		return nil, err
	}
	if missing, ok := analyzer.RequiresSubsetOf(report, c.opts.AvailableCapabilities); !ok {
		return nil, errors.NewMissingCapabilitiesError(sum.String(), missing)
	}

	m, err := c.acquire(ctx, sum)
	if err != nil {
		return nil, err
	}

	if opts.MemoryLimit == 0 || opts.MemoryLimit > c.opts.InstanceMemoryLimit {
		opts.MemoryLimit = c.opts.InstanceMemoryLimit
	}
	inst, err := c.engine.Instantiate(ctx, m.artifact, backend, opts)
	if err != nil {
		_ = m.Release(ctx)
		return nil, withChecksum(err, sum)
	}
	return &Instance{Instance: inst, module: m}, nil
}

// acquire resolves sum to a retained module: pinned, memory, then under the
// per-checksum lock the filesystem tier or a fresh compile.
func (c *Cache) acquire(ctx context.Context, sum checksum.Checksum) (*Module, error) {
	if m := c.pinned.get(sum); m != nil {
		c.counters.hitsPinned.Add(1)
		return m, nil
	}
	if m := c.memory.get(sum); m != nil {
		c.counters.hitsMemory.Add(1)
		return m, nil
	}

	key := sum.String()
	c.locks.Lock(key)
	defer func() { _ = c.locks.Unlock(key) }()

	// a concurrent caller may have resolved sum while we waited
	if m := c.pinned.get(sum); m != nil {
		c.counters.hitsPinned.Add(1)
		return m, nil
	}
	if m := c.memory.get(sum); m != nil {
		c.counters.hitsMemory.Add(1)
		return m, nil
	}

	m, err := c.loadOrCompile(ctx, sum)
	if err != nil {
		return nil, err
	}
	c.memory.insert(sum, m.Retain())
	return m, nil
}

// loadOrCompile returns a module with one reference owned by the caller,
// counting a filesystem hit or a miss. Must be called under the per-checksum lock.
func (c *Cache) loadOrCompile(ctx context.Context, sum checksum.Checksum) (*Module, error) {
	if data, ok := c.store.GetCompiled(sum, c.version); ok {
		art, err := c.engine.Deserialize(ctx, data)
		if err == nil {
			c.counters.hitsFS.Add(1)
			c.logger.Debug("loaded module from filesystem", zap.String("checksum", sum.Short()))
			return newModule(sum, art), nil
		}
		c.logger.Warn("discarding undeserializable module",
			zap.String("checksum", sum.Short()),
			zap.Error(err))
		_ = c.store.RemoveCompiled(sum)
	}

	c.counters.misses.Add(1)
	code, err := c.store.GetRaw(sum)
	if err != nil {
		return nil, err
	}
	art, err := c.engine.Compile(ctx, code)
	if err != nil {
		return nil, withChecksum(err, sum)
	}
	c.logger.Debug("compiled module", zap.String("checksum", sum.Short()), zap.Uint64("size", art.Size()))

	// a lost artifact only costs a recompile later
	if data, err := art.Serialize(); err != nil {
		c.logger.Warn("cannot serialize module", zap.String("checksum", sum.Short()), zap.Error(err))
	} else if err := c.store.PutCompiled(sum, c.version, data); err != nil {
		c.logger.Warn("cannot persist module", zap.String("checksum", sum.Short()), zap.Error(err))
	}
	return newModule(sum, art), nil
}

// withChecksum attributes an engine error to sum.
func withChecksum(err error, sum checksum.Checksum) error {
	var e *errors.Error
	if stderrors.As(err, &e) && e.Checksum == "" {
		e.Checksum = sum.String()
	}
	return err
}

// Remove deletes every trace of sum: pinned and memory entries, the
// compiled artifacts, the report and the raw bytecode.
func (c *Cache) Remove(ctx context.Context, sum checksum.Checksum) error {
	if err := c.checkOpen(errors.PhaseStore); err != nil {
		return err
	}
	key := sum.String()
	c.locks.Lock(key)
	defer func() { _ = c.locks.Unlock(key) }()

	if !c.store.HasRaw(sum) {
		return errors.NotFound(errors.PhaseStore, "wasm", sum.String())
	}
	if m := c.pinned.remove(sum); m != nil {
		_ = m.Release(ctx)
	}
	c.memory.remove(sum)

	c.reportsMu.Lock()
	delete(c.reports, sum)
	c.reportsMu.Unlock()

	if err := c.store.RemoveCompiled(sum); err != nil {
		return err
	}
	if err := c.store.RemoveRaw(sum); err != nil {
		return err
	}
	if err := c.store.RemoveReport(sum); err != nil {
		return err
	}
	c.logger.Info("removed module", zap.String("checksum", sum.Short()))
	return nil
}

// SavedChecksums lists every saved checksum.
func (c *Cache) SavedChecksums() ([]checksum.Checksum, error) {
	if err := c.checkOpen(errors.PhaseLoad); err != nil {
		return nil, err
	}
	return c.store.ListRaw()
}

// IsPinned reports whether sum is in the pinned tier.
func (c *Cache) IsPinned(sum checksum.Checksum) bool {
	return c.pinned.has(sum)
}

// PruneCompiled deletes artifacts built by other engine versions.
func (c *Cache) PruneCompiled() (int, error) {
	if err := c.checkOpen(errors.PhaseStore); err != nil {
		return 0, err
	}
	return c.store.PruneCompiled(c.version)
}

// Stats returns the resolution counters without blocking writers.
func (c *Cache) Stats() Stats {
	return c.counters.snapshot()
}

// Metrics returns the counters together with tier occupancy.
func (c *Cache) Metrics() Metrics {
	m := Metrics{Stats: c.counters.snapshot()}
	m.ElementsPinned, m.SizePinned = c.pinned.stats()
	m.ElementsMemory, m.SizeMemory = c.memory.stats()
	return m
}

// PinnedMetrics returns per-module pinned hits ordered by checksum.
func (c *Cache) PinnedMetrics() []PinnedMetric {
	return c.pinned.metrics()
}
