package cache

import (
	"context"
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-cache/checksum"
)

// memoryTier is an LRU of modules bounded by the sum of their sizes.
// Evicted references are released after the tier lock is dropped so an
// artifact close never runs under the lock.
type memoryTier struct {
	lru      *simplelru.LRU[checksum.Checksum, *Module]
	logger   *zap.Logger
	evicted  []*Module
	capacity uint64
	size     uint64
	closed   bool
	mu       sync.Mutex
}

func newMemoryTier(capacity uint64, logger *zap.Logger) *memoryTier {
	t := &memoryTier{capacity: capacity, logger: logger}
	// entry count is unbounded, size is enforced by insert
	lru, err := simplelru.NewLRU[checksum.Checksum, *Module](math.MaxInt, t.onEvict)
	if err != nil {
		panic(err)
	}
	t.lru = lru
	return t
}

// onEvict runs under mu for every entry leaving the LRU.
func (t *memoryTier) onEvict(sum checksum.Checksum, m *Module) {
	t.size -= m.size
	t.evicted = append(t.evicted, m)
}

// unlock releases mu and then the references evicted while it was held.
func (t *memoryTier) unlock() {
	evicted := t.evicted
	t.evicted = nil
	t.mu.Unlock()
	releaseAll(evicted, t.logger)
}

// get returns a retained module and marks it most recently used, or nil.
func (t *memoryTier) get(sum checksum.Checksum) *Module {
	t.mu.Lock()
	defer t.unlock()
	m, ok := t.lru.Get(sum)
	if !ok {
		return nil
	}
	return m.Retain()
}

// insert takes over the caller's reference in every case. Modules larger
// than the capacity are not admitted, existing entries are kept and nothing
// is admitted once the tier is closed.
func (t *memoryTier) insert(sum checksum.Checksum, m *Module) bool {
	t.mu.Lock()
	defer t.unlock()
	if t.closed || m.size > t.capacity || t.lru.Contains(sum) {
		t.evicted = append(t.evicted, m)
		return false
	}
	t.lru.Add(sum, m)
	t.size += m.size
	for t.size > t.capacity {
		old, _, ok := t.lru.RemoveOldest()
		if !ok {
			break
		}
		t.logger.Debug("evicted module from memory",
			zap.String("checksum", old.Short()),
			zap.Uint64("resident_bytes", t.size))
	}
	return true
}

// take removes sum and hands the tier's reference to the caller, or returns nil.
func (t *memoryTier) take(sum checksum.Checksum) *Module {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.lru.Peek(sum)
	if !ok {
		return nil
	}
	// the callback would queue m for release; keep the reference instead
	t.lru.Remove(sum)
	t.evicted = t.evicted[:len(t.evicted)-1]
	return m
}

func (t *memoryTier) remove(sum checksum.Checksum) {
	t.mu.Lock()
	defer t.unlock()
	t.lru.Remove(sum)
}

// close purges the tier and rejects later inserts.
func (t *memoryTier) close() {
	t.mu.Lock()
	defer t.unlock()
	t.closed = true
	t.lru.Purge()
}

func (t *memoryTier) stats() (n int, size uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lru.Len(), t.size
}

func releaseAll(mods []*Module, logger *zap.Logger) {
	for _, m := range mods {
		if err := m.Release(context.Background()); err != nil {
			logger.Warn("close module", zap.String("checksum", m.checksum.Short()), zap.Error(err))
		}
	}
}
