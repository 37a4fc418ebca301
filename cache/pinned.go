package cache

import (
	"bytes"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/wippyai/wasm-cache/checksum"
)

type pinnedEntry struct {
	module *Module
	hits   atomic.Uint64
}

// pinnedTier holds modules that are never evicted.
type pinnedTier struct {
	entries map[checksum.Checksum]*pinnedEntry
	size    uint64
	closed  bool
	mu      sync.RWMutex
}

func newPinnedTier() *pinnedTier {
	return &pinnedTier{entries: make(map[checksum.Checksum]*pinnedEntry)}
}

// get returns a retained module and counts the hit, or nil.
func (t *pinnedTier) get(sum checksum.Checksum) *Module {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[sum]
	if !ok {
		return nil
	}
	e.hits.Add(1)
	return e.module.Retain()
}

func (t *pinnedTier) has(sum checksum.Checksum) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[sum]
	return ok
}

// insert takes over the caller's reference. It returns false and leaves
// the reference with the caller when sum is already pinned or the tier was
// drained.
func (t *pinnedTier) insert(sum checksum.Checksum, m *Module) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[sum]; ok || t.closed {
		return false
	}
	t.entries[sum] = &pinnedEntry{module: m}
	t.size += m.size
	return true
}

// remove hands the tier's reference back to the caller, or returns nil.
func (t *pinnedTier) remove(sum checksum.Checksum) *Module {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[sum]
	if !ok {
		return nil
	}
	delete(t.entries, sum)
	t.size -= e.module.size
	return e.module
}

// drain empties the tier for good and returns every reference it held.
func (t *pinnedTier) drain() []*Module {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	out := make([]*Module, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.module)
	}
	t.entries = make(map[checksum.Checksum]*pinnedEntry)
	t.size = 0
	return out
}

func (t *pinnedTier) stats() (n int, size uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries), t.size
}

func (t *pinnedTier) metrics() []PinnedMetric {
	t.mu.RLock()
	out := make([]PinnedMetric, 0, len(t.entries))
	for sum, e := range t.entries {
		out = append(out, PinnedMetric{
			Checksum: sum,
			Hits:     e.hits.Load(),
			Size:     e.module.size,
		})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Checksum[:], out[j].Checksum[:]) < 0
	})
	return out
}
