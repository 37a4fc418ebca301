package cache

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-cache/checksum"
)

func sized(e *fakeEngine, name string, size uint64) *Module {
	art := e.newArtifact([]byte(name))
	art.size = size
	return newModule(checksum.Compute([]byte(name)), art)
}

func TestModule_Refcount(t *testing.T) {
	ctx := context.Background()
	eng := newFakeEngine()
	m := sized(eng, "a", 10)

	m.Retain()
	if m.Refs() != 2 {
		t.Fatalf("Refs = %d", m.Refs())
	}
	if err := m.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if eng.live.Load() != 1 {
		t.Fatal("artifact closed while referenced")
	}
	if err := m.Release(ctx); err != nil {
		t.Fatal(err)
	}
	if eng.live.Load() != 0 {
		t.Fatal("artifact not closed after last release")
	}

	misuse := []struct {
		name string
		fn   func()
	}{
		{"release", func() { _ = m.Release(ctx) }},
		{"retain", func() { m.Retain() }},
	}
	for _, tc := range misuse {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%s of released module did not panic", tc.name)
				}
			}()
			tc.fn()
		}()
	}
}

func TestMemoryTier_LRU(t *testing.T) {
	eng := newFakeEngine()
	tier := newMemoryTier(100, zap.NewNop())
	a, b, c := sized(eng, "a", 40), sized(eng, "b", 40), sized(eng, "c", 40)

	tier.insert(a.checksum, a)
	tier.insert(b.checksum, b)

	got := tier.get(a.checksum)
	if got != a {
		t.Fatal("get(a) missed")
	}
	_ = got.Release(context.Background())

	tier.insert(c.checksum, c)
	if n, size := tier.stats(); n != 2 || size != 80 {
		t.Errorf("stats = %d, %d", n, size)
	}
	if tier.get(b.checksum) != nil {
		t.Error("b should have been evicted as least recently used")
	}
	if eng.live.Load() != 2 {
		t.Errorf("live = %d, evicted artifact not closed", eng.live.Load())
	}
}

func TestMemoryTier_EvictsUntilWithinCapacity(t *testing.T) {
	eng := newFakeEngine()
	tier := newMemoryTier(100, zap.NewNop())
	for _, name := range []string{"a", "b", "c", "d"} {
		m := sized(eng, name, 25)
		tier.insert(m.checksum, m)
	}
	big := sized(eng, "big", 90)
	if !tier.insert(big.checksum, big) {
		t.Fatal("big not admitted")
	}
	if n, size := tier.stats(); n != 1 || size != 90 {
		t.Errorf("stats = %d, %d", n, size)
	}
	if eng.live.Load() != 1 {
		t.Errorf("live = %d", eng.live.Load())
	}
}

func TestMemoryTier_Admission(t *testing.T) {
	eng := newFakeEngine()

	disabled := newMemoryTier(0, zap.NewNop())
	m := sized(eng, "a", 1)
	if disabled.insert(m.checksum, m) {
		t.Error("disabled tier admitted a module")
	}

	tier := newMemoryTier(100, zap.NewNop())
	huge := sized(eng, "huge", 101)
	if tier.insert(huge.checksum, huge) {
		t.Error("oversized module admitted")
	}

	first := sized(eng, "dup", 10)
	second := sized(eng, "dup", 10)
	tier.insert(first.checksum, first)
	if tier.insert(second.checksum, second) {
		t.Error("duplicate admitted")
	}
	if n, size := tier.stats(); n != 1 || size != 10 {
		t.Errorf("stats = %d, %d", n, size)
	}
	if eng.live.Load() != 1 {
		t.Errorf("live = %d, rejected modules must be released", eng.live.Load())
	}
}

func TestMemoryTier_TakeKeepsReference(t *testing.T) {
	eng := newFakeEngine()
	tier := newMemoryTier(100, zap.NewNop())
	m := sized(eng, "a", 10)
	tier.insert(m.checksum, m)

	got := tier.take(m.checksum)
	if got != m {
		t.Fatal("take missed")
	}
	if eng.live.Load() != 1 || m.Refs() != 1 {
		t.Errorf("live = %d, refs = %d", eng.live.Load(), m.Refs())
	}
	if n, size := tier.stats(); n != 0 || size != 0 {
		t.Errorf("stats = %d, %d", n, size)
	}
	if tier.take(m.checksum) != nil {
		t.Error("second take returned a module")
	}

	tier.insert(m.checksum, m)
	tier.close()
	if eng.live.Load() != 0 {
		t.Error("close did not release")
	}
}

func TestMemoryTier_InsertAfterClose(t *testing.T) {
	eng := newFakeEngine()
	tier := newMemoryTier(1000, zap.NewNop())
	tier.close()

	m := sized(eng, "late", 10)
	if tier.insert(m.checksum, m) {
		t.Error("closed tier admitted a module")
	}
	if eng.live.Load() != 0 {
		t.Error("rejected module was not released")
	}
	if n, size := tier.stats(); n != 0 || size != 0 {
		t.Errorf("stats = %d, %d", n, size)
	}
}

func TestPinnedTier(t *testing.T) {
	eng := newFakeEngine()
	tier := newPinnedTier()
	a := sized(eng, "a", 30)

	if !tier.insert(a.checksum, a) {
		t.Fatal("insert failed")
	}
	if tier.insert(a.checksum, a) {
		t.Error("second insert succeeded")
	}
	for i := 0; i < 2; i++ {
		if got := tier.get(a.checksum); got != a {
			t.Fatal("get missed")
		}
		_ = a.Release(context.Background())
	}
	metrics := tier.metrics()
	if len(metrics) != 1 || metrics[0].Hits != 2 || metrics[0].Size != 30 {
		t.Errorf("metrics = %+v", metrics)
	}

	if tier.remove(a.checksum) != a {
		t.Error("remove returned wrong module")
	}
	if n, size := tier.stats(); n != 0 || size != 0 {
		t.Errorf("stats = %d, %d", n, size)
	}
	if tier.get(a.checksum) != nil || tier.remove(a.checksum) != nil {
		t.Error("removed entry still present")
	}

	tier.drain()
	if tier.insert(a.checksum, a) {
		t.Error("drained tier admitted a module")
	}
	if a.Refs() != 1 {
		t.Errorf("Refs = %d, rejected insert must leave the reference with the caller", a.Refs())
	}
}
