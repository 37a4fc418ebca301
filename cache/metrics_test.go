package cache

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/wippyai/wasm-cache/internal/wasmtest"
)

func TestCollector(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, testOptions(t.TempDir(), newFakeEngine()))
	codes := wasmtest.Salted(2)
	a := mustSave(t, c, codes[0])
	b := mustSave(t, c, codes[1])
	if err := c.Pin(ctx, a); err != nil {
		t.Fatal(err)
	}
	mustInstantiate(t, c, a)
	mustInstantiate(t, c, b)
	mustInstantiate(t, c, b)

	collector := NewCollector(c, "wasmvm")
	if n := testutil.CollectAndCount(collector); n != 8 {
		t.Errorf("collected %d metrics, want 8", n)
	}

	expected := `
# HELP wasmvm_cache_hits_memory_total Resolutions served by the memory tier.
# TYPE wasmvm_cache_hits_memory_total counter
wasmvm_cache_hits_memory_total 1
# HELP wasmvm_cache_hits_pinned_total Resolutions served by the pinned tier.
# TYPE wasmvm_cache_hits_pinned_total counter
wasmvm_cache_hits_pinned_total 1
# HELP wasmvm_cache_memory_size_bytes Total size of the memory tier.
# TYPE wasmvm_cache_memory_size_bytes gauge
wasmvm_cache_memory_size_bytes 100
# HELP wasmvm_cache_misses_total Resolutions that compiled from raw bytecode.
# TYPE wasmvm_cache_misses_total counter
wasmvm_cache_misses_total 2
# HELP wasmvm_cache_pinned_elements Modules in the pinned tier.
# TYPE wasmvm_cache_pinned_elements gauge
wasmvm_cache_pinned_elements 1
`
	err := testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"wasmvm_cache_hits_memory_total",
		"wasmvm_cache_hits_pinned_total",
		"wasmvm_cache_memory_size_bytes",
		"wasmvm_cache_misses_total",
		"wasmvm_cache_pinned_elements",
	)
	if err != nil {
		t.Error(err)
	}

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(collector); err != nil {
		t.Fatalf("Register: %v", err)
	}
}
