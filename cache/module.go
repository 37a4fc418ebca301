package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	wasmcache "github.com/wippyai/wasm-cache"
	"github.com/wippyai/wasm-cache/checksum"
)

// Module is a reference counted compiled module. The artifact is closed
// when the last reference is released.
type Module struct {
	artifact wasmcache.Artifact
	refs     atomic.Int64
	size     uint64
	checksum checksum.Checksum
}

// newModule returns a module holding one reference owned by the caller.
func newModule(sum checksum.Checksum, art wasmcache.Artifact) *Module {
	m := &Module{
		artifact: art,
		size:     art.Size(),
		checksum: sum,
	}
	m.refs.Store(1)
	return m
}

func (m *Module) Checksum() checksum.Checksum { return m.checksum }

func (m *Module) Size() uint64 { return m.size }

func (m *Module) Artifact() wasmcache.Artifact { return m.artifact }

// Refs returns the current reference count.
func (m *Module) Refs() int64 { return m.refs.Load() }

// Retain adds a reference and returns m.
func (m *Module) Retain() *Module {
	if m.refs.Add(1) <= 1 {
		panic(fmt.Sprintf("cache: retain of released module %s", m.checksum.Short()))
	}
	return m
}

// Release drops a reference, closing the artifact when none remain.
func (m *Module) Release(ctx context.Context) error {
	switch n := m.refs.Add(-1); {
	case n == 0:
		return m.artifact.Close(ctx)
	case n < 0:
		panic(fmt.Sprintf("cache: module %s released too many times", m.checksum.Short()))
	}
	return nil
}
