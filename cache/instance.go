package cache

import (
	"context"
	"sync"

	wasmcache "github.com/wippyai/wasm-cache"
	"github.com/wippyai/wasm-cache/checksum"
)

// Instance is an engine instance that keeps its module alive until Close.
type Instance struct {
	wasmcache.Instance
	module *Module
	once   sync.Once
}

// Checksum returns the address the instance was created from.
func (i *Instance) Checksum() checksum.Checksum {
	return i.module.checksum
}

// Close closes the engine instance and releases the module reference.
// Subsequent calls are no-ops.
func (i *Instance) Close(ctx context.Context) error {
	var err error
	i.once.Do(func() {
		err = i.Instance.Close(ctx)
		if rerr := i.module.Release(ctx); rerr != nil && err == nil {
			err = rerr
		}
	})
	return err
}
