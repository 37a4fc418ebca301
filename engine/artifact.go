package engine

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"

	wasmcache "github.com/wippyai/wasm-cache"
)

// artifact is a compiled module. wazero shares the native code of identical
// modules within a runtime, so several artifacts of one bytecode are cheap.
type artifact struct {
	compiled    wazero.CompiledModule
	code        []byte
	closeOnce   sync.Once
	memoryPages uint32
}

func newArtifact(compiled wazero.CompiledModule, code []byte) *artifact {
	a := &artifact{
		compiled: compiled,
		code:     append([]byte(nil), code...),
	}
	if mem, ok := compiled.ExportedMemories()["memory"]; ok {
		a.memoryPages = mem.Min()
	}
	return a
}

// Size implements wasmcache.Artifact.
func (a *artifact) Size() uint64 {
	return uint64(len(a.code))
}

// Serialize implements wasmcache.Artifact.
func (a *artifact) Serialize() ([]byte, error) {
	out := make([]byte, 0, len(payloadMagic)+len(a.code))
	out = append(out, payloadMagic...)
	return append(out, a.code...), nil
}

// Close implements wasmcache.Artifact.
func (a *artifact) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		err = a.compiled.Close(ctx)
	})
	return err
}

var _ wasmcache.Artifact = (*artifact)(nil)
