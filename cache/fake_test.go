package cache

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	wasmcache "github.com/wippyai/wasm-cache"
)

const fakeVersion = "fake-1"

var fakeMagic = []byte("FAKE")

// fakeEngine compiles instantly into artifacts of a fixed size and records
// what it was asked to do.
type fakeEngine struct {
	compileErr error
	// block holds compiles of code containing the key until the channel closes
	block map[string]chan struct{}

	mu       sync.Mutex
	lastOpts wasmcache.InstanceOptions

	compiles     atomic.Int64
	entered      atomic.Int64 // compiles started, including blocked ones
	deserializes atomic.Int64
	live         atomic.Int64
	size         uint64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{size: 100, block: map[string]chan struct{}{}}
}

func (e *fakeEngine) Version() string { return fakeVersion }

func (e *fakeEngine) Compile(ctx context.Context, code []byte) (wasmcache.Artifact, error) {
	e.entered.Add(1)
	for key, ch := range e.block {
		if bytes.Contains(code, []byte(key)) {
			<-ch
		}
	}
	e.compiles.Add(1)
	if e.compileErr != nil {
		return nil, e.compileErr
	}
	return e.newArtifact(code), nil
}

func (e *fakeEngine) Deserialize(ctx context.Context, data []byte) (wasmcache.Artifact, error) {
	if !bytes.HasPrefix(data, fakeMagic) {
		return nil, fmt.Errorf("not a fake artifact")
	}
	e.deserializes.Add(1)
	return e.newArtifact(data[len(fakeMagic):]), nil
}

func (e *fakeEngine) newArtifact(code []byte) *fakeArtifact {
	e.live.Add(1)
	return &fakeArtifact{engine: e, code: append([]byte{}, code...), size: e.size}
}

func (e *fakeEngine) Instantiate(ctx context.Context, art wasmcache.Artifact, backend wasmcache.Backend, opts wasmcache.InstanceOptions) (wasmcache.Instance, error) {
	a := art.(*fakeArtifact)
	if a.closed.Load() {
		return nil, fmt.Errorf("artifact is closed")
	}
	e.mu.Lock()
	e.lastOpts = opts
	e.mu.Unlock()
	return &fakeInstance{artifact: a, gas: opts.GasLimit}, nil
}

func (e *fakeEngine) Close(ctx context.Context) error { return nil }

func (e *fakeEngine) options() wasmcache.InstanceOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastOpts
}

type fakeArtifact struct {
	engine *fakeEngine
	code   []byte
	size   uint64
	closed atomic.Bool
}

func (a *fakeArtifact) Size() uint64 { return a.size }

func (a *fakeArtifact) Serialize() ([]byte, error) {
	return append(append([]byte{}, fakeMagic...), a.code...), nil
}

func (a *fakeArtifact) Close(ctx context.Context) error {
	if a.closed.Swap(true) {
		return fmt.Errorf("artifact closed twice")
	}
	a.engine.live.Add(-1)
	return nil
}

type fakeInstance struct {
	artifact *fakeArtifact
	gas      uint64
}

func (i *fakeInstance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if i.artifact.closed.Load() {
		return nil, fmt.Errorf("call on closed artifact")
	}
	return params, nil
}

func (i *fakeInstance) GasLeft() uint64 { return i.gas }

func (i *fakeInstance) GasUsed() uint64 { return 0 }

func (i *fakeInstance) Memory() wasmcache.Memory { return nil }

func (i *fakeInstance) Close(ctx context.Context) error { return nil }
