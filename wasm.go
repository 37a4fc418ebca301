package wasmcache

import (
	"context"

	units "github.com/docker/go-units"
)

// Engine compiles bytecode into artifacts and runs them.
// Implementations must be safe for concurrent use.
type Engine interface {
	// Version identifies the engine build and target. Compiled artifacts
	// are only reused by an engine reporting the same version.
	Version() string
	Compile(ctx context.Context, code []byte) (Artifact, error)
	// Deserialize restores an artifact produced by Artifact.Serialize.
	Deserialize(ctx context.Context, data []byte) (Artifact, error)
	Instantiate(ctx context.Context, art Artifact, backend Backend, opts InstanceOptions) (Instance, error)
	Close(ctx context.Context) error
}

// Artifact is an immutable compiled module, shareable across instances.
type Artifact interface {
	// Size is the approximate resident size in bytes, used for memory tier accounting.
	Size() uint64
	Serialize() ([]byte, error)
	Close(ctx context.Context) error
}

// Instance is a gas metered execution context. It is not safe for concurrent use.
type Instance interface {
	Call(ctx context.Context, name string, params ...uint64) ([]uint64, error)
	GasLeft() uint64
	GasUsed() uint64
	Memory() Memory
	Close(ctx context.Context) error
}

// Memory represents WASM linear memory
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU32(offset uint32) (uint32, error)
	WriteU32(offset uint32, value uint32) error
	Size() uint32
}

// InstanceOptions bound the resources of one instance.
type InstanceOptions struct {
	GasLimit    uint64
	MemoryLimit Size
	PrintDebug  bool
}

// Backend bundles the host capabilities handed to a single instance.
type Backend struct {
	Storage Storage
	API     API
	Querier Querier
}

// Order is the iteration direction of Storage.Scan.
type Order int32

const (
	Ascending  Order = 1
	Descending Order = 2
)

// Storage is the contract's key-value state.
type Storage interface {
	// Get returns nil without error when the key is absent.
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Remove(key []byte) error
	// Scan opens an iterator over [start, end). Nil bounds are open.
	Scan(start, end []byte, order Order) (uint32, error)
	// Next returns a nil key once the iterator is exhausted.
	Next(iterator uint32) (key, value []byte, err error)
}

// API provides host-side cryptography.
type API interface {
	Sha1Calculate(data []byte) ([20]byte, error)
}

// Querier answers queries to other contracts or chain modules.
type Querier interface {
	QueryRaw(request []byte, gasLimit uint64) ([]byte, error)
}

// Size is a byte count that prints and parses in human-readable form.
// It implements pflag.Value.
type Size uint64

const (
	KiB Size = 1 << 10
	MiB Size = 1 << 20
	GiB Size = 1 << 30
)

// ParseSize parses sizes such as "200MiB", "64mb" or "1048576".
func ParseSize(s string) (Size, error) {
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}
	return Size(n), nil
}

func (s Size) String() string {
	return units.BytesSize(float64(s))
}

func (s *Size) Set(v string) error {
	n, err := ParseSize(v)
	if err != nil {
		return err
	}
	*s = n
	return nil
}

func (s *Size) Type() string {
	return "size"
}
