package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	wasmcache "github.com/wippyai/wasm-cache"
	"github.com/wippyai/wasm-cache/errors"
)

// WazeroInstance is one gas metered module instance.
type WazeroInstance struct {
	mod api.Module
	env *callEnv
}

// Call invokes an exported function. Gas exhaustion returns an error
// matching errors.ErrOutOfGas; traps and host failures return KindTrap.
func (i *WazeroInstance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if i.mod == nil {
		return nil, errors.Closed(errors.PhaseRuntime, "instance")
	}
	if i.env.meter.exhausted {
		return nil, errors.OutOfGas(i.env.meter.limit)
	}
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.New(errors.PhaseRuntime, errors.KindNotFound).
			Detail("export %q not found", name).
			Build()
	}

	res, err := fn.Call(withCallEnv(ctx, i.env), params...)
	if err != nil {
		if i.env.meter.exhausted {
			return nil, errors.OutOfGas(i.env.meter.limit)
		}
		return nil, errors.Trap(name, err)
	}
	return res, nil
}

// GasLeft implements wasmcache.Instance.
func (i *WazeroInstance) GasLeft() uint64 {
	return i.env.meter.left()
}

// GasUsed implements wasmcache.Instance.
func (i *WazeroInstance) GasUsed() uint64 {
	return i.env.meter.used
}

// Memory implements wasmcache.Instance.
func (i *WazeroInstance) Memory() wasmcache.Memory {
	if i.mod == nil {
		return &WazeroMemory{}
	}
	return &WazeroMemory{mem: i.mod.Memory()}
}

// Close implements wasmcache.Instance.
func (i *WazeroInstance) Close(ctx context.Context) error {
	if i.mod == nil {
		return nil
	}
	err := i.mod.Close(ctx)
	i.mod = nil
	return err
}

// WazeroMemory wraps wazero memory to implement wasmcache.Memory
type WazeroMemory struct {
	mem api.Memory
}

func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	if m.mem == nil {
		return nil, fmt.Errorf("instance has no memory")
	}
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return append([]byte(nil), data...), nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	if m.mem == nil || !m.mem.Write(offset, data) {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *WazeroMemory) ReadU32(offset uint32) (uint32, error) {
	if m.mem == nil {
		return 0, fmt.Errorf("read out of bounds")
	}
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds")
	}
	return val, nil
}

func (m *WazeroMemory) WriteU32(offset uint32, value uint32) error {
	if m.mem == nil || !m.mem.WriteUint32Le(offset, value) {
		return fmt.Errorf("write out of bounds")
	}
	return nil
}

func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

var (
	_ wasmcache.Instance = (*WazeroInstance)(nil)
	_ wasmcache.Memory   = (*WazeroMemory)(nil)
)
