package engine

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

const regionSize = 12

// region mirrors the guest's Region struct.
type region struct {
	offset   uint32
	capacity uint32
	length   uint32
}

func readRegion(mem api.Memory, ptr uint32) (region, error) {
	if ptr == 0 {
		return region{}, fmt.Errorf("null region pointer")
	}
	raw, ok := mem.Read(ptr, regionSize)
	if !ok {
		return region{}, fmt.Errorf("region pointer %d out of bounds", ptr)
	}
	r := region{
		offset:   binary.LittleEndian.Uint32(raw[0:]),
		capacity: binary.LittleEndian.Uint32(raw[4:]),
		length:   binary.LittleEndian.Uint32(raw[8:]),
	}
	if r.length > r.capacity {
		return region{}, fmt.Errorf("region length %d exceeds capacity %d", r.length, r.capacity)
	}
	if uint64(r.offset)+uint64(r.capacity) > uint64(mem.Size()) {
		return region{}, fmt.Errorf("region [%d, +%d) out of memory bounds", r.offset, r.capacity)
	}
	return r, nil
}

// readRegionData copies the used bytes of the region at ptr. maxLen bounds
// the accepted length.
func readRegionData(mem api.Memory, ptr uint32, maxLen uint32) ([]byte, error) {
	r, err := readRegion(mem, ptr)
	if err != nil {
		return nil, err
	}
	if r.length > maxLen {
		return nil, fmt.Errorf("region length %d exceeds limit %d", r.length, maxLen)
	}
	data, ok := mem.Read(r.offset, r.length)
	if !ok {
		return nil, fmt.Errorf("region data out of bounds")
	}
	return append([]byte(nil), data...), nil
}

// writeNewRegion asks the guest to allocate a region for data, fills it and
// returns the region pointer.
func writeNewRegion(ctx context.Context, mod api.Module, data []byte) (uint32, error) {
	alloc := mod.ExportedFunction("allocate")
	if alloc == nil {
		return 0, fmt.Errorf("guest does not export allocate")
	}
	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("allocate %d bytes: %w", len(data), err)
	}
	ptr := uint32(res[0])
	mem := mod.Memory()
	r, err := readRegion(mem, ptr)
	if err != nil {
		return 0, err
	}
	if r.capacity < uint32(len(data)) {
		return 0, fmt.Errorf("allocated region capacity %d below %d", r.capacity, len(data))
	}
	if !mem.Write(r.offset, data) {
		return 0, fmt.Errorf("region write out of bounds")
	}
	if !mem.WriteUint32Le(ptr+8, uint32(len(data))) {
		return 0, fmt.Errorf("region length write out of bounds")
	}
	return ptr, nil
}
