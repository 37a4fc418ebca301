package testbed

import (
	"context"
	"testing"

	wasmcache "github.com/wippyai/wasm-cache"
)

// writeRegion copies data into a Region allocated by the contract.
func writeRegion(t *testing.T, inst wasmcache.Instance, data []byte) uint64 {
	t.Helper()
	res, err := inst.Call(context.Background(), "allocate", uint64(len(data)))
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	ptr := uint32(res[0])
	mem := inst.Memory()
	offset, err := mem.ReadU32(ptr)
	if err != nil {
		t.Fatal(err)
	}
	if err := mem.Write(offset, data); err != nil {
		t.Fatal(err)
	}
	if err := mem.WriteU32(ptr+8, uint32(len(data))); err != nil {
		t.Fatal(err)
	}
	return uint64(ptr)
}

func readRegion(t *testing.T, inst wasmcache.Instance, ptr uint64) []byte {
	t.Helper()
	mem := inst.Memory()
	offset, err := mem.ReadU32(uint32(ptr))
	if err != nil {
		t.Fatal(err)
	}
	length, err := mem.ReadU32(uint32(ptr) + 8)
	if err != nil {
		t.Fatal(err)
	}
	data, err := mem.Read(offset, length)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
