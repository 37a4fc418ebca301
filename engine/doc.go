// Package engine runs contract bytecode on wazero.
//
// It implements the wasmcache.Engine boundary consumed by the cache:
//
//	WazeroEngine    - owns one wazero.Runtime, the env host module and the native code cache
//	artifact        - a compiled module, shared by every instance created from it
//	WazeroInstance  - one gas metered instance bound to a single call's Backend
//
// # Gas
//
// Every guest function entry costs GasConfig.FunctionCall, charged by a
// function listener attached at compile time. Host imports charge
// GasConfig.HostCall plus GasConfig.PerByte for every byte crossing the
// boundary. When the budget is exhausted the running call is aborted and
// returns an error matching errors.ErrOutOfGas; the instance keeps a zero
// balance and rejects further calls.
//
// # Host imports
//
// The env module provides db_read, db_write, db_remove, db_scan, db_next,
// query_chain, sha1_calculate, debug and abort. Byte buffers are exchanged
// through 12 byte Regions in guest memory:
//
//	offset   u32 little endian, start of the buffer
//	capacity u32 little endian, allocated size
//	length   u32 little endian, used size
//
// Results are written into regions obtained from the guest's allocate export.
//
// # Thread Safety
//
// WazeroEngine is safe for concurrent use, and so are artifacts.
// WazeroInstance is NOT thread-safe and should be used by a single goroutine.
package engine
