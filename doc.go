// Package wasmcache stores, validates, compiles and caches WebAssembly smart
// contracts for a gas metered virtual machine.
//
// Contracts are addressed by the SHA-256 of their bytecode. Saving a contract
// runs static analysis and a capability gate; running one resolves a compiled
// module through a pinned tier, an in-memory LRU tier and a filesystem tier
// before falling back to compilation.
//
// # Architecture Overview
//
//	wasmcache/           Root package with the Engine, Artifact, Instance and Backend interfaces
//	├── cache/           Coordinator: tiers, pinning, statistics, single-flight compilation
//	├── store/           Filesystem layout for bytecode, reports and compiled artifacts
//	├── engine/          wazero engine with gas metering and contract host functions
//	├── analyzer/        Static analysis of contract bytecode
//	├── capability/      Capability sets and the capability gate
//	├── checksum/        Content address of a contract
//	├── errors/          Structured error types
//	└── cmd/wasmcache/   Operator CLI
//
// # Quick Start
//
//	c, err := cache.New(ctx, cache.DefaultOptions(dir))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close(ctx)
//
//	sum, err := c.Save(code)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inst, err := c.Instantiate(ctx, sum, engine.MockBackend(), wasmcache.InstanceOptions{
//	    GasLimit: 5_000_000,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	res, err := inst.Call(ctx, "execute", 5)
//
// # Host Interface
//
// Contracts import their host functions from the "env" module. Every host
// function charges a fixed cost plus a per-byte cost for the data it moves
// between linear memory and the host:
//
//   - Storage: db_read, db_write, db_remove
//   - Iteration (capability "iterator"): db_scan, db_next
//   - Chain queries: query_chain
//   - Utilities: sha1_calculate, debug, abort
//
// Data crosses the boundary as Regions, 12 byte little endian descriptors of
// offset, capacity and length allocated by the contract's allocate export.
//
// # Error Handling
//
// Operations return *errors.Error carrying a phase, a kind and, where known,
// the checksum involved. Use errors.Is against the sentinels in the errors
// package:
//
//	if errors.Is(err, errors.ErrNotFound) {
//	    // no contract saved under this checksum
//	}
package wasmcache
