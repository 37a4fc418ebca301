package wasmtest

import (
	"strconv"
)

// HostImports lists the env imports a contract may declare with their signatures.
var HostImports = map[string]struct{ Params, Results []byte }{
	"db_read":        {[]byte{I32}, []byte{I32}},
	"db_write":       {[]byte{I32, I32}, nil},
	"db_remove":      {[]byte{I32}, nil},
	"db_scan":        {[]byte{I32, I32, I32}, []byte{I32}},
	"db_next":        {[]byte{I32}, []byte{I32}},
	"query_chain":    {[]byte{I32}, []byte{I32}},
	"sha1_calculate": {[]byte{I32}, []byte{I32}},
	"debug":          {[]byte{I32}, nil},
	"abort":          {[]byte{I32}, nil},
}

// ContractOptions shapes the module produced by Contract.
type ContractOptions struct {
	// MigrateVersion emits a cw_migrate_version custom section.
	MigrateVersion *uint64
	// Salt is stored in a custom section so otherwise equal contracts get
	// distinct checksums.
	Salt string
	// InterfaceVersion overrides the interface_version_8 marker export.
	InterfaceVersion string
	// Imports names env host functions to import, in order.
	Imports []string
	// Capabilities adds a requires_<name> marker export per entry.
	Capabilities []string
	// Omit drops exports with these names.
	Omit []string
	// MemoryPages is the initial memory size, default 17.
	MemoryPages uint32
	// IBC exports the six ibc entry points.
	IBC bool
	// NoMemory builds the contract without a memory section.
	NoMemory bool
	// Passthrough exports call_<import> for every import, forwarding its
	// parameters and result unchanged.
	Passthrough bool
}

// Contract function exports and their calling conventions:
//
//	allocate(size i32) -> i32       bump allocates a Region with capacity size
//	deallocate(ptr i32)             no-op
//	instantiate() -> i32            returns 0
//	execute(n i32) -> i32           calls an internal function n times, returns n
//	query() -> i32                  returns 0
//	call_<import>(...)              forwards to the import, with Passthrough
//
// The bump pointer lives in a mutable global starting at 1024.
func Contract(opts ContractOptions) []byte {
	b := NewBuilder()

	type imported struct {
		name            string
		params, results []byte
		index           uint32
	}
	var imports []imported
	for _, name := range opts.Imports {
		sig, ok := HostImports[name]
		if !ok {
			sig.Params = []byte{I32}
		}
		idx := b.ImportFunc("env", name, sig.Params, sig.Results)
		imports = append(imports, imported{name: name, params: sig.Params, results: sig.Results, index: idx})
	}

	omitted := make(map[string]bool, len(opts.Omit))
	for _, n := range opts.Omit {
		omitted[n] = true
	}
	exportFunc := func(name string, idx uint32) {
		if !omitted[name] {
			b.ExportFunc(name, idx)
		}
	}

	heap := b.GlobalI32(1024, true)
	if !opts.NoMemory {
		pages := opts.MemoryPages
		if pages == 0 {
			pages = 17
		}
		mem := b.Memory(pages, nil)
		if !omitted["memory"] {
			b.ExportMemory("memory", mem)
		}
	}

	// allocate(size) -> region
	allocate := b.Func([]byte{I32}, []byte{I32}, []byte{I32},
		GlobalGet(heap), LocalSet(1),
		LocalGet(1), LocalGet(1), I32Const(12), Op(OpI32Add), I32Store(0),
		LocalGet(1), LocalGet(0), I32Store(4),
		LocalGet(1), I32Const(0), I32Store(8),
		LocalGet(1), I32Const(12), Op(OpI32Add), LocalGet(0), Op(OpI32Add), GlobalSet(heap),
		LocalGet(1),
	)
	exportFunc("allocate", allocate)
	exportFunc("deallocate", b.Func([]byte{I32}, nil, nil))

	marker := opts.InterfaceVersion
	if marker == "" {
		marker = "interface_version_8"
	}
	nop := b.Func(nil, nil, nil)
	exportFunc(marker, nop)
	for _, c := range opts.Capabilities {
		exportFunc("requires_"+c, nop)
	}

	exportFunc("instantiate", b.Func(nil, []byte{I32}, nil, I32Const(0)))

	tick := b.Func(nil, nil, nil)
	exportFunc("execute", b.Func([]byte{I32}, []byte{I32}, []byte{I32},
		LocalGet(0), LocalSet(1),
		Op(OpBlock, BlockVoid),
		Op(OpLoop, BlockVoid),
		LocalGet(0), Op(OpI32Eqz), BrIf(1),
		Call(tick),
		LocalGet(0), I32Const(1), Op(OpI32Sub), LocalSet(0),
		Br(0),
		Op(OpEnd),
		Op(OpEnd),
		LocalGet(1),
	))
	exportFunc("query", b.Func(nil, []byte{I32}, nil, I32Const(0)))

	if opts.Passthrough {
		for _, imp := range imports {
			var code [][]byte
			for i := range imp.params {
				code = append(code, LocalGet(uint32(i)))
			}
			code = append(code, Call(imp.index))
			exportFunc("call_"+imp.name, b.Func(imp.params, imp.results, nil, code...))
		}
	}

	if opts.IBC {
		for _, name := range IBCEntryPoints {
			exportFunc(name, nop)
		}
	}

	if opts.MigrateVersion != nil {
		b.Custom("cw_migrate_version", []byte(strconv.FormatUint(*opts.MigrateVersion, 10)))
	}
	if opts.Salt != "" {
		b.Custom("salt", []byte(opts.Salt))
	}
	return b.Bytes()
}

// IBCEntryPoints are the exports that together mark an IBC enabled contract.
var IBCEntryPoints = []string{
	"ibc_channel_open",
	"ibc_channel_connect",
	"ibc_channel_close",
	"ibc_packet_receive",
	"ibc_packet_ack",
	"ibc_packet_timeout",
}

// Salted returns n distinct valid contracts.
func Salted(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = Contract(ContractOptions{Salt: strconv.Itoa(i)})
	}
	return out
}
