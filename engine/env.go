package engine

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmcache "github.com/wippyai/wasm-cache"
	"github.com/wippyai/wasm-cache/errors"
)

// Upper bounds for buffers read from guest memory.
const (
	MaxKeyLength     = 64 * 1024
	MaxValueLength   = 128 * 1024
	MaxQueryLength   = 64 * 1024
	MaxDebugLength   = 2 * 1024
	MaxHashInputSize = 1024 * 1024
)

const envModule = "env"

var i32 = api.ValueTypeI32

type hostFunc struct {
	fn      api.GoModuleFunc
	params  []api.ValueType
	results []api.ValueType
	name    string
}

func hostFuncs() []hostFunc {
	return []hostFunc{
		{name: "db_read", fn: dbRead, params: []api.ValueType{i32}, results: []api.ValueType{i32}},
		{name: "db_write", fn: dbWrite, params: []api.ValueType{i32, i32}},
		{name: "db_remove", fn: dbRemove, params: []api.ValueType{i32}},
		{name: "db_scan", fn: dbScan, params: []api.ValueType{i32, i32, i32}, results: []api.ValueType{i32}},
		{name: "db_next", fn: dbNext, params: []api.ValueType{i32}, results: []api.ValueType{i32}},
		{name: "query_chain", fn: queryChain, params: []api.ValueType{i32}, results: []api.ValueType{i32}},
		{name: "sha1_calculate", fn: sha1Calculate, params: []api.ValueType{i32}, results: []api.ValueType{i32}},
		{name: "debug", fn: debugPrint, params: []api.ValueType{i32}},
		{name: "abort", fn: abort, params: []api.ValueType{i32}},
	}
}

// instantiateEnv registers the env host module in r.
func instantiateEnv(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	b := r.NewHostModuleBuilder(envModule)
	for _, hf := range hostFuncs() {
		b.NewFunctionBuilder().
			WithGoModuleFunction(hf.fn, hf.params, hf.results).
			WithName(hf.name).
			Export(hf.name)
	}
	return b.Instantiate(ctx)
}

// mustEnv returns the call env or panics; host functions only run inside Instance.Call.
func mustEnv(ctx context.Context) *callEnv {
	env := callEnvFrom(ctx)
	if env == nil {
		panic(fmt.Errorf("host function called outside of an instance call"))
	}
	return env
}

// read copies a region and charges for its bytes.
func (env *callEnv) read(mod api.Module, ptr uint32, maxLen uint32) []byte {
	data, err := readRegionData(mod.Memory(), ptr, maxLen)
	if err != nil {
		panic(err)
	}
	env.meter.charge(env.gas.PerByte * uint64(len(data)))
	return data
}

// write places data in a fresh guest region and charges for its bytes.
func (env *callEnv) write(ctx context.Context, mod api.Module, data []byte) uint32 {
	env.meter.charge(env.gas.PerByte * uint64(len(data)))
	ptr, err := writeNewRegion(ctx, mod, data)
	if err != nil {
		panic(err)
	}
	return ptr
}

func (env *callEnv) storage() wasmcache.Storage {
	if env.backend.Storage == nil {
		panic(fmt.Errorf("no storage backend"))
	}
	return env.backend.Storage
}

func dbRead(ctx context.Context, mod api.Module, stack []uint64) {
	env := mustEnv(ctx)
	env.meter.charge(env.gas.HostCall)
	key := env.read(mod, api.DecodeU32(stack[0]), MaxKeyLength)
	value, err := env.storage().Get(key)
	if err != nil {
		panic(err)
	}
	if value == nil {
		stack[0] = 0
		return
	}
	stack[0] = api.EncodeU32(env.write(ctx, mod, value))
}

func dbWrite(ctx context.Context, mod api.Module, stack []uint64) {
	env := mustEnv(ctx)
	env.meter.charge(env.gas.HostCall)
	key := env.read(mod, api.DecodeU32(stack[0]), MaxKeyLength)
	value := env.read(mod, api.DecodeU32(stack[1]), MaxValueLength)
	if err := env.storage().Set(key, value); err != nil {
		panic(err)
	}
}

func dbRemove(ctx context.Context, mod api.Module, stack []uint64) {
	env := mustEnv(ctx)
	env.meter.charge(env.gas.HostCall)
	key := env.read(mod, api.DecodeU32(stack[0]), MaxKeyLength)
	if err := env.storage().Remove(key); err != nil {
		panic(err)
	}
}

func dbScan(ctx context.Context, mod api.Module, stack []uint64) {
	env := mustEnv(ctx)
	env.meter.charge(env.gas.HostCall)
	var start, end []byte
	if p := api.DecodeU32(stack[0]); p != 0 {
		start = env.read(mod, p, MaxKeyLength)
	}
	if p := api.DecodeU32(stack[1]); p != 0 {
		end = env.read(mod, p, MaxKeyLength)
	}
	order := wasmcache.Order(api.DecodeI32(stack[2]))
	if order != wasmcache.Ascending && order != wasmcache.Descending {
		panic(fmt.Errorf("invalid iteration order %d", order))
	}
	id, err := env.storage().Scan(start, end, order)
	if err != nil {
		panic(err)
	}
	stack[0] = api.EncodeU32(id)
}

// dbNext returns a region holding key || u32be(len key) || value || u32be(len value),
// or 0 when the iterator is exhausted.
func dbNext(ctx context.Context, mod api.Module, stack []uint64) {
	env := mustEnv(ctx)
	env.meter.charge(env.gas.HostCall)
	key, value, err := env.storage().Next(api.DecodeU32(stack[0]))
	if err != nil {
		panic(err)
	}
	if key == nil {
		stack[0] = 0
		return
	}
	stack[0] = api.EncodeU32(env.write(ctx, mod, encodeSections(key, value)))
}

func encodeSections(sections ...[]byte) []byte {
	n := 0
	for _, s := range sections {
		n += len(s) + 4
	}
	out := make([]byte, 0, n)
	for _, s := range sections {
		out = append(out, s...)
		out = binary.BigEndian.AppendUint32(out, uint32(len(s)))
	}
	return out
}

func queryChain(ctx context.Context, mod api.Module, stack []uint64) {
	env := mustEnv(ctx)
	env.meter.charge(env.gas.HostCall)
	if env.backend.Querier == nil {
		panic(fmt.Errorf("no querier backend"))
	}
	req := env.read(mod, api.DecodeU32(stack[0]), MaxQueryLength)
	resp, err := env.backend.Querier.QueryRaw(req, env.meter.left())
	if err != nil {
		panic(err)
	}
	stack[0] = api.EncodeU32(env.write(ctx, mod, resp))
}

func sha1Calculate(ctx context.Context, mod api.Module, stack []uint64) {
	env := mustEnv(ctx)
	env.meter.charge(env.gas.HostCall + env.gas.Sha1)
	if env.backend.API == nil {
		panic(fmt.Errorf("no api backend"))
	}
	data := env.read(mod, api.DecodeU32(stack[0]), MaxHashInputSize)
	sum, err := env.backend.API.Sha1Calculate(data)
	if err != nil {
		panic(err)
	}
	stack[0] = api.EncodeU32(env.write(ctx, mod, sum[:]))
}

func debugPrint(ctx context.Context, mod api.Module, stack []uint64) {
	env := mustEnv(ctx)
	env.meter.charge(env.gas.HostCall)
	if !env.debug {
		return
	}
	msg := env.read(mod, api.DecodeU32(stack[0]), MaxDebugLength)
	env.logger.Debug("contract debug", zap.ByteString("message", msg))
}

func abort(ctx context.Context, mod api.Module, stack []uint64) {
	env := mustEnv(ctx)
	env.meter.charge(env.gas.HostCall)
	msg, err := readRegionData(mod.Memory(), api.DecodeU32(stack[0]), MaxDebugLength)
	if err != nil {
		panic(err)
	}
	panic(errors.New(errors.PhaseHost, errors.KindTrap).
		Detail("contract aborted: %s", msg).
		Build())
}
