package engine

import (
	"context"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"runtime"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	wasmcache "github.com/wippyai/wasm-cache"
	wcerrors "github.com/wippyai/wasm-cache/errors"
	"github.com/wippyai/wasm-cache/internal/wasmtest"
)

const testGas = 1_000_000

func newTestEngine(t *testing.T, cfg Config) *WazeroEngine {
	t.Helper()
	ctx := context.Background()
	e, err := NewWazeroEngine(ctx, cfg)
	if err != nil {
		t.Fatalf("NewWazeroEngine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

func instantiate(t *testing.T, e *WazeroEngine, code []byte, backend wasmcache.Backend, opts wasmcache.InstanceOptions) wasmcache.Instance {
	t.Helper()
	ctx := context.Background()
	art, err := e.Compile(ctx, code)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	t.Cleanup(func() { _ = art.Close(ctx) })
	inst, err := e.Instantiate(ctx, art, backend, opts)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	t.Cleanup(func() { _ = inst.Close(ctx) })
	return inst
}

func TestNewWazeroEngine(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"default config", Config{}},
		{"interpreter", Config{Interpreter: true}},
		{"64MiB limit", Config{MemoryLimit: 64 << 20}},
		{"native cache", Config{CacheDir: t.TempDir()}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newTestEngine(t, tc.cfg)
			if e.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
		})
	}
}

func TestNewWazeroEngine_InvalidMemoryLimit(t *testing.T) {
	_, err := NewWazeroEngine(context.Background(), Config{MemoryLimit: 100})
	if !errors.Is(err, wcerrors.ErrInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestWazeroEngine_Version(t *testing.T) {
	v := newTestEngine(t, Config{}).Version()
	for _, part := range []string{"wazero-", runtime.GOOS, runtime.GOARCH, "-auto-", "gas1"} {
		if !strings.Contains(v, part) {
			t.Errorf("version %q does not contain %q", v, part)
		}
	}
	if iv := newTestEngine(t, Config{Interpreter: true}).Version(); iv == v {
		t.Error("interpreter and compiler must report different versions")
	}
}

func TestWazeroEngine_CloseIdempotent(t *testing.T) {
	ctx := context.Background()
	e, err := NewWazeroEngine(ctx, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := e.Close(ctx); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestCall_ExecuteChargesGas(t *testing.T) {
	e := newTestEngine(t, Config{})
	inst := instantiate(t, e, wasmtest.Contract(wasmtest.ContractOptions{}), MockBackend(), wasmcache.InstanceOptions{GasLimit: testGas})

	res, err := inst.Call(context.Background(), "execute", 5)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(res) != 1 || res[0] != 5 {
		t.Errorf("execute = %v, want [5]", res)
	}

	// execute itself plus five internal calls
	want := 6 * DefaultGasConfig().FunctionCall
	if inst.GasUsed() != want {
		t.Errorf("GasUsed = %d, want %d", inst.GasUsed(), want)
	}
	if inst.GasLeft() != testGas-want {
		t.Errorf("GasLeft = %d, want %d", inst.GasLeft(), testGas-want)
	}
}

func TestCall_OutOfGas(t *testing.T) {
	e := newTestEngine(t, Config{})
	inst := instantiate(t, e, wasmtest.Contract(wasmtest.ContractOptions{}), MockBackend(), wasmcache.InstanceOptions{GasLimit: 100})

	_, err := inst.Call(context.Background(), "execute", 1000)
	if !errors.Is(err, wcerrors.ErrOutOfGas) {
		t.Fatalf("err = %v, want out of gas", err)
	}
	if inst.GasLeft() != 0 {
		t.Errorf("GasLeft = %d after exhaustion", inst.GasLeft())
	}
	if inst.GasUsed() != 100 {
		t.Errorf("GasUsed = %d, want 100", inst.GasUsed())
	}

	if _, err := inst.Call(context.Background(), "query"); !errors.Is(err, wcerrors.ErrOutOfGas) {
		t.Errorf("call after exhaustion: err = %v", err)
	}
}

func TestCall_OutOfGasIsolatedPerInstance(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})
	art, err := e.Compile(ctx, wasmtest.Contract(wasmtest.ContractOptions{}))
	if err != nil {
		t.Fatal(err)
	}
	defer art.Close(ctx)

	poor, err := e.Instantiate(ctx, art, MockBackend(), wasmcache.InstanceOptions{GasLimit: 10})
	if err != nil {
		t.Fatal(err)
	}
	defer poor.Close(ctx)
	rich, err := e.Instantiate(ctx, art, MockBackend(), wasmcache.InstanceOptions{GasLimit: testGas})
	if err != nil {
		t.Fatal(err)
	}
	defer rich.Close(ctx)

	if _, err := poor.Call(ctx, "execute", 10); !errors.Is(err, wcerrors.ErrOutOfGas) {
		t.Fatalf("poor: err = %v", err)
	}
	if _, err := rich.Call(ctx, "execute", 10); err != nil {
		t.Fatalf("rich: %v", err)
	}
}

func TestCall_UnknownExport(t *testing.T) {
	e := newTestEngine(t, Config{})
	inst := instantiate(t, e, wasmtest.Contract(wasmtest.ContractOptions{}), MockBackend(), wasmcache.InstanceOptions{GasLimit: testGas})

	_, err := inst.Call(context.Background(), "missing")
	if !errors.Is(err, wcerrors.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestCall_AfterClose(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})
	inst := instantiate(t, e, wasmtest.Contract(wasmtest.ContractOptions{}), MockBackend(), wasmcache.InstanceOptions{GasLimit: testGas})
	if err := inst.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := inst.Call(ctx, "query"); !errors.Is(err, wcerrors.ErrClosed) {
		t.Errorf("err = %v, want closed", err)
	}
}

func TestCompile_Invalid(t *testing.T) {
	e := newTestEngine(t, Config{})
	_, err := e.Compile(context.Background(), []byte("\x00asm\x01\x00\x00\x00\xff"))
	if !errors.Is(err, wcerrors.ErrCompile) {
		t.Errorf("err = %v, want compile error", err)
	}
}

func TestSerializeDeserialize(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{CacheDir: t.TempDir()})
	code := wasmtest.Contract(wasmtest.ContractOptions{})

	art, err := e.Compile(ctx, code)
	if err != nil {
		t.Fatal(err)
	}
	defer art.Close(ctx)
	if art.Size() != uint64(len(code)) {
		t.Errorf("Size = %d, want %d", art.Size(), len(code))
	}

	data, err := art.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	back, err := e.Deserialize(ctx, data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	defer back.Close(ctx)

	inst, err := e.Instantiate(ctx, back, MockBackend(), wasmcache.InstanceOptions{GasLimit: testGas})
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close(ctx)
	if res, err := inst.Call(ctx, "execute", 3); err != nil || res[0] != 3 {
		t.Errorf("execute on deserialized artifact = %v, %v", res, err)
	}

	if _, err := e.Deserialize(ctx, []byte("garbage")); err == nil {
		t.Error("garbage payload must fail")
	}
	if _, err := e.Deserialize(ctx, append([]byte("WZA1"), 0x01, 0x02)); err == nil {
		t.Error("payload with invalid module must fail")
	}
}

func TestInstantiate_MemoryLimit(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})
	art, err := e.Compile(ctx, wasmtest.Contract(wasmtest.ContractOptions{MemoryPages: 4}))
	if err != nil {
		t.Fatal(err)
	}
	defer art.Close(ctx)

	_, err = e.Instantiate(ctx, art, MockBackend(), wasmcache.InstanceOptions{GasLimit: testGas, MemoryLimit: 2 * 64 * wasmcache.KiB})
	if !errors.Is(err, wcerrors.ErrLimit) {
		t.Fatalf("err = %v, want limit", err)
	}

	inst, err := e.Instantiate(ctx, art, MockBackend(), wasmcache.InstanceOptions{GasLimit: testGas, MemoryLimit: wasmcache.MiB})
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close(ctx)
	if got := inst.Memory().Size(); got != 4*64*1024 {
		t.Errorf("memory size = %d", got)
	}
}

func TestInstantiate_ForeignArtifact(t *testing.T) {
	e := newTestEngine(t, Config{})
	_, err := e.Instantiate(context.Background(), fakeArtifact{}, MockBackend(), wasmcache.InstanceOptions{})
	if !errors.Is(err, wcerrors.ErrInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

type fakeArtifact struct{}

func (fakeArtifact) Size() uint64 { return 0 }

func (fakeArtifact) Serialize() ([]byte, error) { return nil, nil }

func (fakeArtifact) Close(context.Context) error { return nil }

func TestConcurrentInstances(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})
	art, err := e.Compile(ctx, wasmtest.Contract(wasmtest.ContractOptions{}))
	if err != nil {
		t.Fatal(err)
	}
	defer art.Close(ctx)

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			for i := 0; i < 20; i++ {
				inst, err := e.Instantiate(ctx, art, MockBackend(), wasmcache.InstanceOptions{GasLimit: testGas})
				if err != nil {
					return err
				}
				res, err := inst.Call(ctx, "execute", uint64(i))
				_ = inst.Close(ctx)
				if err != nil {
					return err
				}
				if res[0] != uint64(i) {
					return errors.New("wrong result")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

// Host import tests drive the guest through call_<import> passthrough exports.

func hostContract(imports ...string) []byte {
	return wasmtest.Contract(wasmtest.ContractOptions{Imports: imports, Passthrough: true})
}

func writeGuestRegion(t *testing.T, inst wasmcache.Instance, data []byte) uint64 {
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

func readGuestRegion(t *testing.T, inst wasmcache.Instance, ptr uint64) []byte {
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

func TestHost_Storage(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})
	backend := MockBackend()
	inst := instantiate(t, e, hostContract("db_read", "db_write", "db_remove"), backend, wasmcache.InstanceOptions{GasLimit: testGas})

	key := writeGuestRegion(t, inst, []byte("counter"))
	value := writeGuestRegion(t, inst, []byte("42"))
	if _, err := inst.Call(ctx, "call_db_write", key, value); err != nil {
		t.Fatalf("db_write: %v", err)
	}
	if got, _ := backend.Storage.Get([]byte("counter")); string(got) != "42" {
		t.Errorf("storage value = %q", got)
	}

	res, err := inst.Call(ctx, "call_db_read", key)
	if err != nil {
		t.Fatalf("db_read: %v", err)
	}
	if got := readGuestRegion(t, inst, res[0]); string(got) != "42" {
		t.Errorf("db_read = %q", got)
	}

	if _, err := inst.Call(ctx, "call_db_remove", key); err != nil {
		t.Fatalf("db_remove: %v", err)
	}
	res, err = inst.Call(ctx, "call_db_read", key)
	if err != nil {
		t.Fatal(err)
	}
	if res[0] != 0 {
		t.Errorf("db_read of removed key returned region %d", res[0])
	}
}

func TestHost_Iterator(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})
	backend := MockBackend()
	for _, k := range []string{"a", "b", "c"} {
		_ = backend.Storage.Set([]byte(k), []byte("v"+k))
	}
	inst := instantiate(t, e, hostContract("db_scan", "db_next"), backend, wasmcache.InstanceOptions{GasLimit: testGas})

	res, err := inst.Call(ctx, "call_db_scan", 0, 0, uint64(wasmcache.Descending))
	if err != nil {
		t.Fatalf("db_scan: %v", err)
	}
	iter := res[0]

	var keys []string
	for {
		res, err := inst.Call(ctx, "call_db_next", iter)
		if err != nil {
			t.Fatalf("db_next: %v", err)
		}
		if res[0] == 0 {
			break
		}
		kv := readGuestRegion(t, inst, res[0])
		vlen := binary.BigEndian.Uint32(kv[len(kv)-4:])
		klen := binary.BigEndian.Uint32(kv[len(kv)-8-int(vlen):])
		keys = append(keys, string(kv[:klen]))
	}
	if strings.Join(keys, ",") != "c,b,a" {
		t.Errorf("keys = %v, want c,b,a", keys)
	}

	if _, err := inst.Call(ctx, "call_db_scan", 0, 0, 7); err == nil {
		t.Error("invalid order must trap")
	}
}

func TestHost_Sha1AndQuery(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})
	inst := instantiate(t, e, hostContract("sha1_calculate", "query_chain"), MockBackend(), wasmcache.InstanceOptions{GasLimit: testGas})

	msg := []byte("The quick brown fox jumps over the lazy dog")
	res, err := inst.Call(ctx, "call_sha1_calculate", writeGuestRegion(t, inst, msg))
	if err != nil {
		t.Fatalf("sha1_calculate: %v", err)
	}
	want := sha1.Sum(msg)
	if got := readGuestRegion(t, inst, res[0]); string(got) != string(want[:]) {
		t.Errorf("sha1 = %x, want %x", got, want)
	}

	res, err = inst.Call(ctx, "call_query_chain", writeGuestRegion(t, inst, []byte(`{"ping":{}}`)))
	if err != nil {
		t.Fatalf("query_chain: %v", err)
	}
	if got := readGuestRegion(t, inst, res[0]); string(got) != `{"ping":{}}` {
		t.Errorf("query = %q", got)
	}
}

func TestHost_MissingBackend(t *testing.T) {
	e := newTestEngine(t, Config{})
	inst := instantiate(t, e, hostContract("db_read"), wasmcache.Backend{}, wasmcache.InstanceOptions{GasLimit: testGas})

	_, err := inst.Call(context.Background(), "call_db_read", writeGuestRegion(t, inst, []byte("k")))
	if !errors.Is(err, &wcerrors.Error{Kind: wcerrors.KindTrap}) {
		t.Errorf("err = %v, want trap", err)
	}
}

func TestHost_Abort(t *testing.T) {
	e := newTestEngine(t, Config{})
	inst := instantiate(t, e, hostContract("abort"), MockBackend(), wasmcache.InstanceOptions{GasLimit: testGas})

	_, err := inst.Call(context.Background(), "call_abort", writeGuestRegion(t, inst, []byte("panicked at contract.rs:10")))
	if err == nil || !strings.Contains(err.Error(), "panicked at contract.rs:10") {
		t.Errorf("err = %v, want abort message", err)
	}
}

func TestHost_AbortChargesHostCall(t *testing.T) {
	e := newTestEngine(t, Config{})
	inst := instantiate(t, e, hostContract("abort"), MockBackend(), wasmcache.InstanceOptions{GasLimit: testGas})

	msg := writeGuestRegion(t, inst, []byte("boom"))
	before := inst.GasUsed()
	if _, err := inst.Call(context.Background(), "call_abort", msg); err == nil {
		t.Fatal("abort returned no error")
	}
	g := DefaultGasConfig()
	if got := inst.GasUsed() - before; got != g.FunctionCall+g.HostCall {
		t.Errorf("abort cost = %d, want %d", got, g.FunctionCall+g.HostCall)
	}
}

func TestHost_Debug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	e := newTestEngine(t, Config{Logger: zap.New(core)})

	for _, printDebug := range []bool{false, true} {
		inst := instantiate(t, e, hostContract("debug"), MockBackend(), wasmcache.InstanceOptions{GasLimit: testGas, PrintDebug: printDebug})
		if _, err := inst.Call(context.Background(), "call_debug", writeGuestRegion(t, inst, []byte("hello"))); err != nil {
			t.Fatal(err)
		}
	}
	if n := logs.FilterMessage("contract debug").Len(); n != 1 {
		t.Errorf("debug messages = %d, want 1", n)
	}
}

func TestHost_ChargesPerByte(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Config{})
	inst := instantiate(t, e, hostContract("db_write"), MockBackend(), wasmcache.InstanceOptions{GasLimit: testGas})

	key := writeGuestRegion(t, inst, []byte("k"))
	value := writeGuestRegion(t, inst, make([]byte, 1000))
	before := inst.GasUsed()
	if _, err := inst.Call(ctx, "call_db_write", key, value); err != nil {
		t.Fatal(err)
	}
	g := DefaultGasConfig()
	want := g.FunctionCall + g.HostCall + 1001*g.PerByte
	if got := inst.GasUsed() - before; got != want {
		t.Errorf("db_write cost = %d, want %d", got, want)
	}
}
