package wasmbin_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/wippyai/wasm-cache/internal/wasmbin"
	"github.com/wippyai/wasm-cache/internal/wasmtest"
)

func TestParseContract(t *testing.T) {
	v := uint64(42)
	code := wasmtest.Contract(wasmtest.ContractOptions{
		Imports:        []string{"db_read", "db_scan"},
		Capabilities:   []string{"staking"},
		MigrateVersion: &v,
		Salt:           "x",
	})

	m, err := wasmbin.Parse(code)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := m.ImportCount(wasmbin.KindFunc); got != 2 {
		t.Errorf("func imports = %d, want 2", got)
	}
	if len(m.Memories) != 1 || m.Memories[0].Min != 17 {
		t.Errorf("memories = %+v", m.Memories)
	}
	if len(m.Functions) != len(m.CodeSizes) {
		t.Errorf("functions %d != code bodies %d", len(m.Functions), len(m.CodeSizes))
	}
	if m.Globals != 1 {
		t.Errorf("globals = %d, want 1", m.Globals)
	}
	if data, ok := m.Custom("cw_migrate_version"); !ok || string(data) != "42" {
		t.Errorf("cw_migrate_version = %q, %v", data, ok)
	}

	names := map[string]bool{}
	for _, e := range m.Exports {
		names[e.Name] = true
	}
	for _, want := range []string{"memory", "allocate", "deallocate", "interface_version_8", "requires_staking", "execute"} {
		if !names[want] {
			t.Errorf("missing export %q", want)
		}
	}

	// db_read is function 0
	ft, ok := m.FuncTypeOf(0)
	if !ok || len(ft.Params) != 1 || len(ft.Results) != 1 {
		t.Errorf("FuncTypeOf(0) = %+v, %v", ft, ok)
	}
	if _, ok := m.FuncTypeOf(1000); ok {
		t.Error("FuncTypeOf out of range should fail")
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"bad magic", []byte{0x00, 0x61, 0x73, 0x6e, 0x01, 0, 0, 0}, wasmbin.ErrInvalidMagic},
		{"bad version", []byte{0x00, 0x61, 0x73, 0x6d, 0x02, 0, 0, 0}, wasmbin.ErrInvalidVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasmbin.Parse(tt.input)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := wasmbin.Parse([]byte{0x00, 0x61}); err == nil {
		t.Error("truncated header should fail")
	}
	if _, err := wasmbin.Parse(wasmtest.NewBuilder().Bytes()); err != nil {
		t.Errorf("empty module: %v", err)
	}
}

func TestParseRejectsOutOfOrderSections(t *testing.T) {
	w := wasmbin.NewWriter()
	w.WriteU32LE(wasmbin.Magic)
	w.WriteU32LE(wasmbin.Version)
	w.WriteSection(wasmbin.SectionMemory, []byte{0x01, 0x00, 0x01})
	w.WriteSection(wasmbin.SectionType, []byte{0x00})

	_, err := wasmbin.Parse(w.Bytes())
	if err == nil || !strings.Contains(err.Error(), "out of order") {
		t.Fatalf("err = %v, want out of order", err)
	}
}

func TestParseRejectsUnknownSection(t *testing.T) {
	w := wasmbin.NewWriter()
	w.WriteU32LE(wasmbin.Magic)
	w.WriteU32LE(wasmbin.Version)
	w.WriteSection(0x20, nil)

	if _, err := wasmbin.Parse(w.Bytes()); err == nil {
		t.Fatal("expected error for unknown section")
	}
}

func TestParseRejectsTruncatedSection(t *testing.T) {
	code := wasmtest.Contract(wasmtest.ContractOptions{})
	for _, cut := range []int{9, 20, len(code) - 1} {
		if _, err := wasmbin.Parse(code[:cut]); err == nil {
			t.Errorf("truncated at %d: expected error", cut)
		}
	}
}

func TestParseRejectsGCTypes(t *testing.T) {
	w := wasmbin.NewWriter()
	w.WriteU32LE(wasmbin.Magic)
	w.WriteU32LE(wasmbin.Version)
	// one rec group type
	w.WriteSection(wasmbin.SectionType, []byte{0x01, 0x4e, 0x00, 0x00})

	_, err := wasmbin.Parse(w.Bytes())
	if !errors.Is(err, wasmbin.ErrUnsupportedType) {
		t.Fatalf("err = %v, want ErrUnsupportedType", err)
	}
}

func TestParseMemoryLimits(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		check   func(wasmbin.Limits) bool
		wantErr bool
	}{
		{"min only", []byte{0x01, 0x00, 0x02}, func(l wasmbin.Limits) bool { return l.Min == 2 && l.Max == nil }, false},
		{"min max", []byte{0x01, 0x01, 0x01, 0x04}, func(l wasmbin.Limits) bool { return l.Max != nil && *l.Max == 4 }, false},
		{"shared", []byte{0x01, 0x03, 0x01, 0x01}, func(l wasmbin.Limits) bool { return l.Shared }, false},
		{"memory64", []byte{0x01, 0x04, 0x01}, func(l wasmbin.Limits) bool { return l.Is64 }, false},
		{"max below min", []byte{0x01, 0x01, 0x04, 0x01}, nil, true},
		{"bad flags", []byte{0x01, 0x08, 0x01}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := wasmbin.NewWriter()
			w.WriteU32LE(wasmbin.Magic)
			w.WriteU32LE(wasmbin.Version)
			w.WriteSection(wasmbin.SectionMemory, tt.payload)
			m, err := wasmbin.Parse(w.Bytes())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !tt.check(m.Memories[0]) {
				t.Errorf("unexpected limits %+v", m.Memories[0])
			}
		})
	}
}

func TestParseRejectsDuplicateExport(t *testing.T) {
	b := wasmtest.NewBuilder()
	f := b.Func(nil, nil, nil)
	b.ExportFunc("x", f).ExportFunc("x", f)

	if _, err := wasmbin.Parse(b.Bytes()); err == nil {
		t.Fatal("expected duplicate export error")
	}
}

func TestParseStartSection(t *testing.T) {
	b := wasmtest.NewBuilder()
	f := b.Func(nil, nil, nil)
	b.Start(f)

	m, err := wasmbin.Parse(b.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if m.Start == nil || *m.Start != f {
		t.Errorf("Start = %v", m.Start)
	}
}
