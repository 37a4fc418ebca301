// Package wasmtest builds small binary modules for tests.
//
// Modules are encoded programmatically so fixtures stay readable in test code
// and no toolchain is needed to regenerate them.
package wasmtest

import (
	"fmt"

	"github.com/wippyai/wasm-cache/internal/wasmbin"
)

// Instruction opcodes used by fixtures.
const (
	OpUnreachable byte = 0x00
	OpBlock       byte = 0x02
	OpLoop        byte = 0x03
	OpEnd         byte = 0x0B
	OpBr          byte = 0x0C
	OpBrIf        byte = 0x0D
	OpCall        byte = 0x10
	OpDrop        byte = 0x1A
	OpLocalGet    byte = 0x20
	OpLocalSet    byte = 0x21
	OpGlobalGet   byte = 0x23
	OpGlobalSet   byte = 0x24
	OpI32Load     byte = 0x28
	OpI32Store    byte = 0x36
	OpI32Const    byte = 0x41
	OpI32Eqz      byte = 0x45
	OpI32Add      byte = 0x6A
	OpI32Sub      byte = 0x6B

	BlockVoid byte = 0x40
)

var (
	I32 = wasmbin.ValI32
	I64 = wasmbin.ValI64
)

type funcImport struct {
	module, name string
	typeIdx      uint32
}

type function struct {
	typeIdx uint32
	locals  []byte
	code    []byte
}

type global struct {
	valType byte
	mutable bool
	init    int32
}

type export struct {
	name  string
	kind  byte
	index uint32
}

type memory struct {
	max *uint32
	min uint32
}

type custom struct {
	name string
	data []byte
}

// Builder accumulates module entities and encodes them in canonical section order.
// Function imports must be added before defined functions so indices stay stable.
type Builder struct {
	types    []wasmbin.FuncType
	imports  []funcImport
	funcs    []function
	memories []memory
	globals  []global
	exports  []export
	customs  []custom
	start    *uint32
}

// NewBuilder returns an empty module builder.
func NewBuilder() *Builder {
	return &Builder{}
}

func (b *Builder) typeIndex(params, results []byte) uint32 {
	for i, t := range b.types {
		if string(t.Params) == string(params) && string(t.Results) == string(results) {
			return uint32(i)
		}
	}
	b.types = append(b.types, wasmbin.FuncType{Params: params, Results: results})
	return uint32(len(b.types) - 1)
}

// ImportFunc adds a function import and returns its function index.
func (b *Builder) ImportFunc(module, name string, params, results []byte) uint32 {
	if len(b.funcs) > 0 {
		panic("wasmtest: function imports must precede defined functions")
	}
	b.imports = append(b.imports, funcImport{module: module, name: name, typeIdx: b.typeIndex(params, results)})
	return uint32(len(b.imports) - 1)
}

// Func adds a defined function and returns its function index.
// code is the instruction sequence without the trailing end opcode.
func (b *Builder) Func(params, results, locals []byte, code ...[]byte) uint32 {
	var body []byte
	for _, c := range code {
		body = append(body, c...)
	}
	b.funcs = append(b.funcs, function{typeIdx: b.typeIndex(params, results), locals: locals, code: body})
	return uint32(len(b.imports) + len(b.funcs) - 1)
}

// Memory adds a defined memory and returns its index.
func (b *Builder) Memory(min uint32, max *uint32) uint32 {
	b.memories = append(b.memories, memory{min: min, max: max})
	return uint32(len(b.memories) - 1)
}

// GlobalI32 adds an i32 global and returns its index.
func (b *Builder) GlobalI32(init int32, mutable bool) uint32 {
	b.globals = append(b.globals, global{valType: wasmbin.ValI32, mutable: mutable, init: init})
	return uint32(len(b.globals) - 1)
}

func (b *Builder) ExportFunc(name string, idx uint32) *Builder {
	b.exports = append(b.exports, export{name: name, kind: wasmbin.KindFunc, index: idx})
	return b
}

func (b *Builder) ExportMemory(name string, idx uint32) *Builder {
	b.exports = append(b.exports, export{name: name, kind: wasmbin.KindMemory, index: idx})
	return b
}

func (b *Builder) ExportGlobal(name string, idx uint32) *Builder {
	b.exports = append(b.exports, export{name: name, kind: wasmbin.KindGlobal, index: idx})
	return b
}

// Custom appends a custom section after all other sections.
func (b *Builder) Custom(name string, data []byte) *Builder {
	b.customs = append(b.customs, custom{name: name, data: data})
	return b
}

// Start sets the start function.
func (b *Builder) Start(idx uint32) *Builder {
	b.start = &idx
	return b
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	w := wasmbin.NewWriter()
	w.WriteU32LE(wasmbin.Magic)
	w.WriteU32LE(wasmbin.Version)

	if len(b.types) > 0 {
		s := wasmbin.NewWriter()
		s.WriteU32(uint32(len(b.types)))
		for _, t := range b.types {
			s.Byte(0x60)
			s.WriteU32(uint32(len(t.Params)))
			s.WriteBytes(t.Params)
			s.WriteU32(uint32(len(t.Results)))
			s.WriteBytes(t.Results)
		}
		w.WriteSection(wasmbin.SectionType, s.Bytes())
	}

	if len(b.imports) > 0 {
		s := wasmbin.NewWriter()
		s.WriteU32(uint32(len(b.imports)))
		for _, imp := range b.imports {
			s.WriteName(imp.module)
			s.WriteName(imp.name)
			s.Byte(wasmbin.KindFunc)
			s.WriteU32(imp.typeIdx)
		}
		w.WriteSection(wasmbin.SectionImport, s.Bytes())
	}

	if len(b.funcs) > 0 {
		s := wasmbin.NewWriter()
		s.WriteU32(uint32(len(b.funcs)))
		for _, f := range b.funcs {
			s.WriteU32(f.typeIdx)
		}
		w.WriteSection(wasmbin.SectionFunction, s.Bytes())
	}

	if len(b.memories) > 0 {
		s := wasmbin.NewWriter()
		s.WriteU32(uint32(len(b.memories)))
		for _, m := range b.memories {
			if m.max != nil {
				s.Byte(0x01)
				s.WriteU32(m.min)
				s.WriteU32(*m.max)
			} else {
				s.Byte(0x00)
				s.WriteU32(m.min)
			}
		}
		w.WriteSection(wasmbin.SectionMemory, s.Bytes())
	}

	if len(b.globals) > 0 {
		s := wasmbin.NewWriter()
		s.WriteU32(uint32(len(b.globals)))
		for _, g := range b.globals {
			s.Byte(g.valType)
			if g.mutable {
				s.Byte(0x01)
			} else {
				s.Byte(0x00)
			}
			s.Byte(OpI32Const)
			s.WriteS64(int64(g.init))
			s.Byte(OpEnd)
		}
		w.WriteSection(wasmbin.SectionGlobal, s.Bytes())
	}

	if len(b.exports) > 0 {
		s := wasmbin.NewWriter()
		s.WriteU32(uint32(len(b.exports)))
		for _, e := range b.exports {
			s.WriteName(e.name)
			s.Byte(e.kind)
			s.WriteU32(e.index)
		}
		w.WriteSection(wasmbin.SectionExport, s.Bytes())
	}

	if b.start != nil {
		s := wasmbin.NewWriter()
		s.WriteU32(*b.start)
		w.WriteSection(wasmbin.SectionStart, s.Bytes())
	}

	if len(b.funcs) > 0 {
		s := wasmbin.NewWriter()
		s.WriteU32(uint32(len(b.funcs)))
		for _, f := range b.funcs {
			body := wasmbin.NewWriter()
			body.WriteU32(uint32(len(f.locals)))
			for _, l := range f.locals {
				body.WriteU32(1)
				body.Byte(l)
			}
			body.WriteBytes(f.code)
			body.Byte(OpEnd)
			s.WriteU32(uint32(body.Len()))
			s.WriteBytes(body.Bytes())
		}
		w.WriteSection(wasmbin.SectionCode, s.Bytes())
	}

	for _, c := range b.customs {
		s := wasmbin.NewWriter()
		s.WriteName(c.name)
		s.WriteBytes(c.data)
		w.WriteSection(wasmbin.SectionCustom, s.Bytes())
	}

	return append([]byte(nil), w.Bytes()...)
}

// Instruction helpers. Each returns the encoded bytes of one instruction.

func I32Const(v int32) []byte {
	w := wasmbin.NewWriter()
	w.Byte(OpI32Const)
	w.WriteS64(int64(v))
	return w.Bytes()
}

func LocalGet(idx uint32) []byte  { return withIndex(OpLocalGet, idx) }
func LocalSet(idx uint32) []byte  { return withIndex(OpLocalSet, idx) }
func GlobalGet(idx uint32) []byte { return withIndex(OpGlobalGet, idx) }
func GlobalSet(idx uint32) []byte { return withIndex(OpGlobalSet, idx) }
func Call(idx uint32) []byte      { return withIndex(OpCall, idx) }
func Br(depth uint32) []byte      { return withIndex(OpBr, depth) }
func BrIf(depth uint32) []byte    { return withIndex(OpBrIf, depth) }

// I32Store stores with natural alignment at the given static offset.
func I32Store(offset uint32) []byte { return memArg(OpI32Store, offset) }

// I32Load loads with natural alignment at the given static offset.
func I32Load(offset uint32) []byte { return memArg(OpI32Load, offset) }

// Op wraps opcodes that take no immediates.
func Op(ops ...byte) []byte { return ops }

func withIndex(op byte, idx uint32) []byte {
	w := wasmbin.NewWriter()
	w.Byte(op)
	w.WriteU32(idx)
	return w.Bytes()
}

func memArg(op byte, offset uint32) []byte {
	w := wasmbin.NewWriter()
	w.Byte(op)
	w.WriteU32(2)
	w.WriteU32(offset)
	return w.Bytes()
}

// MustParse parses b with wasmbin and panics on error.
func MustParse(b []byte) *wasmbin.Module {
	m, err := wasmbin.Parse(b)
	if err != nil {
		panic(fmt.Sprintf("wasmtest: built module does not parse: %v", err))
	}
	return m
}
