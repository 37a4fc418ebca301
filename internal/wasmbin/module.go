package wasmbin

import (
	"errors"
	"fmt"
)

// Binary format constants.
const (
	Magic   uint32 = 0x6D736100 // "\0asm"
	Version uint32 = 1

	PageSize = 65536
)

// Section IDs.
const (
	SectionCustom    byte = 0
	SectionType      byte = 1
	SectionImport    byte = 2
	SectionFunction  byte = 3
	SectionTable     byte = 4
	SectionMemory    byte = 5
	SectionGlobal    byte = 6
	SectionExport    byte = 7
	SectionStart     byte = 8
	SectionElement   byte = 9
	SectionCode      byte = 10
	SectionData      byte = 11
	SectionDataCount byte = 12
	SectionTag       byte = 13
)

// External kinds used by imports and exports.
const (
	KindFunc   byte = 0x00
	KindTable  byte = 0x01
	KindMemory byte = 0x02
	KindGlobal byte = 0x03
	KindTag    byte = 0x04
)

// Value types.
const (
	ValI32       byte = 0x7F
	ValI64       byte = 0x7E
	ValF32       byte = 0x7D
	ValF64       byte = 0x7C
	ValV128      byte = 0x7B
	ValFuncRef   byte = 0x70
	ValExternRef byte = 0x6F
)

const funcTypeForm byte = 0x60

// Parsing errors.
var (
	ErrInvalidMagic     = errors.New("invalid wasm magic number")
	ErrInvalidVersion   = errors.New("invalid wasm version")
	ErrUnsupportedType  = errors.New("unsupported type form")
	ErrUnsupportedValue = errors.New("unsupported value type")
)

// FuncType is a function signature.
type FuncType struct {
	Params  []byte
	Results []byte
}

// Limits bounds a memory or table, in pages or elements.
type Limits struct {
	Max    *uint64
	Min    uint64
	Shared bool
	Is64   bool
}

// Import is a single entry of the import section.
type Import struct {
	Module string
	Name   string
	// TypeIdx is set for function imports.
	TypeIdx uint32
	// Limits is set for memory and table imports.
	Limits Limits
	Kind   byte
}

// Export is a single entry of the export section.
type Export struct {
	Name  string
	Index uint32
	Kind  byte
}

// CustomSection is a named opaque section.
type CustomSection struct {
	Name string
	Data []byte
}

// Module is the section level view of a binary module.
type Module struct {
	Start          *uint32
	DataCount      *uint32
	Types          []FuncType
	Imports        []Import
	Functions      []uint32 // type index per defined function
	Tables         []Limits
	Memories       []Limits
	Exports        []Export
	CustomSections []CustomSection
	CodeSizes      []uint32
	Globals        int
	Elements       int
	DataSegments   int
	Tags           int
}

// ImportCount returns the number of imports of the given kind.
func (m *Module) ImportCount(kind byte) int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Kind == kind {
			n++
		}
	}
	return n
}

// FuncTypeOf returns the signature of the function at index idx of the
// function index space, imports first.
func (m *Module) FuncTypeOf(idx uint32) (FuncType, bool) {
	var typeIdx uint32
	found := false
	i := uint32(0)
	for _, imp := range m.Imports {
		if imp.Kind != KindFunc {
			continue
		}
		if i == idx {
			typeIdx, found = imp.TypeIdx, true
			break
		}
		i++
	}
	if !found {
		local := int(idx) - int(i)
		if local < 0 || local >= len(m.Functions) {
			return FuncType{}, false
		}
		typeIdx = m.Functions[local]
	}
	if int(typeIdx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[typeIdx], true
}

// Custom returns the first custom section with the given name.
func (m *Module) Custom(name string) ([]byte, bool) {
	for _, cs := range m.CustomSections {
		if cs.Name == name {
			return cs.Data, true
		}
	}
	return nil, false
}

// Parse decodes the section structure of a binary module.
func Parse(data []byte) (*Module, error) {
	r := NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}
	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastOrder int

	for r.Remaining() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section header", err)
		}
		if id != SectionCustom {
			order := sectionOrder(id)
			if order == 0 {
				return nil, fmt.Errorf("unknown section ID: 0x%02x", id)
			}
			if order <= lastOrder {
				return nil, fmt.Errorf("section %d appears out of order", id)
			}
			lastOrder = order
		}

		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		body, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		sr := NewReader(body)
		name, perr := parseSection(id, sr, m)
		if perr != nil {
			return nil, sr.WrapError(name, perr)
		}
		if id != SectionCustom && sr.Remaining() != 0 {
			return nil, sr.WrapError(name, fmt.Errorf("%d trailing bytes", sr.Remaining()))
		}
	}

	if len(m.Functions) != len(m.CodeSizes) {
		return nil, fmt.Errorf("function and code section counts differ: %d != %d", len(m.Functions), len(m.CodeSizes))
	}
	return m, nil
}

func parseSection(id byte, r *Reader, m *Module) (string, error) {
	switch id {
	case SectionCustom:
		return "custom section", parseCustomSection(r, m)
	case SectionType:
		return "type section", parseTypeSection(r, m)
	case SectionImport:
		return "import section", parseImportSection(r, m)
	case SectionFunction:
		return "function section", parseFunctionSection(r, m)
	case SectionTable:
		return "table section", parseTableSection(r, m)
	case SectionMemory:
		return "memory section", parseMemorySection(r, m)
	case SectionGlobal:
		return "global section", parseGlobalSection(r, m)
	case SectionExport:
		return "export section", parseExportSection(r, m)
	case SectionStart:
		return "start section", parseStartSection(r, m)
	case SectionElement:
		n, err := skipVector(r)
		m.Elements = n
		return "element section", err
	case SectionCode:
		return "code section", parseCodeSection(r, m)
	case SectionData:
		n, err := skipVector(r)
		m.DataSegments = n
		return "data section", err
	case SectionDataCount:
		n, err := r.ReadU32()
		m.DataCount = &n
		return "data count section", err
	case SectionTag:
		n, err := skipVector(r)
		m.Tags = n
		return "tag section", err
	}
	return "section", fmt.Errorf("unknown section ID: 0x%02x", id)
}

// sectionOrder returns the canonical position of a non-custom section, or 0
// for an unknown ID. The order differs from the numeric IDs.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	}
	return 0
}

// skipVector reads an element count and discards the rest of the section.
func skipVector(r *Reader) (int, error) {
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if n > 0 && r.Remaining() == 0 {
		return 0, fmt.Errorf("%d entries in empty payload", n)
	}
	return int(n), r.Skip(r.Remaining())
}

func parseCustomSection(r *Reader, m *Module) error {
	name, err := r.ReadName()
	if err != nil {
		return err
	}
	rest, _ := r.ReadBytes(r.Remaining())
	m.CustomSections = append(m.CustomSections, CustomSection{Name: name, Data: rest})
	return nil
}

func parseTypeSection(r *Reader, m *Module) error {
	count, err := r.ReadCount(3)
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, 0, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != funcTypeForm {
			return fmt.Errorf("type %d: %w 0x%02x", i, ErrUnsupportedType, form)
		}
		params, err := readValueTypes(r)
		if err != nil {
			return fmt.Errorf("type %d params: %w", i, err)
		}
		results, err := readValueTypes(r)
		if err != nil {
			return fmt.Errorf("type %d results: %w", i, err)
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func readValueTypes(r *Reader) ([]byte, error) {
	n, err := r.ReadCount(1)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	for i := range out {
		vt, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if !isValueType(vt) {
			return nil, fmt.Errorf("%w 0x%02x", ErrUnsupportedValue, vt)
		}
		out[i] = vt
	}
	return out, nil
}

func isValueType(b byte) bool {
	switch b {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExternRef:
		return true
	}
	return false
}

func parseImportSection(r *Reader, m *Module) error {
	count, err := r.ReadCount(4)
	if err != nil {
		return err
	}
	m.Imports = make([]Import, 0, count)
	for i := uint32(0); i < count; i++ {
		mod, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		imp := Import{Module: mod, Name: name, Kind: kind}
		switch kind {
		case KindFunc:
			imp.TypeIdx, err = r.ReadU32()
		case KindTable:
			if _, err = r.ReadByte(); err == nil {
				imp.Limits, err = readLimits(r)
			}
		case KindMemory:
			imp.Limits, err = readLimits(r)
		case KindGlobal:
			err = r.Skip(2)
		case KindTag:
			if _, err = r.ReadByte(); err == nil {
				_, err = r.ReadU32()
			}
		default:
			return fmt.Errorf("import %s.%s: unknown kind 0x%02x", mod, name, kind)
		}
		if err != nil {
			return fmt.Errorf("import %s.%s: %w", mod, name, err)
		}
		m.Imports = append(m.Imports, imp)
	}
	return nil
}

func parseFunctionSection(r *Reader, m *Module) error {
	count, err := r.ReadCount(1)
	if err != nil {
		return err
	}
	m.Functions = make([]uint32, count)
	for i := range m.Functions {
		if m.Functions[i], err = r.ReadU32(); err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *Reader, m *Module) error {
	count, err := r.ReadCount(2)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		if _, err := r.ReadByte(); err != nil {
			return err
		}
		lim, err := readLimits(r)
		if err != nil {
			return err
		}
		m.Tables = append(m.Tables, lim)
	}
	return nil
}

func parseMemorySection(r *Reader, m *Module) error {
	count, err := r.ReadCount(2)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		lim, err := readLimits(r)
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, lim)
	}
	return nil
}

// readLimits decodes limits flags: bit 0 has-max, bit 1 shared, bit 2 64-bit.
func readLimits(r *Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags > 0x07 {
		return Limits{}, fmt.Errorf("invalid limits flags 0x%02x", flags)
	}
	lim := Limits{Shared: flags&0x02 != 0, Is64: flags&0x04 != 0}
	if lim.Min, err = r.ReadU64(); err != nil {
		return Limits{}, err
	}
	if flags&0x01 != 0 {
		max, err := r.ReadU64()
		if err != nil {
			return Limits{}, err
		}
		if max < lim.Min {
			return Limits{}, fmt.Errorf("limits max %d below min %d", max, lim.Min)
		}
		lim.Max = &max
	}
	return lim, nil
}

func parseGlobalSection(r *Reader, m *Module) error {
	count, err := r.ReadCount(3)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		if err := r.Skip(2); err != nil { // valtype, mutability
			return err
		}
		if err := skipConstExpr(r); err != nil {
			return fmt.Errorf("global %d: %w", i, err)
		}
	}
	m.Globals = int(count)
	return nil
}

// skipConstExpr consumes a constant expression up to and including its end opcode.
func skipConstExpr(r *Reader) error {
	for {
		op, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch op {
		case 0x0B: // end
			return nil
		case 0x41, 0x42, 0x23, 0xD2: // i32.const, i64.const, global.get, ref.func
			err = r.SkipLEB128()
		case 0x43: // f32.const
			err = r.Skip(4)
		case 0x44: // f64.const
			err = r.Skip(8)
		case 0xD0: // ref.null
			_, err = r.ReadByte()
		case 0x6A, 0x6B, 0x6C, 0x7C, 0x7D, 0x7E: // extended const arithmetic
		default:
			return fmt.Errorf("opcode 0x%02x not allowed in constant expression", op)
		}
		if err != nil {
			return err
		}
	}
}

func parseExportSection(r *Reader, m *Module) error {
	count, err := r.ReadCount(3)
	if err != nil {
		return err
	}
	m.Exports = make([]Export, 0, count)
	seen := make(map[string]struct{}, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate export %q", name)
		}
		seen[name] = struct{}{}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindTag {
			return fmt.Errorf("export %q: unknown kind 0x%02x", name, kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Index: idx})
	}
	return nil
}

func parseStartSection(r *Reader, m *Module) error {
	idx, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Start = &idx
	return nil
}

func parseCodeSection(r *Reader, m *Module) error {
	count, err := r.ReadCount(1)
	if err != nil {
		return err
	}
	m.CodeSizes = make([]uint32, count)
	for i := range m.CodeSizes {
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		if err := r.Skip(int(size)); err != nil {
			return fmt.Errorf("body %d: %w", i, err)
		}
		m.CodeSizes[i] = size
	}
	return nil
}
