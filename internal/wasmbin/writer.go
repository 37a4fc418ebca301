package wasmbin

import (
	"encoding/binary"
)

// Writer accumulates an encoded module. The zero value is ready to use.
type Writer struct {
	b []byte
}

func NewWriter() *Writer {
	return &Writer{}
}

func (w *Writer) Bytes() []byte { return w.b }

func (w *Writer) Len() int { return len(w.b) }

func (w *Writer) Byte(b byte) {
	w.b = append(w.b, b)
}

func (w *Writer) WriteBytes(data []byte) {
	w.b = append(w.b, data...)
}

func (w *Writer) WriteU32(v uint32) {
	w.WriteU64(uint64(v))
}

// WriteU64 appends v as unsigned LEB128, which is the same encoding as
// binary.AppendUvarint.
func (w *Writer) WriteU64(v uint64) {
	w.b = binary.AppendUvarint(w.b, v)
}

// WriteS64 appends v as signed LEB128. Unlike the uvarint case this is not
// zig-zag encoded, so encoding/binary cannot produce it.
func (w *Writer) WriteS64(v int64) {
	for {
		b := byte(v) & 0x7f
		v >>= 7
		done := v == 0 && b&0x40 == 0 || v == -1 && b&0x40 != 0
		if done {
			w.b = append(w.b, b)
			return
		}
		w.b = append(w.b, b|0x80)
	}
}

func (w *Writer) WriteName(s string) {
	w.WriteU32(uint32(len(s)))
	w.b = append(w.b, s...)
}

// WriteU32LE appends v as four little endian bytes, used by the preamble.
func (w *Writer) WriteU32LE(v uint32) {
	w.b = binary.LittleEndian.AppendUint32(w.b, v)
}

// WriteSection appends a section: id, payload size, payload.
func (w *Writer) WriteSection(id byte, payload []byte) {
	w.b = append(w.b, id)
	w.WriteU32(uint32(len(payload)))
	w.b = append(w.b, payload...)
}
