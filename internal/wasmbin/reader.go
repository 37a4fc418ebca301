package wasmbin

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// Errors returned by Reader.
var (
	ErrOverflow   = errors.New("leb128: overflow")
	ErrUnexpected = errors.New("unexpected end of data")
)

// Reader decodes values from an in-memory byte slice with position tracking.
// Length prefixes are checked against the remaining input before allocating.
type Reader struct {
	data []byte
	pos  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) Position() int { return r.pos }

func (r *Reader) Remaining() int { return len(r.data) - r.pos }

func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, ErrUnexpected
	}
	r.pos++
	return r.data[r.pos-1], nil
}

// ReadBytes returns the next n bytes, aliasing the input. The position is
// unchanged on failure.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > r.Remaining() {
		return nil, r.wrapError(fmt.Errorf("%w: need %d bytes, have %d", ErrUnexpected, n, r.Remaining()))
	}
	r.pos += n
	return r.data[r.pos-n : r.pos], nil
}

func (r *Reader) Skip(n int) error {
	_, err := r.ReadBytes(n)
	return err
}

// ReadU32 reads an unsigned LEB128 value of at most five bytes.
func (r *Reader) ReadU32() (uint32, error) {
	start := r.pos
	v, err := r.ReadU64()
	if err != nil {
		return 0, err
	}
	if r.pos-start > 5 || v > math.MaxUint32 {
		return 0, r.wrapError(ErrOverflow)
	}
	return uint32(v), nil
}

// ReadU64 reads an unsigned LEB128 value. The encoding is the one
// binary.Uvarint decodes.
func (r *Reader) ReadU64() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.pos:])
	switch {
	case n == 0:
		return 0, ErrUnexpected
	case n < 0:
		return 0, r.wrapError(ErrOverflow)
	}
	r.pos += n
	return v, nil
}

// SkipLEB128 advances past one LEB128 value of any signedness.
func (r *Reader) SkipLEB128() error {
	for i := 0; i < 10; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b&0x80 == 0 {
			return nil
		}
	}
	return r.wrapError(ErrOverflow)
}

// ReadCount reads a vector length and checks that at least minSize bytes per
// element remain, so a corrupt count cannot trigger a large allocation.
func (r *Reader) ReadCount(minSize int) (uint32, error) {
	n, err := r.ReadU32()
	if err != nil {
		return 0, err
	}
	if minSize > 0 && uint64(n)*uint64(minSize) > uint64(r.Remaining()) {
		return 0, r.wrapError(fmt.Errorf("vector length %d exceeds remaining %d bytes", n, r.Remaining()))
	}
	return n, nil
}

// ReadName reads a length prefixed name, rejecting invalid UTF-8.
func (r *Reader) ReadName() (string, error) {
	length, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	data, err := r.ReadBytes(int(length))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", r.wrapError(errors.New("invalid UTF-8 in name"))
	}
	return string(data), nil
}

func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (r *Reader) wrapError(err error) error {
	return fmt.Errorf("at position %d: %w", r.pos, err)
}

// ParseError locates a decoding failure within a section.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("wasm: %s at position %d: %v", e.Section, e.Position, e.Err)
	}
	return fmt.Sprintf("wasm: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// WrapError attributes err to section at the current position.
func (r *Reader) WrapError(section string, err error) error {
	return &ParseError{
		Position: r.pos,
		Section:  section,
		Err:      err,
	}
}
