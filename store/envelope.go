package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/wippyai/wasm-cache/checksum"
)

// Compiled artifact envelope:
//
//	magic        [4]byte "WCAR"
//	format       u16
//	version len  u16
//	version      []byte
//	checksum     [32]byte
//	payload len  u64
//	payload      []byte
//	digest       u64 xxhash of everything above
//
// Integers are little endian.
var envelopeMagic = [4]byte{'W', 'C', 'A', 'R'}

const envelopeFormat uint16 = 1

var (
	errEnvelopeMagic    = errors.New("bad envelope magic")
	errEnvelopeFormat   = errors.New("unsupported envelope format")
	errEnvelopeVersion  = errors.New("engine version mismatch")
	errEnvelopeChecksum = errors.New("checksum mismatch")
	errEnvelopeDigest   = errors.New("digest mismatch")
	errEnvelopeShort    = errors.New("truncated envelope")
)

func encodeEnvelope(sum checksum.Checksum, engineVersion string, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 2 + 2 + len(engineVersion) + checksum.Size + 8 + len(payload) + 8)
	buf.Write(envelopeMagic[:])
	_ = binary.Write(&buf, binary.LittleEndian, envelopeFormat)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(len(engineVersion)))
	buf.WriteString(engineVersion)
	buf.Write(sum[:])
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(payload)))
	buf.Write(payload)
	_ = binary.Write(&buf, binary.LittleEndian, xxhash.Sum64(buf.Bytes()))
	return buf.Bytes()
}

// decodeEnvelope validates data against the expected checksum and engine
// version and returns the payload.
func decodeEnvelope(data []byte, sum checksum.Checksum, engineVersion string) ([]byte, error) {
	const fixed = 4 + 2 + 2 + checksum.Size + 8 + 8
	if len(data) < fixed {
		return nil, errEnvelopeShort
	}
	body, trailer := data[:len(data)-8], data[len(data)-8:]
	if !bytes.Equal(body[:4], envelopeMagic[:]) {
		return nil, errEnvelopeMagic
	}
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(trailer) {
		return nil, errEnvelopeDigest
	}
	pos := 4
	if f := binary.LittleEndian.Uint16(body[pos:]); f != envelopeFormat {
		return nil, fmt.Errorf("%w: %d", errEnvelopeFormat, f)
	}
	pos += 2
	vlen := int(binary.LittleEndian.Uint16(body[pos:]))
	pos += 2
	if len(body) < pos+vlen+checksum.Size+8 {
		return nil, errEnvelopeShort
	}
	if v := string(body[pos : pos+vlen]); v != engineVersion {
		return nil, fmt.Errorf("%w: have %q, want %q", errEnvelopeVersion, v, engineVersion)
	}
	pos += vlen
	if !bytes.Equal(body[pos:pos+checksum.Size], sum[:]) {
		return nil, errEnvelopeChecksum
	}
	pos += checksum.Size
	plen := binary.LittleEndian.Uint64(body[pos:])
	pos += 8
	if uint64(len(body)-pos) != plen {
		return nil, errEnvelopeShort
	}
	return body[pos:], nil
}
