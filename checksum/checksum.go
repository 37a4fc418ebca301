// Package checksum implements content addressing for contract bytecode.
//
// A Checksum is the SHA-256 digest of the raw bytes. It is the only key used
// by every cache tier and its hex form names the files of the filesystem tier.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/wippyai/wasm-cache/errors"
)

// Size is the length of a checksum in bytes.
const Size = sha256.Size

// Checksum is the content address of a bytecode blob.
type Checksum [Size]byte

// Compute returns the checksum of code.
func Compute(code []byte) Checksum {
	return sha256.Sum256(code)
}

// FromBytes copies a raw digest into a Checksum.
func FromBytes(b []byte) (Checksum, error) {
	var c Checksum
	if len(b) != Size {
		return c, errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("checksum must be %d bytes, got %d", Size, len(b)))
	}
	copy(c[:], b)
	return c, nil
}

// Parse decodes a 64 character hex string.
func Parse(s string) (Checksum, error) {
	var c Checksum
	if len(s) != Size*2 {
		return c, errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("checksum must be %d hex characters, got %d", Size*2, len(s)))
	}
	if _, err := hex.Decode(c[:], []byte(s)); err != nil {
		return c, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
			Detail("checksum is not valid hex").
			Cause(err).
			Build()
	}
	return c, nil
}

// MustParse is like Parse but panics on malformed input. Intended for tests and constants.
func MustParse(s string) Checksum {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Checksum) String() string {
	return hex.EncodeToString(c[:])
}

// Short returns the first 8 hex characters, for logs.
func (c Checksum) Short() string {
	return hex.EncodeToString(c[:4])
}

// Bytes returns a copy of the digest.
func (c Checksum) Bytes() []byte {
	return append([]byte(nil), c[:]...)
}

func (c Checksum) IsZero() bool {
	return c == Checksum{}
}

func (c Checksum) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Checksum) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
