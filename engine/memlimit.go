package engine

import (
	"github.com/tetratelabs/wazero/experimental"
)

// limitedAllocator backs linear memory with a plain slice and refuses to grow
// past limit bytes. A refused grow makes memory.grow return -1 in the guest.
type limitedAllocator struct {
	limit uint64
}

func (a limitedAllocator) Allocate(capacity, max uint64) experimental.LinearMemory {
	if max > a.limit {
		max = a.limit
	}
	if capacity > max {
		capacity = max
	}
	return &limitedMemory{buf: make([]byte, 0, capacity), max: max}
}

type limitedMemory struct {
	buf []byte
	max uint64
}

func (m *limitedMemory) Reallocate(size uint64) []byte {
	if size > m.max {
		return nil
	}
	if size <= uint64(cap(m.buf)) {
		m.buf = m.buf[:size]
		return m.buf
	}
	grown := make([]byte, size, min(size*2, m.max))
	copy(grown, m.buf)
	m.buf = grown
	return m.buf
}

func (m *limitedMemory) Free() {
	m.buf = nil
}
