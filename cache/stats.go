package cache

import (
	"sync/atomic"

	"github.com/wippyai/wasm-cache/checksum"
)

// Stats is a snapshot of the resolution counters. Every resolution through
// Instantiate or Pin increments exactly one of them.
type Stats struct {
	HitsPinned uint64 `json:"hits_pinned"`
	HitsMemory uint64 `json:"hits_memory"`
	HitsFS     uint64 `json:"hits_fs"`
	Misses     uint64 `json:"misses"`
}

// Total returns the number of resolutions.
func (s Stats) Total() uint64 {
	return s.HitsPinned + s.HitsMemory + s.HitsFS + s.Misses
}

// Metrics extends Stats with tier occupancy.
type Metrics struct {
	Stats
	ElementsPinned int    `json:"elements_pinned"`
	ElementsMemory int    `json:"elements_memory"`
	SizePinned     uint64 `json:"size_pinned"`
	SizeMemory     uint64 `json:"size_memory"`
}

// PinnedMetric describes one pinned module.
type PinnedMetric struct {
	Checksum checksum.Checksum `json:"checksum"`
	Hits     uint64            `json:"hits"`
	Size     uint64            `json:"size"`
}

type counters struct {
	hitsPinned atomic.Uint64
	hitsMemory atomic.Uint64
	hitsFS     atomic.Uint64
	misses     atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		HitsPinned: c.hitsPinned.Load(),
		HitsMemory: c.hitsMemory.Load(),
		HitsFS:     c.hitsFS.Load(),
		Misses:     c.misses.Load(),
	}
}
