package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports cache metrics to prometheus. Values are read on every
// scrape; nothing is tracked twice.
type Collector struct {
	cache *Cache

	hitsPinned     *prometheus.Desc
	hitsMemory     *prometheus.Desc
	hitsFS         *prometheus.Desc
	misses         *prometheus.Desc
	pinnedElements *prometheus.Desc
	pinnedSize     *prometheus.Desc
	memoryElements *prometheus.Desc
	memorySize     *prometheus.Desc
}

// NewCollector returns a collector for c with metric names prefixed by namespace.
func NewCollector(c *Cache, namespace string) *Collector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "cache", name), help, nil, nil)
	}
	return &Collector{
		cache:          c,
		hitsPinned:     desc("hits_pinned_total", "Resolutions served by the pinned tier."),
		hitsMemory:     desc("hits_memory_total", "Resolutions served by the memory tier."),
		hitsFS:         desc("hits_fs_total", "Resolutions served by the filesystem tier."),
		misses:         desc("misses_total", "Resolutions that compiled from raw bytecode."),
		pinnedElements: desc("pinned_elements", "Modules in the pinned tier."),
		pinnedSize:     desc("pinned_size_bytes", "Total size of the pinned tier."),
		memoryElements: desc("memory_elements", "Modules in the memory tier."),
		memorySize:     desc("memory_size_bytes", "Total size of the memory tier."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hitsPinned
	ch <- c.hitsMemory
	ch <- c.hitsFS
	ch <- c.misses
	ch <- c.pinnedElements
	ch <- c.pinnedSize
	ch <- c.memoryElements
	ch <- c.memorySize
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.cache.Metrics()
	ch <- prometheus.MustNewConstMetric(c.hitsPinned, prometheus.CounterValue, float64(m.HitsPinned))
	ch <- prometheus.MustNewConstMetric(c.hitsMemory, prometheus.CounterValue, float64(m.HitsMemory))
	ch <- prometheus.MustNewConstMetric(c.hitsFS, prometheus.CounterValue, float64(m.HitsFS))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(m.Misses))
	ch <- prometheus.MustNewConstMetric(c.pinnedElements, prometheus.GaugeValue, float64(m.ElementsPinned))
	ch <- prometheus.MustNewConstMetric(c.pinnedSize, prometheus.GaugeValue, float64(m.SizePinned))
	ch <- prometheus.MustNewConstMetric(c.memoryElements, prometheus.GaugeValue, float64(m.ElementsMemory))
	ch <- prometheus.MustNewConstMetric(c.memorySize, prometheus.GaugeValue, float64(m.SizeMemory))
}

var _ prometheus.Collector = (*Collector)(nil)
