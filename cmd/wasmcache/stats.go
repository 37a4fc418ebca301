package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/wippyai/wasm-cache/cache"
)

type statsReport struct {
	EngineVersion string               `json:"engine_version"`
	Metrics       cache.Metrics        `json:"metrics"`
	Pinned        []cache.PinnedMetric `json:"pinned"`
	Saved         int                  `json:"saved"`
	StateBytes    uint64               `json:"state_bytes"`
	CacheBytes    uint64               `json:"cache_bytes"`
}

func collectStats(c *cache.Cache) (statsReport, error) {
	r := statsReport{
		EngineVersion: c.EngineVersion(),
		Metrics:       c.Metrics(),
		Pinned:        c.PinnedMetrics(),
	}
	sums, err := c.SavedChecksums()
	if err != nil {
		return r, err
	}
	r.Saved = len(sums)
	if r.StateBytes, err = c.Store().DiskUsage("state"); err != nil {
		return r, err
	}
	if r.CacheBytes, err = c.Store().DiskUsage("cache"); err != nil {
		return r, err
	}
	return r, nil
}

type statsOptions struct {
	json bool
}

func newStatsCommand(g *globalOptions) *cobra.Command {
	var opts statsOptions
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache occupancy and disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withCache(cmd.Context(), func(c *cache.Cache) error {
				r, err := collectStats(c)
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(cmd.OutOrStdout(), r)
				}
				return printStats(cmd.OutOrStdout(), r)
			})
		},
	}
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print as JSON")
	return cmd
}

func printStats(w io.Writer, r statsReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	m := r.Metrics
	fmt.Fprintf(tw, "engine\t%s\n", r.EngineVersion)
	fmt.Fprintf(tw, "saved contracts\t%d\n", r.Saved)
	fmt.Fprintf(tw, "state on disk\t%s\n", units.BytesSize(float64(r.StateBytes)))
	fmt.Fprintf(tw, "artifacts on disk\t%s\n", units.BytesSize(float64(r.CacheBytes)))
	fmt.Fprintf(tw, "pinned\t%d (%s)\n", m.ElementsPinned, units.BytesSize(float64(m.SizePinned)))
	fmt.Fprintf(tw, "memory\t%d (%s)\n", m.ElementsMemory, units.BytesSize(float64(m.SizeMemory)))
	fmt.Fprintf(tw, "hits pinned/memory/fs\t%d/%d/%d\n", m.HitsPinned, m.HitsMemory, m.HitsFS)
	fmt.Fprintf(tw, "misses\t%d\n", m.Misses)
	for _, p := range r.Pinned {
		fmt.Fprintf(tw, "  %s\t%d hits, %s\n", p.Checksum.Short(), p.Hits, units.BytesSize(float64(p.Size)))
	}
	return tw.Flush()
}
