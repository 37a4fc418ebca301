package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	units "github.com/docker/go-units"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/wasm-cache/cache"
	"github.com/wippyai/wasm-cache/checksum"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	pinnedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

const refreshInterval = 500 * time.Millisecond

type topModel struct {
	err      error
	cache    *cache.Cache
	work     *workload
	pinned   map[checksum.Checksum]cache.PinnedMetric
	started  time.Time
	status   string
	sums     []checksum.Checksum
	bar      progress.Model
	metrics  cache.Metrics
	capacity uint64
	selected int
}

type tickMsg time.Time

type pinResultMsg struct {
	err    error
	status string
}

func newTopModel(c *cache.Cache, w *workload, capacity uint64) *topModel {
	m := &topModel{
		cache:    c,
		work:     w,
		capacity: capacity,
		started:  time.Now(),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
	m.refresh()
	return m
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *topModel) Init() tea.Cmd {
	return tick()
}

func (m *topModel) refresh() {
	m.metrics = m.cache.Metrics()
	m.pinned = make(map[checksum.Checksum]cache.PinnedMetric)
	for _, p := range m.cache.PinnedMetrics() {
		m.pinned[p.Checksum] = p
	}
	sums, err := m.cache.SavedChecksums()
	if err != nil {
		m.err = err
		return
	}
	m.sums = sums
	if m.selected >= len(m.sums) {
		m.selected = max(len(m.sums)-1, 0)
	}
}

func (m *topModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit

		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}

		case "down", "j":
			if m.selected < len(m.sums)-1 {
				m.selected++
			}

		case "p", "enter":
			if len(m.sums) > 0 {
				return m, m.togglePin(m.sums[m.selected])
			}
		}

	case tickMsg:
		m.refresh()
		return m, tick()

	case pinResultMsg:
		m.err = msg.err
		m.status = msg.status
		m.refresh()
	}
	return m, nil
}

func (m *topModel) togglePin(sum checksum.Checksum) tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		if m.cache.IsPinned(sum) {
			if err := m.cache.Unpin(ctx, sum); err != nil {
				return pinResultMsg{err: err}
			}
			return pinResultMsg{status: "unpinned " + sum.Short()}
		}
		if err := m.cache.Pin(ctx, sum); err != nil {
			return pinResultMsg{err: err}
		}
		return pinResultMsg{status: "pinned " + sum.Short()}
	}
}

func (m *topModel) View() string {
	var b strings.Builder
	mt := m.metrics

	b.WriteString(titleStyle.Render("wasmcache top"))
	b.WriteString(" ")
	b.WriteString(m.cache.EngineVersion())
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-16s", label)))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}
	elapsed := time.Since(m.started).Seconds()
	calls := m.work.calls.Load()
	row("calls", fmt.Sprintf("%d (%.0f/s), %d failed", calls, float64(calls)/max(elapsed, 1), m.work.failed.Load()))
	row("hits pinned", fmt.Sprint(mt.HitsPinned))
	row("hits memory", fmt.Sprint(mt.HitsMemory))
	row("hits fs", fmt.Sprint(mt.HitsFS))
	row("misses", fmt.Sprint(mt.Misses))
	row("pinned", fmt.Sprintf("%d modules, %s", mt.ElementsPinned, units.BytesSize(float64(mt.SizePinned))))
	row("memory", fmt.Sprintf("%d modules, %s of %s",
		mt.ElementsMemory, units.BytesSize(float64(mt.SizeMemory)), units.BytesSize(float64(m.capacity))))
	if m.capacity > 0 {
		b.WriteString(strings.Repeat(" ", 16))
		b.WriteString(m.bar.ViewAs(float64(mt.SizeMemory) / float64(m.capacity)))
		b.WriteString("\n")
	}

	b.WriteString("\nContracts:\n\n")
	for i, sum := range m.sums {
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + sum.String()))
		} else {
			b.WriteString("  " + sum.String())
		}
		if p, ok := m.pinned[sum]; ok {
			b.WriteString(pinnedStyle.Render(fmt.Sprintf("  pinned, %d hits", p.Hits)))
		}
		b.WriteString("\n")
	}
	if len(m.sums) == 0 {
		b.WriteString(helpStyle.Render("  no contracts saved"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteString("\n")
	} else if m.status != "" {
		b.WriteString(m.status)
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("↑/↓ select • p pin/unpin • q quit"))
	return b.String()
}

type topOptions struct {
	workloadOptions
}

func newTopCommand(g *globalOptions) *cobra.Command {
	var opts topOptions
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Live cache dashboard driven by a concurrent workload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			copts, err := g.cacheOptions()
			if err != nil {
				return err
			}
			return g.withCache(cmd.Context(), func(c *cache.Cache) error {
				return runTop(cmd.Context(), c, g.logger, uint64(copts.MemoryCacheSize), opts)
			})
		},
	}
	opts.addFlags(cmd.Flags(), 4)
	return cmd
}

func runTop(ctx context.Context, c *cache.Cache, logger *zap.Logger, capacity uint64, opts topOptions) error {
	w, err := newWorkload(ctx, c, logger, opts.workloadOptions)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- w.run(ctx, opts.workers) }()
	defer func() {
		cancel()
		<-done
	}()

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return plainTop(ctx, c, w)
	}
	_, err = tea.NewProgram(newTopModel(c, w, capacity), tea.WithAltScreen()).Run()
	return err
}

// plainTop prints one line per second when stdout is not a terminal.
func plainTop(ctx context.Context, c *cache.Cache, w *workload) error {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			s := c.Stats()
			fmt.Printf("calls=%d failed=%d pinned=%d memory=%d fs=%d misses=%d\n",
				w.calls.Load(), w.failed.Load(), s.HitsPinned, s.HitsMemory, s.HitsFS, s.Misses)
		}
	}
}
