// Command wasmcache operates a compiled-module cache directory: it saves and
// analyzes contracts, pins hot ones, runs them against a mock backend and
// exports cache metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g := &globalOptions{}
	if err := newRootCommand(g).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCommand(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wasmcache",
		Short:         "Manage a tiered cache of compiled contract modules",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load(cmd.Root().PersistentFlags())
		},
	}
	g.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		newSaveCommand(g),
		newLoadCommand(g),
		newAnalyzeCommand(g),
		newPinCommand(g),
		newUnpinCommand(g),
		newRemoveCommand(g),
		newListCommand(g),
		newPruneCommand(g),
		newRunCommand(g),
		newStatsCommand(g),
		newServeCommand(g),
		newTopCommand(g),
	)
	return cmd
}
