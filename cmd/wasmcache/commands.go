package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/wippyai/wasm-cache/cache"
	"github.com/wippyai/wasm-cache/checksum"
)

func newSaveCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "save FILE...",
		Short: "Validate and store contract bytecode, printing each checksum",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withCache(cmd.Context(), func(c *cache.Cache) error {
				for _, file := range args {
					code, err := os.ReadFile(file)
					if err != nil {
						return fmt.Errorf("read file: %w", err)
					}
					sum, err := c.Save(code)
					if err != nil {
						return fmt.Errorf("%s: %w", file, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", sum, file)
				}
				return nil
			})
		},
	}
}

type loadOptions struct {
	output string
}

func newLoadCommand(g *globalOptions) *cobra.Command {
	var opts loadOptions
	cmd := &cobra.Command{
		Use:   "load CHECKSUM",
		Short: "Write the stored bytecode of a checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, g, opts, args[0])
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func runLoad(cmd *cobra.Command, g *globalOptions, opts loadOptions, arg string) error {
	sums, err := parseChecksums([]string{arg})
	if err != nil {
		return err
	}
	if opts.output == "" && isTerminal(cmd.OutOrStdout()) {
		return fmt.Errorf("refusing to write bytecode to a terminal, use --output")
	}
	return g.withCache(cmd.Context(), func(c *cache.Cache) error {
		code, err := c.Load(sums[0])
		if err != nil {
			return err
		}
		if opts.output != "" {
			return os.WriteFile(opts.output, code, 0o644)
		}
		_, err = cmd.OutOrStdout().Write(code)
		return err
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newAnalyzeCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze CHECKSUM",
		Short: "Print the analysis report of a stored contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sums, err := parseChecksums(args)
			if err != nil {
				return err
			}
			return g.withCache(cmd.Context(), func(c *cache.Cache) error {
				report, err := c.Analyze(sums[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

type pinOptions struct {
	parallel int
}

func newPinCommand(g *globalOptions) *cobra.Command {
	var opts pinOptions
	cmd := &cobra.Command{
		Use:   "pin CHECKSUM...",
		Short: "Compile contracts and persist their artifacts",
		Long: "Pin resolves each checksum through the cache, compiling and persisting the\n" +
			"artifact when needed. Pins live as long as the cache, so for a one-shot\n" +
			"invocation this warms the filesystem tier.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sums, err := parseChecksums(args)
			if err != nil {
				return err
			}
			return g.withCache(cmd.Context(), func(c *cache.Cache) error {
				return pinAll(cmd.Context(), c, sums, opts.parallel)
			})
		},
	}
	cmd.Flags().IntVarP(&opts.parallel, "parallel", "p", 4, "Concurrent compilations")
	return cmd
}

func newUnpinCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unpin CHECKSUM...",
		Short: "Drop contracts from the pinned tier",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sums, err := parseChecksums(args)
			if err != nil {
				return err
			}
			return g.withCache(cmd.Context(), func(c *cache.Cache) error {
				for _, sum := range sums {
					if err := c.Unpin(cmd.Context(), sum); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

func newRemoveCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove CHECKSUM...",
		Aliases: []string{"rm"},
		Short:   "Delete contracts and their artifacts",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sums, err := parseChecksums(args)
			if err != nil {
				return err
			}
			return g.withCache(cmd.Context(), func(c *cache.Cache) error {
				for _, sum := range sums {
					if err := c.Remove(cmd.Context(), sum); err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), sum)
				}
				return nil
			})
		},
	}
}

func newListCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored checksums",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withCache(cmd.Context(), func(c *cache.Cache) error {
				sums, err := c.SavedChecksums()
				if err != nil {
					return err
				}
				for _, sum := range sums {
					fmt.Fprintln(cmd.OutOrStdout(), sum)
				}
				return nil
			})
		},
	}
}

func newPruneCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete compiled artifacts of other engine versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withCache(cmd.Context(), func(c *cache.Cache) error {
				n, err := c.PruneCompiled()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale engine version(s), kept %s\n", n, c.EngineVersion())
				return nil
			})
		},
	}
}

func pinAll(ctx context.Context, c *cache.Cache, sums []checksum.Checksum, parallel int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for _, sum := range sums {
		g.Go(func() error {
			return c.Pin(ctx, sum)
		})
	}
	return g.Wait()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
