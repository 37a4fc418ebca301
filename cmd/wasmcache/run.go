package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	wasmcache "github.com/wippyai/wasm-cache"
	"github.com/wippyai/wasm-cache/cache"
	"github.com/wippyai/wasm-cache/engine"
)

type runOptions struct {
	function string
	args     []string
	gasLimit uint64
	repeat   int
	pin      bool
	debug    bool
}

func newRunCommand(g *globalOptions) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run CHECKSUM",
		Short: "Instantiate a contract against an in-memory backend and call an export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, g, opts, args[0])
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.function, "func", "f", "execute", "Exported function to call")
	flags.StringSliceVarP(&opts.args, "arg", "a", nil, "Integer arguments")
	flags.Uint64Var(&opts.gasLimit, "gas", 10_000_000, "Gas limit per instance")
	flags.IntVarP(&opts.repeat, "repeat", "n", 1, "Number of instances to create and call")
	flags.BoolVar(&opts.pin, "pin", false, "Pin the contract before the first call")
	flags.BoolVar(&opts.debug, "debug", false, "Log messages the contract prints through debug")
	return cmd
}

func parseArgs(args []string) ([]uint64, error) {
	params := make([]uint64, len(args))
	for i, a := range args {
		if v, err := strconv.ParseUint(a, 0, 64); err == nil {
			params[i] = v
			continue
		}
		v, err := strconv.ParseInt(a, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("argument %q is not an integer", a)
		}
		params[i] = uint64(v)
	}
	return params, nil
}

func runRun(cmd *cobra.Command, g *globalOptions, opts runOptions, arg string) error {
	ctx := cmd.Context()
	sums, err := parseChecksums([]string{arg})
	if err != nil {
		return err
	}
	sum := sums[0]
	params, err := parseArgs(opts.args)
	if err != nil {
		return err
	}

	return g.withCache(ctx, func(c *cache.Cache) error {
		if opts.pin {
			if err := c.Pin(ctx, sum); err != nil {
				return err
			}
		}
		backend := engine.MockBackend()
		out := cmd.OutOrStdout()

		for i := 0; i < max(opts.repeat, 1); i++ {
			start := time.Now()
			inst, err := c.Instantiate(ctx, sum, backend, wasmcache.InstanceOptions{
				GasLimit:   opts.gasLimit,
				PrintDebug: opts.debug,
			})
			if err != nil {
				return err
			}
			res, err := inst.Call(ctx, opts.function, params...)
			gasUsed := inst.GasUsed()
			_ = inst.Close(ctx)
			if err != nil {
				return fmt.Errorf("call %d: %w", i, err)
			}
			fmt.Fprintf(out, "%s(%s) = %v  gas=%d  took=%s\n",
				opts.function, strings.Join(opts.args, ", "), res, gasUsed, time.Since(start).Round(time.Microsecond))
		}

		s := c.Stats()
		fmt.Fprintf(out, "pinned=%d memory=%d fs=%d misses=%d\n", s.HitsPinned, s.HitsMemory, s.HitsFS, s.Misses)
		return nil
	})
}
