package main

import (
	"context"
	"math/rand/v2"
	"sync/atomic"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	wasmcache "github.com/wippyai/wasm-cache"
	"github.com/wippyai/wasm-cache/cache"
	"github.com/wippyai/wasm-cache/checksum"
	"github.com/wippyai/wasm-cache/engine"
)

// workload keeps instantiating saved contracts and calling one export on
// each instance, so the cache has traffic to report on.
type workload struct {
	cache    *cache.Cache
	logger   *zap.Logger
	function string
	sums     []checksum.Checksum
	params   []uint64
	gasLimit uint64

	calls  atomic.Uint64
	failed atomic.Uint64
}

func (w *workload) run(ctx context.Context, workers int) error {
	if len(w.sums) == 0 || workers <= 0 {
		<-ctx.Done()
		return nil
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			backend := engine.MockBackend()
			for ctx.Err() == nil {
				w.callOnce(ctx, backend)
			}
			return nil
		})
	}
	return g.Wait()
}

func (w *workload) callOnce(ctx context.Context, backend wasmcache.Backend) {
	sum := w.sums[rand.IntN(len(w.sums))]
	inst, err := w.cache.Instantiate(ctx, sum, backend, wasmcache.InstanceOptions{GasLimit: w.gasLimit})
	if err != nil {
		w.fail(sum, err)
		return
	}
	defer inst.Close(ctx)
	if _, err := inst.Call(ctx, w.function, w.params...); err != nil {
		w.fail(sum, err)
		return
	}
	w.calls.Add(1)
}

func (w *workload) fail(sum checksum.Checksum, err error) {
	w.failed.Add(1)
	w.logger.Debug("workload call failed", zap.String("checksum", sum.Short()), zap.Error(err))
}

type workloadOptions struct {
	function string
	args     []string
	pin      []string
	gasLimit uint64
	workers  int
}

func (o *workloadOptions) addFlags(fs *pflag.FlagSet, workers int) {
	fs.StringVarP(&o.function, "func", "f", "execute", "Exported function the workload calls")
	fs.StringSliceVarP(&o.args, "arg", "a", []string{"10"}, "Integer arguments of the workload call")
	fs.StringSliceVar(&o.pin, "pin", nil, "Checksums to pin on start")
	fs.Uint64Var(&o.gasLimit, "gas", 10_000_000, "Gas limit per instance")
	fs.IntVarP(&o.workers, "workers", "w", workers, "Concurrent workload goroutines, 0 disables the workload")
}

// newWorkload pins the requested checksums and targets every saved contract.
func newWorkload(ctx context.Context, c *cache.Cache, logger *zap.Logger, o workloadOptions) (*workload, error) {
	params, err := parseArgs(o.args)
	if err != nil {
		return nil, err
	}
	pins, err := parseChecksums(o.pin)
	if err != nil {
		return nil, err
	}
	if err := pinAll(ctx, c, pins, 4); err != nil {
		return nil, err
	}
	sums, err := c.SavedChecksums()
	if err != nil {
		return nil, err
	}
	return &workload{
		cache:    c,
		logger:   logger,
		function: o.function,
		sums:     sums,
		params:   params,
		gasLimit: o.gasLimit,
	}, nil
}
