package engine

import (
	"context"

	"go.uber.org/zap"

	wasmcache "github.com/wippyai/wasm-cache"
)

// callEnv is the per-call state host functions and the gas listener need.
type callEnv struct {
	backend wasmcache.Backend
	meter   *gasMeter
	gas     GasConfig
	logger  *zap.Logger
	debug   bool
}

type callEnvKey struct{}

func withCallEnv(ctx context.Context, env *callEnv) context.Context {
	return context.WithValue(ctx, callEnvKey{}, env)
}

func callEnvFrom(ctx context.Context) *callEnv {
	env, _ := ctx.Value(callEnvKey{}).(*callEnv)
	return env
}
