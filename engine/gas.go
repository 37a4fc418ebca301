package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"

	"github.com/wippyai/wasm-cache/errors"
)

// MeteringVersion changes whenever charging rules change in a way that
// affects compiled artifacts. It is part of the engine version.
const MeteringVersion = 1

// GasConfig sets the price of metered operations.
type GasConfig struct {
	FunctionCall uint64 // per guest function entry
	HostCall     uint64 // base price of every host import call
	PerByte      uint64 // per byte read from or written to guest memory by the host
	Sha1         uint64 // sha1_calculate on top of HostCall
}

// DefaultGasConfig returns the default prices.
func DefaultGasConfig() GasConfig {
	return GasConfig{
		FunctionCall: 10,
		HostCall:     100,
		PerByte:      1,
		Sha1:         1000,
	}
}

func (g GasConfig) withDefaults() GasConfig {
	d := DefaultGasConfig()
	if g.FunctionCall == 0 {
		g.FunctionCall = d.FunctionCall
	}
	if g.HostCall == 0 {
		g.HostCall = d.HostCall
	}
	if g.PerByte == 0 {
		g.PerByte = d.PerByte
	}
	if g.Sha1 == 0 {
		g.Sha1 = d.Sha1
	}
	return g
}

// gasMeter tracks the budget of one instance. Instances are single threaded
// so no synchronization is needed.
type gasMeter struct {
	limit     uint64
	used      uint64
	exhausted bool
}

func (m *gasMeter) left() uint64 {
	return m.limit - m.used
}

// charge consumes amount or, if the budget does not cover it, drains the
// meter and panics with an out-of-gas error. wazero turns the panic into an
// error returned from the guest call.
func (m *gasMeter) charge(amount uint64) {
	if amount > m.left() {
		m.used = m.limit
		m.exhausted = true
		panic(errors.OutOfGas(m.limit))
	}
	m.used += amount
}

// gasListener charges every guest function entry.
type gasListener struct {
	cost uint64
}

func newGasListenerFactory(cost uint64) experimental.FunctionListenerFactory {
	l := &gasListener{cost: cost}
	return experimental.FunctionListenerFactoryFunc(func(api.FunctionDefinition) experimental.FunctionListener {
		return l
	})
}

func (l *gasListener) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) {
	if env := callEnvFrom(ctx); env != nil {
		env.meter.charge(l.cost)
	}
}

func (l *gasListener) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}

func (l *gasListener) Abort(context.Context, api.Module, api.FunctionDefinition, error) {}
