// Package cache is the coordinator of the tiered compiled-module cache.
//
// A Cache resolves a checksum to a compiled module through three tiers,
// first hit wins:
//
//	pinned     unevictable, filled by Pin
//	memory     size-bounded LRU of recently used modules
//	filesystem serialized artifacts namespaced by engine version
//
// and compiles from the raw bytecode when every tier misses. Each resolution
// increments exactly one of the four counters returned by Stats.
//
// Compiled modules are reference counted. Tiers and live instances each hold
// a reference; the engine artifact is closed when the last one is released.
//
// Typical use:
//
//	c, err := cache.New(ctx, cache.DefaultOptions("/var/lib/contracts"))
//	if err != nil {
//		return err
//	}
//	defer c.Close(ctx)
//
//	sum, err := c.Save(code)
//	inst, err := c.Instantiate(ctx, sum, backend, wasmcache.InstanceOptions{GasLimit: 1_000_000})
//	defer inst.Close(ctx)
//	res, err := inst.Call(ctx, "execute", 5)
//
// Only one Cache may use a base directory at a time; New fails with
// errors.ErrLocked while another process or Cache holds it.
package cache
