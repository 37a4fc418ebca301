package analyzer

import "github.com/wippyai/wasm-cache/capability"

// Default static limits.
const (
	DefaultMaxFunctions      = 10000
	DefaultMaxFunctionParams = 100
	DefaultMaxImports        = 100
	DefaultMaxMemoryPages    = 512 // 32 MiB
)

// SupportedInterfaceVersions lists the interface_version_<n> markers a module may carry.
var SupportedInterfaceVersions = []uint32{8}

// HostImports maps every importable env function to the capability it
// implies, or "" when it needs none.
var HostImports = map[string]string{
	"db_read":        "",
	"db_write":       "",
	"db_remove":      "",
	"db_scan":        capability.Iterator,
	"db_next":        capability.Iterator,
	"query_chain":    "",
	"sha1_calculate": "",
	"debug":          "",
	"abort":          "",
}

// Config holds the static limits applied by Analyze.
// Zero fields fall back to the defaults.
type Config struct {
	MaxFunctions      int    `json:"max_functions,omitempty"`
	MaxFunctionParams int    `json:"max_function_params,omitempty"`
	MaxImports        int    `json:"max_imports,omitempty"`
	MaxMemoryPages    uint64 `json:"max_memory_pages,omitempty"`
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		MaxFunctions:      DefaultMaxFunctions,
		MaxFunctionParams: DefaultMaxFunctionParams,
		MaxImports:        DefaultMaxImports,
		MaxMemoryPages:    DefaultMaxMemoryPages,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxFunctions <= 0 {
		c.MaxFunctions = d.MaxFunctions
	}
	if c.MaxFunctionParams <= 0 {
		c.MaxFunctionParams = d.MaxFunctionParams
	}
	if c.MaxImports <= 0 {
		c.MaxImports = d.MaxImports
	}
	if c.MaxMemoryPages == 0 {
		c.MaxMemoryPages = d.MaxMemoryPages
	}
	return c
}
