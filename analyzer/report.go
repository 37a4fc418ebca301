package analyzer

import (
	"github.com/wippyai/wasm-cache/capability"
)

// Report is the result of analyzing a module. It is never mutated after
// Analyze returns and is safe to share.
type Report struct {
	ContractMigrateVersion *uint64          `json:"contract_migrate_version,omitempty"`
	RequiredCapabilities   []string         `json:"required_capabilities"`
	Entrypoints            []string         `json:"entrypoints"`
	KnownEntrypoints       KnownEntrypoints `json:"known_entrypoints"`
	InterfaceVersion       uint32           `json:"interface_version"`
	MemoryPages            uint64           `json:"memory_pages"`
	HasIBCEntryPoints      bool             `json:"has_ibc_entry_points"`
}

// KnownEntrypoints flags the standard contract entry points found in the exports.
type KnownEntrypoints struct {
	Instantiate bool `json:"instantiate"`
	Execute     bool `json:"execute"`
	Query       bool `json:"query"`
	Migrate     bool `json:"migrate"`
	Sudo        bool `json:"sudo"`
	Reply       bool `json:"reply"`
}

// Capabilities returns RequiredCapabilities as a Set.
func (r *Report) Capabilities() capability.Set {
	return capability.New(r.RequiredCapabilities...)
}

// RequiresSubsetOf reports whether every capability required by r is
// available. When it is not, missing lists all absent names in sorted order.
func RequiresSubsetOf(r *Report, available capability.Set) (missing []string, ok bool) {
	missing = capability.Missing(r.Capabilities(), available)
	return missing, len(missing) == 0
}
