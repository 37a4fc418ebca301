// Package analyzer statically validates contract bytecode and extracts the
// facts the cache needs before anything is persisted: required capabilities,
// exported entry points and the interface version.
//
// Analysis never compiles the module. Instruction level validation is the
// engine's job and happens on the first compile.
package analyzer

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-cache/capability"
	"github.com/wippyai/wasm-cache/errors"
	"github.com/wippyai/wasm-cache/internal/wasmbin"
)

const (
	requiresPrefix         = "requires_"
	interfaceVersionPrefix = "interface_version_"
	migrateVersionSection  = "cw_migrate_version"
	hostModule             = "env"
)

var requiredExports = []string{"memory", "allocate", "deallocate"}

var ibcEntryPoints = []string{
	"ibc_channel_open",
	"ibc_channel_connect",
	"ibc_channel_close",
	"ibc_packet_receive",
	"ibc_packet_ack",
	"ibc_packet_timeout",
}

// Analyze validates code and builds its report.
// Every failure is an *errors.Error of KindValidation.
func Analyze(code []byte, cfg Config) (*Report, error) {
	cfg = cfg.withDefaults()

	if len(code) == 0 {
		return nil, errors.Validation("empty bytecode", nil)
	}
	m, err := wasmbin.Parse(code)
	if err != nil {
		return nil, errors.Validation("malformed module", err)
	}

	if err := checkMemory(m, cfg); err != nil {
		return nil, err
	}
	implied, err := checkImports(m, cfg)
	if err != nil {
		return nil, err
	}
	if err := checkFunctions(m, cfg); err != nil {
		return nil, err
	}

	report := &Report{MemoryPages: m.Memories[0].Min}
	markers, err := checkExports(m, report)
	if err != nil {
		return nil, err
	}

	if data, ok := m.Custom(migrateVersionSection); ok {
		v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return nil, errors.Validation(migrateVersionSection+" is not a decimal number", err)
		}
		report.ContractMigrateVersion = &v
	}

	report.RequiredCapabilities = capability.New(append(implied, markers...)...).List()
	return report, nil
}

func checkMemory(m *wasmbin.Module, cfg Config) error {
	if m.ImportCount(wasmbin.KindMemory) > 0 {
		return errors.Validation("memory must be defined by the module, not imported", nil)
	}
	switch len(m.Memories) {
	case 0:
		return errors.Validation("module has no memory section", nil)
	case 1:
	default:
		return errors.Validation(fmt.Sprintf("module defines %d memories, exactly one is required", len(m.Memories)), nil)
	}
	mem := m.Memories[0]
	if mem.Is64 {
		return errors.Validation("64-bit memory is not supported", nil)
	}
	if mem.Shared {
		return errors.Validation("shared memory is not supported", nil)
	}
	if mem.Min > cfg.MaxMemoryPages {
		return errors.New(errors.PhaseAnalyze, errors.KindValidation).
			Value(mem.Min).
			Detail("initial memory of %d pages exceeds limit of %d", mem.Min, cfg.MaxMemoryPages).
			Build()
	}
	return nil
}

// checkImports returns the capabilities implied by the host imports.
func checkImports(m *wasmbin.Module, cfg Config) ([]string, error) {
	var required []string
	if len(m.Imports) > cfg.MaxImports {
		return nil, errors.Validation(fmt.Sprintf("module has %d imports, limit is %d", len(m.Imports), cfg.MaxImports), nil)
	}
	for _, imp := range m.Imports {
		if imp.Kind != wasmbin.KindFunc {
			if imp.Kind == wasmbin.KindMemory {
				continue // reported by checkMemory
			}
			return nil, errors.Validation(fmt.Sprintf("import %s.%s is not a function", imp.Module, imp.Name), nil)
		}
		if imp.Module != hostModule {
			return nil, errors.Validation(fmt.Sprintf("import %s.%s is outside the %q module", imp.Module, imp.Name, hostModule), nil)
		}
		implied, ok := HostImports[imp.Name]
		if !ok {
			return nil, errors.Validation(fmt.Sprintf("unknown host import %s.%s", imp.Module, imp.Name), nil)
		}
		if implied != "" {
			required = append(required, implied)
		}
	}
	return required, nil
}

func checkFunctions(m *wasmbin.Module, cfg Config) error {
	if len(m.Functions) > cfg.MaxFunctions {
		return errors.Validation(fmt.Sprintf("module defines %d functions, limit is %d", len(m.Functions), cfg.MaxFunctions), nil)
	}
	for i, t := range m.Types {
		if len(t.Params) > cfg.MaxFunctionParams {
			return errors.Validation(fmt.Sprintf("type %d has %d params, limit is %d", i, len(t.Params), cfg.MaxFunctionParams), nil)
		}
		if len(t.Results) > 1 {
			return errors.Validation(fmt.Sprintf("type %d has %d results, multi-value is not supported", i, len(t.Results)), nil)
		}
	}
	for i, ti := range m.Functions {
		if int(ti) >= len(m.Types) {
			return errors.Validation(fmt.Sprintf("function %d references unknown type %d", i, ti), nil)
		}
	}
	for _, imp := range m.Imports {
		if imp.Kind == wasmbin.KindFunc && int(imp.TypeIdx) >= len(m.Types) {
			return errors.Validation(fmt.Sprintf("import %s.%s references unknown type %d", imp.Module, imp.Name, imp.TypeIdx), nil)
		}
	}
	return nil
}

// checkExports fills the export facts of report and returns the capabilities
// named by requires_* markers.
func checkExports(m *wasmbin.Module, report *Report) ([]string, error) {
	exported := make(map[string]wasmbin.Export, len(m.Exports))
	for _, e := range m.Exports {
		exported[e.Name] = e
	}

	for _, name := range requiredExports {
		e, ok := exported[name]
		if !ok {
			return nil, errors.Validation(fmt.Sprintf("missing required export %q", name), nil)
		}
		want := wasmbin.KindFunc
		if name == "memory" {
			want = wasmbin.KindMemory
		}
		if e.Kind != want {
			return nil, errors.Validation(fmt.Sprintf("export %q has the wrong kind", name), nil)
		}
	}

	var versions, markers []string
	for _, e := range m.Exports {
		switch {
		case strings.HasPrefix(e.Name, interfaceVersionPrefix):
			versions = append(versions, e.Name)
		case strings.HasPrefix(e.Name, requiresPrefix):
			if c := strings.TrimPrefix(e.Name, requiresPrefix); c != "" {
				markers = append(markers, c)
			}
		case e.Kind == wasmbin.KindFunc && e.Name != "allocate" && e.Name != "deallocate":
			report.Entrypoints = append(report.Entrypoints, e.Name)
		}
	}

	switch len(versions) {
	case 0:
		return nil, errors.Validation("missing interface_version_* marker export", nil)
	case 1:
	default:
		sort.Strings(versions)
		return nil, errors.Validation("multiple interface version markers: "+strings.Join(versions, ", "), nil)
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(versions[0], interfaceVersionPrefix), 10, 32)
	if err != nil || !supportedVersion(uint32(v)) {
		return nil, errors.Validation(fmt.Sprintf("unsupported interface version marker %q", versions[0]), nil)
	}
	report.InterfaceVersion = uint32(v)

	sort.Strings(report.Entrypoints)
	if report.Entrypoints == nil {
		report.Entrypoints = []string{}
	}

	has := func(n string) bool {
		e, ok := exported[n]
		return ok && e.Kind == wasmbin.KindFunc
	}
	report.KnownEntrypoints = KnownEntrypoints{
		Instantiate: has("instantiate"),
		Execute:     has("execute"),
		Query:       has("query"),
		Migrate:     has("migrate"),
		Sudo:        has("sudo"),
		Reply:       has("reply"),
	}
	report.HasIBCEntryPoints = true
	for _, n := range ibcEntryPoints {
		if !has(n) {
			report.HasIBCEntryPoints = false
			break
		}
	}
	return markers, nil
}

func supportedVersion(v uint32) bool {
	for _, s := range SupportedInterfaceVersions {
		if s == v {
			return true
		}
	}
	return false
}
