package engine

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const wazeroModule = "github.com/tetratelabs/wazero"

// buildVersion identifies the engine build: wazero release, target and
// execution mode, and metering rules. Artifacts persisted by a different
// build are ignored.
func buildVersion(interpreter bool) string {
	mode := "auto"
	if interpreter {
		mode = "interpreter"
	}
	return fmt.Sprintf("wazero-%s-%s-%s-%s-gas%d", wazeroVersion(), runtime.GOOS, runtime.GOARCH, mode, MeteringVersion)
}

func wazeroVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range info.Deps {
		if dep.Path != wazeroModule {
			continue
		}
		if dep.Replace != nil {
			dep = dep.Replace
		}
		if dep.Version != "" {
			return dep.Version
		}
	}
	return "unknown"
}
