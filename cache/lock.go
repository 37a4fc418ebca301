package cache

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/wippyai/wasm-cache/errors"
)

const lockFile = "exclusive.lock"

// lockBaseDir takes the exclusive lock of base, creating base if needed.
func lockBaseDir(base string) (*flock.Flock, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, errors.IO(errors.PhaseConfig, "create base directory", err)
	}
	fl := flock.New(filepath.Join(base, lockFile))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errors.Locked(base, err)
	}
	if !locked {
		return nil, errors.Locked(base, nil)
	}
	return fl, nil
}
