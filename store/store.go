package store

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/atomicwriter"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-cache/analyzer"
	"github.com/wippyai/wasm-cache/checksum"
	"github.com/wippyai/wasm-cache/errors"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	moduleExt = ".module"
	reportExt = ".json"
)

// Store is the filesystem tier. It is safe for concurrent use as long as
// concurrent writers of one checksum write identical content, which content
// addressing guarantees.
type Store struct {
	logger     *zap.Logger
	base       string
	wasmDir    string
	reportDir  string
	modulesDir string
	nativeDir  string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for discarded artifacts.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open creates the directory layout under base if needed.
func Open(base string, opts ...Option) (*Store, error) {
	if base == "" {
		return nil, errors.InvalidInput(errors.PhaseConfig, "base directory is empty")
	}
	s := &Store{
		logger:     zap.NewNop(),
		base:       base,
		wasmDir:    filepath.Join(base, "state", "wasm"),
		reportDir:  filepath.Join(base, "state", "reports"),
		modulesDir: filepath.Join(base, "cache", "modules"),
		nativeDir:  filepath.Join(base, "cache", "native"),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, dir := range []string{s.wasmDir, s.reportDir, s.modulesDir, s.nativeDir} {
		if err := os.MkdirAll(dir, dirPerm); err != nil {
			return nil, errors.IO(errors.PhaseConfig, "create "+dir, err)
		}
	}
	return s, nil
}

// Base returns the base directory.
func (s *Store) Base() string { return s.base }

// NativeCacheDir is reserved for the engine's own code cache.
func (s *Store) NativeCacheDir() string { return s.nativeDir }

func (s *Store) rawPath(sum checksum.Checksum) string {
	return filepath.Join(s.wasmDir, sum.String())
}

func (s *Store) reportPath(sum checksum.Checksum) string {
	return filepath.Join(s.reportDir, sum.String()+reportExt)
}

func (s *Store) compiledPath(sum checksum.Checksum, engineVersion string) string {
	return filepath.Join(s.modulesDir, versionDir(engineVersion), sum.String()+moduleExt)
}

// versionDir maps an engine version to a safe directory name.
func versionDir(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, v)
}

// PutRaw stores code under sum. Existing entries are left untouched.
func (s *Store) PutRaw(sum checksum.Checksum, code []byte) error {
	path := s.rawPath(sum)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := atomicwriter.WriteFile(path, code, filePerm); err != nil {
		return errors.New(errors.PhaseStore, errors.KindIO).
			Checksum(sum.String()).
			Detail("write raw bytecode").
			Cause(err).
			Build()
	}
	return nil
}

// GetRaw returns the bytecode for sum or a KindNotFound error.
func (s *Store) GetRaw(sum checksum.Checksum) ([]byte, error) {
	data, err := os.ReadFile(s.rawPath(sum))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.PhaseLoad, "wasm", sum.String())
		}
		return nil, errors.New(errors.PhaseStore, errors.KindIO).
			Checksum(sum.String()).
			Detail("read raw bytecode").
			Cause(err).
			Build()
	}
	return data, nil
}

// HasRaw reports whether bytecode for sum is stored.
func (s *Store) HasRaw(sum checksum.Checksum) bool {
	fi, err := os.Stat(s.rawPath(sum))
	return err == nil && fi.Mode().IsRegular()
}

// RemoveRaw deletes the bytecode for sum. Removing a missing entry is not an error.
func (s *Store) RemoveRaw(sum checksum.Checksum) error {
	return s.remove(s.rawPath(sum), sum, "remove raw bytecode")
}

// ListRaw returns the checksums of all stored bytecode, in directory order.
// Files that are not named by a checksum are skipped.
func (s *Store) ListRaw() ([]checksum.Checksum, error) {
	entries, err := os.ReadDir(s.wasmDir)
	if err != nil {
		return nil, errors.IO(errors.PhaseStore, "list raw bytecode", err)
	}
	sums := make([]checksum.Checksum, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		sum, err := checksum.Parse(e.Name())
		if err != nil {
			continue
		}
		sums = append(sums, sum)
	}
	return sums, nil
}

// PutReport stores the analysis report for sum.
func (s *Store) PutReport(sum checksum.Checksum, r *analyzer.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return errors.New(errors.PhaseStore, errors.KindInvalidInput).
			Checksum(sum.String()).
			Detail("encode report").
			Cause(err).
			Build()
	}
	if err := atomicwriter.WriteFile(s.reportPath(sum), data, filePerm); err != nil {
		return errors.New(errors.PhaseStore, errors.KindIO).
			Checksum(sum.String()).
			Detail("write report").
			Cause(err).
			Build()
	}
	return nil
}

// GetReport returns the stored report for sum. A missing or undecodable
// report yields a KindNotFound error so callers can regenerate it.
func (s *Store) GetReport(sum checksum.Checksum) (*analyzer.Report, error) {
	data, err := os.ReadFile(s.reportPath(sum))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.PhaseAnalyze, "report", sum.String())
		}
		return nil, errors.New(errors.PhaseStore, errors.KindIO).
			Checksum(sum.String()).
			Detail("read report").
			Cause(err).
			Build()
	}
	var r analyzer.Report
	if err := json.Unmarshal(data, &r); err != nil {
		s.logger.Warn("discarding corrupt report",
			zap.String("checksum", sum.String()),
			zap.Error(err))
		return nil, errors.New(errors.PhaseAnalyze, errors.KindNotFound).
			Checksum(sum.String()).
			Detail("report is corrupt").
			Cause(err).
			Build()
	}
	return &r, nil
}

// RemoveReport deletes the report for sum.
func (s *Store) RemoveReport(sum checksum.Checksum) error {
	return s.remove(s.reportPath(sum), sum, "remove report")
}

// PutCompiled stores a serialized artifact for sum built by engineVersion.
func (s *Store) PutCompiled(sum checksum.Checksum, engineVersion string, payload []byte) error {
	path := s.compiledPath(sum, engineVersion)
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return errors.IO(errors.PhaseStore, "create module directory", err)
	}
	if err := atomicwriter.WriteFile(path, encodeEnvelope(sum, engineVersion, payload), filePerm); err != nil {
		return errors.New(errors.PhaseStore, errors.KindIO).
			Checksum(sum.String()).
			Detail("write compiled module").
			Cause(err).
			Build()
	}
	return nil
}

// GetCompiled returns the artifact payload for sum built by engineVersion.
// Missing, truncated, corrupt or mismatched files are reported as a miss;
// unusable files are deleted.
func (s *Store) GetCompiled(sum checksum.Checksum, engineVersion string) ([]byte, bool) {
	path := s.compiledPath(sum, engineVersion)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("cannot read compiled module",
				zap.String("checksum", sum.String()),
				zap.String("path", path),
				zap.Error(err))
		}
		return nil, false
	}
	payload, err := decodeEnvelope(data, sum, engineVersion)
	if err != nil {
		s.logger.Warn("discarding compiled module",
			zap.String("checksum", sum.String()),
			zap.String("engine_version", engineVersion),
			zap.Error(err))
		_ = os.Remove(path)
		return nil, false
	}
	return payload, true
}

// RemoveCompiled deletes the artifacts of sum for every engine version.
func (s *Store) RemoveCompiled(sum checksum.Checksum) error {
	dirs, err := os.ReadDir(s.modulesDir)
	if err != nil {
		return errors.IO(errors.PhaseStore, "list module directories", err)
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		path := filepath.Join(s.modulesDir, d.Name(), sum.String()+moduleExt)
		if err := s.remove(path, sum, "remove compiled module"); err != nil {
			return err
		}
	}
	return nil
}

// PruneCompiled deletes artifact directories of every engine version other
// than keep and returns how many were removed.
func (s *Store) PruneCompiled(keep string) (int, error) {
	dirs, err := os.ReadDir(s.modulesDir)
	if err != nil {
		return 0, errors.IO(errors.PhaseStore, "list module directories", err)
	}
	keepDir := versionDir(keep)
	n := 0
	for _, d := range dirs {
		if !d.IsDir() || d.Name() == keepDir {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.modulesDir, d.Name())); err != nil {
			return n, errors.IO(errors.PhaseStore, "remove "+d.Name(), err)
		}
		s.logger.Info("pruned stale compiled modules", zap.String("engine_version", d.Name()))
		n++
	}
	return n, nil
}

func (s *Store) remove(path string, sum checksum.Checksum, what string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.New(errors.PhaseStore, errors.KindIO).
			Checksum(sum.String()).
			Detail("%s", what).
			Cause(err).
			Build()
	}
	return nil
}

// DiskUsage sums the sizes of regular files below dir relative to the base.
func (s *Store) DiskUsage(dir string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(filepath.Join(s.base, dir), func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += uint64(info.Size())
		}
		return nil
	})
	if err != nil {
		return 0, errors.IO(errors.PhaseStore, fmt.Sprintf("disk usage of %s", dir), err)
	}
	return total, nil
}
