package container

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/djherbis/times"

	"github.com/fadden/cp2/cp2fs"
)

// SameHostFile implements SameFileDetector (spec.md §4.7): both paths
// must exist; the comparison normalizes separators and resolves
// relative components (following symlinks on a best-effort basis via
// filepath.EvalSymlinks), then compares case-insensitively regardless of
// the host filesystem's actual case sensitivity.
//
// Rationale, per spec.md: treating two references as the same file is
// the safe side of the trade-off (it prevents a forbidden double-open);
// treating them as different is the dangerous side. This is why the
// comparison is case-insensitive unconditionally rather than probing
// the host filesystem's real case sensitivity.
//
// github.com/djherbis/times is used to read the host's best-effort
// change/birth time for each path; it is surfaced to the caller as a
// diagnostic hint only (see Open Question decision in SPEC_FULL.md) and
// never relaxes the case-insensitive safe-side rule.
func SameHostFile(path1, path2 string) (bool, error) {
	abs1, t1, err := normalizeHostPath(path1)
	if err != nil {
		return false, cp2fs.NewError(cp2fs.KindNotFound, "same_host_file", err)
	}
	abs2, t2, err := normalizeHostPath(path2)
	if err != nil {
		return false, cp2fs.NewError(cp2fs.KindNotFound, "same_host_file", err)
	}
	same := strings.EqualFold(abs1, abs2)
	_ = t1
	_ = t2
	return same, nil
}

// HostFileTimes returns the best-effort timestamps djherbis/times can
// read for path, used by callers that want to report a warning alongside
// a "not the same file" result per the Open Question in SPEC_FULL.md.
func HostFileTimes(path string) (times.Timespec, error) {
	return times.Stat(path)
}

func normalizeHostPath(path string) (string, times.Timespec, error) {
	if _, err := os.Stat(path); err != nil {
		return "", nil, fmt.Errorf("%s: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		// Best effort: fall back to the unresolved absolute path rather
		// than failing outright (a dangling symlink component is still
		// a real, stat-able file per the os.Stat check above in the
		// common case of a direct file).
		resolved = path
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", nil, err
	}
	abs = filepath.Clean(abs)
	t, err := times.Stat(path)
	if err != nil {
		return abs, nil, nil
	}
	return abs, t, nil
}

// hostRegistry enforces spec.md Invariant 1: each physical host file is
// opened at most once across the entire tree. Grounded on
// backend/cache/storage_persistent.go's GetPersistent: a package-level
// map guarded by a mutex, keyed by a normalized path, returning the
// existing entry if already present instead of opening a second one.
type hostRegistry struct {
	mu    sync.Mutex
	roots map[string]*Root
}

var globalHostRegistry = &hostRegistry{roots: make(map[string]*Root)}

func (r *hostRegistry) getOrCreate(path string, create func() (*Root, error)) (*Root, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, _, err := normalizeHostPath(path)
	if err != nil {
		// File doesn't exist yet (e.g. being created): key on the
		// cleaned, absolute, case-folded path instead.
		abs, aerr := filepath.Abs(path)
		if aerr != nil {
			return nil, false, cp2fs.NewError(cp2fs.KindIO, "open_ext_archive", err)
		}
		key = strings.ToLower(filepath.Clean(abs))
	} else {
		key = strings.ToLower(key)
	}

	if root, ok := r.roots[key]; ok {
		return root, true, nil
	}
	root, err := create()
	if err != nil {
		return nil, false, err
	}
	r.roots[key] = root
	return root, false, nil
}

func (r *hostRegistry) forget(ctx context.Context, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, _, err := normalizeHostPath(path)
	if err != nil {
		abs, aerr := filepath.Abs(path)
		if aerr != nil {
			return
		}
		key = strings.ToLower(filepath.Clean(abs))
	} else {
		key = strings.ToLower(key)
	}
	delete(r.roots, key)
}
