package workspace

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const sweepLockName = ".sweep.lock"

// SweepResult summarises a scratch sweep.
type SweepResult struct {
	Removed    int
	FreedBytes int64
	Skipped    int
}

// Sweep removes scratch entries older than maxAge that are not active
// workspaces. A maxAge of zero removes every inactive entry. Only one sweep
// may run at a time across processes sharing the root. IsActive only knows
// this process's workspaces, so with a shared root maxAge is what protects
// the entries of other processes.
func (m *Manager) Sweep(maxAge time.Duration) (SweepResult, error) {
	var result SweepResult

	lock := flock.New(filepath.Join(m.root, sweepLockName))
	locked, err := lock.TryLock()
	if err != nil {
		return result, &Error{Op: "sweep", Path: m.root, Err: err}
	}
	if !locked {
		return result, ErrSweepInProgress
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			m.logger.Warn("failed to release sweep lock", "error", err)
		}
	}()

	entries, err := os.ReadDir(m.root)
	if err != nil {
		return result, &Error{Op: "sweep", Path: m.root, Err: err}
	}

	cutoff := time.Now().Add(-maxAge)
	for _, de := range entries {
		if de.Name() == sweepLockName {
			continue
		}
		path := filepath.Join(m.root, de.Name())
		if m.IsActive(path) {
			result.Skipped++
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		if maxAge > 0 && info.ModTime().After(cutoff) {
			result.Skipped++
			continue
		}

		size := diskUsage(path)
		if err := os.RemoveAll(path); err != nil {
			m.logger.Warn("sweep failed to remove entry", "path", path, "error", err)
			result.Skipped++
			continue
		}
		result.Removed++
		result.FreedBytes += size
	}

	m.logger.Info("scratch sweep finished",
		"removed", result.Removed,
		"freed_bytes", result.FreedBytes,
		"skipped", result.Skipped,
	)
	return result, nil
}

// DiskUsage returns the total size of files under the scratch root.
func (m *Manager) DiskUsage() int64 {
	return diskUsage(m.root)
}

func diskUsage(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
