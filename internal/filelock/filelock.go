// Package filelock guards the deployment workspace against concurrent
// modification and provides atomic artifact writes. Locks are flock-based so
// they hold across processes, not just goroutines.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// WorkspaceLock serializes deployment activity in a working checkout. Two
// engines pointed at the same workspace contend on the same lock file.
type WorkspaceLock struct {
	flock *flock.Flock
	path  string
}

// NewWorkspaceLock creates a lock scoped to the given working directory.
// The lock file lives at <workDir>/.foundry/deploy.lock.
func NewWorkspaceLock(workDir string) (*WorkspaceLock, error) {
	dir := filepath.Join(workDir, ".foundry")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, "deploy.lock")
	return &WorkspaceLock{flock: flock.New(path), path: path}, nil
}

// Lock blocks until the workspace lock is acquired.
func (l *WorkspaceLock) Lock() error {
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("acquire workspace lock %s: %w", l.path, err)
	}
	return nil
}

// TryLock attempts to acquire the lock without blocking. Returns false when
// another process holds it.
func (l *WorkspaceLock) TryLock() (bool, error) {
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("try workspace lock %s: %w", l.path, err)
	}
	return acquired, nil
}

// Unlock releases the workspace lock.
func (l *WorkspaceLock) Unlock() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release workspace lock %s: %w", l.path, err)
	}
	return nil
}

// AtomicWrite writes data through a temp file and rename so readers never
// observe a partially written artifact. Parent directories are created as
// needed. On failure the target file is left unchanged.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	// The temp file must live in the target directory: rename is only
	// atomic within one filesystem.
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	tmp = nil

	return nil
}
