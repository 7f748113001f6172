package hostlock

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Lock is a host-local advisory lock serializing the identifier
// allocation and container creation window across concurrent
// invocations on the same host.
type Lock struct {
	file *os.File
}

func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to acquire host lock: %w", err)
	}

	return &Lock{file: file}, nil
}

// FileLocker acquires on demand, so the lock is held only for the
// allocate+create window rather than the whole run.
type FileLocker struct {
	path string
}

func (f *FileLocker) Acquire() (func(), error) {
	lock, err := Acquire(f.path)
	if err != nil {
		return nil, err
	}

	return func() { _ = lock.Release() }, nil
}

func NewFileLocker(path string) *FileLocker {
	return &FileLocker{path: path}
}

func (l *Lock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("failed to release host lock: %w", err)
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}

	return nil
}
