// Package ownerlock guarantees that a single mediator process owns a data
// directory. Two mediators sharing a directory would each keep their own
// queue and both surface a head to the operator.
package ownerlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// FileName is the lock file created inside the data directory.
const FileName = "walletgate.lock"

// ErrHeld is returned by TryAcquire when another process owns the directory.
var ErrHeld = errors.New("data directory is owned by another walletgate process")

// Lock is an exclusive flock(2) on a data directory. The owning process
// writes its pid into the lock file for diagnostics.
type Lock struct {
	path string
	file *os.File
}

// New creates a Lock for dir. Call TryAcquire to take it.
func New(dir string) *Lock {
	return &Lock{path: filepath.Join(dir, FileName)}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// TryAcquire takes the lock without blocking. If another process holds it
// the error wraps ErrHeld and names the holder's pid when known.
func (l *Lock) TryAcquire() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if pid, ok := HolderPID(filepath.Dir(l.path)); ok {
				return fmt.Errorf("%w (pid %d)", ErrHeld, pid)
			}
			return ErrHeld
		}
		return fmt.Errorf("flock: %w", err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	l.file = f
	return nil
}

// Release drops the lock. It is a no-op when the lock is not held.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}

	_ = l.file.Truncate(0)
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("funlock: %w", err)
	}

	err := l.file.Close()
	l.file = nil
	return err
}

// Held reports whether this Lock currently owns the directory.
func (l *Lock) Held() bool { return l.file != nil }

// HolderPID reads the pid recorded in dir's lock file.
func HolderPID(dir string) (int, bool) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
