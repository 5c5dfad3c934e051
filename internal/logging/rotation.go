package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig controls size-based rotation of the log file.
type RotationConfig struct {
	// MaxSizeMB is the size that triggers rotation. Zero disables rotation.
	MaxSizeMB int
	// MaxBackups is the number of rotated files kept beside the live one.
	MaxBackups int
}

// DefaultRotationConfig returns the rotation used when config omits it.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{MaxSizeMB: 10, MaxBackups: 3}
}

// RotatingWriter is an io.Writer over a file that is renamed to path.1 once
// it would grow past the size limit. Older backups shift to path.2 and so on;
// anything past MaxBackups is removed. It is safe for concurrent use.
type RotatingWriter struct {
	mu         sync.Mutex
	path       string
	limit      int64
	maxBackups int
	file       *os.File
	size       int64
}

// NewRotatingWriter opens (or creates) path for appending.
func NewRotatingWriter(path string, cfg RotationConfig) (*RotatingWriter, error) {
	rw := &RotatingWriter{
		path:       path,
		limit:      int64(cfg.MaxSizeMB) * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
	}
	if err := rw.open(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *RotatingWriter) open() error {
	if err := os.MkdirAll(filepath.Dir(rw.path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(rw.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	rw.file = f
	rw.size = info.Size()
	return nil
}

// Write appends p, rotating first if p would push the file past the limit.
// A failed rotation is reported on stderr and the write still goes to the
// current file.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return 0, fmt.Errorf("log file %s is closed", rw.path)
	}
	if rw.limit > 0 && rw.size > 0 && rw.size+int64(len(p)) > rw.limit {
		if err := rw.rotate(); err != nil {
			fmt.Fprintf(os.Stderr, "walletgate: log rotation failed: %v\n", err)
		}
	}

	n, err := rw.file.Write(p)
	rw.size += int64(n)
	return n, err
}

func (rw *RotatingWriter) rotate() error {
	if err := rw.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	rw.file = nil

	if rw.maxBackups <= 0 {
		if err := os.Remove(rw.path); err != nil && !os.IsNotExist(err) {
			return rw.reopenAfter(err)
		}
		return rw.open()
	}

	_ = os.Remove(rw.backup(rw.maxBackups))
	for i := rw.maxBackups - 1; i >= 1; i-- {
		if _, err := os.Stat(rw.backup(i)); err == nil {
			_ = os.Rename(rw.backup(i), rw.backup(i+1))
		}
	}
	if err := os.Rename(rw.path, rw.backup(1)); err != nil {
		return rw.reopenAfter(err)
	}
	return rw.open()
}

func (rw *RotatingWriter) reopenAfter(cause error) error {
	if err := rw.open(); err != nil {
		return fmt.Errorf("%w (reopen: %v)", cause, err)
	}
	return cause
}

func (rw *RotatingWriter) backup(n int) string {
	return fmt.Sprintf("%s.%d", rw.path, n)
}

// Size returns the current size of the live file in bytes.
func (rw *RotatingWriter) Size() int64 {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.size
}

// Path returns the live file path.
func (rw *RotatingWriter) Path() string {
	return rw.path
}

// Close syncs and closes the file. Further writes fail.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file == nil {
		return nil
	}
	if err := rw.file.Sync(); err != nil {
		return fmt.Errorf("sync log file: %w", err)
	}
	err := rw.file.Close()
	rw.file = nil
	return err
}
