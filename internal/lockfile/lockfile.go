// Package lockfile guards the state directory against concurrent routined
// processes. The lock is an flock(2) on a well-known file, so the kernel
// releases it even when the process dies without cleanup.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// LockFileName is created inside the state directory.
const LockFileName = "routined.lock"

// ErrAlreadyLocked reports that another process holds the state directory.
var ErrAlreadyLocked = errors.New("state directory is locked by another routined process")

// Lock is a held state-directory lock. Release is safe to call twice.
type Lock struct {
	file *os.File
	path string
	held bool
}

// AcquireLock takes an exclusive non-blocking lock on stateDir, creating the
// directory if needed. On conflict the returned error wraps ErrAlreadyLocked
// and names the holding process when it can be identified.
func AcquireLock(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		holder := describeHolder(path)
		slog.Error("State directory already locked", "lock_path", path, "holder", holder)
		if holder != "" {
			return nil, fmt.Errorf("%w (%s, lock file %s)", ErrAlreadyLocked, holder, path)
		}
		return nil, fmt.Errorf("%w (lock file %s)", ErrAlreadyLocked, path)
	}

	if _, err := fmt.Fprintf(f, "pid=%d\n", os.Getpid()); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("writing lock file %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		slog.Warn("Failed to sync lock file", "lock_path", path, "error", err)
	}

	slog.Debug("State directory locked", "lock_path", path, "pid", os.Getpid())
	return &Lock{file: f, path: path, held: true}, nil
}

// Release drops the flock and removes the lock file.
func (l *Lock) Release() error {
	if !l.held || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Failed to unlock state directory", "lock_path", l.path, "error", err)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Failed to close lock file", "lock_path", l.path, "error", err)
	}
	if err := os.Remove(l.path); err != nil {
		slog.Error("Failed to remove lock file", "lock_path", l.path, "error", err)
	}
	l.held = false
	l.file = nil
	slog.Debug("State directory unlocked", "lock_path", l.path)
	return nil
}

// describeHolder reads the existing lock file and reports the holder's pid
// and whether that process is still alive. Empty when nothing useful can be
// read.
func describeHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	pid := parsePID(string(data))
	if pid <= 0 {
		return ""
	}
	if processAlive(pid) {
		return fmt.Sprintf("held by pid %d", pid)
	}
	return fmt.Sprintf("stale lock from pid %d", pid)
}

func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), "pid=")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(rest)
		if err != nil {
			return 0
		}
		return pid
	}
	return 0
}

// processAlive checks the pid with signal 0.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
