package db

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrLocked is returned by TryRunLock when another process holds the run lock
var ErrLocked = errors.New("run lock held by another process")

// RunLock is an exclusive, non-blocking OS file lock taken for the duration of
// a sync run. The lock is released automatically when the process exits.
type RunLock struct {
	lockPath string
	lockFile *os.File
}

// TryRunLock takes the run lock that sits next to the database file.
// Returns ErrLocked (wrapped with holder info) when it is already held.
// A database without a path (in-memory) gets a no-op lock.
func (db *DB) TryRunLock() (*RunLock, error) {
	l := &RunLock{}
	if db.path == "" || db.path == ":memory:" {
		return l, nil
	}
	l.lockPath = db.path + ".lock"
	if err := l.acquire(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *RunLock) acquire() error {
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.lockFile = f

	if err := l.tryLock(); err != nil {
		holder := l.readHolder()
		l.lockFile.Close()
		l.lockFile = nil
		return fmt.Errorf("%w (holder: %s)", ErrLocked, holder)
	}
	l.writeHolder()
	return nil
}

// Release drops the lock. Safe to call more than once.
func (l *RunLock) Release() error {
	if l == nil || l.lockFile == nil {
		return nil
	}

	l.lockFile.Truncate(0)
	l.unlock()
	err := l.lockFile.Close()
	l.lockFile = nil
	return err
}

// writeHolder records the current process for diagnostics
func (l *RunLock) writeHolder() {
	l.lockFile.Truncate(0)
	l.lockFile.Seek(0, 0)
	fmt.Fprintf(l.lockFile, "pid:%d\ntime:%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	l.lockFile.Sync()
}

func (l *RunLock) readHolder() string {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return "unknown"
	}

	var pid, timestamp string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if strings.HasPrefix(line, "pid:") {
			pid = strings.TrimPrefix(line, "pid:")
		} else if strings.HasPrefix(line, "time:") {
			timestamp = strings.TrimPrefix(line, "time:")
		}
	}
	if pid == "" {
		return "unknown"
	}

	pidInt, err := strconv.Atoi(pid)
	if err == nil && !isProcessAlive(pidInt) {
		return fmt.Sprintf("pid:%s since %s (STALE - process dead)", pid, timestamp)
	}
	return fmt.Sprintf("pid:%s since %s", pid, timestamp)
}

// tryLock and unlock are implemented in platform-specific files:
// - lock_unix.go for Unix systems (flock)
// - lock_windows.go for Windows (LockFileEx)
