package schedule

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning means another live daemon holds the PID file.
var ErrAlreadyRunning = errors.New("scheduler already running")

// PIDLock is the single-instance guard for the daemon: a file holding the
// owning process id. A second daemon against the same state directory finds
// the file, probes the recorded PID, and refuses to start while it is alive.
// A PID left behind by a crash is reclaimed.
type PIDLock struct {
	path string
}

// AcquirePID claims the PID file at path for this process. It fails with
// ErrAlreadyRunning when the recorded PID belongs to a live process.
func AcquirePID(path string) (*PIDLock, error) {
	if raw, err := os.ReadFile(path); err == nil {
		pid, perr := strconv.Atoi(strings.TrimSpace(string(raw)))
		if perr == nil && pid != os.Getpid() && pidAlive(pid) {
			return nil, fmt.Errorf("schedule: pid file %s holds live pid %d: %w",
				path, pid, ErrAlreadyRunning)
		}
		// Stale or unreadable: reclaim it.
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("schedule: write pid file: %w", err)
	}
	return &PIDLock{path: path}, nil
}

// Release removes the PID file. Safe to call once at shutdown.
func (l *PIDLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("schedule: remove pid file: %w", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *PIDLock) Path() string { return l.path }

// pidAlive probes pid with signal 0. EPERM still means the process exists,
// just under another user.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
