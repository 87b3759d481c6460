package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// ErrAlreadyRunning is returned by acquirePIDFile when the PID file
// names a process that is still alive.
var ErrAlreadyRunning = errors.New("another instance is already running")

// acquirePIDFile removes a stale PID file (its recorded process no
// longer exists), refuses to start if the recorded process is alive,
// and otherwise writes our own PID to path.
func acquirePIDFile(path string) error {
	if pid, ok := readPIDFile(path); ok {
		if processAlive(pid) {
			return errors.Wrapf(ErrAlreadyRunning, "pid %d (from %s)", pid, path)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "remove stale pid file")
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return errors.Wrap(err, "write pid file")
	}
	return nil
}

func readPIDFile(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// processAlive signal-0 probes pid: sending signal 0 checks for
// existence and permission without actually signaling the process.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func removePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}
