package guard

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"autotrader/pkg/logger"
)

// FileGuard is a pidfile lock. Exclusive create wins the lock; a leftover
// file from a dead process is detected by probing its pid and reclaimed.
type FileGuard struct {
	path string
}

func NewFileGuard(path string) *FileGuard {
	return &FileGuard{path: path}
}

func (g *FileGuard) Acquire(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return errors.Wrap(err, "lock dir")
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(g.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(g.path)
				return errors.Wrap(werr, "write pidfile")
			}
			return nil
		}
		if !os.IsExist(err) {
			return errors.Wrap(err, "create pidfile")
		}

		pid, rerr := ReadPid(g.path)
		if rerr == nil && processAlive(pid) {
			return errors.Wrapf(ErrAlreadyRunning, "pid %d holds %s", pid, g.path)
		}

		// Stale pidfile from a dead process: reclaim and retry once.
		logger.Info("removing stale pidfile %s (pid %d)", g.path, pid)
		if rmErr := os.Remove(g.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return errors.Wrap(rmErr, "remove stale pidfile")
		}
	}
	return errors.Wrapf(ErrAlreadyRunning, "could not claim %s", g.path)
}

func (g *FileGuard) Release(ctx context.Context) error {
	if err := os.Remove(g.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove pidfile")
	}
	return nil
}

// ReadPid parses the pid recorded in a pidfile. Shared with the CLI stop
// and status commands.
func ReadPid(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0, errors.Errorf("malformed pidfile %s", path)
	}
	return pid, nil
}

// ProcessAlive reports whether pid refers to a live process we can signal.
func ProcessAlive(pid int) bool {
	return processAlive(pid)
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
