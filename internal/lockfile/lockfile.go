// Package lockfile keeps two bot processes from sharing one state directory.
//
// The lock is an flock on a file inside the state directory, so the kernel
// drops it when the holding process dies, however it exits.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the lock file created in the state directory.
const LockFileName = "artuso-bot.lock"

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID       int
	Host      string
	StartedAt time.Time
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock on stateDir, creating the directory if
// needed. It fails fast with a *LockError when another process holds it.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	// O_TRUNC would wipe the holder's details before we know we own the lock.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder, _ := ReadHolder(path)
		slog.Error("lockfile.Acquire: state directory is locked", "path", path, "holder_pid", holder.PID, "error", err)
		return nil, &LockError{Path: path, Holder: holder, Cause: err}
	}

	host, _ := os.Hostname()
	info := fmt.Sprintf("pid=%d\nhost=%s\nstarted=%s\n", os.Getpid(), host, time.Now().UTC().Format(time.RFC3339))
	if err := writeAll(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock file %s: %w", path, err)
	}
	slog.Info("lockfile.Acquire: lock held", "path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

func writeAll(f *os.File, content string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(content), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile: sync failed", "path", f.Name(), "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. Calling it twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var firstErr error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		firstErr = fmt.Errorf("unlock %s: %w", l.path, err)
	}
	if err := l.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close %s: %w", l.path, err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Release: could not remove lock file", "path", l.path, "error", err)
	}
	l.file = nil
	slog.Info("lockfile.Release: lock released", "path", l.path)
	return firstErr
}

// ReadHolder parses the process details written to a lock file.
func ReadHolder(path string) (Holder, error) {
	f, err := os.Open(path)
	if err != nil {
		return Holder{}, err
	}
	defer f.Close()
	var h Holder
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "host":
			h.Host = value
		case "started":
			h.StartedAt, _ = time.Parse(time.RFC3339, value)
		}
	}
	return h, sc.Err()
}

// Running reports whether the holder process still exists on this host.
func (h Holder) Running() bool {
	if h.PID <= 0 {
		return false
	}
	if host, _ := os.Hostname(); h.Host != "" && h.Host != host {
		return true // cannot probe another host; assume alive
	}
	p, err := os.FindProcess(h.PID)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// LockError reports that another process holds the state directory.
type LockError struct {
	Path   string
	Holder Holder
	Cause  error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another artuso-bot instance is using this state directory (lock file %s)", e.Path)
	if e.Holder.PID > 0 {
		status := "running"
		if !e.Holder.Running() {
			status = "not running, lock may be stale"
		}
		fmt.Fprintf(&b, "; held by pid %d on %q since %s (%s)", e.Holder.PID, e.Holder.Host,
			e.Holder.StartedAt.Format(time.RFC3339), status)
	}
	fmt.Fprintf(&b, "; remove %s only if no other instance is running", e.Path)
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}
