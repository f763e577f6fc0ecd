package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

func TestAcquire_WritesHolder(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("Path = %q", lock.Path())
	}
	h, err := ReadHolder(lock.Path())
	if err != nil {
		t.Fatalf("ReadHolder: %v", err)
	}
	if h.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", h.PID, os.Getpid())
	}
	if time.Since(h.StartedAt) > time.Minute {
		t.Errorf("StartedAt = %v", h.StartedAt)
	}
	if !h.Running() {
		t.Error("current process should be reported as running")
	}
}

func TestAcquire_CreatesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lock.Release()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("state dir not created: %v", err)
	}
}

func TestAcquire_Conflict(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	defer first.Release()

	second, err := Acquire(dir)
	if err == nil {
		second.Release()
		t.Fatal("second Acquire should fail while the lock is held")
	}
	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if lockErr.Holder.PID != os.Getpid() {
		t.Errorf("Holder.PID = %d", lockErr.Holder.PID)
	}
	if !errors.Is(err, syscall.EWOULDBLOCK) {
		t.Errorf("expected EWOULDBLOCK cause, got %v", lockErr.Cause)
	}
	msg := err.Error()
	for _, want := range []string{"another artuso-bot instance", dir, "running"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q: %s", want, msg)
		}
	}

	// The holder's details survive the failed attempt.
	if h, _ := ReadHolder(first.Path()); h.PID != os.Getpid() {
		t.Errorf("holder details were clobbered: %+v", h)
	}
}

func TestRelease(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Errorf("lock file should be removed, stat err = %v", err)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("re-Acquire after Release: %v", err)
	}
	again.Release()
}

func TestReadHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	content := "pid=4242\nhost=bot-1\nstarted=2025-03-10T12:00:00Z\ngarbage\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	h, err := ReadHolder(path)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	if h.PID != 4242 || h.Host != "bot-1" || !h.StartedAt.Equal(want) {
		t.Errorf("holder = %+v", h)
	}
	if _, err := ReadHolder(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestHolderRunning(t *testing.T) {
	host, _ := os.Hostname()
	tests := []struct {
		name   string
		holder Holder
		want   bool
	}{
		{"no pid", Holder{}, false},
		{"self", Holder{PID: os.Getpid(), Host: host}, true},
		{"other host", Holder{PID: 1, Host: host + "-elsewhere"}, true},
	}
	for _, tt := range tests {
		if got := tt.holder.Running(); got != tt.want {
			t.Errorf("%s: Running() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestLockError_Unwrap(t *testing.T) {
	cause := errors.New("locked")
	err := &LockError{Path: "/tmp/x.lock", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("LockError should unwrap to its cause")
	}
	if strings.Contains(err.Error(), "held by pid") {
		t.Errorf("no holder details expected: %s", err.Error())
	}
}
