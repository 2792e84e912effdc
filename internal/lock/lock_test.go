package lock

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileLock_TryLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.lock")

	fl := NewFileLock(path)
	if err := fl.TryLock(); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	defer fl.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if !strings.Contains(string(data), "\n") {
		t.Errorf("expected PID line in lock file, got %q", string(data))
	}
}

func TestFileLock_Unlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.lock")

	fl := NewFileLock(path)
	if err := fl.TryLock(); err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if err := fl.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("expected lock file removed after unlock")
	}

	// Re-acquire after release
	fl2 := NewFileLock(path)
	if err := fl2.TryLock(); err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	fl2.Unlock()
}

func TestFileLock_UnlockWithoutLock(t *testing.T) {
	fl := NewFileLock(filepath.Join(t.TempDir(), "run.lock"))
	if err := fl.Unlock(); err != nil {
		t.Errorf("Unlock without lock should be a no-op, got %v", err)
	}
}
