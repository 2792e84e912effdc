package archive

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foreman-sh/foreman/internal/model"
)

func newTestArchiver(t *testing.T) (*Archiver, string) {
	t.Helper()
	doneDir := filepath.Join(t.TempDir(), "done")
	a := New(doneDir, log.New(&bytes.Buffer{}, "", 0))
	a.SetClock(func() time.Time {
		return time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
	})
	return a, doneDir
}

func makeStateDir(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, ".ralph")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ralph-tasks.md"), []byte("- [x] done\n"), 0644))
	return dir
}

func readStatus(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, StatusFileName))
	require.NoError(t, err)
	return string(data)
}

func TestArchiveStateDir(t *testing.T) {
	a, doneDir := newTestArchiver(t)
	stateDir := makeStateDir(t, t.TempDir())

	dest, err := a.ArchiveStateDir(stateDir, "prd-01-auth", model.ArchiveComplete)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(doneDir, "prd-01-auth-ralph-20260825-143000"), dest)
	assert.Equal(t, "COMPLETE\n", readStatus(t, dest))

	// Original dir is gone, contents moved
	_, err = os.Stat(stateDir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dest, "ralph-tasks.md"))
	assert.NoError(t, err)
}

func TestArchiveStateDir_SameSecondCollision(t *testing.T) {
	a, doneDir := newTestArchiver(t)
	root := t.TempDir()

	first := makeStateDir(t, filepath.Join(root, "a"))
	second := makeStateDir(t, filepath.Join(root, "b"))

	d1, err := a.ArchiveStateDir(first, "prd-01-auth", model.ArchiveComplete)
	require.NoError(t, err)
	d2, err := a.ArchiveStateDir(second, "prd-01-auth", model.ArchiveComplete)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(doneDir, "prd-01-auth-ralph-20260825-143000"), d1)
	assert.Equal(t, filepath.Join(doneDir, "prd-01-auth-ralph-20260825-143000-2"), d2)
}

func TestPromoteStale(t *testing.T) {
	a, doneDir := newTestArchiver(t)
	stateDir := makeStateDir(t, t.TempDir())

	dest, err := a.PromoteStale(stateDir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(doneDir, "stale-ralph-20260825-143000"), dest)
	assert.Equal(t, "STALE\n", readStatus(t, dest))
	_, err = os.Stat(filepath.Join(dest, "ralph-tasks.md"))
	assert.NoError(t, err, "stale state must be preserved, not deleted")
}

func TestArchiveFreeform(t *testing.T) {
	a, doneDir := newTestArchiver(t)
	root := t.TempDir()

	p1 := filepath.Join(root, "pass1.log")
	p2 := filepath.Join(root, "pass2.log")
	require.NoError(t, os.WriteFile(p1, []byte("implement output\n"), 0644))
	require.NoError(t, os.WriteFile(p2, []byte("verify output\n"), 0644))

	dest, err := a.ArchiveFreeform("todo-fix", model.ArchiveComplete, []string{p1, p2})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(doneDir, "todo-fix-direct-20260825-143000"), dest)
	assert.Equal(t, "COMPLETE\n", readStatus(t, dest))

	data, err := os.ReadFile(filepath.Join(dest, "pass-1.log"))
	require.NoError(t, err)
	assert.Equal(t, "implement output\n", string(data))
	data, err = os.ReadFile(filepath.Join(dest, "pass-2.log"))
	require.NoError(t, err)
	assert.Equal(t, "verify output\n", string(data))

	data, err = os.ReadFile(filepath.Join(dest, "output.log"))
	require.NoError(t, err)
	assert.Equal(t, "==== pass 1 ====\nimplement output\n==== pass 2 ====\nverify output\n", string(data))

	// Pass logs were moved, not copied
	_, err = os.Stat(p1)
	assert.True(t, os.IsNotExist(err))

	// No staging dir left behind
	entries, err := os.ReadDir(doneDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestArchiveFreeform_MissingPassLog(t *testing.T) {
	a, _ := newTestArchiver(t)
	root := t.TempDir()

	p1 := filepath.Join(root, "pass1.log")
	require.NoError(t, os.WriteFile(p1, []byte("only pass\n"), 0644))

	dest, err := a.ArchiveFreeform("todo-fix", model.ArchiveIncomplete,
		[]string{p1, filepath.Join(root, "never-written.log")})
	require.NoError(t, err)

	assert.Equal(t, "INCOMPLETE\n", readStatus(t, dest))
	_, err = os.Stat(filepath.Join(dest, "pass-1.log"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dest, "pass-2.log"))
	assert.True(t, os.IsNotExist(err))
}

func TestMoveLog(t *testing.T) {
	a, doneDir := newTestArchiver(t)
	logPath := filepath.Join(t.TempDir(), "todo-x-stream-20260825-143000.log")
	require.NoError(t, os.WriteFile(logPath, []byte("stream\n"), 0644))

	dest, err := a.MoveLog(logPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(doneDir, filepath.Base(logPath)), dest)
	_, err = os.Stat(logPath)
	assert.True(t, os.IsNotExist(err))
}

func TestMoveLog_Missing(t *testing.T) {
	a, _ := newTestArchiver(t)
	_, err := a.MoveLog(filepath.Join(t.TempDir(), "nope.log"))
	assert.True(t, os.IsNotExist(err))
}
