package queue

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foreman-sh/foreman/internal/model"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		kind    model.JobKind
		number  int
		passes  int
		wantErr bool
	}{
		{"prd-01-auth.md", model.KindStructured, 1, 0, false},
		{"prd-12-some-long-name.md", model.KindStructured, 12, 0, false},
		{"todo-fix-docs.md", model.KindFreeform, -1, 1, false},
		{"todo-refactor.p2.md", model.KindFreeform, -1, 2, false},
		{"todo-big-job.p5.md", model.KindFreeform, -1, 5, false},
		{"notes.md", "", 0, 0, true},
		{"prd-.md", "", 0, 0, true},
		{"todo-.md", "", 0, 0, true},
		{"prd-01-auth.txt", "", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Classify(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.number, e.Number)
			assert.Equal(t, tt.passes, e.Passes)
		})
	}
}

func TestEntry_Stem(t *testing.T) {
	e := Entry{Name: "todo-fix.p2.md"}
	assert.Equal(t, "todo-fix.p2", e.Stem())
}

// link creates a queue symlink to a real target file.
func link(t *testing.T, root, name, targetName string) {
	t.Helper()
	target := filepath.Join(root, "tasks", targetName)
	require.NoError(t, os.MkdirAll(filepath.Dir(target), 0755))
	if _, err := os.Lstat(target); err != nil {
		require.NoError(t, os.WriteFile(target, []byte("# task\n"), 0644))
	}
	require.NoError(t, os.Symlink(target, filepath.Join(root, "todo", name)))
}

func setupQueue(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "todo"), 0755))
	return root
}

func TestScan_Ordering(t *testing.T) {
	root := setupQueue(t)
	link(t, root, "todo-aaa.md", "todo-aaa.md")
	link(t, root, "prd-10-later.md", "prd-10-later.md")
	link(t, root, "prd-02-early.md", "prd-02-early.md")
	link(t, root, "todo-zzz.md", "todo-zzz.md")

	entries := Scan(filepath.Join(root, "todo"), nil)
	require.Len(t, entries, 4)
	assert.Equal(t, "prd-02-early.md", entries[0].Name)
	assert.Equal(t, "prd-10-later.md", entries[1].Name)
	assert.Equal(t, "todo-aaa.md", entries[2].Name)
	assert.Equal(t, "todo-zzz.md", entries[3].Name)
}

func TestScan_SkipsBrokenSymlink(t *testing.T) {
	root := setupQueue(t)
	require.NoError(t, os.Symlink(
		filepath.Join(root, "tasks", "gone.md"),
		filepath.Join(root, "todo", "todo-gone.md")))
	link(t, root, "todo-ok.md", "todo-ok.md")

	var buf bytes.Buffer
	entries := Scan(filepath.Join(root, "todo"), log.New(&buf, "", 0))
	require.Len(t, entries, 1)
	assert.Equal(t, "todo-ok.md", entries[0].Name)
	assert.Contains(t, buf.String(), "todo-gone.md")
}

func TestScan_SkipsUnclassifiable(t *testing.T) {
	root := setupQueue(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "todo", "README.md"), []byte("x"), 0644))
	link(t, root, "todo-ok.md", "todo-ok.md")

	var buf bytes.Buffer
	entries := Scan(filepath.Join(root, "todo"), log.New(&buf, "", 0))
	require.Len(t, entries, 1)
	assert.Contains(t, buf.String(), "classification error")

	// The unclassifiable file stays on disk
	_, err := os.Stat(filepath.Join(root, "todo", "README.md"))
	assert.NoError(t, err)
}

func TestScan_DeduplicatesTargets(t *testing.T) {
	root := setupQueue(t)
	link(t, root, "todo-one.md", "shared.md")
	link(t, root, "todo-two.md", "shared.md")

	var buf bytes.Buffer
	entries := Scan(filepath.Join(root, "todo"), log.New(&buf, "", 0))
	require.Len(t, entries, 1)
	assert.Equal(t, "todo-one.md", entries[0].Name)
	assert.Contains(t, buf.String(), "same target")
}

func TestScan_MissingDir(t *testing.T) {
	entries := Scan(filepath.Join(t.TempDir(), "nope"), nil)
	assert.Empty(t, entries)
}

func TestScan_ResolvesTarget(t *testing.T) {
	root := setupQueue(t)
	link(t, root, "prd-01-x.md", "prd-01-x.md")

	entries := Scan(filepath.Join(root, "todo"), nil)
	require.Len(t, entries, 1)
	data, err := os.ReadFile(entries[0].Target)
	require.NoError(t, err)
	assert.Equal(t, "# task\n", string(data))
}
