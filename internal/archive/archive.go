// Package archive produces the immutable records under the done/ root:
// relocated working-state directories for structured jobs, synthesized
// result directories for freeform jobs, and stale promotions of
// interrupted runs. Records are never overwritten and never deleted.
package archive

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/foreman-sh/foreman/internal/model"
)

// StatusFileName is the marker file inside every record.
const StatusFileName = "STATUS"

const timestampLayout = "20060102-150405"

// maxSuffix bounds the collision-suffix search; hitting it means something
// is generating archives far faster than once per second.
const maxSuffix = 1000

type Archiver struct {
	doneDir string
	logger  *log.Logger
	now     func() time.Time
}

func New(doneDir string, logger *log.Logger) *Archiver {
	return &Archiver{doneDir: doneDir, logger: logger, now: time.Now}
}

// SetClock overrides the timestamp source for testing.
func (a *Archiver) SetClock(now func() time.Time) {
	a.now = now
}

// uniquePath returns base if unused, otherwise base-2, base-3, … Archive
// names embed a second-granularity timestamp, so the numeric suffix is
// what keeps two same-second archives for one identifier distinct.
func (a *Archiver) uniquePath(base string) (string, error) {
	if _, err := os.Lstat(base); os.IsNotExist(err) {
		return base, nil
	}
	for i := 2; i < maxSuffix; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if _, err := os.Lstat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free archive name for %s after %d attempts", base, maxSuffix)
}

// ArchiveStateDir relocates a working-state directory into the archive
// root as done/<stem>-ralph-<ts> and writes its status marker.
func (a *Archiver) ArchiveStateDir(stateDir, stem string, status model.ArchiveStatus) (string, error) {
	if err := os.MkdirAll(a.doneDir, 0755); err != nil {
		return "", fmt.Errorf("create archive root: %w", err)
	}
	base := filepath.Join(a.doneDir, fmt.Sprintf("%s-ralph-%s", stem, a.now().Format(timestampLayout)))
	dest, err := a.uniquePath(base)
	if err != nil {
		return "", err
	}
	if err := os.Rename(stateDir, dest); err != nil {
		return "", fmt.Errorf("move %s to archive: %w", stateDir, err)
	}
	if err := a.writeStatus(dest, status); err != nil {
		return dest, err
	}
	a.log("archived %s -> %s (%s)", stateDir, dest, status)
	return dest, nil
}

// PromoteStale moves an inert working-state directory aside under a
// stale- name so a new dispatch starts from a clean slate. The directory
// is preserved, never deleted.
func (a *Archiver) PromoteStale(stateDir string) (string, error) {
	if err := os.MkdirAll(a.doneDir, 0755); err != nil {
		return "", fmt.Errorf("create archive root: %w", err)
	}
	base := filepath.Join(a.doneDir, "stale-ralph-"+a.now().Format(timestampLayout))
	dest, err := a.uniquePath(base)
	if err != nil {
		return "", err
	}
	if err := os.Rename(stateDir, dest); err != nil {
		return "", fmt.Errorf("promote stale %s: %w", stateDir, err)
	}
	if err := a.writeStatus(dest, model.ArchiveStale); err != nil {
		return dest, err
	}
	a.log("promoted stale %s -> %s", stateDir, dest)
	return dest, nil
}

// ArchiveFreeform synthesizes a record for a two-pass direct job: the
// status marker, both pass logs, and a combined section-delimited
// output.log, built under a temporary name and renamed into place so
// readers never observe a partial record.
func (a *Archiver) ArchiveFreeform(stem string, status model.ArchiveStatus, passLogs []string) (string, error) {
	if err := os.MkdirAll(a.doneDir, 0755); err != nil {
		return "", fmt.Errorf("create archive root: %w", err)
	}

	tmp, err := os.MkdirTemp(a.doneDir, ".foreman-archive-*")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := a.writeStatus(tmp, status); err != nil {
		return "", err
	}
	var combined []byte
	for i, logPath := range passLogs {
		if logPath == "" {
			continue
		}
		dest := filepath.Join(tmp, fmt.Sprintf("pass-%d.log", i+1))
		if err := moveFile(logPath, dest); err != nil {
			if os.IsNotExist(err) {
				a.log("pass log %s missing (nothing to archive for pass %d)", logPath, i+1)
				continue
			}
			return "", fmt.Errorf("collect pass log %s: %w", logPath, err)
		}
		data, err := os.ReadFile(dest)
		if err != nil {
			return "", fmt.Errorf("read pass log %s: %w", dest, err)
		}
		combined = append(combined, fmt.Sprintf("==== pass %d ====\n", i+1)...)
		combined = append(combined, data...)
		if len(data) > 0 && data[len(data)-1] != '\n' {
			combined = append(combined, '\n')
		}
	}
	if len(combined) > 0 {
		if err := os.WriteFile(filepath.Join(tmp, "output.log"), combined, 0644); err != nil {
			return "", fmt.Errorf("write combined output: %w", err)
		}
	}

	base := filepath.Join(a.doneDir, fmt.Sprintf("%s-direct-%s", stem, a.now().Format(timestampLayout)))
	dest, err := a.uniquePath(base)
	if err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", fmt.Errorf("finalize archive %s: %w", dest, err)
	}
	a.log("archived freeform %s -> %s (%s)", stem, dest, status)
	return dest, nil
}

// MoveLog relocates a stream log into the archive root, suffixing on
// collision like any other record.
func (a *Archiver) MoveLog(logPath string) (string, error) {
	if _, err := os.Stat(logPath); err != nil {
		return "", err
	}
	if err := os.MkdirAll(a.doneDir, 0755); err != nil {
		return "", fmt.Errorf("create archive root: %w", err)
	}
	dest, err := a.uniquePath(filepath.Join(a.doneDir, filepath.Base(logPath)))
	if err != nil {
		return "", err
	}
	if err := moveFile(logPath, dest); err != nil {
		return "", fmt.Errorf("move log %s: %w", logPath, err)
	}
	return dest, nil
}

func (a *Archiver) writeStatus(dir string, status model.ArchiveStatus) error {
	path := filepath.Join(dir, StatusFileName)
	if err := os.WriteFile(path, []byte(string(status)+"\n"), 0644); err != nil {
		return fmt.Errorf("write status marker: %w", err)
	}
	return nil
}

// moveFile renames src to dst, falling back to copy+remove when the
// rename crosses filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil || os.IsNotExist(err) {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return os.Remove(src)
}

func (a *Archiver) log(format string, args ...any) {
	if a.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	a.logger.Printf("%s INFO archive: %s", time.Now().Format(time.RFC3339), msg)
}
