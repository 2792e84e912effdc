// Package status reports the archive history under done/ and the live
// state of any active loop.
package status

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/foreman-sh/foreman/internal/ralph"
)

const tasksFileName = "ralph-tasks.md"

var (
	// Archive names end in a timestamp, optionally followed by the
	// collision suffix the archiver appends.
	tsPattern   = regexp.MustCompile(`(\d{8}-\d{6})(?:-\d+)?$`)
	taskPattern = regexp.MustCompile(`^\s*-\s*\[(.)\]\s*(.*)`)
)

// Record is one archived run.
type Record struct {
	Name   string
	Time   time.Time
	Status string // contents of the STATUS marker, empty if absent
	Tasks  []Task
}

type Task struct {
	Mark string // "x" done, "/" in progress, " " pending
	Text string
}

// CollectRecords scans the archive root and returns records in
// chronological order. Directories without a parseable trailing timestamp
// are not records and are ignored.
func CollectRecords(doneDir string) ([]Record, error) {
	dirents, err := os.ReadDir(doneDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", doneDir, err)
	}

	var records []Record
	for _, de := range dirents {
		if !de.IsDir() {
			continue
		}
		m := tsPattern.FindStringSubmatch(de.Name())
		if m == nil {
			continue
		}
		ts, err := time.ParseInLocation("20060102-150405", m[1], time.Local)
		if err != nil {
			continue
		}
		dir := filepath.Join(doneDir, de.Name())
		rec := Record{Name: de.Name(), Time: ts}
		if data, err := os.ReadFile(filepath.Join(dir, "STATUS")); err == nil {
			rec.Status = strings.TrimSpace(string(data))
		}
		if data, err := os.ReadFile(filepath.Join(dir, tasksFileName)); err == nil {
			rec.Tasks = parseTasks(string(data))
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].Time.Equal(records[j].Time) {
			return records[i].Time.Before(records[j].Time)
		}
		return records[i].Name < records[j].Name
	})
	return records, nil
}

func parseTasks(content string) []Task {
	var tasks []Task
	for _, line := range strings.Split(content, "\n") {
		m := taskPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		mark := m[1]
		if mark != "x" && mark != "/" {
			mark = " "
		}
		tasks = append(tasks, Task{Mark: mark, Text: m[2]})
	}
	return tasks
}

func (r Record) doneCount() (done, total int) {
	for _, t := range r.Tasks {
		if t.Mark == "x" {
			done++
		}
	}
	return done, len(r.Tasks)
}

// Reporter renders the status report.
type Reporter struct {
	Root  string
	Ralph *ralph.Client
}

// Report writes the archive history table, per-record task details, and
// the live loop status when a working state is present.
func (rp *Reporter) Report(ctx context.Context, out io.Writer) error {
	doneDir := filepath.Join(rp.Root, "done")
	records, err := CollectRecords(doneDir)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No completed runs found in done/")
	} else {
		rp.renderTable(out, records)
		for _, rec := range records {
			if len(rec.Tasks) == 0 {
				continue
			}
			fmt.Fprintf(out, "\n%s\n", rec.Name)
			for _, t := range rec.Tasks {
				fmt.Fprintf(out, "  [%s] %s\n", t.Mark, t.Text)
			}
		}
		fmt.Fprintln(out)
	}

	return rp.reportActive(ctx, out)
}

func (rp *Reporter) renderTable(out io.Writer, records []Record) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Archive", "Finished", "Status", "Tasks"})
	for _, rec := range records {
		done, total := rec.doneCount()
		tasks := "-"
		if total > 0 {
			tasks = fmt.Sprintf("%d/%d", done, total)
		}
		status := rec.Status
		if status == "" {
			status = "-"
		}
		t.AppendRow(table.Row{rec.Name, rec.Time.Format("2006-01-02 15:04:05"), status, tasks})
	}
	t.Render()
}

// reportActive shows the driver's own status output when the working
// state directory holds a task list.
func (rp *Reporter) reportActive(ctx context.Context, out io.Writer) error {
	tasksFile := filepath.Join(rp.Root, ".ralph", tasksFileName)
	if _, err := os.Stat(tasksFile); err != nil {
		return nil
	}
	fmt.Fprintln(out, "$ ralph --status --tasks")
	status, err := rp.Ralph.Status(ctx)
	if err != nil {
		fmt.Fprintf(out, "status unavailable: %v\n", err)
		return nil
	}
	fmt.Fprintln(out, status)
	return nil
}
