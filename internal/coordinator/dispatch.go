package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/foreman-sh/foreman/internal/launcher"
	"github.com/foreman-sh/foreman/internal/loopstate"
	"github.com/foreman-sh/foreman/internal/model"
	"github.com/foreman-sh/foreman/internal/queue"
	"github.com/foreman-sh/foreman/internal/ralph"
)

const archiveTimestampLayout = "20060102-150405"

// dispatchNext scans the queue and starts the first eligible entry.
// The working-state check is a best-effort guard against colliding with a
// loop some other process owns, not a lock: the recheck narrows the race
// window but cannot close it.
func (c *Coordinator) dispatchNext() {
	entries := queue.Scan(c.todoDir(), c.logger)
	var next *queue.Entry
	for i := range entries {
		if c.ledger.IsProcessed(entries[i].Name) {
			continue
		}
		next = &entries[i]
		break
	}
	if next == nil {
		return
	}

	verdict, _ := c.states.Check(c.ctx)
	switch verdict {
	case loopstate.VerdictActive:
		c.log(LogLevelInfo, "loop state reports active, holding %s for next cycle", next.Name)
		return
	case loopstate.VerdictInert:
		c.log(LogLevelWarn, "stale working state at %s, promoting before dispatch", c.stateDir())
		dest, err := c.archiver.PromoteStale(c.stateDir())
		if err != nil {
			c.log(LogLevelError, "promote stale failed: %v (holding dispatch)", err)
			return
		}
		c.log(LogLevelInfo, "stale state preserved at %s", dest)
	case loopstate.VerdictClear:
		// nothing in the way
	}

	c.startJob(*next)
}

// startJob allocates log artifacts, records the dispatch durably, then
// starts the process. Recording before starting means a crash between the
// two leaves a reattachable in-progress entry rather than an orphan.
func (c *Coordinator) startJob(entry queue.Entry) {
	ts := time.Now().Format(archiveTimestampLayout)
	job := launcher.Job{Entry: entry}

	switch entry.Kind {
	case model.KindStructured:
		job.LogPath = filepath.Join(c.doneDir(), fmt.Sprintf("%s-ralph-%s.log", entry.Stem(), ts))
		job.StreamLog = filepath.Join(c.root, fmt.Sprintf("%s-stream-%s.log", entry.Stem(), ts))
		c.ledger.SetInProgress(entry.Name, job.StreamLog, nil)
	case model.KindFreeform:
		job.PassLogs[0] = filepath.Join(c.root, fmt.Sprintf("%s-pass1-%s.log", entry.Stem(), ts))
		job.PassLogs[1] = filepath.Join(c.root, fmt.Sprintf("%s-pass2-%s.log", entry.Stem(), ts))
		c.ledger.SetInProgress(entry.Name, "", job.PassLogs[:])
	}
	if err := c.ledger.Persist(); err != nil {
		c.log(LogLevelError, "persist ledger before dispatch: %v (holding %s)", err, entry.Name)
		c.ledger.ClearInProgress()
		return
	}

	handle, err := c.launcher.Start(job)
	if err != nil {
		c.log(LogLevelError, "start %s failed: %v", entry.Name, err)
		c.recordFailedStart(entry, job)
		return
	}

	c.log(LogLevelInfo, "dispatched %s (%s)", entry.Name, entry.Kind)
	c.current = &activeJob{entry: entry, handle: handle, streamLog: job.StreamLog, passLogs: job.PassLogs}
	c.lastStatusCheck = time.Now()
}

// recordFailedStart archives a start failure as an INCOMPLETE record so
// the entry is not retried forever on a missing binary.
func (c *Coordinator) recordFailedStart(entry queue.Entry, job launcher.Job) {
	if _, err := c.archiver.ArchiveFreeform(entry.Stem(), model.ArchiveIncomplete, job.PassLogs[:]); err != nil {
		c.log(LogLevelError, "archive failed start of %s: %v", entry.Name, err)
	}
	c.removeQueueEntry(entry)
	c.ledger.MarkProcessed(entry.Name)
	c.ledger.ClearInProgress()
	if err := c.ledger.Persist(); err != nil {
		c.log(LogLevelError, "persist ledger: %v", err)
	}
}

// finishStructured settles a structured job from the driver's final
// status output. A vanished loop with unfinished tasks is a partial run:
// the working state and queue entry stay on disk for manual review, but
// the entry is marked processed so it is not redispatched.
func (c *Coordinator) finishStructured(job *activeJob, status string) {
	complete := ralph.AllComplete(status)

	if complete {
		if _, err := c.archiver.ArchiveStateDir(c.stateDir(), job.entry.Stem(), model.ArchiveComplete); err != nil {
			c.log(LogLevelError, "archive %s: %v", job.entry.Name, err)
		}
		c.removeQueueEntry(job.entry)
		c.log(LogLevelInfo, "job %s complete", job.entry.Name)
	} else {
		if prog, ok := ralph.ParseProgress(status); ok {
			c.log(LogLevelWarn, "job %s ended with %d/%d tasks complete; leaving %s and the queue entry for review",
				job.entry.Name, prog.Done, prog.Total, c.stateDir())
		} else {
			c.log(LogLevelWarn, "job %s ended without confirmed completion; leaving %s and the queue entry for review",
				job.entry.Name, c.stateDir())
		}
	}

	if job.streamLog != "" {
		if dest, err := c.archiver.MoveLog(job.streamLog); err != nil {
			if !os.IsNotExist(err) {
				c.log(LogLevelWarn, "move stream log %s: %v", job.streamLog, err)
			}
		} else {
			c.log(LogLevelDebug, "stream log archived at %s", dest)
		}
	}

	c.ledger.MarkProcessed(job.entry.Name)
	c.ledger.ClearInProgress()
	if err := c.ledger.Persist(); err != nil {
		c.log(LogLevelError, "persist ledger: %v", err)
	}
}

// finishFreeform settles a two-pass direct job. Completion is the done
// marker having appeared in either pass log; the exit codes only add
// context to the log line.
func (c *Coordinator) finishFreeform(job *activeJob, pr launcher.PollResult) {
	status := model.ArchiveIncomplete
	if pr.DoneMarker {
		status = model.ArchiveComplete
	}
	c.log(LogLevelInfo, "job %s finished status=%s steps=%d exit=%d",
		job.entry.Name, status, pr.StepMarkers, pr.ExitCode)

	if _, err := c.archiver.ArchiveFreeform(job.entry.Stem(), status, job.passLogs[:]); err != nil {
		c.log(LogLevelError, "archive %s: %v", job.entry.Name, err)
	}
	c.removeQueueEntry(job.entry)
	c.ledger.MarkProcessed(job.entry.Name)
	c.ledger.ClearInProgress()
	if err := c.ledger.Persist(); err != nil {
		c.log(LogLevelError, "persist ledger: %v", err)
	}
}

// removeQueueEntry deletes the entry's symlink from todo/. A regular file
// in symlink's clothing is left alone and reported.
func (c *Coordinator) removeQueueEntry(entry queue.Entry) {
	info, err := os.Lstat(entry.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log(LogLevelWarn, "inspect queue entry %s: %v", entry.Path, err)
		}
		return
	}
	if info.Mode()&os.ModeSymlink == 0 {
		c.log(LogLevelWarn, "queue entry %s is not a symlink, leaving it in place", entry.Path)
		return
	}
	if err := os.Remove(entry.Path); err != nil {
		c.log(LogLevelWarn, "remove queue entry %s: %v", entry.Path, err)
	}
}

// reattach resumes supervision of a job left in flight by a previous
// session. The process itself is not ours anymore; only status polling
// can tell us when it finishes.
func (c *Coordinator) reattach() {
	name, streamLog, passLogs := c.ledger.InProgress()
	if name == "" {
		return
	}

	entry, err := queue.Classify(name)
	if err != nil {
		c.log(LogLevelWarn, "in-progress entry %q no longer classifiable: %v (clearing)", name, err)
		c.ledger.ClearInProgress()
		if err := c.ledger.Persist(); err != nil {
			c.log(LogLevelError, "persist ledger: %v", err)
		}
		return
	}
	entry.Path = filepath.Join(c.todoDir(), name)
	if target, err := filepath.EvalSymlinks(entry.Path); err == nil {
		entry.Target = target
	}

	job := &activeJob{entry: entry, streamLog: streamLog}
	copy(job.passLogs[:], passLogs)

	if entry.Kind == model.KindFreeform {
		// Direct agent passes do not survive a coordinator restart in any
		// observable way; settle from whatever the pass logs contain.
		c.log(LogLevelWarn, "freeform job %s was in flight at shutdown, settling from its pass logs", name)
		steps, done := 0, false
		for _, lp := range passLogs {
			if lp == "" {
				continue
			}
			s, d := scanLog(lp, c.cfg.Markers)
			steps += s
			done = done || d
		}
		c.finishFreeform(job, launcher.PollResult{ExitCode: -1, StepMarkers: steps, DoneMarker: done})
		return
	}

	status := c.probeStatus()
	c.lastStatusCheck = time.Now()
	if ralph.NoActiveLoop(status) || ralph.AllComplete(status) {
		c.log(LogLevelInfo, "previous job %s is no longer running, settling", name)
		c.finishStructured(job, status)
		return
	}

	c.log(LogLevelInfo, "reattached to in-flight job %s", name)
	c.current = job
}

// stop stops the coordinator loop machinery. The external job, if one is
// running, is deliberately left alone; the in-progress ledger entry makes
// it reattachable on the next run.
func (c *Coordinator) stop() {
	c.shutdown.Do(func() {
		if c.watcher != nil {
			c.watcher.Close()
		}

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Duration(c.cfg.Coordinator.ShutdownTimeoutSec) * time.Second):
			c.log(LogLevelWarn, "shutdown drain timed out")
		}

		if c.current != nil {
			c.log(LogLevelInfo, "job %s left running; it will be picked up on the next run", c.current.entry.Name)
		}
		if err := c.ledger.Persist(); err != nil {
			c.log(LogLevelError, "persist ledger on shutdown: %v", err)
		}
		c.log(LogLevelInfo, "coordinator stopped")
	})
}

func (c *Coordinator) cleanup() {
	c.stop()
	c.fileLock.Unlock()
	if c.logFile != nil {
		c.logFile.Close()
	}
}

func (c *Coordinator) log(level LogLevel, format string, args ...any) {
	if level < c.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	c.logger.Printf("%s %s coordinator: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}

// scanLog counts completion markers in a log file.
func scanLog(path string, markers model.MarkerConfig) (steps int, done bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	text := string(data)
	return strings.Count(text, markers.StepComplete), strings.Contains(text, markers.AllComplete)
}
