package launcher

import (
	"fmt"
	"sync"
)

// Pass indices for freeform jobs.
const (
	passImplement = 0
	passVerify    = 1
)

// startFreeform dispatches the implement pass of a two-pass direct job.
// The verify pass is started lazily from Poll, after the implement pass
// has exited and its log has been scanned. The verify pass always runs,
// even when the implement pass never emitted a marker.
func (l *ExecLauncher) startFreeform(job Job) (Handle, error) {
	h := &freeformHandle{l: l, job: job}
	inner, err := l.startPass(job, passImplement)
	if err != nil {
		return nil, err
	}
	h.cur = inner
	return h, nil
}

func (l *ExecLauncher) startPass(job Job, pass int) (*procHandle, error) {
	var prompt string
	switch pass {
	case passImplement:
		prompt = fmt.Sprintf(
			"Implement the task described in %s. Work until the requirements are met. "+
				"When a unit of work is finished, print %q on its own line. "+
				"When everything is finished, print %q on its own line.",
			job.Entry.Target, l.cfg.Markers.StepComplete, l.cfg.Markers.AllComplete)
	case passVerify:
		prompt = fmt.Sprintf(
			"Verify the implementation of the task described in %s. "+
				"Fix anything that is missing or broken. "+
				"When everything is verified complete, print %q on its own line.",
			job.Entry.Target, l.cfg.Markers.AllComplete)
	}

	args := []string{"-p", prompt}
	if !l.cfg.Ralph.NoAllowAll {
		args = append(args, "--dangerously-skip-permissions")
	}
	if l.cfg.Agent.Model != "" {
		args = append(args, "--model", l.cfg.Agent.Model)
	}

	l.log(LogLevelInfo, "freeform %s pass %d: %s", job.Entry.Name, pass+1, l.cfg.Agent.Binary)
	return l.spawn(l.cfg.Agent.Binary, args, job.PassLogs[pass])
}

// freeformHandle composes the two sequential passes behind a single Poll
// surface. Poll is only ever called from the coordinator's single loop
// goroutine; the mutex guards against a stray concurrent status probe.
type freeformHandle struct {
	l   *ExecLauncher
	job Job

	mu       sync.Mutex
	pass     int
	cur      *procHandle
	steps    int
	done     bool
	finished bool
	exitCode int
}

func (h *freeformHandle) Poll() PollResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.finished {
		return PollResult{ExitCode: h.exitCode, StepMarkers: h.steps, DoneMarker: h.done}
	}

	pr := h.cur.Poll()
	if pr.Running {
		return PollResult{Running: true, StepMarkers: h.steps, DoneMarker: h.done}
	}

	// Current pass exited: fold its markers in
	steps, done := scanMarkers(h.cur.logPath, h.l.cfg.Markers)
	h.steps += steps
	h.done = h.done || done
	h.exitCode = pr.ExitCode

	if h.pass == passImplement {
		h.pass = passVerify
		next, err := h.l.startPass(h.job, passVerify)
		if err != nil {
			h.l.log(LogLevelError, "freeform %s verify pass failed to start: %v", h.job.Entry.Name, err)
			h.finished = true
			if h.exitCode == 0 {
				h.exitCode = -1
			}
			return PollResult{ExitCode: h.exitCode, StepMarkers: h.steps, DoneMarker: h.done}
		}
		h.cur = next
		return PollResult{Running: true, StepMarkers: h.steps, DoneMarker: h.done}
	}

	h.finished = true
	return PollResult{ExitCode: h.exitCode, StepMarkers: h.steps, DoneMarker: h.done}
}
