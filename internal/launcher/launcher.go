// Package launcher spawns the external agent processes and exposes a
// non-blocking polling interface over them.
package launcher

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/foreman-sh/foreman/internal/model"
	"github.com/foreman-sh/foreman/internal/queue"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Job is one dispatch: the classified queue entry plus the log artifacts
// the coordinator allocated for it.
type Job struct {
	Entry     queue.Entry
	LogPath   string    // captured stdout+stderr (structured)
	StreamLog string    // driver's own stream log, passed via --log-file (structured)
	PassLogs  [2]string // implement / verify pass logs (freeform)
}

// PollResult is the tri-state completion report: still running, or exited
// with an exit code plus whatever the marker scan found so far.
type PollResult struct {
	Running     bool
	ExitCode    int
	StepMarkers int  // "unit of work done" markers seen across passes
	DoneMarker  bool // "everything done" marker seen in any pass
}

// Handle polls one dispatched job. Poll never blocks; it is called from
// the coordinator's loop on every cycle.
type Handle interface {
	Poll() PollResult
}

// Launcher starts jobs. The coordinator depends on this interface so tests
// can substitute a fake.
type Launcher interface {
	Start(job Job) (Handle, error)
}

// ExecLauncher runs real subprocesses: the loop driver for structured jobs
// and two sequential direct agent invocations for freeform jobs.
type ExecLauncher struct {
	cfg      model.Config
	logger   *log.Logger
	logLevel LogLevel
}

func New(cfg model.Config, logger *log.Logger, logLevel LogLevel) *ExecLauncher {
	return &ExecLauncher{cfg: cfg, logger: logger, logLevel: logLevel}
}

func (l *ExecLauncher) Start(job Job) (Handle, error) {
	switch job.Entry.Kind {
	case model.KindStructured:
		return l.startStructured(job)
	case model.KindFreeform:
		return l.startFreeform(job)
	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Entry.Kind)
	}
}

// startStructured spawns the loop driver once. Completion is decided by
// the coordinator via --status polling after the process exits; the
// markers in PollResult stay unset for this kind.
func (l *ExecLauncher) startStructured(job Job) (Handle, error) {
	args := []string{
		"--file", job.Entry.Target,
		"--tasks",
		"--max-iterations", fmt.Sprintf("%d", l.cfg.Ralph.MaxIterations),
		"--agent", l.cfg.Ralph.Agent,
	}
	if l.cfg.Ralph.Model != "" {
		args = append(args, "--model", l.cfg.Ralph.Model)
	}
	if l.cfg.Ralph.NoAllowAll {
		args = append(args, "--no-allow-all")
	}
	if job.StreamLog != "" {
		args = append(args, "--log-file", job.StreamLog)
	}

	l.log(LogLevelInfo, "starting %s %s", l.cfg.Ralph.Binary, strings.Join(args, " "))
	h, err := l.spawn(l.cfg.Ralph.Binary, args, job.LogPath)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// spawn launches one process with output streamed to logPath as it is
// produced, so a coordinator crash never loses partial output. The
// returned handle answers Poll without blocking.
func (l *ExecLauncher) spawn(binary string, args []string, logPath string) (*procHandle, error) {
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open output log %s: %w", logPath, err)
	}

	cmd := exec.Command(binary, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}

	h := &procHandle{logPath: logPath, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		logFile.Close()
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				h.exitCode = exitErr.ExitCode()
			} else {
				h.exitCode = -1
			}
		}
		close(h.done)
	}()
	return h, nil
}

// procHandle tracks one spawned process. The wait goroutine is the only
// writer of exitCode, and it writes before closing done.
type procHandle struct {
	logPath  string
	exitCode int
	done     chan struct{}
}

func (h *procHandle) Poll() PollResult {
	select {
	case <-h.done:
		return PollResult{ExitCode: h.exitCode}
	default:
		return PollResult{Running: true}
	}
}

func (l *ExecLauncher) log(level LogLevel, format string, args ...any) {
	if l.logger == nil || level < l.logLevel {
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
	l.logger.Printf("%s %s launcher: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}

// scanMarkers reads a pass log and counts completion markers.
func scanMarkers(logPath string, markers model.MarkerConfig) (steps int, done bool) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return 0, false
	}
	text := string(data)
	steps = strings.Count(text, markers.StepComplete)
	done = strings.Contains(text, markers.AllComplete)
	return steps, done
}
