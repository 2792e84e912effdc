// Package coordinator drives each queue entry through the full lifecycle
// from queued through dispatched and polling to archived or skipped. All
// state is recoverable from disk (directory presence plus ledger
// membership), so a restarted coordinator resumes instead of
// re-dispatching.
package coordinator

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/foreman-sh/foreman/internal/archive"
	"github.com/foreman-sh/foreman/internal/launcher"
	"github.com/foreman-sh/foreman/internal/ledger"
	"github.com/foreman-sh/foreman/internal/lock"
	"github.com/foreman-sh/foreman/internal/loopstate"
	"github.com/foreman-sh/foreman/internal/model"
	"github.com/foreman-sh/foreman/internal/queue"
	"github.com/foreman-sh/foreman/internal/ralph"
)

type LogLevel = launcher.LogLevel

const (
	LogLevelDebug = launcher.LogLevelDebug
	LogLevelInfo  = launcher.LogLevelInfo
	LogLevelWarn  = launcher.LogLevelWarn
	LogLevelError = launcher.LogLevelError
)

// activeJob tracks the single in-flight dispatch. handle is nil when the
// job was reattached from a previous session; completion is then detected
// purely by status polling.
type activeJob struct {
	entry     queue.Entry
	handle    launcher.Handle
	streamLog string
	passLogs  [2]string
}

// Coordinator is the orchestration loop. Exactly one external job may be
// active at any time; that is a hard limit, not a tunable.
type Coordinator struct {
	root     string
	cfg      model.Config
	logger   *log.Logger
	logFile  io.Closer
	logLevel LogLevel

	fileLock *lock.FileLock
	watcher  *fsnotify.Watcher

	ledger   *ledger.Ledger
	states   *loopstate.Reader
	ralph    *ralph.Client
	archiver *archive.Archiver
	launcher launcher.Launcher

	current         *activeJob
	lastStatusCheck time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once
	scanCh   chan struct{}
}

// New creates a Coordinator rooted at the project directory (the one
// containing tasks/, todo/, done/). Logs go to .foreman/logs/foreman.log
// and stderr.
func New(root string, cfg model.Config) (*Coordinator, error) {
	logPath := filepath.Join(root, ".foreman", "logs", "foreman.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open coordinator log: %w", err)
	}
	return newCoordinator(root, cfg, io.MultiWriter(os.Stderr, logFile), logFile)
}

// newCoordinator is the internal constructor for testing.
func newCoordinator(root string, cfg model.Config, w io.Writer, closer io.Closer) (*Coordinator, error) {
	cfg = cfg.WithDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	logger := log.New(w, "", 0)

	recheck := time.Duration(cfg.Coordinator.StaleRecheckDelaySec) * time.Second
	if cfg.Coordinator.StaleRecheckDelaySec < 0 {
		recheck = 0
	}

	c := &Coordinator{
		root:     root,
		cfg:      cfg,
		logger:   logger,
		logFile:  closer,
		logLevel: launcher.ParseLogLevel(cfg.Logging.Level),
		fileLock: lock.NewFileLock(filepath.Join(root, ".foreman", "locks", "run.lock")),
		ledger:   ledger.Load(filepath.Join(root, ".foreman", "state.json"), logger),
		states:   loopstate.NewReader(filepath.Join(root, ".ralph"), recheck),
		ralph:    ralph.NewClient(cfg.Ralph.Binary, cfg.Ralph.StatusTimeoutSec),
		archiver: archive.New(filepath.Join(root, "done"), logger),
		ctx:      ctx,
		cancel:   cancel,
		scanCh:   make(chan struct{}, 1),
	}
	c.launcher = launcher.New(cfg, logger, c.logLevel)
	return c, nil
}

// SetLauncher overrides the process launcher for testing. Must be called
// before Run.
func (c *Coordinator) SetLauncher(l launcher.Launcher) {
	c.launcher = l
}

// Ralph exposes the driver client so callers can inject a test runner or
// run the startup version check against the same binary configuration.
func (c *Coordinator) Ralph() *ralph.Client {
	return c.ralph
}

func (c *Coordinator) todoDir() string  { return filepath.Join(c.root, "todo") }
func (c *Coordinator) doneDir() string  { return filepath.Join(c.root, "done") }
func (c *Coordinator) stateDir() string { return filepath.Join(c.root, ".ralph") }

// Run starts the coordinator and blocks until a shutdown signal arrives.
// Returns nil on cancellation; the external job, if any, keeps running.
func (c *Coordinator) Run() error {
	if err := c.fileLock.TryLock(); err != nil {
		return fmt.Errorf("coordinator lock: %w", err)
	}
	defer c.cleanup()

	for _, dir := range []string{c.todoDir(), c.doneDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
	}

	c.log(LogLevelInfo, "coordinator starting pid=%d poll=%ds status=%ds",
		os.Getpid(), c.cfg.Coordinator.PollIntervalSec, c.cfg.Coordinator.StatusIntervalSec)

	// A previous session may have left a job in flight
	c.reattach()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	c.watcher = watcher
	if err := watcher.Add(c.todoDir()); err != nil {
		return fmt.Errorf("watch %s: %w", c.todoDir(), err)
	}
	c.wg.Add(1)
	go c.watchLoop()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		c.log(LogLevelInfo, "received signal=%s, stopping coordinator (any active job keeps running)", sig)
		c.cancel()
		<-sigCh
		c.log(LogLevelWarn, "received second signal, forcing exit")
		os.Exit(1)
	}()

	ticker := time.NewTicker(time.Duration(c.cfg.Coordinator.PollIntervalSec) * time.Second)
	defer ticker.Stop()

	c.log(LogLevelInfo, "watching %s (Ctrl+C stops the coordinator, not the job)", c.todoDir())
	c.cycle()

	for {
		select {
		case <-c.ctx.Done():
			c.stop()
			return nil
		case <-ticker.C:
			c.cycle()
		case <-c.scanCh:
			c.cycle()
		}
	}
}

// watchLoop nudges the main loop when the queue directory changes, so a
// freshly linked entry is picked up without waiting out the poll interval.
func (c *Coordinator) watchLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				c.log(LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				select {
				case c.scanCh <- struct{}{}:
				default:
				}
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.log(LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// cycle is one pass of the coordination loop: advance the active job if
// any, otherwise try to dispatch the next eligible entry. Runs only on
// the main loop goroutine.
func (c *Coordinator) cycle() {
	if c.current != nil {
		c.pollCurrent()
	}
	if c.current == nil {
		c.dispatchNext()
	}
}

// pollCurrent advances the in-flight job one step.
func (c *Coordinator) pollCurrent() {
	job := c.current

	if job.handle == nil {
		// Reattached job: no process handle, completion is visible only
		// through the driver's status output.
		if !c.statusCheckDue() {
			return
		}
		status := c.probeStatus()
		c.lastStatusCheck = time.Now()
		if prog, ok := ralph.ParseProgress(status); ok {
			c.log(LogLevelInfo, "status %s: %d/%d tasks complete (reattached)", job.entry.Name, prog.Done, prog.Total)
		}
		if ralph.NoActiveLoop(status) {
			c.finishStructured(job, status)
			c.current = nil
		}
		return
	}

	pr := job.handle.Poll()
	if pr.Running {
		if c.statusCheckDue() && job.entry.Kind == model.KindStructured {
			status := c.probeStatus()
			c.lastStatusCheck = time.Now()
			if prog, ok := ralph.ParseProgress(status); ok {
				c.log(LogLevelInfo, "status %s: %d/%d tasks complete", job.entry.Name, prog.Done, prog.Total)
			}
		}
		return
	}

	c.log(LogLevelInfo, "job %s exited code=%d", job.entry.Name, pr.ExitCode)
	switch job.entry.Kind {
	case model.KindStructured:
		c.finishStructured(job, c.probeStatus())
	case model.KindFreeform:
		c.finishFreeform(job, pr)
	}
	c.current = nil
}

func (c *Coordinator) statusCheckDue() bool {
	interval := time.Duration(c.cfg.Coordinator.StatusIntervalSec) * time.Second
	return time.Since(c.lastStatusCheck) >= interval
}

// probeStatus returns driver status output, or empty on failure. Every
// parse of it tolerates empty input.
func (c *Coordinator) probeStatus() string {
	status, err := c.ralph.Status(c.ctx)
	if err != nil {
		c.log(LogLevelWarn, "status probe failed: %v", err)
		return ""
	}
	return status
}
