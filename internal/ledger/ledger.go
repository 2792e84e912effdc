// Package ledger persists the set of job identifiers already brought to a
// terminal archived state, plus the in-progress marker used to reattach to
// a job that outlived a previous coordinator run.
package ledger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/foreman-sh/foreman/internal/fsatomic"
)

// State is the on-disk shape of the ledger file.
type State struct {
	Processed  []string `json:"processed"`
	InProgress string   `json:"in_progress,omitempty"`
	StreamLog  string   `json:"stream_log,omitempty"`
	PassLogs   []string `json:"pass_logs,omitempty"`
}

// Ledger is the durable record of processed queue entries. Mutations are
// in-memory until Persist is called; callers persist after every terminal
// transition and before dispatching a new job.
type Ledger struct {
	path   string
	state  State
	index  map[string]bool
	logger *log.Logger
}

// Load reads the ledger from path. A missing file yields an empty ledger;
// a corrupt file degrades to an empty ledger with a warning. Neither is
// fatal: losing the ledger only risks re-running work, never losing it.
func Load(path string, logger *log.Logger) *Ledger {
	l := &Ledger{
		path:   path,
		index:  make(map[string]bool),
		logger: logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.warn("read ledger %s: %v (starting empty)", path, err)
		}
		return l
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		l.warn("parse ledger %s: %v (starting empty)", path, err)
		return l
	}

	l.state = st
	for _, id := range st.Processed {
		l.index[id] = true
	}
	return l
}

func (l *Ledger) IsProcessed(id string) bool {
	return l.index[id]
}

// MarkProcessed records id as terminally handled. Idempotent.
func (l *Ledger) MarkProcessed(id string) {
	if l.index[id] {
		return
	}
	l.index[id] = true
	l.state.Processed = append(l.state.Processed, id)
}

// SetInProgress records the job currently owned by a live dispatch, with
// the log artifacts a restarted coordinator needs to finish archiving it.
func (l *Ledger) SetInProgress(id, streamLog string, passLogs []string) {
	l.state.InProgress = id
	l.state.StreamLog = streamLog
	l.state.PassLogs = passLogs
}

func (l *Ledger) ClearInProgress() {
	l.state.InProgress = ""
	l.state.StreamLog = ""
	l.state.PassLogs = nil
}

// InProgress returns the identifier and log artifacts of the job a prior
// session left running, if any.
func (l *Ledger) InProgress() (id, streamLog string, passLogs []string) {
	return l.state.InProgress, l.state.StreamLog, l.state.PassLogs
}

// Persist writes the ledger to disk atomically.
func (l *Ledger) Persist() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	if err := fsatomic.WriteJSON(l.path, l.state); err != nil {
		return fmt.Errorf("persist ledger: %w", err)
	}
	return nil
}

func (l *Ledger) warn(format string, args ...any) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.logger.Printf("%s WARN ledger: %s", time.Now().Format(time.RFC3339), msg)
}
