// Package loopstate reads the agent-owned loop-state artifact and decides
// whether dispatching a new job is safe.
//
// The loop driver writes .ralph/ralph-loop.state.json while it runs and
// flips active to false when it stops. There is no cross-process lock:
// the active flag plus the stale-promotion step form a best-effort guard
// with a known race window while the driver is mid-write. The reader never
// treats a single failed read as proof of inactivity; it rechecks once
// after a short delay before resolving.
package loopstate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/foreman-sh/foreman/internal/model"
)

// StateFileName is the file the loop driver maintains inside its state dir.
const StateFileName = "ralph-loop.state.json"

// Verdict classifies the loop-state artifact.
type Verdict int

const (
	// VerdictActive: the driver reports a live loop. Never dispatch.
	VerdictActive Verdict = iota
	// VerdictInert: the artifact exists but reports no live loop, an
	// interrupted prior run. Promote it to a stale archive before
	// dispatching.
	VerdictInert
	// VerdictClear: no artifact on disk. Safe to dispatch.
	VerdictClear
	// VerdictUnconfirmed: a single read could not decide (missing or
	// unreadable file, possibly a mid-write race). Only returned by
	// ReadOnce; Check resolves it.
	VerdictUnconfirmed
)

func (v Verdict) String() string {
	switch v {
	case VerdictActive:
		return "active"
	case VerdictInert:
		return "inert"
	case VerdictClear:
		return "clear"
	default:
		return "unconfirmed"
	}
}

// Reader reads the loop-state artifact. It never writes to the state dir.
type Reader struct {
	stateDir     string
	recheckDelay time.Duration
}

// NewReader returns a Reader over stateDir (the .ralph/ directory).
// recheckDelay is the pause before the single re-read of an unconfirmed
// artifact; zero disables the pause but not the re-read.
func NewReader(stateDir string, recheckDelay time.Duration) *Reader {
	return &Reader{stateDir: stateDir, recheckDelay: recheckDelay}
}

// StateDirExists reports whether the driver's state dir is on disk.
func (r *Reader) StateDirExists() bool {
	info, err := os.Stat(r.stateDir)
	return err == nil && info.IsDir()
}

// ReadOnce performs a single read of the artifact.
func (r *Reader) ReadOnce() (Verdict, *model.LoopState) {
	if !r.StateDirExists() {
		return VerdictUnconfirmed, nil
	}

	data, err := os.ReadFile(filepath.Join(r.stateDir, StateFileName))
	if err != nil {
		return VerdictUnconfirmed, nil
	}

	var st model.LoopState
	if err := json.Unmarshal(data, &st); err != nil {
		return VerdictUnconfirmed, nil
	}

	if st.Active {
		return VerdictActive, &st
	}
	return VerdictInert, &st
}

// Check reads the artifact, rechecking once after recheckDelay when the
// first read is unconfirmed. An artifact that stays unconfirmed resolves
// to Inert when the state dir exists (leftover working state gets promoted
// aside, never deleted) and to Clear when nothing is on disk.
func (r *Reader) Check(ctx context.Context) (Verdict, *model.LoopState) {
	v, st := r.ReadOnce()
	if v != VerdictUnconfirmed {
		return v, st
	}

	if r.recheckDelay > 0 {
		select {
		case <-ctx.Done():
			// Treat cancellation as "cannot confirm inactive"
			return VerdictActive, nil
		case <-time.After(r.recheckDelay):
		}
	}

	v, st = r.ReadOnce()
	if v != VerdictUnconfirmed {
		return v, st
	}
	if r.StateDirExists() {
		return VerdictInert, nil
	}
	return VerdictClear, nil
}
