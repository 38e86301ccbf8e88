package crawl

import (
	"context"
	"time"
)

// State is the lifecycle position of a crawl job
type State int

const (
	StateInit State = iota
	StateRunning
	StatePaused
	StateExhausted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateRunning:
		return "RUNNING"
	case StatePaused:
		return "PAUSED_BY_USER"
	case StateExhausted:
		return "EXHAUSTED"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the job has stopped
func (s State) Terminal() bool {
	return s == StatePaused || s == StateExhausted || s == StateAborted
}

// StepResult tells the runner whether more work remains
type StepResult int

const (
	// Advanced means one batch was committed and more input may follow
	Advanced StepResult = iota
	// Exhausted means the input or remote sequence is finished
	Exhausted
	// Stopped means the job hit a per-run limit with work remaining. The run
	// ends as paused.
	Stopped
)

// Progress is a snapshot of how far a job got
type Progress struct {
	Processed int64
	Line      int64
	Cursor    string
}

// Outcome is handed to Job.Finish once the job stops
type Outcome struct {
	RunID     string
	State     State
	Err       error
	StartedAt time.Time
}

// Job is one resumable crawl. The runner drives it one batch at a time.
//
// Step must leave the job able to retry the same unit when it returns an
// error: nothing of the failed batch may be committed and the pending unit is
// kept until its commit succeeds.
type Job interface {
	Name() string
	// Start loads the checkpoint and positions the input
	Start(ctx context.Context) error
	// Step processes one batch and commits its data with the checkpoint
	Step(ctx context.Context) (StepResult, error)
	Progress() Progress
	// Finish persists the final checkpoint and the run record
	Finish(ctx context.Context, outcome Outcome) error
}
