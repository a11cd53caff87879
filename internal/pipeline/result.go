package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/auto-analyzer/internal/agents"
	"github.com/jonathan/auto-analyzer/internal/conversation"
)

// ErrArtifactMissing means a stage finished its conversation without leaving the file
// the next stage reads.
var ErrArtifactMissing = errors.New("expected artifact missing")

// State is the orchestrator's position in a run
type State string

const (
	StateNotStarted  State = "not_started"
	StateCleaning    State = "cleaning"
	StateAnalyzing   State = "analyzing"
	StateVisualizing State = "visualizing"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Status is the outcome of one stage
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusUnverified means the conversation ended but the artifact check failed
	// and the run continued anyway.
	StatusUnverified Status = "unverified"
)

// StageResult records what one stage did.
type StageResult struct {
	Stage      agents.Stage        `json:"stage"`
	Agent      string              `json:"agent"`
	Status     Status              `json:"status"`
	Reason     conversation.Reason `json:"reason,omitempty"`
	Replies    int                 `json:"replies"`
	Executions int                 `json:"executions"`
	Artifacts  []string            `json:"artifacts"`
	StartedAt  time.Time           `json:"started_at"`
	Duration   time.Duration       `json:"duration"`
	Error      string              `json:"error,omitempty"`
}

// RunResult is the record of one pipeline invocation.
type RunResult struct {
	ID         uuid.UUID     `json:"id"`
	Input      string        `json:"input"`
	WorkDir    string        `json:"work_dir"`
	State      State         `json:"state"`
	Stages     []StageResult `json:"stages"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Stage returns the result for a stage, if it ran.
func (r *RunResult) Stage(stage agents.Stage) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s, true
		}
	}
	return StageResult{}, false
}

// Duration is the wall time of the run so far.
func (r *RunResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// StageError wraps a failure with the stage it happened in.
type StageError struct {
	Stage agents.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
