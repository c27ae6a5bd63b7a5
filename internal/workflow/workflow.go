// Package workflow runs durable, checkpointed step pipelines.
//
// A run's progress is persisted per step, so a process crash resumes the
// pipeline from the last completed step instead of restarting it. Steps
// must be idempotent or produce idempotent side effects; the runner
// guarantees at-least-once execution of each incomplete step.
package workflow

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a workflow run.
type Status string

const (
	// StatusPending marks a run created but not yet claimed by a runner.
	StatusPending Status = "pending"
	// StatusRunning marks a run claimed by a runner.
	StatusRunning Status = "running"
	// StatusSucceeded marks a run whose every step completed.
	StatusSucceeded Status = "succeeded"
	// StatusFailed marks a run that exhausted retries or hit a
	// permanent error. Its failure has been recorded terminally.
	StatusFailed Status = "failed"
)

// Run is one durable workflow execution.
type Run struct {
	ID          string
	Kind        string
	WorkspaceID string
	ItemID      string
	// ActorID is the user who started the run; terminal events are
	// attributed to them.
	ActorID     string
	ArgsJSON    []byte
	Status      Status
	CurrentStep string
	LastError   string
	ClaimedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StepResult is a completed step checkpoint.
type StepResult struct {
	RunID       string
	Step        string
	OutputJSON  []byte
	CompletedAt time.Time
}

// Attempt is one step execution outcome, recorded for inspection.
type Attempt struct {
	RunID     string
	Step      string
	Outcome   string
	Attempt   int
	LastError string
	CreatedAt time.Time
}

// Attempt outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetry     = "retry"
	OutcomePermanent = "permanent"
)

// Handle identifies a started run. Callers poll workspace state for the
// terminal outcome; Start never blocks on pipeline completion.
type Handle struct {
	RunID string
}

// RunStore persists workflow runs, step checkpoints, and attempt records.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	// ClaimDueRuns transitions pending runs, and running runs claimed
	// before staleBefore, to running with ClaimedAt = now. Claimed runs
	// are returned for execution.
	ClaimDueRuns(ctx context.Context, now time.Time, staleBefore time.Time, limit int) ([]Run, error)
	// FinishRun records the terminal status of a run.
	FinishRun(ctx context.Context, id string, status Status, currentStep, lastError string) error
	// PutStepResult stores a step checkpoint. Re-saving the same
	// (run, step) pair is a no-op.
	PutStepResult(ctx context.Context, result StepResult) error
	// GetStepResults returns completed step outputs keyed by step name.
	GetStepResults(ctx context.Context, runID string) (map[string][]byte, error)
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

// ErrUnknownKind indicates a run references a pipeline the runner does
// not know.
var ErrUnknownKind = errors.New("unknown workflow kind")

type permanentError struct {
	cause error
}

func (e permanentError) Error() string {
	if e.cause == nil {
		return "permanent error"
	}
	return e.cause.Error()
}

func (e permanentError) Unwrap() error {
	return e.cause
}

// Permanent marks an error as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{cause: err}
}

// IsPermanent reports whether err was explicitly marked as non-retryable.
func IsPermanent(err error) bool {
	var target permanentError
	return errors.As(err, &target)
}
