package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/notare/notare/internal/platform/id"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/notare/notare/internal/workflow"

// StepContext carries a run and the outputs of completed steps into a
// step execution.
type StepContext struct {
	Run     Run
	outputs map[string][]byte
}

// NewStepContext builds a step context from previously recorded
// outputs. The runner builds its own contexts; this exists so pipelines
// can be exercised in isolation.
func NewStepContext(run Run, outputs map[string][]byte) *StepContext {
	if outputs == nil {
		outputs = make(map[string][]byte)
	}
	return &StepContext{Run: run, outputs: outputs}
}

// Output returns the recorded output of a previously completed step.
func (c *StepContext) Output(step string) ([]byte, bool) {
	raw, ok := c.outputs[step]
	return raw, ok
}

// DecodeOutput unmarshals the recorded output of a previously completed step.
func (c *StepContext) DecodeOutput(step string, target any) error {
	raw, ok := c.outputs[step]
	if !ok {
		return fmt.Errorf("no output recorded for step %q", step)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode output of step %q: %w", step, err)
	}
	return nil
}

// Step is one unit of a pipeline. Execute returns the step's output,
// which is checkpointed and available to later steps (and to resumed
// executions after a crash).
type Step struct {
	Name    string
	Execute func(ctx context.Context, sc *StepContext) ([]byte, error)
}

// Pipeline is a fixed, sequential list of steps for one run kind.
type Pipeline struct {
	Kind  string
	Steps []Step
	// OnFailure records the terminal failure against the owning entity
	// (one event append). It runs after retries are exhausted or a
	// permanent error occurs; its own failure is logged, never retried
	// into a loop.
	OnFailure func(ctx context.Context, run Run, step string, cause error) error
}

// Config controls the runner's claim loop and retry policy.
type Config struct {
	PollInterval  time.Duration
	LeaseTTL      time.Duration
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
	ClaimLimit    int
}

const (
	defaultPollInterval  = 2 * time.Second
	defaultLeaseTTL      = 5 * time.Minute
	defaultMaxAttempts   = 5
	defaultRetryBackoff  = 2 * time.Second
	defaultRetryMaxDelay = time.Minute
	defaultClaimLimit    = 16
)

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = defaultLeaseTTL
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.ClaimLimit <= 0 {
		c.ClaimLimit = defaultClaimLimit
	}
	return c
}

// Runner claims pending runs and drives their pipelines to a terminal
// status.
type Runner struct {
	store     RunStore
	pipelines map[string]Pipeline
	cfg       Config
	clock     func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	wake      chan struct{}
}

// NewRunner creates a workflow runner for the given pipelines.
func NewRunner(store RunStore, pipelines []Pipeline, cfg Config) *Runner {
	byKind := make(map[string]Pipeline, len(pipelines))
	for _, p := range pipelines {
		byKind[p.Kind] = p
	}
	return &Runner{
		store:     store,
		pipelines: byKind,
		cfg:       cfg.normalized(),
		clock:     time.Now,
		sleep:     sleepContext,
		wake:      make(chan struct{}, 1),
	}
}

// StartInput describes a new run.
type StartInput struct {
	WorkspaceID string
	ItemID      string
	ActorID     string
	Args        any
}

// Start persists a new run and returns immediately; the pipeline
// executes asynchronously via the claim loop.
func (r *Runner) Start(ctx context.Context, kind string, input StartInput) (Handle, error) {
	if r == nil || r.store == nil {
		return Handle{}, fmt.Errorf("run store is not configured")
	}
	if _, ok := r.pipelines[kind]; !ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if strings.TrimSpace(input.WorkspaceID) == "" {
		return Handle{}, fmt.Errorf("workspace id is required")
	}

	argsJSON, err := json.Marshal(input.Args)
	if err != nil {
		return Handle{}, fmt.Errorf("marshal run args: %w", err)
	}

	runID, err := id.NewID()
	if err != nil {
		return Handle{}, fmt.Errorf("generate run id: %w", err)
	}

	now := r.clock().UTC()
	run := Run{
		ID:          runID,
		Kind:        kind,
		WorkspaceID: input.WorkspaceID,
		ItemID:      input.ItemID,
		ActorID:     input.ActorID,
		ArgsJSON:    argsJSON,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return Handle{}, fmt.Errorf("create run: %w", err)
	}

	// Nudge the claim loop so a co-located runner picks the run up
	// without waiting for the next poll tick.
	select {
	case r.wake <- struct{}{}:
	default:
	}

	return Handle{RunID: runID}, nil
}

// Run executes the claim loop until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.store == nil {
		return fmt.Errorf("run store is not configured")
	}
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.ProcessOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("workflow claim pass failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// ProcessOnce claims due runs and executes each to a terminal status.
// It returns the number of runs executed.
func (r *Runner) ProcessOnce(ctx context.Context) (int, error) {
	now := r.clock().UTC()
	runs, err := r.store.ClaimDueRuns(ctx, now, now.Add(-r.cfg.LeaseTTL), r.cfg.ClaimLimit)
	if err != nil {
		return 0, fmt.Errorf("claim due runs: %w", err)
	}

	for _, run := range runs {
		r.executeRun(ctx, run)
	}
	return len(runs), nil
}

func (r *Runner) executeRun(ctx context.Context, run Run) {
	tracer := otel.GetTracerProvider().Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("workflow.kind", run.Kind),
			attribute.String("workflow.run_id", run.ID),
		),
	)
	defer span.End()

	pipeline, ok := r.pipelines[run.Kind]
	if !ok {
		log.Printf("workflow run skipped run_id=%s kind=%s: %v", run.ID, run.Kind, ErrUnknownKind)
		r.finish(ctx, run, StatusFailed, "", ErrUnknownKind.Error())
		return
	}

	completed, err := r.store.GetStepResults(ctx, run.ID)
	if err != nil {
		log.Printf("workflow load checkpoints failed run_id=%s: %v", run.ID, err)
		return
	}
	if completed == nil {
		completed = make(map[string][]byte)
	}
	sc := &StepContext{Run: run, outputs: completed}

	for _, step := range pipeline.Steps {
		if _, done := completed[step.Name]; done {
			continue
		}
		output, err := r.executeStep(ctx, run, step, sc)
		if err != nil {
			log.Printf("workflow step exhausted run_id=%s step=%s: %v", run.ID, step.Name, err)
			r.recordFailure(ctx, pipeline, run, step.Name, err)
			return
		}
		result := StepResult{
			RunID:       run.ID,
			Step:        step.Name,
			OutputJSON:  output,
			CompletedAt: r.clock().UTC(),
		}
		if err := r.store.PutStepResult(ctx, result); err != nil {
			// The step side effect happened but the checkpoint did not
			// persist; the run stays running and a later claim re-executes
			// the step. Steps are idempotent, so this is safe.
			log.Printf("workflow checkpoint failed run_id=%s step=%s: %v", run.ID, step.Name, err)
			return
		}
		sc.outputs[step.Name] = output
	}

	r.finish(ctx, run, StatusSucceeded, "", "")
}

func (r *Runner) executeStep(ctx context.Context, run Run, step Step, sc *StepContext) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		output, err := step.Execute(ctx, sc)
		if err == nil {
			r.recordAttempt(ctx, run, step.Name, OutcomeSucceeded, attempt, "")
			return output, nil
		}
		lastErr = err

		if IsPermanent(err) {
			r.recordAttempt(ctx, run, step.Name, OutcomePermanent, attempt, err.Error())
			return nil, err
		}
		r.recordAttempt(ctx, run, step.Name, OutcomeRetry, attempt, err.Error())

		if attempt == r.cfg.MaxAttempts {
			break
		}
		if err := r.sleep(ctx, r.backoffDelay(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("step %q failed after %d attempts: %w", step.Name, r.cfg.MaxAttempts, lastErr)
}

func (r *Runner) backoffDelay(attempt int) time.Duration {
	delay := r.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.cfg.RetryMaxDelay {
			return r.cfg.RetryMaxDelay
		}
	}
	if delay > r.cfg.RetryMaxDelay {
		return r.cfg.RetryMaxDelay
	}
	return delay
}

func (r *Runner) recordFailure(ctx context.Context, pipeline Pipeline, run Run, step string, cause error) {
	if pipeline.OnFailure != nil {
		if err := pipeline.OnFailure(ctx, run, step, cause); err != nil {
			log.Printf("workflow failure hook failed run_id=%s step=%s: %v", run.ID, step, err)
		}
	}
	r.finish(ctx, run, StatusFailed, step, cause.Error())
}

func (r *Runner) finish(ctx context.Context, run Run, status Status, currentStep, lastError string) {
	if err := r.store.FinishRun(ctx, run.ID, status, currentStep, lastError); err != nil {
		log.Printf("workflow finish failed run_id=%s status=%s: %v", run.ID, status, err)
	}
}

func (r *Runner) recordAttempt(ctx context.Context, run Run, step, outcome string, attempt int, lastError string) {
	err := r.store.RecordAttempt(ctx, Attempt{
		RunID:     run.ID,
		Step:      step,
		Outcome:   outcome,
		Attempt:   attempt,
		LastError: lastError,
		CreatedAt: r.clock().UTC(),
	})
	if err != nil {
		log.Printf("workflow record attempt failed run_id=%s step=%s: %v", run.ID, step, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
