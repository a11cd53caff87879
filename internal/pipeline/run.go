// Package pipeline provides the high-level orchestration of an analysis run: it
// prepares the working directory and drives the clean, analyze and visualize agents
// one after another, handing off through files.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/jonathan/auto-analyzer/internal/agents"
	"github.com/jonathan/auto-analyzer/internal/conversation"
	"github.com/jonathan/auto-analyzer/internal/metrics"
	"github.com/jonathan/auto-analyzer/internal/prompts"
	"github.com/jonathan/auto-analyzer/internal/workspace"
)

// Sink runs one agent conversation to completion.
type Sink interface {
	Exchange(ctx context.Context, agent agents.Definition, task string) (*conversation.Transcript, error)
}

// Recorder persists run history. Recording failures never fail a run.
type Recorder interface {
	StartRun(ctx context.Context, run *RunResult) error
	RecordStage(ctx context.Context, runID uuid.UUID, stage StageResult) error
	FinishRun(ctx context.Context, run *RunResult) error
}

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	RunID   string       `json:"run_id"`
	Stage   agents.Stage `json:"stage,omitempty"`
	State   State        `json:"state"`
	Message string       `json:"message"`
	Content any          `json:"content,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// Options configures an Orchestrator
type Options struct {
	Layout workspace.Layout
	// Strict stops the run when a stage leaves no artifact. When false the stage is
	// marked unverified and the run continues.
	Strict   bool
	Stages   []StageDefinition // Defaults to DefaultStages
	Recorder Recorder
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Orchestrator sequences the stages of a run.
type Orchestrator struct {
	sink     Sink
	agents   *agents.Set
	layout   workspace.Layout
	strict   bool
	stages   []StageDefinition
	recorder Recorder
	clock    clockwork.Clock
	logger   *slog.Logger
}

// New builds an Orchestrator. Every stage must have an agent in agentSet.
func New(sink Sink, agentSet *agents.Set, opts Options) (*Orchestrator, error) {
	defs := opts.Stages
	if defs == nil {
		defs = DefaultStages
	}
	ordered, err := OrderStages(defs)
	if err != nil {
		return nil, err
	}
	for _, def := range ordered {
		if _, err := agentSet.For(def.Stage); err != nil {
			return nil, err
		}
	}

	o := &Orchestrator{
		sink:     sink,
		agents:   agentSet,
		layout:   opts.Layout,
		strict:   opts.Strict,
		stages:   ordered,
		recorder: opts.Recorder,
		clock:    opts.Clock,
		logger:   opts.Logger,
	}
	if o.layout.Root == "" {
		o.layout = workspace.New("")
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o, nil
}

// Layout returns the working directory layout runs write to.
func (o *Orchestrator) Layout() workspace.Layout {
	return o.layout
}

// Run executes the pipeline on the CSV at inputPath.
func (o *Orchestrator) Run(ctx context.Context, inputPath string) (*RunResult, error) {
	return o.RunWithProgress(ctx, inputPath, nil)
}

// RunWithProgress is Run with a callback invoked at every state change. The returned
// RunResult is never nil, even when err is not.
func (o *Orchestrator) RunWithProgress(ctx context.Context, inputPath string, onProgress ProgressCallback) (*RunResult, error) {
	run := &RunResult{
		ID:        uuid.New(),
		Input:     inputPath,
		WorkDir:   o.layout.Root,
		State:     StateNotStarted,
		StartedAt: o.clock.Now(),
	}
	log := o.logger.With("run_id", run.ID)

	emit := func(stage agents.Stage, message string, content any) {
		if onProgress != nil {
			onProgress(ProgressEvent{
				RunID:   run.ID.String(),
				Stage:   stage,
				State:   run.State,
				Message: message,
				Content: content,
			})
		}
	}

	metrics.RunsInProgress.Inc()
	defer metrics.RunsInProgress.Dec()

	fail := func(err error) (*RunResult, error) {
		run.State = StateFailed
		run.Error = err.Error()
		run.FinishedAt = o.clock.Now()
		o.finish(ctx, run)
		log.Error("run failed", "error", err)
		emit("", fmt.Sprintf("Analysis failed: %v", err), nil)
		return run, err
	}

	input, err := o.layout.LoadInput(inputPath)
	if err != nil {
		return fail(err)
	}
	if err := o.layout.Prepare(); err != nil {
		return fail(err)
	}
	if err := o.layout.WriteInput(input); err != nil {
		return fail(err)
	}
	log.Info("working directory prepared", "work_dir", o.layout.Root, "input", input.Name)

	if o.recorder != nil {
		if err := o.recorder.StartRun(ctx, run); err != nil {
			log.Warn("failed to record run start", "error", err)
		}
	}

	data := map[string]string{
		"InputFile":   input.Name,
		"CleanedFile": workspace.CleanedFile,
		"ResultsDir":  workspace.ResultsDir,
		"VisualsDir":  workspace.VisualsDir,
	}

	for _, def := range o.stages {
		run.State = def.State
		emit(def.Stage, fmt.Sprintf("Starting %s stage", def.Stage), nil)

		result, err := o.runStage(ctx, def, data, log)
		run.Stages = append(run.Stages, result)
		metrics.StageDuration.WithLabelValues(string(def.Stage), string(result.Status)).Observe(result.Duration.Seconds())
		if o.recorder != nil {
			if rerr := o.recorder.RecordStage(ctx, run.ID, result); rerr != nil {
				log.Warn("failed to record stage", "stage", def.Stage, "error", rerr)
			}
		}
		if err != nil {
			return fail(&StageError{Stage: def.Stage, Err: err})
		}
		emit(def.Stage, fmt.Sprintf("%s stage %s", def.Stage, result.Status), result)
	}

	run.State = StateDone
	run.FinishedAt = o.clock.Now()
	o.finish(ctx, run)
	log.Info("run complete", "duration", run.Duration())
	emit("", "Analysis complete", nil)
	return run, nil
}

func (o *Orchestrator) runStage(ctx context.Context, def StageDefinition, data map[string]string, log *slog.Logger) (StageResult, error) {
	agent, err := o.agents.For(def.Stage)
	if err != nil {
		return StageResult{Stage: def.Stage, Status: StatusFailed, Error: err.Error()}, err
	}

	result := StageResult{
		Stage:     def.Stage,
		Agent:     agent.Name,
		StartedAt: o.clock.Now(),
	}
	finish := func(status Status, err error) (StageResult, error) {
		result.Status = status
		result.Duration = o.clock.Since(result.StartedAt)
		if err != nil {
			result.Error = err.Error()
		}
		return result, err
	}

	task, err := prompts.Render(def.TaskKey, data)
	if err != nil {
		return finish(StatusFailed, err)
	}

	log.Info("stage started", "stage", def.Stage, "agent", agent.Name)
	transcript, err := o.sink.Exchange(ctx, agent, task)
	if transcript != nil {
		result.Reason = transcript.Reason
		result.Replies = transcript.Replies()
		result.Executions = transcript.Executions
	}
	if err != nil {
		return finish(StatusFailed, err)
	}

	result.Artifacts = def.Artifacts(o.layout)
	if len(result.Artifacts) > 0 {
		log.Info("stage finished", "stage", def.Stage, "artifacts", len(result.Artifacts), "reason", result.Reason)
		return finish(StatusSucceeded, nil)
	}

	missing := fmt.Errorf("%w: %s", ErrArtifactMissing, filepath.ToSlash(filepath.Join(o.layout.Root, def.Produces)))
	if o.strict {
		return finish(StatusFailed, missing)
	}
	log.Warn("stage produced no artifact, continuing", "stage", def.Stage, "expected", def.Produces)
	r, _ := finish(StatusUnverified, nil)
	r.Error = missing.Error()
	return r, nil
}

func (o *Orchestrator) finish(ctx context.Context, run *RunResult) {
	metrics.Runs.WithLabelValues(string(run.State)).Inc()
	if o.recorder == nil {
		return
	}
	// The run's own context may already be cancelled; history is still written.
	if err := o.recorder.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Warn("failed to record run result", "run_id", run.ID, "error", err)
	}
}
