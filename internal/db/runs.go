package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/auto-analyzer/internal/agents"
	"github.com/jonathan/auto-analyzer/internal/conversation"
	"github.com/jonathan/auto-analyzer/internal/pipeline"
)

// StartRun inserts the run record. A run that already exists is left untouched.
func (db *DB) StartRun(ctx context.Context, run *pipeline.RunResult) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO runs (id, input, work_dir, state, started_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		run.ID, run.Input, run.WorkDir, string(run.State), run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// RecordStage stores one stage result, replacing any earlier result for that stage.
func (db *DB) RecordStage(ctx context.Context, runID uuid.UUID, stage pipeline.StageResult) error {
	artifacts, err := json.Marshal(nonNil(stage.Artifacts))
	if err != nil {
		return fmt.Errorf("failed to marshal artifacts: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO run_stages (run_id, stage, agent, status, reason, replies, executions,
		                         artifacts, started_at, duration_ms, error, position)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		         (SELECT COUNT(*) FROM run_stages WHERE run_id = $1))
		 ON CONFLICT (run_id, stage) DO UPDATE SET
		     agent = $3, status = $4, reason = $5, replies = $6, executions = $7,
		     artifacts = $8, started_at = $9, duration_ms = $10, error = $11`,
		runID, string(stage.Stage), stage.Agent, string(stage.Status), string(stage.Reason),
		stage.Replies, stage.Executions, artifacts, stage.StartedAt,
		stage.Duration.Milliseconds(), stage.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save stage %s: %w", stage.Stage, err)
	}
	return nil
}

// FinishRun stores the final state of a run, creating the record if the run failed
// before it was started.
func (db *DB) FinishRun(ctx context.Context, run *pipeline.RunResult) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO runs (id, input, work_dir, state, error, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET state = $4, error = $5, finished_at = $7`,
		run.ID, run.Input, run.WorkDir, string(run.State), run.Error, run.StartedAt, nullTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a run and its stages. It returns nil if the run does not exist.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*pipeline.RunResult, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT id, input, work_dir, state, error, started_at, finished_at
		 FROM runs WHERE id = $1`,
		runID,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Stages, err = db.ListStages(ctx, runID)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns retrieves the most recent runs without their stages.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]*pipeline.RunResult, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, input, work_dir, state, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*pipeline.RunResult
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListStages retrieves a run's stage results in execution order.
func (db *DB) ListStages(ctx context.Context, runID uuid.UUID) ([]pipeline.StageResult, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT stage, agent, status, reason, replies, executions, artifacts,
		        started_at, duration_ms, error
		 FROM run_stages WHERE run_id = $1 ORDER BY position`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var stages []pipeline.StageResult
	for rows.Next() {
		var (
			s                     pipeline.StageResult
			stage, status, reason string
			artifactsJSON         []byte
			durationMs            int64
		)
		if err := rows.Scan(&stage, &s.Agent, &status, &reason, &s.Replies, &s.Executions,
			&artifactsJSON, &s.StartedAt, &durationMs, &s.Error); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		s.Stage = agents.Stage(stage)
		s.Status = pipeline.Status(status)
		s.Reason = conversation.Reason(reason)
		s.Duration = time.Duration(durationMs) * time.Millisecond
		if err := json.Unmarshal(artifactsJSON, &s.Artifacts); err != nil {
			return nil, fmt.Errorf("failed to decode artifacts for %s: %w", stage, err)
		}
		stages = append(stages, s)
	}
	return stages, rows.Err()
}

func scanRun(row pgx.Row) (*pipeline.RunResult, error) {
	var (
		run        pipeline.RunResult
		state      string
		finishedAt *time.Time
	)
	if err := row.Scan(&run.ID, &run.Input, &run.WorkDir, &state, &run.Error, &run.StartedAt, &finishedAt); err != nil {
		return nil, err
	}
	run.State = pipeline.State(state)
	if finishedAt != nil {
		run.FinishedAt = *finishedAt
	}
	return &run, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ pipeline.Recorder = (*DB)(nil)
