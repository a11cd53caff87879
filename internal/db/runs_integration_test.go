//go:build integration
// +build integration

package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/auto-analyzer/internal/agents"
	"github.com/jonathan/auto-analyzer/internal/conversation"
	"github.com/jonathan/auto-analyzer/internal/pipeline"
)

func setupTestDB(t *testing.T) *DB {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	db, err := Connect(ctx, dbURL)
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to DB: %v", err)
	}
	require.NoError(t, db.EnsureSchema(ctx))
	return db
}

func TestRunHistory_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	start := time.Now().UTC().Truncate(time.Millisecond)
	run := &pipeline.RunResult{
		ID:        uuid.New(),
		Input:     "sales_data.csv",
		WorkDir:   "analysis",
		State:     pipeline.StateNotStarted,
		StartedAt: start,
	}
	require.NoError(t, db.StartRun(ctx, run))

	clean := pipeline.StageResult{
		Stage:      agents.StageClean,
		Agent:      "Data_Engineer",
		Status:     pipeline.StatusSucceeded,
		Reason:     conversation.ReasonTerminated,
		Replies:    2,
		Executions: 1,
		Artifacts:  []string{"cleaned_data.csv"},
		StartedAt:  start,
		Duration:   1500 * time.Millisecond,
	}
	analyze := pipeline.StageResult{
		Stage:     agents.StageAnalyze,
		Agent:     "Data_Analyst",
		Status:    pipeline.StatusFailed,
		StartedAt: start.Add(2 * time.Second),
		Error:     "provider unavailable",
	}
	require.NoError(t, db.RecordStage(ctx, run.ID, clean))
	require.NoError(t, db.RecordStage(ctx, run.ID, analyze))

	run.State = pipeline.StateFailed
	run.Error = "analyze stage failed: provider unavailable"
	run.FinishedAt = start.Add(3 * time.Second)
	require.NoError(t, db.FinishRun(ctx, run))

	got, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pipeline.StateFailed, got.State)
	assert.Equal(t, run.Error, got.Error)
	assert.True(t, run.FinishedAt.Equal(got.FinishedAt))

	require.Len(t, got.Stages, 2)
	assert.Equal(t, agents.StageClean, got.Stages[0].Stage)
	assert.Equal(t, []string{"cleaned_data.csv"}, got.Stages[0].Artifacts)
	assert.Equal(t, 1500*time.Millisecond, got.Stages[0].Duration)
	assert.Equal(t, agents.StageAnalyze, got.Stages[1].Stage)
	assert.Empty(t, got.Stages[1].Artifacts)

	runs, err := db.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, runs)
}

func TestGetRun_NotFound_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	got, err := db.GetRun(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFinishRun_WithoutStart_Integration(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	run := &pipeline.RunResult{
		ID:         uuid.New(),
		Input:      "missing.csv",
		WorkDir:    "analysis",
		State:      pipeline.StateFailed,
		Error:      "failed to open input",
		StartedAt:  time.Now().UTC(),
		FinishedAt: time.Now().UTC(),
	}
	require.NoError(t, db.FinishRun(ctx, run))

	got, err := db.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pipeline.StateFailed, got.State)
}
