// Package history keeps recent pipeline runs in memory for servers started without
// a database.
package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"github.com/jonathan/auto-analyzer/internal/pipeline"
)

// Defaults for NewMemory.
const (
	DefaultTTL      = 24 * time.Hour
	DefaultCapacity = 100
)

// Store reads run history.
type Store interface {
	GetRun(ctx context.Context, runID uuid.UUID) (*pipeline.RunResult, error)
	ListRuns(ctx context.Context, limit int) ([]*pipeline.RunResult, error)
}

// Memory is an expiring in-process run store. It implements pipeline.Recorder and Store.
type Memory struct {
	mu    sync.Mutex
	cache *ttlcache.Cache[uuid.UUID, *pipeline.RunResult]
}

// NewMemory creates a store that forgets runs after ttl and holds at most capacity.
func NewMemory(ttl time.Duration, capacity uint64) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[uuid.UUID, *pipeline.RunResult](ttl),
		ttlcache.WithCapacity[uuid.UUID, *pipeline.RunResult](capacity),
	)
	go cache.Start()
	return &Memory{cache: cache}
}

// Close stops the expiry loop.
func (m *Memory) Close() {
	m.cache.Stop()
}

func (m *Memory) StartRun(_ context.Context, run *pipeline.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Set(run.ID, snapshot(run), ttlcache.DefaultTTL)
	return nil
}

func (m *Memory) RecordStage(_ context.Context, runID uuid.UUID, stage pipeline.StageResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.cache.Get(runID)
	if item == nil {
		return nil
	}
	run := snapshot(item.Value())
	run.Stages = append(run.Stages, stage)
	m.cache.Set(runID, run, ttlcache.DefaultTTL)
	return nil
}

func (m *Memory) FinishRun(_ context.Context, run *pipeline.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Set(run.ID, snapshot(run), ttlcache.DefaultTTL)
	return nil
}

// GetRun returns nil if the run is unknown or has expired.
func (m *Memory) GetRun(_ context.Context, runID uuid.UUID) (*pipeline.RunResult, error) {
	item := m.cache.Get(runID, ttlcache.WithDisableTouchOnHit[uuid.UUID, *pipeline.RunResult]())
	if item == nil {
		return nil, nil
	}
	return snapshot(item.Value()), nil
}

// ListRuns returns up to limit runs, newest first.
func (m *Memory) ListRuns(_ context.Context, limit int) ([]*pipeline.RunResult, error) {
	items := m.cache.Items()
	runs := make([]*pipeline.RunResult, 0, len(items))
	for _, item := range items {
		runs = append(runs, snapshot(item.Value()))
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// snapshot copies a run so later mutation by the orchestrator is not observed.
func snapshot(run *pipeline.RunResult) *pipeline.RunResult {
	cp := *run
	cp.Stages = append([]pipeline.StageResult(nil), run.Stages...)
	return &cp
}

var (
	_ pipeline.Recorder = (*Memory)(nil)
	_ Store             = (*Memory)(nil)
)
