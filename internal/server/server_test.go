package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/auto-analyzer/internal/agents"
	"github.com/jonathan/auto-analyzer/internal/config"
	"github.com/jonathan/auto-analyzer/internal/history"
	"github.com/jonathan/auto-analyzer/internal/pipeline"
	"github.com/jonathan/auto-analyzer/internal/server/ratelimit"
	"github.com/jonathan/auto-analyzer/internal/workspace"
)

// fakeRunner stands in for the orchestrator. On success it leaves one artifact of
// every kind in the layout.
type fakeRunner struct {
	layout workspace.Layout
	err    error

	// started is closed when a run begins; the run then waits for release.
	started chan struct{}
	release chan struct{}

	mu          sync.Mutex
	inputs      []string
	inputExists bool
}

func newFakeRunner(t *testing.T) *fakeRunner {
	return &fakeRunner{layout: workspace.New(filepath.Join(t.TempDir(), "analysis"))}
}

func (f *fakeRunner) Layout() workspace.Layout { return f.layout }

func (f *fakeRunner) RunWithProgress(_ context.Context, input string, cb pipeline.ProgressCallback) (*pipeline.RunResult, error) {
	_, statErr := os.Stat(input)
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.inputExists = statErr == nil
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
		<-f.release
	}

	run := &pipeline.RunResult{ID: uuid.New(), Input: input, WorkDir: f.layout.Root, State: pipeline.StateCleaning}
	if cb != nil {
		cb(pipeline.ProgressEvent{RunID: run.ID.String(), Stage: agents.StageClean, State: run.State, Message: "Starting clean stage"})
	}
	if f.err != nil {
		run.State = pipeline.StateFailed
		run.Error = f.err.Error()
		return run, f.err
	}

	if err := f.layout.Prepare(); err != nil {
		return run, err
	}
	files := map[string]string{
		workspace.CleanedFile: "region,sales\nnorth,10\nsouth,20\n",
		filepath.Join(workspace.ResultsDir, "summary.txt"): "mean sales: 15",
		filepath.Join(workspace.ResultsDir, "by_region.csv"): "region,total\nnorth,10\nsouth,20\n",
		filepath.Join(workspace.VisualsDir, "hist.png"):     "\x89PNG\r\n\x1a\n",
	}
	for rel, content := range files {
		path := filepath.Join(f.layout.Root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return run, err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return run, err
		}
	}
	run.State = pipeline.StateDone
	return run, nil
}

func (f *fakeRunner) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.inputs...)
}

type testEnv struct {
	server    *Server
	runner    *fakeRunner
	uploadDir string
}

func newTestEnv(t *testing.T, configure func(*Config)) *testEnv {
	t.Helper()
	runner := newFakeRunner(t)
	cfg := Config{Runner: runner, UploadDir: t.TempDir()}
	if configure != nil {
		configure(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return &testEnv{server: s, runner: runner, uploadDir: cfg.UploadDir}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, target, filename, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func parseHTML(t *testing.T, rec *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	require.NoError(t, err)
	return doc
}

func assertUploadsRemoved(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temporary upload files must be deleted")
}

const salesCSV = "region,sales\nnorth,10\nsouth,20\n"

func TestNew_RequiresRunner(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "idle", resp["pipeline"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
	assert.Contains(t, rec.Body.String(), "auto_analyzer_runs_in_progress")
}

func TestIndex_EmptyWorkspace(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	doc := parseHTML(t, rec)
	assert.Equal(t, 1, doc.Find("form#upload input[type=file][name=file]").Length())
	assert.Zero(t, doc.Find("#preview").Length())
	assert.Zero(t, doc.Find("#results").Length())
	assert.Zero(t, doc.Find("#visuals").Length())
	assert.Zero(t, doc.Find("#error").Length())
}

func TestIndex_UnknownPathIsNotFound(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyze_RendersArtifacts(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(uploadRequest(t, "/analyze", "sales.csv", salesCSV))

	require.Equal(t, http.StatusOK, rec.Code)
	doc := parseHTML(t, rec)

	assert.Zero(t, doc.Find("#error").Length())
	assert.Equal(t, []string{"region", "sales"}, doc.Find("#preview th").Map(func(_ int, s *goquery.Selection) string {
		return s.Text()
	}))
	assert.Equal(t, 2, doc.Find("#preview tbody tr").Length())

	results := doc.Find("#results .result")
	require.Equal(t, 2, results.Length())
	assert.Equal(t, "by_region.csv", results.Eq(0).Find("h3").Text())
	assert.Equal(t, "table", results.Eq(0).AttrOr("data-kind", ""))
	assert.Equal(t, "summary.txt", results.Eq(1).Find("h3").Text())
	assert.Equal(t, "mean sales: 15", results.Eq(1).Find("pre").Text())

	src, ok := doc.Find("#visuals img").Attr("src")
	require.True(t, ok)
	assert.Equal(t, "/files/visuals/hist.png", src)

	calls := env.runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sales.csv", filepath.Base(calls[0]))
	assert.True(t, env.runner.inputExists, "upload is on disk while the pipeline runs")
	assertUploadsRemoved(t, env.uploadDir)
}

func TestAnalyze_FailureShowsBanner(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "missing artifact",
			err:        &pipeline.StageError{Stage: agents.StageClean, Err: pipeline.ErrArtifactMissing},
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "agent error",
			err:        &pipeline.StageError{Stage: agents.StageAnalyze, Err: errors.New("model unavailable")},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.runner.err = tt.err

			rec := env.do(uploadRequest(t, "/analyze", "sales.csv", salesCSV))

			assert.Equal(t, tt.wantStatus, rec.Code)
			doc := parseHTML(t, rec)
			assert.Equal(t, "Analysis failed: "+tt.err.Error(), strings.TrimSpace(doc.Find("#error").Text()))
			assert.Zero(t, doc.Find("#preview").Length())
			assertUploadsRemoved(t, env.uploadDir)
		})
	}
}

func TestAnalyze_RejectsBadUploads(t *testing.T) {
	tests := []struct {
		name     string
		filename string
	}{
		{name: "not csv", filename: "notes.txt"},
		{name: "no extension", filename: "data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			rec := env.do(uploadRequest(t, "/analyze", tt.filename, salesCSV))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, parseHTML(t, rec).Find("#error").Text(), "Analysis failed")
			assert.Empty(t, env.runner.calls())
			assertUploadsRemoved(t, env.uploadDir)
		})
	}

	t.Run("missing file field", func(t *testing.T) {
		env := newTestEnv(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/analyze", strings.NewReader(""))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		rec := env.do(req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, env.runner.calls())
	})
}

func TestAnalyze_UploadNameCannotEscape(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(uploadRequest(t, "/analyze", "../../etc/sales.csv", salesCSV))

	require.Equal(t, http.StatusOK, rec.Code)
	calls := env.runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "sales.csv", filepath.Base(calls[0]))
	assert.True(t, strings.HasPrefix(calls[0], env.uploadDir))
}

func TestAnalyze_ConcurrentRunRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	env.runner.started = make(chan struct{})
	env.runner.release = make(chan struct{})

	firstReq := uploadRequest(t, "/analyze", "sales.csv", salesCSV)
	var wg sync.WaitGroup
	var first *httptest.ResponseRecorder
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = env.do(firstReq)
	}()

	select {
	case <-env.runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never started")
	}

	health := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Contains(t, health.Body.String(), `"running"`)

	second := env.do(uploadRequest(t, "/analyze", "sales.csv", salesCSV))
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, parseHTML(t, second).Find("#error").Text(), ErrRunInProgress.Error())

	api := env.do(uploadRequest(t, "/api/runs", "sales.csv", salesCSV))
	assert.Equal(t, http.StatusConflict, api.Code)

	close(env.runner.release)
	wg.Wait()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Len(t, env.runner.calls(), 1)
}

func TestFiles(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(uploadRequest(t, "/analyze", "sales.csv", salesCSV)).Code)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "visual", path: "/files/visuals/hist.png", wantStatus: http.StatusOK},
		{name: "analysis text", path: "/files/analysis_results/summary.txt", wantStatus: http.StatusOK},
		{name: "missing", path: "/files/visuals/none.png", wantStatus: http.StatusNotFound},
		{name: "directory", path: "/files/visuals", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestAPI_CreateRun(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(uploadRequest(t, "/api/runs", "sales.csv", salesCSV))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Run)
	assert.Equal(t, pipeline.StateDone, resp.Run.State)
	require.NotNil(t, resp.Snapshot)
	assert.Len(t, resp.Snapshot.Results, 2)
	assert.Len(t, resp.Snapshot.Visuals, 1)
	assertUploadsRemoved(t, env.uploadDir)
}

func TestAPI_CreateRunFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.runner.err = &pipeline.StageError{Stage: agents.StageClean, Err: pipeline.ErrArtifactMissing}

	rec := env.do(uploadRequest(t, "/api/runs", "sales.csv", salesCSV))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Error, "clean stage failed")
	require.NotNil(t, resp.Run)
	assert.Equal(t, pipeline.StateFailed, resp.Run.State)
	assert.Nil(t, resp.Snapshot)
}

func TestAPI_RunStream(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(uploadRequest(t, "/api/runs/stream", "sales.csv", salesCSV))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	progress := strings.Index(body, "event: progress\n")
	complete := strings.Index(body, "event: complete\n")
	require.GreaterOrEqual(t, progress, 0)
	require.Greater(t, complete, progress)
	assert.Contains(t, body, `"message":"Starting clean stage"`)
	assert.Contains(t, body, `"state":"done"`)
}

func TestAPI_RunStreamFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.runner.err = &pipeline.StageError{Stage: agents.StageVisualize, Err: errors.New("boom")}

	rec := env.do(uploadRequest(t, "/api/runs/stream", "sales.csv", salesCSV))

	body := rec.Body.String()
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, "visualize stage failed: boom")
	assert.NotContains(t, body, "event: complete")
}

func TestAPI_RunHistory(t *testing.T) {
	store := history.NewMemory(time.Hour, 10)
	defer store.Close()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := &pipeline.RunResult{ID: uuid.New(), State: pipeline.StateDone, StartedAt: base}
	newer := &pipeline.RunResult{ID: uuid.New(), State: pipeline.StateFailed, StartedAt: base.Add(time.Minute)}
	require.NoError(t, store.FinishRun(ctx, older))
	require.NoError(t, store.FinishRun(ctx, newer))

	env := newTestEnv(t, func(cfg *Config) { cfg.History = store })

	t.Run("list", func(t *testing.T) {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/api/runs", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp RunListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, 2, resp.Count)
		assert.Equal(t, newer.ID, resp.Runs[0].ID)
		assert.Equal(t, older.ID, resp.Runs[1].ID)
	})

	t.Run("list with limit", func(t *testing.T) {
		rec := env.do(httptest.NewRequest(http.MethodGet, "/api/runs?limit=1", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp RunListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
	})

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{name: "bad limit", path: "/api/runs?limit=abc", wantStatus: http.StatusBadRequest},
		{name: "zero limit", path: "/api/runs?limit=0", wantStatus: http.StatusBadRequest},
		{name: "get", path: "/api/runs/" + older.ID.String(), wantStatus: http.StatusOK},
		{name: "unknown id", path: "/api/runs/" + uuid.NewString(), wantStatus: http.StatusNotFound},
		{name: "bad id", path: "/api/runs/not-a-uuid", wantStatus: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestAPI_HistoryDisabled(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_RequiresTokenWhenConfigured(t *testing.T) {
	tokens := NewTokens(&config.TokenConfig{Secret: "test-secret", TTL: time.Hour}, nil)
	store := history.NewMemory(time.Hour, 10)
	defer store.Close()
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Tokens = tokens
		cfg.History = store
	})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := tokens.Issue("ci-bot")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "the browser UI stays open")
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter(&ratelimit.Config{
		Enabled:         true,
		DefaultLimit:    1000,
		DefaultWindow:   time.Minute,
		EndpointConfigs: ratelimit.DefaultEndpointConfigs(),
		Clock:           clockwork.NewFakeClock(),
	})
	defer limiter.Stop()
	env := newTestEnv(t, func(cfg *Config) { cfg.Limiter = limiter })

	for i := 0; i < 2; i++ {
		rec := env.do(uploadRequest(t, "/analyze", "sales.csv", salesCSV))
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := env.do(uploadRequest(t, "/analyze", "sales.csv", salesCSV))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Len(t, env.runner.calls(), 2)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(httptest.NewRequest(http.MethodOptions, "/api/runs", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) { cfg.Port = 0 })
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- env.server.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
