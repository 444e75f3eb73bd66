package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstack/agentstack/internal/agents"
	"github.com/agentstack/agentstack/internal/config"
	"github.com/agentstack/agentstack/internal/engine"
	"github.com/agentstack/agentstack/internal/llm"
	"github.com/agentstack/agentstack/internal/logging"
	"github.com/agentstack/agentstack/internal/state"
	"github.com/agentstack/agentstack/internal/testutil"
)

type testEnv struct {
	store   *state.MemoryStore
	server  *Server
	handler http.Handler
}

func newTestEnv(t *testing.T, client llm.Client, rl config.RateLimitConfig) *testEnv {
	t.Helper()

	if client == nil {
		client = testutil.NewMarketLLM(testutil.MarketLLMOptions{})
	}
	log := logging.NewWithWriter(io.Discard, logging.LevelDebug)
	store := state.NewMemoryStore()
	eng := engine.New(engine.Options{
		Store:  store,
		LLM:    client,
		Config: config.DefaultEngineConfig(),
		Market: config.MarketConfig{MinReward: config.DefaultMinReward},
		Logger: log,
	})
	if rl == (config.RateLimitConfig{}) {
		rl = config.RateLimitConfig{MaxAttempts: 100, Window: time.Minute, BlockAfter: 100, BlockTime: time.Minute}
	}
	srv, err := New(Options{
		Engine: eng,
		Store:  store,
		Config: config.ServerConfig{RunTimeout: 30 * time.Second, RateLimit: rl},
		Logger: log,
	})
	require.NoError(t, err)
	return &testEnv{store: store, server: srv, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		r = bytes.NewReader(testutil.MustMarshalJSON(t, b))
	}
	req := httptest.NewRequest(method, path, r)
	req.RemoteAddr = "198.51.100.7:4000"
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	testutil.MustUnmarshalJSON(t, rec.Body.Bytes(), &v)
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[struct {
		Error string `json:"error"`
	}](t, rec).Error
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	assert.EqualError(t, err, "engine is required")

	eng := engine.New(engine.Options{Store: state.NewMemoryStore()})
	_, err = New(Options{Engine: eng})
	assert.EqualError(t, err, "store is required")

	srv, err := New(Options{Engine: eng, Store: state.NewMemoryStore(), Config: config.ServerConfig{Port: 8123}})
	require.NoError(t, err)
	assert.Equal(t, 8123, srv.Port())
	assert.Equal(t, config.DefaultRunTimeout, srv.runTimeout)
	assert.Empty(t, srv.ListenAddr())
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, config.RateLimitConfig{})
	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, config.RateLimitConfig{})
	task := testutil.SeedTask(t, env.store, nil)

	rec := env.do(t, http.MethodPost, "/api/run", map[string]string{"task_id": task.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[struct {
		Data runResponse `json:"data"`
	}](t, rec)
	assert.Equal(t, task.ID, resp.Data.TaskID)
	assert.Equal(t, agents.Code, resp.Data.WinnerAgentID)
	assert.NotEmpty(t, resp.Data.WinnerSubmissionID)
	assert.Equal(t, resp.Data.WinnerSubmissionID, resp.Data.WinningSubmissionID)
	assert.InDelta(t, 10, resp.Data.Burned, 1e-9)
	assert.False(t, resp.Data.Fallback)

	// A second run is refused because the task is completed.
	rec = env.do(t, http.MethodPost, "/api/run", map[string]string{"task_id": task.ID})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, errorMessage(t, rec), "already completed")

	// Detail shows the winner first.
	rec = env.do(t, http.MethodGet, "/api/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	detail := decodeBody[struct {
		Data struct {
			Task        state.Task         `json:"task"`
			Submissions []state.Submission `json:"submissions"`
		} `json:"data"`
	}](t, rec)
	assert.Equal(t, state.TaskCompleted, detail.Data.Task.Status)
	require.Len(t, detail.Data.Submissions, 5)
	assert.Equal(t, state.SubmissionWinner, detail.Data.Submissions[0].Status)

	// The leaderboard counts the burn.
	rec = env.do(t, http.MethodGet, "/api/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	board := decodeBody[struct {
		Data []struct {
			ID          agents.ID `json:"id"`
			TotalBurned float64   `json:"total_burned"`
			TasksWon    int       `json:"tasks_won"`
		} `json:"data"`
		TotalBurned float64 `json:"total_burned"`
	}](t, rec)
	require.Len(t, board.Data, 5)
	assert.Equal(t, agents.Code, board.Data[0].ID)
	assert.Equal(t, 1, board.Data[0].TasksWon)
	assert.InDelta(t, 10, board.TotalBurned, 1e-9)
}

func TestRunErrors(t *testing.T) {
	t.Parallel()

	failAll := map[agents.ID]error{}
	for _, id := range agents.Default().IDs() {
		failAll[id] = errors.New("overloaded")
	}
	env := newTestEnv(t, testutil.NewMarketLLM(testutil.MarketLLMOptions{FailAgents: failAll}), config.RateLimitConfig{})
	task := testutil.SeedTask(t, env.store, nil)

	tests := []struct {
		name    string
		body    any
		status  int
		message string
	}{
		{"malformed json", `{"task_id":`, http.StatusBadRequest, "invalid JSON body"},
		{"missing task id", map[string]string{}, http.StatusBadRequest, "task_id required"},
		{"unknown task", map[string]string{"task_id": "nope"}, http.StatusNotFound, "task not found"},
		{"all agents fail", map[string]string{"task_id": task.ID}, http.StatusInternalServerError, "all agents failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/run", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, errorMessage(t, rec), tt.message)
		})
	}

	testutil.AssertTaskStatus(t, env.store, task.ID, state.TaskOpen)
	testutil.AssertBurnCount(t, env.store, 0)
}

func TestRunSurvivesClientDisconnect(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	client := testutil.NewMarketLLM(testutil.MarketLLMOptions{
		BeforeAgent: func(ctx context.Context, id agents.ID) error {
			if id == agents.DeFi {
				close(started)
			}
			<-release
			return ctx.Err()
		},
	})
	env := newTestEnv(t, client, config.RateLimitConfig{})
	task := testutil.SeedTask(t, env.store, nil)

	reqCtx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/run", strings.NewReader(fmt.Sprintf(`{"task_id":%q}`, task.ID))).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		env.handler.ServeHTTP(rec, req)
		close(done)
	}()

	<-started
	cancel()
	close(release)
	<-done

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	testutil.AssertTaskStatus(t, env.store, task.ID, state.TaskCompleted)
}

func TestRunRateLimited(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, config.RateLimitConfig{MaxAttempts: 2, Window: time.Minute, BlockAfter: 10, BlockTime: time.Minute})

	for i := 0; i < 2; i++ {
		rec := env.do(t, http.MethodPost, "/api/run", map[string]string{"task_id": "nope"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/api/run", map[string]string{"task_id": "nope"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", errorMessage(t, rec))
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestReset(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, config.RateLimitConfig{})
	task := testutil.SeedTask(t, env.store, func(task *state.Task) { task.Status = state.TaskCompleted })

	rec := env.do(t, http.MethodPost, "/api/tasks/reset", map[string]string{"task_id": task.ID, "poster_address": "0xother"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not authorized, only the task poster can reset this task", errorMessage(t, rec))
	testutil.AssertTaskStatus(t, env.store, task.ID, state.TaskCompleted)

	rec = env.do(t, http.MethodPost, "/api/tasks/reset", map[string]string{"task_id": task.ID, "poster_address": strings.ToUpper(testutil.SamplePoster)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	testutil.AssertTaskStatus(t, env.store, task.ID, state.TaskOpen)

	rec = env.do(t, http.MethodPost, "/api/tasks/reset", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetForbiddenEscalatesToBlock(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, config.RateLimitConfig{MaxAttempts: 100, Window: time.Minute, BlockAfter: 3, BlockTime: time.Minute})
	task := testutil.SeedTask(t, env.store, nil)
	body := map[string]string{"task_id": task.ID, "poster_address": "0xattacker"}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/api/tasks/reset", body).Code)
	}
	rec := env.do(t, http.MethodPost, "/api/tasks/reset", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "too many failed attempts", errorMessage(t, rec))

	// The block covers runs from the same address too.
	rec = env.do(t, http.MethodPost, "/api/run", map[string]string{"task_id": task.ID})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestCreateAndListTasks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, config.RateLimitConfig{})
	deadline := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)

	rec := env.do(t, http.MethodPost, "/api/tasks", map[string]any{
		"poster_address": "0xPOSTER",
		"title":          "Summarize the governance proposal",
		"description":    "Two paragraphs, neutral tone.",
		"category":       "Research",
		"reward":         2.5,
		"deadline":       deadline,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[struct {
		Data state.Task `json:"data"`
	}](t, rec).Data
	assert.Equal(t, "0xposter", created.PosterAddress)
	assert.Equal(t, state.TaskOpen, created.Status)

	testutil.SeedTask(t, env.store, nil)

	rec = env.do(t, http.MethodGet, "/api/tasks?category=Research&poster=0xPoster", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	list := decodeBody[struct {
		Data  []state.Task `json:"data"`
		Count int          `json:"count"`
	}](t, rec)
	assert.Equal(t, 1, list.Count)
	require.Len(t, list.Data, 1)
	assert.Equal(t, created.ID, list.Data[0].ID)

	rec = env.do(t, http.MethodGet, "/api/tasks?limit=1&offset=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decodeBody[struct {
		Data  []state.Task `json:"data"`
		Count int          `json:"count"`
	}](t, rec)
	assert.Equal(t, 2, list.Count)
	require.Len(t, list.Data, 1)
	assert.Equal(t, created.ID, list.Data[0].ID)
}

func TestCreateTaskValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, config.RateLimitConfig{})
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)

	tests := []struct {
		name    string
		body    any
		message string
	}{
		{"malformed", `not json`, "invalid JSON body"},
		{"missing fields", map[string]any{"title": "x"}, "missing required fields"},
		{"bad deadline", map[string]any{"poster_address": "0x1", "title": "t", "description": "d", "category": "Code", "reward": 1, "deadline": "tomorrow"}, "RFC 3339"},
		{"low reward", map[string]any{"poster_address": "0x1", "title": "t", "description": "d", "category": "Code", "reward": 0.01, "deadline": future}, "minimum reward for Code is 0.1 STACK"},
		{"bad category", map[string]any{"poster_address": "0x1", "title": "t", "description": "d", "category": "Art", "reward": 1, "deadline": future}, "unknown category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/tasks", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, errorMessage(t, rec), tt.message)
		})
	}

	tasks, _, err := env.store.ListTasks(context.Background(), state.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestListTasksBadQuery(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, config.RateLimitConfig{})
	for _, q := range []string{"limit=abc", "offset=-1", "status=paused", "category=Art"} {
		rec := env.do(t, http.MethodGet, "/api/tasks?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestPatchTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, config.RateLimitConfig{})
	task := testutil.SeedTask(t, env.store, nil)

	rec := env.do(t, http.MethodPatch, "/api/tasks/"+task.ID, map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/tasks/"+task.ID, map[string]string{"status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, state.TaskCancelled, decodeBody[struct {
		Data state.Task `json:"data"`
	}](t, rec).Data.Status)

	rec = env.do(t, http.MethodPatch, "/api/tasks/"+task.ID, map[string]string{"status": "cancelled"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPatch, "/api/tasks/missing", map[string]string{"status": "open"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAgents(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, config.RateLimitConfig{})
	rec := env.do(t, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "system_prompt")
	assert.NotContains(t, rec.Body.String(), "You are NEXUS")

	resp := decodeBody[struct {
		Data []agents.Config `json:"data"`
	}](t, rec)
	require.Len(t, resp.Data, 5)
	assert.Equal(t, "NEXUS", resp.Data[0].FullName)
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil, config.RateLimitConfig{})
	rec := env.do(t, http.MethodGet, "/api/run", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	eng := engine.New(engine.Options{Store: state.NewMemoryStore(), Logger: logging.NewWithWriter(io.Discard, logging.LevelInfo)})
	srv, err := New(Options{Engine: eng, Store: state.NewMemoryStore(), Logger: logging.NewWithWriter(io.Discard, logging.LevelInfo)})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	require.Eventually(t, func() bool { return srv.ListenAddr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.ListenAddr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop())
	require.NoError(t, <-errCh)
}

func TestWriteJSONEncodesErrorShape(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	writeError(rec, http.StatusTeapot, "short and stout")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "short and stout", body["error"])
}
