package cli

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstack/agentstack/internal/agents"
	"github.com/agentstack/agentstack/internal/config"
	"github.com/agentstack/agentstack/internal/engine"
	"github.com/agentstack/agentstack/internal/logging"
	"github.com/agentstack/agentstack/internal/state"
	"github.com/agentstack/agentstack/internal/testutil"
)

// useTestApp points every command at an in-memory app for the test.
func useTestApp(t *testing.T) *state.MemoryStore {
	t.Helper()

	cfg := config.DefaultConfig()
	store := state.NewMemoryStore()
	log := logging.NewWithWriter(io.Discard, logging.LevelDebug)
	eng := engine.New(engine.Options{
		Store:  store,
		LLM:    testutil.NewMarketLLM(testutil.MarketLLMOptions{}),
		Config: cfg.Engine,
		Market: cfg.Market,
		Logger: log,
	})

	prev := openApp
	openApp = func(context.Context) (*app, error) {
		return &app{cfg: &cfg, log: log, store: store, engine: eng}, nil
	}
	t.Cleanup(func() { openApp = prev })
	return store
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	// Flag values persist between executions of the package-level commands.
	resetPoster, tasksStatus, tasksCategory, tasksPoster = "", "", "", ""
	tasksLimit = state.DefaultListLimit
	reapOlderThan = 10 * time.Minute
	postPoster, postTitle, postDescription, postCategory = "", "", "", ""
	postReward, postDeadline, postCriteria, postTxHash = 0, "72h", "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunAndLeaderboardCommands(t *testing.T) {
	store := useTestApp(t)
	task := testutil.SeedTask(t, store, nil)

	out, err := execute(t, "run", task.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Task "+task.ID+" completed")
	assert.Contains(t, out, "Winner:     FORGE (code)")
	assert.Contains(t, out, "Burned:     10 STACK")

	out, err = execute(t, "leaderboard")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.True(t, strings.HasPrefix(lines[0], "RANK"))
	assert.Contains(t, lines[1], "FORGE")
	assert.Contains(t, out, "Total burned: 10 STACK")

	_, err = execute(t, "run", task.ID)
	require.Error(t, err)
	assert.Equal(t, engine.KindConflict, engine.KindOf(err))
}

func TestResetCommand(t *testing.T) {
	store := useTestApp(t)
	task := testutil.SeedTask(t, store, func(task *state.Task) { task.Status = state.TaskCompleted })

	_, err := execute(t, "reset", task.ID, "--poster", "0xsomeoneelse")
	require.Error(t, err)
	assert.Equal(t, engine.KindForbidden, engine.KindOf(err))

	out, err := execute(t, "reset", task.ID, "--poster", testutil.SamplePoster)
	require.NoError(t, err)
	assert.Contains(t, out, "reset to open")
	testutil.AssertTaskStatus(t, store, task.ID, state.TaskOpen)

	_, err = execute(t, "reset")
	assert.Error(t, err)
}

func TestPostAndTasksCommands(t *testing.T) {
	store := useTestApp(t)

	out, err := execute(t, "post",
		"--poster", "0xABC",
		"--title", "Threat model the bridge",
		"--description", "List attack vectors",
		"--category", "Security",
		"--reward", "3",
		"--deadline", "24h",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Posted task")
	assert.Contains(t, out, "Security, 3 STACK")

	tasks, total, err := store.ListTasks(context.Background(), state.TaskFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "0xabc", tasks[0].PosterAddress)

	_, err = execute(t, "post", "--title", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required fields")

	out, err = execute(t, "tasks", "--category", "Security")
	require.NoError(t, err)
	assert.Contains(t, out, "Threat model the bridge")
	assert.Contains(t, out, "open")

	out, err = execute(t, "tasks", "--status", "completed")
	require.NoError(t, err)
	assert.Contains(t, out, "No tasks found.")

	_, err = execute(t, "tasks", "--status", "paused")
	assert.Error(t, err)
}

func TestReapCommand(t *testing.T) {
	store := useTestApp(t)
	task := testutil.SeedTask(t, store, func(task *state.Task) { task.Status = state.TaskJudging })
	time.Sleep(2 * time.Millisecond)

	out, err := execute(t, "reap", "--older-than", "1ns")
	require.NoError(t, err)
	assert.Contains(t, out, "Reopened 1 stale task(s)")
	testutil.AssertTaskStatus(t, store, task.ID, state.TaskOpen)
}

func TestMigrateRequiresPostgres(t *testing.T) {
	useTestApp(t)

	_, err := execute(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres")
}

func TestParseDeadline(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseDeadline("2h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(2*time.Hour), got)

	got, err = parseDeadline("2026-05-01T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = parseDeadline("next week", now)
	assert.Error(t, err)
}

func TestDefaultOpenApp(t *testing.T) {
	t.Setenv(config.EnvDatabaseURL, "")
	t.Setenv(config.EnvLogLevel, "")
	t.Setenv(config.EnvOllamaHost, "")
	t.Setenv(config.EnvPort, "")

	dir := t.TempDir()
	path := testutil.WriteConfigFile(t, dir, `
store:
  driver: memory
llm:
  provider: ollama
  base_url: http://127.0.0.1:11434
market:
  min_reward: 1
`)
	require.Equal(t, filepath.Join(dir, config.DefaultConfigFile), path)

	prevPath, prevLevel := configPath, logLevel
	configPath, logLevel = path, "debug"
	t.Cleanup(func() { configPath, logLevel = prevPath, prevLevel })

	a, err := defaultOpenApp(context.Background())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "debug", a.cfg.Log.Level)
	assert.InDelta(t, 1, a.cfg.Market.MinReward, 1e-9)
	assert.Equal(t, agents.Default().Len(), a.engine.Roster().Len())

	_, ok := a.store.(*state.MemoryStore)
	assert.True(t, ok)
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	_, err := openStore(context.Background(), config.StoreConfig{Driver: "sqlite"})
	assert.Error(t, err)
}

func TestMigrateCommand_Postgres(t *testing.T) {
	dsn := testutil.PostgresDSN(t)
	t.Setenv(config.EnvDatabaseURL, dsn)

	path := testutil.WriteConfigFile(t, t.TempDir(), "store:\n  driver: postgres\nllm:\n  provider: ollama\n  base_url: http://127.0.0.1:11434\n")
	t.Cleanup(func() { configPath, logLevel = config.DefaultConfigFile, "" })

	out, err := execute(t, "migrate", "--config", path, "--log-level", "warn")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema is up to date.")
}
