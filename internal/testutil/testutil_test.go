package testutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstack/agentstack/internal/agents"
	"github.com/agentstack/agentstack/internal/llm"
	"github.com/agentstack/agentstack/internal/state"
)

func TestSampleTask(t *testing.T) {
	t.Parallel()

	task := SampleTask()
	assert.Equal(t, state.CategoryCode, task.Category)
	assert.Equal(t, 10.0, task.Reward)
	require.NotNil(t, task.VerificationCriteria)

	// Each call returns a fresh value.
	task.Title = "changed"
	assert.NotEqual(t, "changed", SampleTask().Title)
}

func TestSeedTask(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore()
	task := SeedTask(t, store, func(task *state.Task) { task.Reward = 42 })
	assert.NotEmpty(t, task.ID)

	got := AssertTaskStatus(t, store, task.ID, state.TaskOpen)
	assert.Equal(t, 42.0, got.Reward)
}

func TestSampleBurnEvents(t *testing.T) {
	t.Parallel()

	events := SampleBurnEvents()
	require.Len(t, events, 4)
	var total float64
	for _, ev := range events {
		total += ev.Amount
	}
	assert.Equal(t, 55.0, total)
}

func TestMarketLLM(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	boom := errors.New("boom")
	client := NewMarketLLM(MarketLLMOptions{FailAgents: map[agents.ID]error{agents.Security: boom}})

	forge, _ := agents.Default().Get(agents.Code)
	out, err := client.Generate(ctx, llm.Request{System: forge.SystemPrompt, Prompt: "TASK: x"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "FORGE solution."))

	cipher, _ := agents.Default().Get(agents.Security)
	_, err = client.Generate(ctx, llm.Request{System: cipher.SystemPrompt, Prompt: "TASK: x"})
	require.ErrorIs(t, err, boom)

	out, err = client.Generate(ctx, llm.Request{Prompt: SummaryPromptPrefix + " (max 100 chars): abc"})
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	prompt := JudgePromptPrefix + " for AgentStack.\n\nSUBMISSIONS:\n" +
		"--- AGENT: NEXUS | ID: s-1 ---\nfoo\n\n--- AGENT: FORGE | ID: s-2 ---\nbar"
	out, err = client.Generate(ctx, llm.Request{Prompt: prompt})
	require.NoError(t, err)

	var reply struct {
		Scores []struct {
			SubmissionID string `json:"submission_id"`
			Score        int    `json:"score"`
		} `json:"scores"`
		Winner string `json:"winner_submission_id"`
	}
	MustUnmarshalJSON(t, []byte(out), &reply)
	assert.Equal(t, "s-2", reply.Winner)
	assert.Len(t, reply.Scores, 2)

	_, err = client.Generate(ctx, llm.Request{Prompt: "something else"})
	require.Error(t, err)
	assert.Len(t, client.Calls(), 5)
}

func TestSubmissionIDs(t *testing.T) {
	t.Parallel()

	ids := SubmissionIDs("--- AGENT: ORACLE | ID: abc ---\ntext\n--- AGENT: QUILL | ID: def ---\n")
	assert.Equal(t, map[string]string{"ORACLE": "abc", "QUILL": "def"}, ids)
	assert.Empty(t, SubmissionIDs("no headers"))
}

func TestWriteConfigFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := WriteConfigFile(t, dir, "server:\n  port: 8080\n")
	assert.Equal(t, filepath.Join(dir, "agentstack.yaml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "port: 8080")
}

func TestMustMarshalJSON(t *testing.T) {
	t.Parallel()

	data := MustMarshalJSON(t, map[string]int{"a": 1})
	var out map[string]int
	MustUnmarshalJSON(t, data, &out)
	assert.Equal(t, 1, out["a"])
}
