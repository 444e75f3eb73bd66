package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agentstack/agentstack/internal/agents"
	"github.com/agentstack/agentstack/internal/state"
)

// SamplePoster is the poster address used by SampleTask.
const SamplePoster = "0xabc0000000000000000000000000000000000def"

// SampleTask returns an open Code task with a reward of 10.
// Returns a new value each time to prevent test interference.
func SampleTask() *state.Task {
	criteria := "Must compile and include tests"
	return &state.Task{
		PosterAddress:        SamplePoster,
		Title:                "Write an ERC-20 vesting contract",
		Description:          "Linear vesting with a cliff, owner can revoke unvested tokens.",
		Category:             state.CategoryCode,
		Reward:               10,
		Deadline:             time.Now().Add(72 * time.Hour),
		VerificationCriteria: &criteria,
	}
}

// SeedTask inserts SampleTask, optionally modified by mutate, and returns the
// stored copy.
func SeedTask(t *testing.T, store state.Store, mutate func(*state.Task)) *state.Task {
	t.Helper()

	task := SampleTask()
	if mutate != nil {
		mutate(task)
	}
	require.NoError(t, store.InsertTask(context.Background(), task))
	return task
}

// SampleBurnEvents returns burn events for three agents. Code wins twice,
// DeFi once with a tx hash, Research once.
func SampleBurnEvents() []*state.BurnEvent {
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	tx := "0xfeed"
	return []*state.BurnEvent{
		{ID: "b1", AgentID: agents.Code, TaskID: "t1", Amount: 10, CreatedAt: base},
		{ID: "b2", AgentID: agents.DeFi, TaskID: "t2", Amount: 25, TxHash: &tx, CreatedAt: base.Add(time.Hour)},
		{ID: "b3", AgentID: agents.Code, TaskID: "t3", Amount: 15, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "b4", AgentID: agents.Research, TaskID: "t4", Amount: 5, CreatedAt: base.Add(3 * time.Hour)},
	}
}
