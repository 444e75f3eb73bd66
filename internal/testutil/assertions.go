package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstack/agentstack/internal/agents"
	"github.com/agentstack/agentstack/internal/state"
)

// AssertTaskStatus asserts that the stored task has the expected status.
func AssertTaskStatus(t *testing.T, store state.Store, taskID string, expected state.TaskStatus) *state.Task {
	t.Helper()
	task, err := store.GetTask(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, expected, task.Status, "task status mismatch")
	return task
}

// AssertSubmissionStatuses asserts the status of each agent's submission and
// that no other agents submitted.
func AssertSubmissionStatuses(t *testing.T, store state.Store, taskID string, expected map[agents.ID]state.SubmissionStatus) {
	t.Helper()
	subs, err := store.ListSubmissions(context.Background(), taskID)
	require.NoError(t, err)

	got := make(map[agents.ID]state.SubmissionStatus, len(subs))
	for _, s := range subs {
		got[s.AgentID] = s.Status
	}
	assert.Equal(t, expected, got, "submission statuses mismatch")
}

// AssertBurnCount asserts the total number of burn events.
func AssertBurnCount(t *testing.T, store state.Store, expected int) []*state.BurnEvent {
	t.Helper()
	events, err := store.ListBurnEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, expected, "burn event count mismatch")
	return events
}
