// Package testutil provides shared test utilities for agentstack.
//
// This package consolidates fixtures, a scripted LLM and assertions used
// across the engine, server, MCP and CLI tests.
//
// # Fixtures
//
// The fixtures.go file provides sample data for testing:
//
//   - SampleTask() - an open Code task with a reward of 10
//   - SeedTask(t, store, mutate) - inserts a sample task and returns it
//   - SampleBurnEvents() - burn events across three agents
//
// # Scripted LLM
//
// The llm.go file builds an llm.MockClient that answers agent, summary and
// judge calls the way the real models would:
//
//   - NewMarketLLM(opts) - per-agent failures, summary failures and a judge
//     reply computed from the submission ids in the judge prompt
//   - SubmissionIDs(prompt) - extracts FullName -> submission id pairs
//   - JudgeReply(ids, winner, scores) - renders a judge JSON reply
//
// # Environment Helpers
//
// The env.go file provides test environment setup:
//
//   - WriteConfigFile(t, dir, yaml) - writes agentstack.yaml in dir
//   - PostgresDSN(t) - the scratch database DSN, skipping when unset
//   - MustMarshalJSON(t, v), MustUnmarshalJSON(t, data, v)
//
// # Assertions
//
// The assertions.go file provides custom test assertions:
//
//   - AssertTaskStatus(t, store, id, status)
//   - AssertSubmissionStatuses(t, store, taskID, want)
//   - AssertBurnCount(t, store, n)
//
// # Usage
//
//	func TestSomething(t *testing.T) {
//	    store := state.NewMemoryStore()
//	    task := testutil.SeedTask(t, store, nil)
//	    client := testutil.NewMarketLLM(testutil.MarketLLMOptions{})
//	    // ... run test ...
//	    testutil.AssertTaskStatus(t, store, task.ID, state.TaskCompleted)
//	}
package testutil
