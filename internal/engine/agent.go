package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/agentstack/agentstack/internal/agents"
	"github.com/agentstack/agentstack/internal/llm"
	"github.com/agentstack/agentstack/internal/logging"
	"github.com/agentstack/agentstack/internal/state"
)

const (
	summaryInputChars    = 400
	summaryFallbackChars = 100
)

// agentResult is one agent's output. A failed agent has empty Content and a
// "Failed: <reason>" Summary.
type agentResult struct {
	AgentID agents.ID
	Content string
	Summary string
	Logs    []state.ExecutionLog
}

// savedSubmission is a persisted agent result as seen by the judge.
type savedSubmission struct {
	ID       string
	AgentID  agents.ID
	FullName string
	Content  string
}

// runAgents runs every roster agent concurrently and waits for all of them.
// Results are in roster order.
func (e *Engine) runAgents(ctx context.Context, task *state.Task) []agentResult {
	roster := e.roster.All()
	results := make([]agentResult, len(roster))

	var wg sync.WaitGroup
	for i, agent := range roster {
		wg.Add(1)
		go func(i int, agent agents.Config) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results[i] = failedResult(agent.ID, fmt.Errorf("agent %s panicked: %v", agent.ID, r))
				}
			}()
			results[i] = e.runAgent(ctx, task, agent)
		}(i, agent)
	}
	wg.Wait()

	return results
}

func failedResult(id agents.ID, err error) agentResult {
	return agentResult{AgentID: id, Summary: "Failed: " + err.Error()}
}

// runAgent asks one agent for a solution and a one-line summary of it.
func (e *Engine) runAgent(ctx context.Context, task *state.Task, agent agents.Config) agentResult {
	log := e.log.WithFields(map[string]interface{}{"task": task.ID, "agent": agent.ID})
	var logs []state.ExecutionLog
	step := func(action, result string) {
		logs = append(logs, state.ExecutionLog{
			Step:      len(logs) + 1,
			Action:    action,
			Result:    result,
			Timestamp: e.now(),
		})
	}

	step(state.ActionAgentInit, agent.Name+" starting")
	log.Debug("calling model", "model", e.models.Agent)

	content, err := llm.Call(ctx, e.llm, "agent "+string(agent.ID), llm.Request{
		System:    agent.SystemPrompt,
		Prompt:    agentPrompt(task),
		Model:     e.models.Agent,
		MaxTokens: e.cfg.AgentMaxTokens,
	}, e.cfg.AgentTimeout)
	if err != nil {
		log.Warn("agent failed", "error", err)
		return failedResult(agent.ID, err)
	}
	step(state.ActionLLMComplete, fmt.Sprintf("%d chars", len(content)))

	summary := e.summarize(ctx, content, log)
	step(state.ActionDone, summary)

	log.Info("agent done", "chars", len(content))
	return agentResult{AgentID: agent.ID, Content: content, Summary: summary, Logs: logs}
}

// summarize produces a short summary of content, falling back to its first
// characters when the summary call fails or returns nothing.
func (e *Engine) summarize(ctx context.Context, content string, log *logging.Logger) string {
	if content == "" {
		return ""
	}
	summary, err := llm.Call(ctx, e.llm, "summary", llm.Request{
		Prompt:    "One sentence summary (max 100 chars): " + truncate(content, summaryInputChars),
		Model:     e.models.Summary,
		MaxTokens: e.cfg.SummaryMaxTokens,
	}, e.cfg.SummaryTimeout)
	if err != nil {
		log.Debug("summary failed", "error", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return truncate(content, summaryFallbackChars)
	}
	return summary
}

func agentPrompt(task *state.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK: %s\n\nDESCRIPTION:\n%s\n\nCATEGORY: %s\n", task.Title, task.Description, task.Category)
	if task.VerificationCriteria != nil && *task.VerificationCriteria != "" {
		fmt.Fprintf(&b, "\nJUDGING CRITERIA:\n%s\n", *task.VerificationCriteria)
	}
	b.WriteString("\nExecute this task completely. Produce a high-quality, actionable result.")
	return b.String()
}

// saveSubmissions persists successful results in roster order. Failures are
// logged and skipped.
func (e *Engine) saveSubmissions(ctx context.Context, taskID string, results []agentResult, log *logging.Logger) []savedSubmission {
	var saved []savedSubmission
	for _, r := range results {
		if r.Content == "" {
			continue
		}
		sub, err := e.store.UpsertSubmission(ctx, &state.Submission{
			TaskID:        taskID,
			AgentID:       r.AgentID,
			Content:       r.Content,
			Summary:       r.Summary,
			Status:        state.SubmissionSubmitted,
			ExecutionLogs: r.Logs,
		})
		if err != nil {
			log.Error("save submission failed", "agent", r.AgentID, "error", err)
			continue
		}
		log.Debug("saved submission", "agent", r.AgentID, "submission", sub.ID)
		saved = append(saved, savedSubmission{
			ID:       sub.ID,
			AgentID:  r.AgentID,
			FullName: e.roster.DisplayName(r.AgentID),
			Content:  r.Content,
		})
	}
	return saved
}
