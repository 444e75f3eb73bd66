package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/agentstack/agentstack/internal/agents"
	"github.com/agentstack/agentstack/internal/llm"
	"github.com/agentstack/agentstack/internal/state"
)

// VerdictKind tells a parsed judge verdict from the fallback.
type VerdictKind int

const (
	VerdictParsed VerdictKind = iota
	VerdictFallback
)

const (
	fallbackFeedback  = "Auto-scored."
	fallbackReasoning = "Fallback: judge response malformed."
	defaultReasoning  = "Winner selected."
)

// Score is the judge's verdict on one submission.
type Score struct {
	SubmissionID string
	AgentID      agents.ID
	Score        int
	Feedback     string
}

// Verdict is the outcome of judging. WinnerSubmissionID always names a saved
// submission and every Score references one.
type Verdict struct {
	Kind               VerdictKind
	WinnerSubmissionID string
	WinnerAgentID      agents.ID
	Scores             []Score
	Reasoning          string
	Problem            string // why the reply was rejected, for fallback verdicts
}

// judgeReply is the JSON the judge is asked to produce.
type judgeReply struct {
	Scores []struct {
		SubmissionID string   `json:"submission_id"`
		AgentID      string   `json:"agent_id"`
		Score        *float64 `json:"score"`
		Feedback     string   `json:"feedback"`
	} `json:"scores"`
	WinnerSubmissionID string  `json:"winner_submission_id"`
	Reasoning          *string `json:"reasoning"`
}

// judge asks the model to score the saved submissions. Transport failures are
// fatal; a malformed reply yields the fallback verdict.
func (e *Engine) judge(ctx context.Context, task *state.Task, saved []savedSubmission) (Verdict, error) {
	text, err := llm.Call(ctx, e.llm, "judge", llm.Request{
		Prompt:    judgePrompt(task, saved, e.cfg.JudgeExcerptChars),
		Model:     e.models.Judge,
		MaxTokens: e.cfg.JudgeMaxTokens,
	}, e.cfg.JudgeTimeout)
	if err != nil {
		return Verdict{}, internal(err, "judge call failed")
	}
	return parseVerdict(text, saved, e.cfg.FallbackScore), nil
}

func judgePrompt(task *state.Task, saved []savedSubmission, excerpt int) string {
	var b strings.Builder
	b.WriteString("You are a neutral expert judge for AgentStack.\n\n")
	fmt.Fprintf(&b, "TASK: %s\nCATEGORY: %s\nDESCRIPTION: %s\n", task.Title, task.Category, task.Description)
	if task.VerificationCriteria != nil && *task.VerificationCriteria != "" {
		fmt.Fprintf(&b, "CRITERIA: %s\n", *task.VerificationCriteria)
	}
	b.WriteString(`
Score each submission 0-100. Respond with ONLY valid JSON, no markdown:
{
  "scores": [
    {"submission_id": "<id>", "agent_id": "defi", "score": 85, "feedback": "Brief reason."}
  ],
  "winner_submission_id": "<id of best>",
  "reasoning": "One sentence why this won."
}

SUBMISSIONS:
`)
	for i, s := range saved {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "--- AGENT: %s | ID: %s ---\n%s", s.FullName, s.ID, truncate(s.Content, excerpt))
	}
	return b.String()
}

// parseVerdict decodes the judge reply. Anything that does not name a saved
// winner and score it falls back to a fixed verdict for the first saved
// submission.
func parseVerdict(text string, saved []savedSubmission, fallbackScore int) Verdict {
	byID := make(map[string]savedSubmission, len(saved))
	for _, s := range saved {
		byID[s.ID] = s
	}

	var reply judgeReply
	if err := json.Unmarshal([]byte(llm.StripCodeFences(text)), &reply); err != nil {
		return fallbackVerdict(saved, fallbackScore, "reply is not valid JSON: "+err.Error())
	}
	if len(reply.Scores) == 0 {
		return fallbackVerdict(saved, fallbackScore, "reply has no scores")
	}
	winner, ok := byID[reply.WinnerSubmissionID]
	if !ok {
		return fallbackVerdict(saved, fallbackScore, fmt.Sprintf("winner %q is not a saved submission", reply.WinnerSubmissionID))
	}

	v := Verdict{
		Kind:               VerdictParsed,
		WinnerSubmissionID: winner.ID,
		WinnerAgentID:      winner.AgentID,
		Reasoning:          defaultReasoning,
	}
	if reply.Reasoning != nil && strings.TrimSpace(*reply.Reasoning) != "" {
		v.Reasoning = *reply.Reasoning
	}

	seen := make(map[string]bool, len(reply.Scores))
	for _, s := range reply.Scores {
		sub, ok := byID[s.SubmissionID]
		if !ok || seen[s.SubmissionID] || s.Score == nil {
			continue
		}
		seen[s.SubmissionID] = true
		v.Scores = append(v.Scores, Score{
			SubmissionID: sub.ID,
			AgentID:      sub.AgentID,
			Score:        clampScore(*s.Score),
			Feedback:     s.Feedback,
		})
	}
	if len(v.Scores) == 0 {
		return fallbackVerdict(saved, fallbackScore, "no score references a saved submission")
	}
	if !seen[winner.ID] {
		return fallbackVerdict(saved, fallbackScore, fmt.Sprintf("winner %q has no score", winner.ID))
	}
	return v
}

func fallbackVerdict(saved []savedSubmission, score int, problem string) Verdict {
	v := Verdict{
		Kind:      VerdictFallback,
		Reasoning: fallbackReasoning,
		Problem:   problem,
	}
	if len(saved) == 0 {
		return v
	}
	v.WinnerSubmissionID = saved[0].ID
	v.WinnerAgentID = saved[0].AgentID
	for _, s := range saved {
		v.Scores = append(v.Scores, Score{
			SubmissionID: s.ID,
			AgentID:      s.AgentID,
			Score:        score,
			Feedback:     fallbackFeedback,
		})
	}
	return v
}

func clampScore(f float64) int {
	if math.IsNaN(f) {
		return 0
	}
	n := math.Round(f)
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	}
	return int(n)
}
