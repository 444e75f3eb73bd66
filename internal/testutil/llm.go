package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/agentstack/agentstack/internal/agents"
	"github.com/agentstack/agentstack/internal/llm"
)

// Prompt prefixes that tell summary and judge calls apart from agent calls.
const (
	SummaryPromptPrefix = "One sentence summary"
	JudgePromptPrefix   = "You are a neutral expert judge"
)

// MarketLLMOptions scripts a NewMarketLLM client. The zero value makes every
// agent succeed and the judge pick FORGE.
type MarketLLMOptions struct {
	// FailAgents makes the listed agents' calls return the given error.
	FailAgents map[agents.ID]error

	// BeforeAgent runs before every agent call. A non-nil error fails the call.
	BeforeAgent func(ctx context.Context, id agents.ID) error

	// SummaryErr fails every summary call.
	SummaryErr error

	// Winner is the FullName the default judge reply picks. Defaults to FORGE.
	Winner string

	// Judge overrides the judge reply. ids maps FullName to submission id.
	Judge func(ids map[string]string) (string, error)
}

// NewMarketLLM returns a mock client answering agent, summary and judge calls.
func NewMarketLLM(opts MarketLLMOptions) *llm.MockClient {
	roster := agents.Default()

	return llm.NewMockClient(func(ctx context.Context, req llm.Request) (string, error) {
		switch {
		case strings.HasPrefix(req.Prompt, SummaryPromptPrefix):
			if opts.SummaryErr != nil {
				return "", opts.SummaryErr
			}
			return "Concise summary of the solution.", nil

		case strings.HasPrefix(req.Prompt, JudgePromptPrefix):
			ids := SubmissionIDs(req.Prompt)
			if opts.Judge != nil {
				return opts.Judge(ids)
			}
			winner := opts.Winner
			if winner == "" {
				winner = "FORGE"
			}
			scores := make(map[string]int, len(ids))
			for name := range ids {
				scores[name] = 60
			}
			scores[winner] = 90
			return JudgeReply(ids, winner, scores), nil
		}

		for _, a := range roster.All() {
			if !strings.Contains(req.System, "You are "+a.FullName+" ") {
				continue
			}
			if opts.BeforeAgent != nil {
				if err := opts.BeforeAgent(ctx, a.ID); err != nil {
					return "", err
				}
			}
			if err, ok := opts.FailAgents[a.ID]; ok {
				return "", err
			}
			return fmt.Sprintf("%s solution.\n\n%s", a.FullName, strings.Repeat("Detailed step. ", 20)), nil
		}
		return "", fmt.Errorf("unscripted request: %.60q", req.Prompt)
	})
}

var submissionHeader = regexp.MustCompile(`--- AGENT: (\S+) \| ID: (\S+) ---`)

// SubmissionIDs extracts FullName -> submission id pairs from a judge prompt.
func SubmissionIDs(prompt string) map[string]string {
	ids := make(map[string]string)
	for _, m := range submissionHeader.FindAllStringSubmatch(prompt, -1) {
		ids[m[1]] = m[2]
	}
	return ids
}

// JudgeReply renders a judge reply picking winner. scores is keyed by FullName;
// names missing from ids are skipped.
func JudgeReply(ids map[string]string, winner string, scores map[string]int) string {
	type entry struct {
		SubmissionID string `json:"submission_id"`
		Score        int    `json:"score"`
		Feedback     string `json:"feedback"`
	}
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	reply := struct {
		Scores    []entry `json:"scores"`
		Winner    string  `json:"winner_submission_id"`
		Reasoning string  `json:"reasoning"`
	}{
		Winner:    ids[winner],
		Reasoning: winner + " delivered the most complete answer.",
	}
	for _, name := range names {
		id, ok := ids[name]
		if !ok {
			continue
		}
		reply.Scores = append(reply.Scores, entry{SubmissionID: id, Score: scores[name], Feedback: "Reviewed " + name + "."})
	}
	b, _ := json.Marshal(reply)
	return string(b)
}
