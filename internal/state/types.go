package state

import (
	"time"

	"github.com/agentstack/agentstack/internal/agents"
)

// TaskStatus is the lifecycle status of a task.
//
// Lifecycle: open -> running -> judging -> completed
//
//	open -> cancelled
//	running/judging -> open (failed run, manual unstick, stale reap)
//	any -> open (owner reset)
type TaskStatus string

// Task status values.
const (
	TaskOpen      TaskStatus = "open"
	TaskRunning   TaskStatus = "running"
	TaskJudging   TaskStatus = "judging"
	TaskCompleted TaskStatus = "completed"
	TaskCancelled TaskStatus = "cancelled"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskOpen, TaskRunning, TaskJudging, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

// InProgress reports whether a run currently owns the task.
func (s TaskStatus) InProgress() bool {
	return s == TaskRunning || s == TaskJudging
}

// Category is a task category.
type Category string

// Task category values.
const (
	CategoryDeFi     Category = "DeFi"
	CategoryCode     Category = "Code"
	CategoryResearch Category = "Research"
	CategorySecurity Category = "Security"
	CategoryContent  Category = "Content"
)

// Categories lists every valid category.
var Categories = []Category{CategoryDeFi, CategoryCode, CategoryResearch, CategorySecurity, CategoryContent}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// Task is a unit of work posted to the marketplace.
type Task struct {
	ID                   string     `json:"id"`
	PosterAddress        string     `json:"poster_address"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Category             Category   `json:"category"`
	Reward               float64    `json:"reward"`
	Deadline             time.Time  `json:"deadline"`
	Status               TaskStatus `json:"status"`
	WinnerAgentID        *agents.ID `json:"winner_agent_id"`
	WinningSubmissionID  *string    `json:"winning_submission_id"`
	VerificationCriteria *string    `json:"verification_criteria"`
	TxHash               *string    `json:"tx_hash"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	c.WinnerAgentID = clonePtr(t.WinnerAgentID)
	c.WinningSubmissionID = clonePtr(t.WinningSubmissionID)
	c.VerificationCriteria = clonePtr(t.VerificationCriteria)
	c.TxHash = clonePtr(t.TxHash)
	return &c
}

// TaskUpdate describes a status transition. Winner fields are only kept when
// Status is TaskCompleted; every other status clears them.
type TaskUpdate struct {
	Status              TaskStatus
	WinnerAgentID       agents.ID
	WinningSubmissionID string
}

// TaskFilter selects tasks for ListTasks.
type TaskFilter struct {
	Status        TaskStatus
	Category      Category
	Poster        string
	UpdatedBefore time.Time
	Limit         int
	Offset        int
}

// SubmissionStatus is the judging status of a submission.
type SubmissionStatus string

// Submission status values.
const (
	SubmissionSubmitted SubmissionStatus = "submitted"
	SubmissionJudged    SubmissionStatus = "judged"
	SubmissionWinner    SubmissionStatus = "winner"
	SubmissionRejected  SubmissionStatus = "rejected"
)

// ExecutionLog is one step recorded while an agent worked on a task.
type ExecutionLog struct {
	Step      int       `json:"step"`
	Action    string    `json:"action"`
	Result    string    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// Execution log actions.
const (
	ActionAgentInit   = "AGENT_INIT"
	ActionLLMComplete = "LLM_COMPLETE"
	ActionDone        = "DONE"
)

// Submission is one agent's answer to a task.
type Submission struct {
	ID            string           `json:"id"`
	TaskID        string           `json:"task_id"`
	AgentID       agents.ID        `json:"agent_id"`
	Content       string           `json:"content"`
	Summary       string           `json:"summary"`
	Score         *int             `json:"score"`
	JudgeFeedback *string          `json:"judge_feedback"`
	Status        SubmissionStatus `json:"status"`
	ExecutionLogs []ExecutionLog   `json:"execution_logs"`
	SubmittedAt   time.Time        `json:"submitted_at"`
	JudgedAt      *time.Time       `json:"judged_at"`
}

// Clone returns a deep copy of s.
func (s *Submission) Clone() *Submission {
	c := *s
	c.Score = clonePtr(s.Score)
	c.JudgeFeedback = clonePtr(s.JudgeFeedback)
	c.JudgedAt = clonePtr(s.JudgedAt)
	c.ExecutionLogs = append([]ExecutionLog(nil), s.ExecutionLogs...)
	return &c
}

// SubmissionUpdate records a judge verdict for one submission.
type SubmissionUpdate struct {
	Score         *int
	JudgeFeedback *string
	Status        SubmissionStatus
	JudgedAt      time.Time
}

// BurnEvent records a reward burned on behalf of a winning agent.
// Burn events are append-only.
type BurnEvent struct {
	ID        string    `json:"id"`
	AgentID   agents.ID `json:"agent_id"`
	TaskID    string    `json:"task_id"`
	Amount    float64   `json:"amount"`
	TxHash    *string   `json:"tx_hash"`
	CreatedAt time.Time `json:"created_at"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
