package engine

import (
	"context"
	"strings"
	"time"

	"github.com/agentstack/agentstack/internal/state"
)

// NewTask is the input for CreateTask.
type NewTask struct {
	PosterAddress        string
	Title                string
	Description          string
	Category             state.Category
	Reward               float64
	Deadline             time.Time
	VerificationCriteria string
	TxHash               string
}

// CreateTask validates and stores a new open task.
func (e *Engine) CreateTask(ctx context.Context, in NewTask) (*state.Task, error) {
	in.PosterAddress = strings.TrimSpace(in.PosterAddress)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.TxHash = strings.TrimSpace(in.TxHash)

	if in.PosterAddress == "" || in.Title == "" || in.Description == "" || in.Category == "" || in.Deadline.IsZero() {
		return nil, badRequest("missing required fields")
	}
	if !in.Category.Valid() {
		return nil, badRequest("unknown category %q", in.Category)
	}
	if in.Reward <= 0 || in.Reward < e.market.MinReward {
		return nil, badRequest("minimum reward for %s is %g STACK", in.Category, e.market.MinReward)
	}
	if !in.Deadline.After(e.now()) {
		return nil, badRequest("deadline must be in the future")
	}
	if e.market.RequireTxHash && in.TxHash == "" {
		return nil, badRequest("tx_hash is required, payment must be confirmed on-chain first")
	}

	task := &state.Task{
		PosterAddress: state.NormalizeAddress(in.PosterAddress),
		Title:         in.Title,
		Description:   in.Description,
		Category:      in.Category,
		Reward:        in.Reward,
		Deadline:      in.Deadline,
		Status:        state.TaskOpen,
	}
	if c := strings.TrimSpace(in.VerificationCriteria); c != "" {
		task.VerificationCriteria = &c
	}
	if in.TxHash != "" {
		tx := in.TxHash
		task.TxHash = &tx
	}

	if err := e.store.InsertTask(ctx, task); err != nil {
		return nil, internal(err, "insert task")
	}
	e.log.Info("task created", "task", task.ID, "category", task.Category, "reward", task.Reward)
	return task, nil
}
