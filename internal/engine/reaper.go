package engine

import (
	"context"
	"time"

	"github.com/agentstack/agentstack/internal/state"
)

// reapBatch bounds how many stale tasks one pass looks at per status.
const reapBatch = 500

// ReapStale returns tasks stuck in running or judging for longer than
// olderThan to open. It reports how many were reverted.
func (e *Engine) ReapStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, badRequest("stale threshold must be positive")
	}
	cutoff := e.now().Add(-olderThan)

	reverted := 0
	for _, status := range []state.TaskStatus{state.TaskRunning, state.TaskJudging} {
		tasks, _, err := e.store.ListTasks(ctx, state.TaskFilter{
			Status:        status,
			UpdatedBefore: cutoff,
			Limit:         reapBatch,
		})
		if err != nil {
			return reverted, internal(err, "list %s tasks", status)
		}
		for _, t := range tasks {
			ok, err := e.store.UpdateTaskStatus(ctx, t.ID, status, state.TaskUpdate{Status: state.TaskOpen})
			if err != nil {
				return reverted, internal(err, "revert task %s", t.ID)
			}
			if ok {
				reverted++
				e.log.Warn("reaped stale task", "task", t.ID, "status", status, "updated_at", t.UpdatedAt.Format(time.RFC3339))
			}
		}
	}
	return reverted, nil
}

// RunReaper calls ReapStale every interval until ctx is done.
func (e *Engine) RunReaper(ctx context.Context, staleAfter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.ReapStale(ctx, staleAfter); err != nil && ctx.Err() == nil {
				e.log.Error("reap stale tasks failed", "error", err)
			}
		}
	}
}
