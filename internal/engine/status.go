package engine

import (
	"context"
	"errors"

	"github.com/agentstack/agentstack/internal/state"
)

// SetStatus applies a manual status change. Cancelling only works on open
// tasks. Reopening only works on tasks stranded in running or judging.
func (e *Engine) SetStatus(ctx context.Context, taskID string, status state.TaskStatus) (*state.Task, error) {
	if taskID == "" {
		return nil, badRequest("task id required")
	}

	var from []state.TaskStatus
	switch status {
	case state.TaskCancelled:
		from = []state.TaskStatus{state.TaskOpen}
	case state.TaskOpen:
		from = []state.TaskStatus{state.TaskRunning, state.TaskJudging}
	default:
		return nil, badRequest("status must be one of: open, cancelled")
	}

	for _, f := range from {
		ok, err := e.store.UpdateTaskStatus(ctx, taskID, f, state.TaskUpdate{Status: status})
		if err != nil {
			return nil, internal(err, "update task")
		}
		if ok {
			e.log.Info("status changed", "task", taskID, "from", f, "to", status)
			return e.loadTask(ctx, taskID)
		}
	}

	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return nil, conflict("cannot change task from %s to %s", task.Status, status)
}

// GetTask returns the task and its submissions.
func (e *Engine) GetTask(ctx context.Context, taskID string) (*state.Task, []*state.Submission, error) {
	task, err := e.loadTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	subs, err := e.store.ListSubmissions(ctx, taskID)
	if err != nil {
		return nil, nil, internal(err, "list submissions")
	}
	return task, subs, nil
}

// ListTasks returns one page of tasks and the total match count.
func (e *Engine) ListTasks(ctx context.Context, filter state.TaskFilter) ([]*state.Task, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, badRequest("unknown status %q", filter.Status)
	}
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, 0, badRequest("unknown category %q", filter.Category)
	}
	tasks, total, err := e.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, 0, internal(err, "list tasks")
	}
	return tasks, total, nil
}

func (e *Engine) loadTask(ctx context.Context, taskID string) (*state.Task, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if errors.Is(err, state.ErrNotFound) {
		return nil, notFound("task not found")
	}
	if err != nil {
		return nil, internal(err, "load task")
	}
	return task, nil
}
