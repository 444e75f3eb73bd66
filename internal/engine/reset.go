package engine

import (
	"context"
	"errors"

	"github.com/agentstack/agentstack/internal/state"
)

// ResetTask returns a task to open from any status and deletes its
// submissions so it can run again. A non-empty caller must match the poster
// address; an empty caller is allowed. Burn events are kept.
func (e *Engine) ResetTask(ctx context.Context, taskID, caller string) error {
	if taskID == "" {
		return badRequest("task_id required")
	}
	log := e.log.With("task", taskID)

	task, err := e.store.GetTask(ctx, taskID)
	if errors.Is(err, state.ErrNotFound) {
		return notFound("task not found")
	}
	if err != nil {
		return internal(err, "load task")
	}

	if caller == "" {
		log.Warn("reset without poster address, ownership not checked")
	} else if state.NormalizeAddress(caller) != state.NormalizeAddress(task.PosterAddress) {
		log.Warn("reset refused", "caller", state.NormalizeAddress(caller))
		return forbidden("not authorized, only the task poster can reset this task")
	}

	ok, err := e.store.UpdateTaskStatus(ctx, taskID, "", state.TaskUpdate{Status: state.TaskOpen})
	if err != nil {
		return internal(err, "reset task")
	}
	if !ok {
		return notFound("task not found")
	}

	removed, err := e.store.DeleteSubmissionsForTask(ctx, taskID)
	if err != nil {
		return internal(err, "delete submissions")
	}
	log.Info("reset task", "from", task.Status, "submissions_removed", removed)
	return nil
}
