package state

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a task or submission does not exist.
var ErrNotFound = errors.New("not found")

// DefaultListLimit caps ListTasks when the filter sets no limit.
const DefaultListLimit = 100

// Store is the persistence boundary for tasks, submissions and burn events.
type Store interface {
	// GetTask returns the task with the given id, or ErrNotFound.
	GetTask(ctx context.Context, id string) (*Task, error)

	// ListTasks returns one page of tasks, newest first, and the total number
	// of tasks matching the filter.
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, int, error)

	// InsertTask stores a new task. ID, timestamps and status are assigned
	// when empty.
	InsertTask(ctx context.Context, task *Task) error

	// UpdateTaskStatus applies upd to the task. A non-empty expected status
	// turns the update into a compare-and-swap. It reports whether a row
	// was updated.
	UpdateTaskStatus(ctx context.Context, id string, expected TaskStatus, upd TaskUpdate) (bool, error)

	// UpsertSubmission inserts or replaces the submission for
	// (TaskID, AgentID) and returns the stored row.
	UpsertSubmission(ctx context.Context, sub *Submission) (*Submission, error)

	// UpdateSubmission records a verdict, or returns ErrNotFound.
	UpdateSubmission(ctx context.Context, id string, upd SubmissionUpdate) error

	// ListSubmissions returns a task's submissions by score, unscored last.
	ListSubmissions(ctx context.Context, taskID string) ([]*Submission, error)

	// DeleteSubmissionsForTask removes every submission for the task and
	// returns how many were removed.
	DeleteSubmissionsForTask(ctx context.Context, taskID string) (int, error)

	// InsertBurnEvent appends a burn event.
	InsertBurnEvent(ctx context.Context, ev *BurnEvent) error

	// ListBurnEvents returns every burn event, oldest first.
	ListBurnEvents(ctx context.Context) ([]*BurnEvent, error)

	// Close releases the store's resources.
	Close()
}

// NormalizeAddress case-folds a wallet address for storage and comparison.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// sortSubmissions orders by score descending with unscored submissions last,
// then by submission time.
func sortSubmissions(subs []*Submission) {
	sort.SliceStable(subs, func(i, j int) bool {
		a, b := subs[i], subs[j]
		switch {
		case a.Score != nil && b.Score == nil:
			return true
		case a.Score == nil && b.Score != nil:
			return false
		case a.Score != nil && b.Score != nil && *a.Score != *b.Score:
			return *a.Score > *b.Score
		}
		return a.SubmittedAt.Before(b.SubmittedAt)
	})
}

func newID() string {
	return uuid.NewString()
}
