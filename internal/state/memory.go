package state

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a mutex-guarded, in-process Store. State lives only for the
// lifetime of the process. Every read returns copies so callers can never
// mutate stored rows without going through the store.
type MemoryStore struct {
	mu          sync.Mutex
	now         func() time.Time
	tasks       map[string]*Task
	taskOrder   []string // insertion order
	submissions map[string]*Submission
	subOrder    []string
	burns       []*BurnEvent
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:         time.Now,
		tasks:       make(map[string]*Task),
		submissions: make(map[string]*Submission),
	}
}

// SetClock replaces the store's time source. Used by tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// GetTask returns a copy of the task.
func (s *MemoryStore) GetTask(ctx context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

// ListTasks returns matching tasks, newest first.
func (s *MemoryStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	poster := NormalizeAddress(filter.Poster)
	var matched []*Task
	for i := len(s.taskOrder) - 1; i >= 0; i-- {
		t := s.tasks[s.taskOrder[i]]
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		if poster != "" && t.PosterAddress != poster {
			continue
		}
		if !filter.UpdatedBefore.IsZero() && !t.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}
		matched = append(matched, t)
	}

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	start := filter.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	page := make([]*Task, 0, end-start)
	for _, t := range matched[start:end] {
		page = append(page, t.Clone())
	}
	return page, total, nil
}

// InsertTask stores a copy of task, filling id, status and timestamps.
func (s *MemoryStore) InsertTask(ctx context.Context, task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task.ID == "" {
		task.ID = newID()
	}
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	if task.Status == "" {
		task.Status = TaskOpen
	}
	now := s.now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	task.PosterAddress = NormalizeAddress(task.PosterAddress)

	s.tasks[task.ID] = task.Clone()
	s.taskOrder = append(s.taskOrder, task.ID)
	return nil
}

// UpdateTaskStatus applies upd, optionally only from the expected status.
func (s *MemoryStore) UpdateTaskStatus(ctx context.Context, id string, expected TaskStatus, upd TaskUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return false, nil
	}
	if expected != "" && t.Status != expected {
		return false, nil
	}

	t.Status = upd.Status
	if upd.Status == TaskCompleted {
		agentID := upd.WinnerAgentID
		subID := upd.WinningSubmissionID
		t.WinnerAgentID = &agentID
		t.WinningSubmissionID = &subID
	} else {
		t.WinnerAgentID = nil
		t.WinningSubmissionID = nil
	}
	t.UpdatedAt = s.now()
	return true, nil
}

// UpsertSubmission replaces the submission for (TaskID, AgentID), keeping its id.
func (s *MemoryStore) UpsertSubmission(ctx context.Context, sub *Submission) (*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[sub.TaskID]; !ok {
		return nil, fmt.Errorf("task %s: %w", sub.TaskID, ErrNotFound)
	}

	stored := sub.Clone()
	stored.Score = nil
	stored.JudgeFeedback = nil
	stored.JudgedAt = nil
	stored.SubmittedAt = s.now()
	if stored.Status == "" {
		stored.Status = SubmissionSubmitted
	}

	for _, id := range s.subOrder {
		existing := s.submissions[id]
		if existing.TaskID == sub.TaskID && existing.AgentID == sub.AgentID {
			stored.ID = existing.ID
			s.submissions[id] = stored
			return stored.Clone(), nil
		}
	}

	stored.ID = newID()
	s.submissions[stored.ID] = stored
	s.subOrder = append(s.subOrder, stored.ID)
	return stored.Clone(), nil
}

// UpdateSubmission records a verdict.
func (s *MemoryStore) UpdateSubmission(ctx context.Context, id string, upd SubmissionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	sub.Score = clonePtr(upd.Score)
	sub.JudgeFeedback = clonePtr(upd.JudgeFeedback)
	sub.Status = upd.Status
	judgedAt := upd.JudgedAt
	if judgedAt.IsZero() {
		judgedAt = s.now()
	}
	sub.JudgedAt = &judgedAt
	return nil
}

// ListSubmissions returns a task's submissions by score, unscored last.
func (s *MemoryStore) ListSubmissions(ctx context.Context, taskID string) ([]*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Submission
	for _, id := range s.subOrder {
		if sub := s.submissions[id]; sub.TaskID == taskID {
			out = append(out, sub.Clone())
		}
	}
	sortSubmissions(out)
	return out, nil
}

// DeleteSubmissionsForTask removes every submission for the task.
func (s *MemoryStore) DeleteSubmissionsForTask(ctx context.Context, taskID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.subOrder[:0]
	removed := 0
	for _, id := range s.subOrder {
		if s.submissions[id].TaskID == taskID {
			delete(s.submissions, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.subOrder = kept
	return removed, nil
}

// InsertBurnEvent appends a burn event.
func (s *MemoryStore) InsertBurnEvent(ctx context.Context, ev *BurnEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.ID == "" {
		ev.ID = newID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	c := *ev
	c.TxHash = clonePtr(ev.TxHash)
	s.burns = append(s.burns, &c)
	return nil
}

// ListBurnEvents returns every burn event, oldest first.
func (s *MemoryStore) ListBurnEvents(ctx context.Context) ([]*BurnEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*BurnEvent, len(s.burns))
	for i, ev := range s.burns {
		c := *ev
		c.TxHash = clonePtr(ev.TxHash)
		out[i] = &c
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() {}
