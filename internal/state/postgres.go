package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentstack/agentstack/internal/agents"
)

// PostgresStore persists marketplace state in Postgres.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn. Call EnsureSchema before first use on a
// fresh database.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  poster_address TEXT NOT NULL,
  title TEXT NOT NULL,
  description TEXT NOT NULL,
  category TEXT NOT NULL,
  reward DOUBLE PRECISION NOT NULL,
  deadline TIMESTAMPTZ NOT NULL,
  status TEXT NOT NULL DEFAULT 'open',
  winner_agent_id TEXT,
  winning_submission_id TEXT,
  verification_criteria TEXT,
  tx_hash TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS tasks_status_idx ON tasks (status);
CREATE INDEX IF NOT EXISTS tasks_poster_idx ON tasks (poster_address);
CREATE TABLE IF NOT EXISTS submissions (
  id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
  agent_id TEXT NOT NULL,
  content TEXT NOT NULL DEFAULT '',
  summary TEXT NOT NULL DEFAULT '',
  score INT,
  judge_feedback TEXT,
  status TEXT NOT NULL DEFAULT 'submitted',
  execution_logs JSONB NOT NULL DEFAULT '[]',
  submitted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  judged_at TIMESTAMPTZ,
  UNIQUE (task_id, agent_id)
);
CREATE TABLE IF NOT EXISTS burn_events (
  id TEXT PRIMARY KEY,
  agent_id TEXT NOT NULL,
  task_id TEXT NOT NULL,
  amount DOUBLE PRECISION NOT NULL,
  tx_hash TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

const taskColumns = `id, poster_address, title, description, category, reward, deadline, status,
winner_agent_id, winning_submission_id, verification_criteria, tx_hash, created_at, updated_at`

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.Status != "" {
		add("status=$%d", string(filter.Status))
	}
	if filter.Category != "" {
		add("category=$%d", string(filter.Category))
	}
	if p := NormalizeAddress(filter.Poster); p != "" {
		add("poster_address=$%d", p)
	}
	if !filter.UpdatedBefore.IsZero() {
		add("updated_at<$%d", filter.UpdatedBefore)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tasks`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf(`SELECT %s FROM tasks%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		taskColumns, clause, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, total, nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = newID()
	}
	if task.Status == "" {
		task.Status = TaskOpen
	}
	task.PosterAddress = NormalizeAddress(task.PosterAddress)

	err := s.pool.QueryRow(ctx, `
INSERT INTO tasks (id, poster_address, title, description, category, reward, deadline, status, verification_criteria, tx_hash)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING created_at, updated_at
`, task.ID, task.PosterAddress, task.Title, task.Description, string(task.Category), task.Reward,
		task.Deadline, string(task.Status), task.VerificationCriteria, task.TxHash).
		Scan(&task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, id string, expected TaskStatus, upd TaskUpdate) (bool, error) {
	var winner, winningSub *string
	if upd.Status == TaskCompleted {
		w := string(upd.WinnerAgentID)
		sub := upd.WinningSubmissionID
		winner, winningSub = &w, &sub
	}

	query := `UPDATE tasks SET status=$2, winner_agent_id=$3, winning_submission_id=$4, updated_at=now() WHERE id=$1`
	args := []any{id, string(upd.Status), winner, winningSub}
	if expected != "" {
		query += ` AND status=$5`
		args = append(args, string(expected))
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update task %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

const submissionColumns = `id, task_id, agent_id, content, summary, score, judge_feedback, status,
execution_logs, submitted_at, judged_at`

func (s *PostgresStore) UpsertSubmission(ctx context.Context, sub *Submission) (*Submission, error) {
	logs, err := json.Marshal(nonNilLogs(sub.ExecutionLogs))
	if err != nil {
		return nil, fmt.Errorf("encode execution logs: %w", err)
	}
	status := sub.Status
	if status == "" {
		status = SubmissionSubmitted
	}

	row := s.pool.QueryRow(ctx, `
INSERT INTO submissions (id, task_id, agent_id, content, summary, status, execution_logs)
VALUES ($1,$2,$3,$4,$5,$6,$7::jsonb)
ON CONFLICT (task_id, agent_id) DO UPDATE SET
  content=EXCLUDED.content,
  summary=EXCLUDED.summary,
  status=EXCLUDED.status,
  execution_logs=EXCLUDED.execution_logs,
  score=NULL,
  judge_feedback=NULL,
  judged_at=NULL,
  submitted_at=now()
RETURNING `+submissionColumns,
		newID(), sub.TaskID, string(sub.AgentID), sub.Content, sub.Summary, string(status), string(logs))

	stored, err := scanSubmission(row)
	if err != nil {
		return nil, fmt.Errorf("upsert submission %s/%s: %w", sub.TaskID, sub.AgentID, err)
	}
	return stored, nil
}

func (s *PostgresStore) UpdateSubmission(ctx context.Context, id string, upd SubmissionUpdate) error {
	var judged any
	if !upd.JudgedAt.IsZero() {
		judged = upd.JudgedAt
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE submissions SET score=$2, judge_feedback=$3, status=$4, judged_at=COALESCE($5, now()) WHERE id=$1
`, id, upd.Score, upd.JudgeFeedback, string(upd.Status), judged)
	if err != nil {
		return fmt.Errorf("update submission %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListSubmissions(ctx context.Context, taskID string) ([]*Submission, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+submissionColumns+` FROM submissions WHERE task_id=$1
ORDER BY score DESC NULLS LAST, submitted_at ASC
`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *PostgresStore) DeleteSubmissionsForTask(ctx context.Context, taskID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM submissions WHERE task_id=$1`, taskID)
	if err != nil {
		return 0, fmt.Errorf("delete submissions for %s: %w", taskID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) InsertBurnEvent(ctx context.Context, ev *BurnEvent) error {
	if ev.ID == "" {
		ev.ID = newID()
	}
	err := s.pool.QueryRow(ctx, `
INSERT INTO burn_events (id, agent_id, task_id, amount, tx_hash) VALUES ($1,$2,$3,$4,$5)
RETURNING created_at
`, ev.ID, string(ev.AgentID), ev.TaskID, ev.Amount, ev.TxHash).Scan(&ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert burn event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBurnEvents(ctx context.Context) ([]*BurnEvent, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, agent_id, task_id, amount, tx_hash, created_at FROM burn_events ORDER BY created_at ASC, id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list burn events: %w", err)
	}
	defer rows.Close()

	var events []*BurnEvent
	for rows.Next() {
		var (
			ev      BurnEvent
			agentID string
		)
		if err := rows.Scan(&ev.ID, &agentID, &ev.TaskID, &ev.Amount, &ev.TxHash, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan burn event: %w", err)
		}
		ev.AgentID = agents.ID(agentID)
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func scanTask(row pgx.Row) (*Task, error) {
	var (
		t                Task
		category, status string
		winner           *string
	)
	if err := row.Scan(
		&t.ID, &t.PosterAddress, &t.Title, &t.Description, &category, &t.Reward, &t.Deadline, &status,
		&winner, &t.WinningSubmissionID, &t.VerificationCriteria, &t.TxHash, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Category = Category(category)
	t.Status = TaskStatus(status)
	if winner != nil {
		id := agents.ID(*winner)
		t.WinnerAgentID = &id
	}
	return &t, nil
}

func scanSubmission(row pgx.Row) (*Submission, error) {
	var (
		sub             Submission
		agentID, status string
		score           *int32
		logs            []byte
	)
	if err := row.Scan(
		&sub.ID, &sub.TaskID, &agentID, &sub.Content, &sub.Summary, &score, &sub.JudgeFeedback, &status,
		&logs, &sub.SubmittedAt, &sub.JudgedAt,
	); err != nil {
		return nil, err
	}
	sub.AgentID = agents.ID(agentID)
	sub.Status = SubmissionStatus(status)
	if score != nil {
		v := int(*score)
		sub.Score = &v
	}
	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &sub.ExecutionLogs); err != nil {
			return nil, fmt.Errorf("decode execution logs: %w", err)
		}
	}
	return &sub, nil
}

func nonNilLogs(logs []ExecutionLog) []ExecutionLog {
	if logs == nil {
		return []ExecutionLog{}
	}
	return logs
}
