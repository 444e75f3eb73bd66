package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentstack/agentstack/internal/agents"
	"github.com/agentstack/agentstack/internal/config"
	"github.com/agentstack/agentstack/internal/llm"
	"github.com/agentstack/agentstack/internal/logging"
	"github.com/agentstack/agentstack/internal/state"
)

// Models names the model used for each kind of call.
type Models struct {
	Agent   string
	Summary string
	Judge   string
}

// ModelsFromConfig picks models out of the LLM config, falling back to the
// defaults for empty values.
func ModelsFromConfig(cfg config.LLMConfig) Models {
	m := Models{Agent: cfg.AgentModel, Summary: cfg.SummaryModel, Judge: cfg.JudgeModel}
	if m.Agent == "" {
		m.Agent = config.DefaultAgentModel
	}
	if m.Summary == "" {
		m.Summary = config.DefaultSummaryModel
	}
	if m.Judge == "" {
		m.Judge = config.DefaultAgentModel
	}
	return m
}

// Engine runs tasks through the agent roster and the judge.
type Engine struct {
	store  state.Store
	llm    llm.Client
	roster *agents.Roster
	cfg    config.EngineConfig
	market config.MarketConfig
	models Models
	log    *logging.Logger
	now    func() time.Time
}

// Options holds the dependencies of an Engine. Zero-valued optional fields
// get production defaults.
type Options struct {
	Store  state.Store
	LLM    llm.Client
	Roster *agents.Roster      // Optional: defaults to agents.Default()
	Config config.EngineConfig // Optional: defaults to config.DefaultEngineConfig()
	Market config.MarketConfig // Optional: zero value accepts any positive reward
	Models Models              // Optional: defaults to the configured default models
	Logger *logging.Logger     // Optional: defaults to logging.Default()
	Now    func() time.Time    // Optional: for deterministic tests
}

// New creates an Engine.
func New(opts Options) *Engine {
	e := &Engine{
		store:  opts.Store,
		llm:    opts.LLM,
		roster: opts.Roster,
		cfg:    opts.Config,
		market: opts.Market,
		models: opts.Models,
		log:    opts.Logger,
		now:    opts.Now,
	}
	if e.roster == nil {
		e.roster = agents.Default()
	}
	if e.cfg == (config.EngineConfig{}) {
		e.cfg = config.DefaultEngineConfig()
	}
	if e.models == (Models{}) {
		e.models = ModelsFromConfig(config.LLMConfig{})
	}
	if e.log == nil {
		e.log = logging.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// Roster returns the engine's agent roster.
func (e *Engine) Roster() *agents.Roster {
	return e.roster
}

// RunResult is the outcome of a successful run.
type RunResult struct {
	TaskID             string
	WinnerAgentID      agents.ID
	WinnerSubmissionID string
	Reasoning          string
	Burned             float64
	Fallback           bool // the judge reply was malformed and the fallback verdict was used
	Saved              int
}

// errOwnershipLost marks a failed status transition after another caller
// moved the task out from under the run. The run must not revert it.
var errOwnershipLost = errors.New("task changed status during run")

// RunTask claims an open task, fans it out to every agent, judges the
// submissions and records the winner. Any failure after the claim returns the
// task to open.
func (e *Engine) RunTask(ctx context.Context, taskID string) (res *RunResult, err error) {
	if taskID == "" {
		return nil, badRequest("task_id required")
	}
	log := e.log.With("task", taskID)

	if err := e.claim(ctx, taskID); err != nil {
		return nil, err
	}
	log.Info("claimed task")

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = internal(nil, "run panicked: %v", r)
		}
		if err != nil {
			log.Error("run failed", "error", err)
			if !errors.Is(err, errOwnershipLost) {
				e.revert(ctx, taskID, log)
			}
		}
	}()

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, internal(err, "load claimed task")
	}

	results := e.runAgents(ctx, task)
	succeeded := 0
	for _, r := range results {
		if r.Content != "" {
			succeeded++
		}
	}
	log.Info("agents finished", "succeeded", succeeded, "total", len(results))
	if succeeded == 0 {
		return nil, internal(nil, "all agents failed")
	}

	saved := e.saveSubmissions(ctx, taskID, results, log)
	if len(saved) == 0 {
		return nil, internal(nil, "could not save any submissions")
	}

	if err := e.transition(ctx, taskID, state.TaskRunning, state.TaskUpdate{Status: state.TaskJudging}); err != nil {
		return nil, err
	}

	verdict, err := e.judge(ctx, task, saved)
	if err != nil {
		return nil, err
	}
	if verdict.Kind == VerdictFallback {
		log.Warn("judge reply malformed, using fallback", "reason", verdict.Problem)
	}
	log.Info("judged", "winner", verdict.WinnerAgentID, "submission", verdict.WinnerSubmissionID)

	if err := e.finalize(ctx, task, saved, verdict, log); err != nil {
		return nil, err
	}

	log.Info("completed", "burned", task.Reward, "winner", verdict.WinnerAgentID)
	return &RunResult{
		TaskID:             taskID,
		WinnerAgentID:      verdict.WinnerAgentID,
		WinnerSubmissionID: verdict.WinnerSubmissionID,
		Reasoning:          verdict.Reasoning,
		Burned:             task.Reward,
		Fallback:           verdict.Kind == VerdictFallback,
		Saved:              len(saved),
	}, nil
}

// claim moves the task from open to running, or explains why it cannot.
func (e *Engine) claim(ctx context.Context, taskID string) error {
	ok, err := e.store.UpdateTaskStatus(ctx, taskID, state.TaskOpen, state.TaskUpdate{Status: state.TaskRunning})
	if err != nil {
		return internal(err, "claim task")
	}
	if ok {
		return nil
	}

	status := "unknown"
	task, err := e.store.GetTask(ctx, taskID)
	switch {
	case errors.Is(err, state.ErrNotFound):
	case err != nil:
		return internal(err, "load task")
	default:
		status = string(task.Status)
	}

	switch state.TaskStatus(status) {
	case state.TaskRunning, state.TaskJudging:
		return conflict("task is already %q", status)
	case state.TaskCompleted:
		return conflict("task already completed, reset it to run again")
	default:
		return notFound("task not found or cannot be run (status: %s)", status)
	}
}

// transition applies a compare-and-swap status change the run depends on.
func (e *Engine) transition(ctx context.Context, taskID string, from state.TaskStatus, upd state.TaskUpdate) error {
	ok, err := e.store.UpdateTaskStatus(ctx, taskID, from, upd)
	if err != nil {
		return internal(err, "set task %s", upd.Status)
	}
	if !ok {
		return &Error{
			Kind:    KindConflict,
			Message: fmt.Sprintf("task left %s before it could move to %s", from, upd.Status),
			Err:     errOwnershipLost,
		}
	}
	return nil
}

// revert returns the task to open on a context that survives the caller's
// cancellation.
func (e *Engine) revert(ctx context.Context, taskID string, log *logging.Logger) {
	revertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RevertTimeout)
	defer cancel()

	ok, err := e.store.UpdateTaskStatus(revertCtx, taskID, "", state.TaskUpdate{Status: state.TaskOpen})
	switch {
	case err != nil:
		log.Error("revert to open failed", "error", err)
	case !ok:
		log.Warn("revert to open found no task")
	default:
		log.Info("reverted to open")
	}
}

// finalize records scores, the burn event and the completed status.
func (e *Engine) finalize(ctx context.Context, task *state.Task, saved []savedSubmission, v Verdict, log *logging.Logger) error {
	judgedAt := e.now()

	scored := make(map[string]bool, len(v.Scores))
	for _, s := range v.Scores {
		scored[s.SubmissionID] = true
		status := state.SubmissionRejected
		if s.SubmissionID == v.WinnerSubmissionID {
			status = state.SubmissionWinner
		}
		score := s.Score
		feedback := s.Feedback
		if err := e.store.UpdateSubmission(ctx, s.SubmissionID, state.SubmissionUpdate{
			Score:         &score,
			JudgeFeedback: &feedback,
			Status:        status,
			JudgedAt:      judgedAt,
		}); err != nil {
			log.Error("record score failed", "submission", s.SubmissionID, "error", err)
		}
	}
	for _, s := range saved {
		if scored[s.ID] {
			continue
		}
		if err := e.store.UpdateSubmission(ctx, s.ID, state.SubmissionUpdate{
			Status:   state.SubmissionJudged,
			JudgedAt: judgedAt,
		}); err != nil {
			log.Error("mark unscored submission failed", "submission", s.ID, "error", err)
		}
	}

	if err := e.store.InsertBurnEvent(ctx, &state.BurnEvent{
		AgentID: v.WinnerAgentID,
		TaskID:  task.ID,
		Amount:  task.Reward,
	}); err != nil {
		return internal(err, "record burn event")
	}

	return e.transition(ctx, task.ID, state.TaskJudging, state.TaskUpdate{
		Status:              state.TaskCompleted,
		WinnerAgentID:       v.WinnerAgentID,
		WinningSubmissionID: v.WinnerSubmissionID,
	})
}

// truncate returns at most n runes of s.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
