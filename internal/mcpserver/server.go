// Package mcpserver exposes the marketplace as Model Context Protocol tools
// so agents and editors can run, reset and inspect tasks over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/agentstack/agentstack/internal/agents"
	"github.com/agentstack/agentstack/internal/engine"
	"github.com/agentstack/agentstack/internal/leaderboard"
	"github.com/agentstack/agentstack/internal/logging"
	"github.com/agentstack/agentstack/internal/state"
)

// Name is the implementation name reported to MCP clients.
const Name = "agentstack"

// Server wraps an MCP server whose tools call the engine.
type Server struct {
	engine     *engine.Engine
	store      state.Store
	log        *logging.Logger
	runTimeout time.Duration
	server     *mcp.Server
}

// Options configures a Server.
type Options struct {
	Engine     *engine.Engine
	Store      state.Store
	Logger     *logging.Logger
	Version    string
	RunTimeout time.Duration
}

// New creates a Server with every tool registered.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil || opts.Store == nil {
		return nil, errors.New("engine and store are required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		engine:     opts.Engine,
		store:      opts.Store,
		log:        opts.Logger.With("component", "mcp"),
		runTimeout: opts.RunTimeout,
		server:     mcp.NewServer(&mcp.Implementation{Name: Name, Version: opts.Version}, nil),
	}

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "run_task",
		Description: "Run the five-agent competition for an open task, judge the answers and burn the reward for the winner.",
	}, s.runTask)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "reset_task",
		Description: "Return a task to open and delete its submissions so it can run again. Burn history is kept.",
	}, s.resetTask)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "get_leaderboard",
		Description: "Rank the agents by total reward burned on their behalf.",
	}, s.getLeaderboard)
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_tasks",
		Description: "List marketplace tasks, newest first.",
	}, s.listTasks)

	return s, nil
}

// MCP returns the underlying server, for connecting custom transports.
func (s *Server) MCP() *mcp.Server {
	return s.server
}

// Run serves over stdin and stdout until ctx is done or the client hangs up.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("serving MCP over stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// RunTaskInput is the run_task argument.
type RunTaskInput struct {
	TaskID string `json:"task_id" jsonschema:"id of an open task"`
}

// ResetTaskInput is the reset_task argument.
type ResetTaskInput struct {
	TaskID        string `json:"task_id" jsonschema:"id of the task to reset"`
	PosterAddress string `json:"poster_address,omitempty" jsonschema:"wallet address of the poster; when set it must match the task"`
}

// LeaderboardInput is the get_leaderboard argument.
type LeaderboardInput struct{}

// ListTasksInput is the list_tasks argument.
type ListTasksInput struct {
	Status   string `json:"status,omitempty" jsonschema:"open, running, judging, completed or cancelled"`
	Category string `json:"category,omitempty" jsonschema:"DeFi, Code, Research, Security or Content"`
	Poster   string `json:"poster,omitempty" jsonschema:"poster wallet address"`
	Limit    int    `json:"limit,omitempty" jsonschema:"page size, default 100"`
	Offset   int    `json:"offset,omitempty"`
}

// taskSummary is the list_tasks row.
type taskSummary struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	Category      state.Category   `json:"category"`
	Status        state.TaskStatus `json:"status"`
	Reward        float64          `json:"reward"`
	PosterAddress string           `json:"poster_address"`
	Deadline      string           `json:"deadline"`
	WinnerAgentID *agents.ID       `json:"winner_agent_id,omitempty"`
}

func (s *Server) runTask(ctx context.Context, _ *mcp.CallToolRequest, in RunTaskInput) (*mcp.CallToolResult, any, error) {
	// The run must finish even if the client cancels the request.
	runCtx := context.WithoutCancel(ctx)
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.runTimeout)
		defer cancel()
	}

	res, err := s.engine.RunTask(runCtx, in.TaskID)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(map[string]any{
		"task_id":              res.TaskID,
		"winner_agent_id":      res.WinnerAgentID,
		"winner_submission_id": res.WinnerSubmissionID,
		"reasoning":            res.Reasoning,
		"burned":               res.Burned,
		"fallback":             res.Fallback,
	})
}

func (s *Server) resetTask(ctx context.Context, _ *mcp.CallToolRequest, in ResetTaskInput) (*mcp.CallToolResult, any, error) {
	if err := s.engine.ResetTask(ctx, in.TaskID, in.PosterAddress); err != nil {
		return nil, nil, err
	}
	return jsonResult(map[string]any{"ok": true})
}

func (s *Server) getLeaderboard(ctx context.Context, _ *mcp.CallToolRequest, _ LeaderboardInput) (*mcp.CallToolResult, any, error) {
	board, err := leaderboard.Load(ctx, s.store, s.engine.Roster())
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(board)
}

func (s *Server) listTasks(ctx context.Context, _ *mcp.CallToolRequest, in ListTasksInput) (*mcp.CallToolResult, any, error) {
	tasks, total, err := s.engine.ListTasks(ctx, state.TaskFilter{
		Status:   state.TaskStatus(in.Status),
		Category: state.Category(in.Category),
		Poster:   in.Poster,
		Limit:    in.Limit,
		Offset:   in.Offset,
	})
	if err != nil {
		return nil, nil, err
	}

	rows := make([]taskSummary, len(tasks))
	for i, t := range tasks {
		rows[i] = taskSummary{
			ID:            t.ID,
			Title:         t.Title,
			Category:      t.Category,
			Status:        t.Status,
			Reward:        t.Reward,
			PosterAddress: t.PosterAddress,
			Deadline:      t.Deadline.UTC().Format(time.RFC3339),
			WinnerAgentID: t.WinnerAgentID,
		}
	}
	return jsonResult(map[string]any{"tasks": rows, "count": total})
}

// jsonResult renders v as the tool's text content.
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}, nil, nil
}
