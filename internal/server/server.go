package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentstack/agentstack/internal/agents"
	"github.com/agentstack/agentstack/internal/config"
	"github.com/agentstack/agentstack/internal/engine"
	"github.com/agentstack/agentstack/internal/leaderboard"
	"github.com/agentstack/agentstack/internal/logging"
	"github.com/agentstack/agentstack/internal/state"
)

const (
	maxBodyBytes    = 1 << 20
	maxListLimit    = 500
	cleanupInterval = time.Minute
)

// Server is the marketplace HTTP API.
type Server struct {
	engine     *engine.Engine
	store      state.Store
	roster     *agents.Roster
	log        *logging.Logger
	port       int
	runTimeout time.Duration
	limiter    *rateLimiter

	mu       sync.RWMutex
	server   *http.Server
	listener net.Listener
	started  bool
}

// Options configures a Server.
type Options struct {
	Engine *engine.Engine
	Store  state.Store // read side for the leaderboard
	Config config.ServerConfig
	Logger *logging.Logger
}

// New creates a Server.
func New(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	runTimeout := opts.Config.RunTimeout
	if runTimeout <= 0 {
		runTimeout = config.DefaultRunTimeout
	}

	return &Server{
		engine:     opts.Engine,
		store:      opts.Store,
		roster:     opts.Engine.Roster(),
		log:        log,
		port:       opts.Config.Port,
		runTimeout: runTimeout,
		limiter:    newRateLimiter(opts.Config.RateLimit, log),
	}, nil
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.setupRoutes(mux)
	return s.withLogging(mux)
}

// Start listens on the configured port and serves until Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}

	addr := fmt.Sprintf(":%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 30 * time.Second,
		// Run requests hold the connection for the whole competition.
		WriteTimeout: s.runTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.started = true
	s.mu.Unlock()

	go s.cleanupLimiter(ctx)

	s.log.Info("server listening", "addr", listener.Addr().String())
	err = s.server.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.started = false
	return nil
}

// ListenAddr returns the address the server is listening on, or "" before
// Start. Useful with port 0.
func (s *Server) ListenAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/tasks/{id}", s.handleGetTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", s.handlePatchTask)
	mux.HandleFunc("POST /api/tasks/reset", s.withRateLimit(s.handleReset))
	mux.HandleFunc("POST /api/run", s.withRateLimit(s.handleRun))
	mux.HandleFunc("GET /api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /api/agents", s.handleAgents)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
}

// cleanupLimiter periodically drops expired rate limit entries.
func (s *Server) cleanupLimiter(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.cleanup()
		}
	}
}

// withRateLimit rejects requests from clients over their limit.
func (s *Server) withRateLimit(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)
		res := s.limiter.check(ip)
		if !res.Allowed {
			s.log.Warn("request rejected", "ip", ip, "path", r.URL.Path, "reason", res.Reason, "retry_after", res.RetryAfter)
			w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Round(time.Second).Seconds())))
			writeError(w, http.StatusTooManyRequests, res.Reason)
			return
		}
		handler(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withLogging logs every request at debug level.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := state.TaskFilter{
		Status:   state.TaskStatus(q.Get("status")),
		Category: state.Category(q.Get("category")),
		Poster:   q.Get("poster"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), state.DefaultListLimit); err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	filter.Limit = min(filter.Limit, maxListLimit)

	tasks, total, err := s.engine.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if tasks == nil {
		tasks = []*state.Task{}
	}
	noStore(w)
	writeJSON(w, http.StatusOK, map[string]any{"data": tasks, "count": total})
}

type createTaskRequest struct {
	PosterAddress        string  `json:"poster_address"`
	Title                string  `json:"title"`
	Description          string  `json:"description"`
	Category             string  `json:"category"`
	Reward               float64 `json:"reward"`
	Deadline             string  `json:"deadline"`
	VerificationCriteria string  `json:"verification_criteria"`
	TxHash               string  `json:"tx_hash"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !s.decode(w, r, &req) {
		return
	}

	in := engine.NewTask{
		PosterAddress:        req.PosterAddress,
		Title:                req.Title,
		Description:          req.Description,
		Category:             state.Category(req.Category),
		Reward:               req.Reward,
		VerificationCriteria: req.VerificationCriteria,
		TxHash:               req.TxHash,
	}
	if req.Deadline != "" {
		deadline, err := time.Parse(time.RFC3339, req.Deadline)
		if err != nil {
			writeError(w, http.StatusBadRequest, "deadline must be an RFC 3339 timestamp")
			return
		}
		in.Deadline = deadline
	}

	task, err := s.engine.CreateTask(r.Context(), in)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"data": task})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, subs, err := s.engine.GetTask(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	if subs == nil {
		subs = []*state.Submission{}
	}
	noStore(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"task": task, "submissions": subs},
	})
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	task, err := s.engine.SetStatus(r.Context(), r.PathValue("id"), state.TaskStatus(req.Status))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": task})
}

type runResponse struct {
	TaskID              string    `json:"task_id"`
	WinnerAgentID       agents.ID `json:"winner_agent_id"`
	WinnerSubmissionID  string    `json:"winner_submission_id"`
	WinningSubmissionID string    `json:"winning_submission_id"`
	Reasoning           string    `json:"reasoning"`
	Burned              float64   `json:"burned"`
	Fallback            bool      `json:"fallback"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	// The run outlives a dropped client so the task is never left running.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.runTimeout)
	defer cancel()

	res, err := s.engine.RunTask(ctx, req.TaskID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": runResponse{
		TaskID:              res.TaskID,
		WinnerAgentID:       res.WinnerAgentID,
		WinnerSubmissionID:  res.WinnerSubmissionID,
		WinningSubmissionID: res.WinnerSubmissionID,
		Reasoning:           res.Reasoning,
		Burned:              res.Burned,
		Fallback:            res.Fallback,
	}})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskID        string `json:"task_id"`
		PosterAddress string `json:"poster_address"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	ip := extractIP(r)
	err := s.engine.ResetTask(r.Context(), req.TaskID, req.PosterAddress)
	switch {
	case err == nil:
		s.limiter.recordSuccess(ip)
	case engine.KindOf(err) == engine.KindForbidden:
		s.limiter.recordFailure(ip)
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	board, err := leaderboard.Load(r.Context(), s.store, s.roster)
	if err != nil {
		s.log.Error("leaderboard failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	noStore(w)
	writeJSON(w, http.StatusOK, board)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.roster.All()})
}

// decode reads a JSON body into v, writing a 400 and returning false on
// failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	status := engine.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
}

func intParam(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}
