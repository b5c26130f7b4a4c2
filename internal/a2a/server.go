package a2a

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"

	"github.com/kavyleancoder/meepo/internal/inference"
)

// maxRequestBodyBytes is the hard cap on a POST /a2a/tasks body.
const maxRequestBodyBytes = 1 << 20 // 1 MiB

// maxConcurrentTasks is the per-server cap on non-terminal (Submitted or
// Working) tasks.
const maxConcurrentTasks = 100

// maxTaskHistory bounds the number of tasks kept in memory; older completed
// tasks are evicted LRU-first.
const maxTaskHistory = 1000

// Runner executes one inference turn to completion, as an agent's
// inference loop does for a user-initiated message.
type Runner interface {
	Run(ctx context.Context, initialMessage, system string, opts inference.Options) (string, error)
}

// Server exposes the A2A peer HTTP endpoints: agent discovery and a
// submit/poll/cancel task lifecycle backed by a Runner.
type Server struct {
	runner    Runner
	card      AgentCard
	system    string
	authToken string
	logger    *slog.Logger

	mu          sync.Mutex
	tasks       *lru.Cache[string, *TaskResponse]
	nonTerminal int
}

// NewServer builds a Server. authToken, if non-empty, is required as a
// Bearer token on every request. system is the prompt each submitted task
// runs against.
func NewServer(runner Runner, card AgentCard, system, authToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, *TaskResponse](maxTaskHistory)
	if err != nil {
		panic(fmt.Sprintf("a2a: construct task cache: %v", err))
	}
	return &Server{
		runner:    runner,
		card:      card,
		system:    system,
		authToken: authToken,
		logger:    logger,
		tasks:     cache,
	}
}

// Handler builds the server's http.Handler, ready to be served on any
// listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/agent.json", s.handleAgentCard)
	mux.HandleFunc("/a2a/tasks", s.handleTasksCollection)
	mux.HandleFunc("/a2a/tasks/", s.handleTaskByID)
	return s.withAuth(mux)
}

// ListenAndServe runs the server on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// withAuth enforces the optional bearer token with a constant-time
// comparison, so a timing side channel can't be used to guess it byte by
// byte.
func (s *Server) withAuth(next http.Handler) http.Handler {
	if s.authToken == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		provided, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(s.authToken)) != 1 {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	json.NewEncoder(w).Encode(s.card)
}

func (s *Server) handleTasksCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.handleSubmitTask(w, r)
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	taskID := strings.TrimPrefix(r.URL.Path, "/a2a/tasks/")
	if taskID == "" {
		writeJSONError(w, http.StatusNotFound, "task not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleGetTask(w, taskID)
	case http.MethodDelete:
		s.handleCancelTask(w, taskID)
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	// Reject an oversized body before allocating anything to read it into.
	if r.ContentLength > maxRequestBodyBytes {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes+1))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxRequestBodyBytes {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req TaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	taskID := uuid.NewString()
	now := time.Now()
	resp := &TaskResponse{TaskID: taskID, Status: TaskSubmitted, CreatedAt: now}

	s.mu.Lock()
	if s.nonTerminal >= maxConcurrentTasks {
		s.mu.Unlock()
		writeJSONError(w, http.StatusTooManyRequests, "too many concurrent tasks")
		return
	}
	s.nonTerminal++
	s.tasks.Add(taskID, resp)
	s.mu.Unlock()

	go s.runTask(taskID, req.Prompt)

	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) runTask(taskID, prompt string) {
	s.mu.Lock()
	if t, ok := s.tasks.Get(taskID); ok {
		t.Status = TaskWorking
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := s.runner.Run(ctx, prompt, s.system, inference.Options{
		Autonomous: false,
		Confidence: 1.0,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks.Get(taskID)
	if !ok || !t.Status.nonTerminal() {
		// Cancelled while running; leave the cancellation outcome in place.
		return
	}
	now := time.Now()
	t.CompletedAt = &now
	s.nonTerminal--
	if err != nil {
		t.Status = TaskFailed
		errText := fmt.Sprintf("Error: %v", err)
		t.Result = &errText
		s.logger.Warn("a2a task failed", "task_id", taskID, "error", err)
		return
	}
	t.Status = TaskCompleted
	t.Result = &result
}

func (s *Server) handleGetTask(w http.ResponseWriter, taskID string) {
	s.mu.Lock()
	t, ok := s.tasks.Get(taskID)
	s.mu.Unlock()
	if !ok {
		writeJSONError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks.Get(taskID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "task not found")
		return
	}
	if !t.Status.nonTerminal() {
		writeJSONError(w, http.StatusConflict, fmt.Sprintf("task already %s", t.Status))
		return
	}
	t.Status = TaskCancelled
	now := time.Now()
	t.CompletedAt = &now
	s.nonTerminal--
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
