package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/askdb/internal/agent"
	"github.com/kalambet/askdb/internal/database"
	"github.com/kalambet/askdb/internal/memory"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Workflow is the slice of the agent the HTTP layer drives.
type Workflow interface {
	Start(ctx context.Context, username, question string) agent.State
	Approve(ctx context.Context, s agent.State) agent.State
	Regenerate(ctx context.Context, s agent.State, feedback string) agent.State
}

// MemoryStore is the slice of the memory store the HTTP layer reads and
// clears.
type MemoryStore interface {
	Get(ctx context.Context, username string) (*memory.Record, error)
	Clear(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Persistent() bool
}

// SchemaSource describes and health-checks the query target.
type SchemaSource interface {
	Describe(ctx context.Context) (string, error)
	Ping(ctx context.Context) error
}

// Deps holds everything the HTTP handlers need.
type Deps struct {
	Agent  Workflow
	Memory MemoryStore
	DB     SchemaSource
	Token  string // optional; empty disables bearer auth
}

type QuestionRequest struct {
	Username string `json:"username"`
	Question string `json:"question"`
}

type ApprovalRequest struct {
	Checkpoint string `json:"checkpoint"`
	Feedback   string `json:"feedback,omitempty"`
}

type QueryResponse struct {
	Question         string `json:"question"`
	ResolvedQuestion string `json:"resolved_question"`
	Query            string `json:"query"`
	Result           string `json:"result"`
	Answer           string `json:"answer"`
	Success          bool   `json:"success"`
	Error            string `json:"error,omitempty"`
}

// ApprovalResponse is returned when a query is waiting for human review.
// The checkpoint is opaque; clients pass it back unchanged to approve or
// regenerate.
type ApprovalResponse struct {
	Question         string `json:"question"`
	ResolvedQuestion string `json:"resolved_question"`
	Query            string `json:"query"`
	Answer           string `json:"answer"`
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	Checkpoint       string `json:"checkpoint"`
}

type MemoryCommandRequest struct {
	Username string `json:"username"`
	Command  string `json:"command"`
}

type MemoryResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type HealthResponse struct {
	Status            string `json:"status"`
	DatabaseConnected bool   `json:"database_connected"`
	MemoryPersistent  bool   `json:"memory_persistent"`
	Timestamp         string `json:"timestamp"`
}

// NewHandler builds the REST API router. The health endpoint stays open;
// everything else sits behind bearer auth when a token is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}

		r.Post("/query", handleQuery(deps))
		r.Post("/query/approve", handleApprove(deps))
		r.Post("/query/regenerate", handleRegenerate(deps))
		r.Post("/memory/command", handleMemoryCommand(deps))
		r.Get("/memory/{username}/history", handleUserHistory(deps))
		r.Delete("/memory/{username}", handleClearUser(deps))
		r.Get("/users", handleListUsers(deps))
		r.Get("/schema", handleSchema(deps))
	})

	return r
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QuestionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question cannot be empty")
			return
		}

		s := deps.Agent.Start(r.Context(), req.Username, req.Question)

		if !s.Success || s.Intent == agent.IntentChat {
			writeJSON(w, http.StatusOK, queryResponse(s))
			return
		}

		token, err := agent.EncodeCheckpoint(s)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "encoding checkpoint: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ApprovalResponse{
			Question:         s.Question,
			ResolvedQuestion: s.ResolvedQuestion,
			Query:            s.Query,
			Answer:           "Query generated and pending human approval.",
			Success:          true,
			Message:          "Please review and approve the query to proceed.",
			Checkpoint:       token,
		})
	}
}

func handleApprove(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, feedback, ok := decodeApprovalRequest(w, r)
		if !ok {
			return
		}
		if feedback != "" {
			s.Feedback = feedback
		}

		writeJSON(w, http.StatusOK, queryResponse(deps.Agent.Approve(r.Context(), s)))
	}
}

func handleRegenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, feedback, ok := decodeApprovalRequest(w, r)
		if !ok {
			return
		}

		next := deps.Agent.Regenerate(r.Context(), s, feedback)
		if !next.Success {
			writeJSON(w, http.StatusOK, queryResponse(next))
			return
		}

		token, err := agent.EncodeCheckpoint(next)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "encoding checkpoint: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, ApprovalResponse{
			Question:         next.Question,
			ResolvedQuestion: next.ResolvedQuestion,
			Query:            next.Query,
			Answer:           "Query regenerated. You can approve or provide more feedback.",
			Success:          true,
			Message:          "Please review the new query.",
			Checkpoint:       token,
		})
	}
}

func decodeApprovalRequest(w http.ResponseWriter, r *http.Request) (agent.State, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return agent.State{}, "", false
	}

	s, err := agent.DecodeCheckpoint(req.Checkpoint)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid checkpoint: %v", err)
		return agent.State{}, "", false
	}
	return s, strings.TrimSpace(req.Feedback), true
}

// memoryCommands lists the recognized slash commands.
const memoryCommands = "/history, /clear, /entities, /summary, /users"

func handleMemoryCommand(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req MemoryCommandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		resp, err := runMemoryCommand(r.Context(), deps.Memory, req.Username, req.Command)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "processing memory command: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// runMemoryCommand is shared by the HTTP handler and the MCP tool.
func runMemoryCommand(ctx context.Context, store MemoryStore, username, command string) (MemoryResponse, error) {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "/history", "/summary":
		rec, err := store.Get(ctx, username)
		if err != nil {
			return MemoryResponse{}, err
		}
		return MemoryResponse{
			Success: true,
			Message: "Conversation history retrieved successfully",
			Data:    rec.Summarize(),
		}, nil

	case "/entities":
		rec, err := store.Get(ctx, username)
		if err != nil {
			return MemoryResponse{}, err
		}
		return MemoryResponse{
			Success: true,
			Message: "Known entities retrieved successfully",
			Data:    map[string]any{"entities": rec.Summarize().KnownEntities},
		}, nil

	case "/clear":
		if err := store.Clear(ctx, username); err != nil {
			return MemoryResponse{}, err
		}
		return MemoryResponse{Success: true, Message: "Memory cleared successfully"}, nil

	case "/users":
		users, err := store.ListUsers(ctx)
		if err != nil {
			return MemoryResponse{}, err
		}
		if users == nil {
			users = []string{}
		}
		return MemoryResponse{
			Success: true,
			Message: "All users retrieved successfully",
			Data:    map[string]any{"users": users},
		}, nil

	default:
		return MemoryResponse{
			Success: false,
			Message: fmt.Sprintf("Unknown command: %s. Available commands: %s", command, memoryCommands),
		}, nil
	}
}

func handleUserHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := chi.URLParam(r, "username")

		rec, err := deps.Memory.Get(r.Context(), username)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "retrieving user history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"username": username,
			"data":     rec.Summarize(),
		})
	}
}

func handleClearUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		username := chi.URLParam(r, "username")

		if err := deps.Memory.Clear(r.Context(), username); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "clearing user memory: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": fmt.Sprintf("Memory cleared for user: %s", username),
		})
	}
}

func handleListUsers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := deps.Memory.ListUsers(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "retrieving users: %v", err)
			return
		}
		if users == nil {
			users = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":     true,
			"users":       users,
			"total_users": len(users),
		})
	}
}

// handleHealth checks the query target and memory backend in parallel.
// The service is healthy iff the SQL database answers; memory degrades
// gracefully so its state is reported but does not flip the status.
func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		var dbOK, memOK bool
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			dbOK = deps.DB.Ping(gctx) == nil
			return nil
		})
		g.Go(func() error {
			memOK = deps.Memory.Ping(gctx) == nil
			return nil
		})
		g.Wait()

		status := "healthy"
		if !dbOK {
			status = "unhealthy"
		}
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:            status,
			DatabaseConnected: dbOK,
			MemoryPersistent:  memOK && deps.Memory.Persistent(),
			Timestamp:         time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func handleSchema(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := deps.DB.Describe(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "retrieving database schema: %v", err)
			return
		}

		parsed := database.ParseDescription(raw)
		writeJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"schema":   parsed,
			"message":  fmt.Sprintf("Found %d tables in database", len(parsed)),
			"raw_info": raw,
		})
	}
}

func queryResponse(s agent.State) QueryResponse {
	return QueryResponse{
		Question:         s.Question,
		ResolvedQuestion: s.ResolvedQuestion,
		Query:            s.Query,
		Result:           s.Result,
		Answer:           s.Answer,
		Success:          s.Success,
		Error:            s.Error,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
