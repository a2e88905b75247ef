package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kalambet/askdb/internal/llm"
	"github.com/kalambet/askdb/internal/memory"
)

// Intent values produced by classification.
const (
	IntentSQL  = "sql"
	IntentChat = "chat"
)

// Completer produces one chat completion for a message list.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// Database is the slice of the query target the pipeline needs: schema
// description for prompt grounding and statement execution.
type Database interface {
	Describe(ctx context.Context) (string, error)
	Run(ctx context.Context, query string) (string, error)
}

// Memory is the per-user conversation store the pipeline reads context
// from and records completed turns into.
type Memory interface {
	Get(ctx context.Context, username string) (*memory.Record, error)
	RecordInteraction(ctx context.Context, username, question, query, result, answer string) (*memory.Record, error)
}

// Agent runs the question pipeline: memory context injection, intent
// classification, then either a direct chat answer or query synthesis
// paused at the human approval checkpoint.
type Agent struct {
	llm Completer
	db  Database
	mem Memory
}

// New creates an Agent over the given completer, query target, and
// memory store.
func New(completer Completer, db Database, mem Memory) *Agent {
	return &Agent{llm: completer, db: db, mem: mem}
}

// Start processes a question up to the first boundary: chat questions
// complete immediately with an answer, SQL questions stop after query
// synthesis and wait for approval. Failures are folded into the returned
// state rather than surfaced as errors so callers always get a full
// transcript of how far the question travelled.
func (a *Agent) Start(ctx context.Context, username, question string) State {
	question = strings.ToLower(strings.TrimSpace(question))

	s := State{Username: username, Question: question, Success: true}

	rec, err := a.mem.Get(ctx, username)
	if err != nil {
		return failed(s, fmt.Errorf("loading memory: %w", err))
	}
	s.ResolvedQuestion = rec.ResolveReferences(question)
	s.MemoryContext = rec.RelevantContext(question)

	intent, err := a.classify(ctx, s)
	if err != nil {
		return failed(s, fmt.Errorf("classifying intent: %w", err))
	}
	s.Intent = intent

	if intent == IntentChat {
		return a.chat(ctx, s)
	}
	return a.writeQuery(ctx, s)
}

// classify asks the model for 'sql' or 'chat'. Anything else defaults to
// chat, which at worst answers conversationally instead of querying.
func (a *Agent) classify(ctx context.Context, s State) (string, error) {
	reply, err := a.llm.Complete(ctx, classificationMessages(s.MemoryContext, s.Question, s.ResolvedQuestion))
	if err != nil {
		return "", err
	}

	intent := strings.ToLower(strings.TrimSpace(reply))
	if intent != IntentSQL && intent != IntentChat {
		slog.Debug("unrecognized intent, defaulting to chat", "reply", reply)
		intent = IntentChat
	}
	return intent, nil
}

func (a *Agent) chat(ctx context.Context, s State) State {
	answer, err := a.llm.Complete(ctx, chatMessages(s.MemoryContext, s.Question, s.ResolvedQuestion))
	if err != nil {
		return failed(s, fmt.Errorf("generating chat answer: %w", err))
	}
	s.Answer = answer

	if _, err := a.mem.RecordInteraction(ctx, s.Username, s.Question, "", "", answer); err != nil {
		slog.Warn("recording chat interaction failed", "username", s.Username, "error", err)
	}
	return s
}

func (a *Agent) writeQuery(ctx context.Context, s State) State {
	schema, err := a.db.Describe(ctx)
	if err != nil {
		return failed(s, fmt.Errorf("describing schema: %w", err))
	}

	raw, err := a.llm.Complete(ctx, queryMessages(s.MemoryContext, s.ResolvedQuestion, schema, s.Question, s.Feedback))
	if err != nil {
		return failed(s, fmt.Errorf("generating query: %w", err))
	}

	s.Query = sanitizeQuery(raw)
	return s
}

// Approve resumes a paused state: the query runs against the database and
// the result is turned into a natural language answer. Execution failures
// do not abort the pipeline; the error text becomes the result so the
// answer can explain what went wrong. The completed turn is recorded in
// memory either way.
func (a *Agent) Approve(ctx context.Context, s State) State {
	result, err := a.db.Run(ctx, s.Query)
	if err != nil {
		result = fmt.Sprintf("Error executing query: %s", err)
	}
	s.Result = result

	answer, err := a.llm.Complete(ctx, answerMessages(s))
	if err != nil {
		return failed(s, fmt.Errorf("generating answer: %w", err))
	}
	s.Answer = answer

	if _, err := a.mem.RecordInteraction(ctx, s.Username, s.Question, s.Query, s.Result, s.Answer); err != nil {
		slog.Warn("recording interaction failed", "username", s.Username, "error", err)
	}
	return s
}

// Regenerate synthesizes a fresh query from the paused state and the
// reviewer's feedback, producing a new paused state for another review
// round. The feedback is appended to the question in parentheses, and
// the amended question is what the next checkpoint carries, so feedback
// fragments accumulate across review cycles.
func (a *Agent) Regenerate(ctx context.Context, s State, feedback string) State {
	feedback = strings.TrimSpace(feedback)

	next := State{
		Username:         s.Username,
		Question:         s.Question,
		ResolvedQuestion: s.ResolvedQuestion,
		MemoryContext:    s.MemoryContext,
		Intent:           IntentSQL,
		Feedback:         feedback,
		Success:          true,
	}
	if feedback != "" {
		next.Question = fmt.Sprintf("%s (%s)", strings.TrimSpace(s.Question), feedback)
	}

	return a.writeQuery(ctx, next)
}

func failed(s State, err error) State {
	s.Success = false
	s.Error = err.Error()
	s.Answer = fmt.Sprintf("Error during processing: %s", err)
	return s
}

var sqlFenceRe = regexp.MustCompile("(?s)```sql\\s+(.*?)```")

// sanitizeQuery normalizes model output into a single-line statement:
// markdown fences are stripped, newlines collapse to spaces, and a
// trailing LIMIT is dropped from mutating statements where it is not
// valid SQLite.
func sanitizeQuery(raw string) string {
	query := strings.TrimSpace(raw)
	if m := sqlFenceRe.FindStringSubmatch(query); m != nil {
		query = strings.TrimSpace(m[1])
	}

	upper := strings.ToUpper(query)
	if strings.HasPrefix(upper, "UPDATE") || strings.HasPrefix(upper, "INSERT") || strings.HasPrefix(upper, "DELETE") {
		query = trailingLimitRe.ReplaceAllString(query, "")
	}

	return strings.TrimSpace(strings.ReplaceAll(query, "\n", " "))
}

var trailingLimitRe = regexp.MustCompile(`(?i)\s+LIMIT\s+\d+\s*;?\s*$`)
