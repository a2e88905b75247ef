package llm

import (
	"context"
	"net/http"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

// fakeCompleter is a test double for the chat completion API.
type fakeCompleter struct {
	responses []openai.ChatCompletionResponse
	errs      []error
	calls     int
	lastReq   openai.ChatCompletionRequest
}

func (f *fakeCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	i := f.calls
	f.calls++
	var resp openai.ChatCompletionResponse
	var err error
	if i < len(f.responses) {
		resp = f.responses[i]
	}
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return resp, err
}

func textResponse(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: "assistant", Content: content}},
		},
	}
}

func TestComplete(t *testing.T) {
	fake := &fakeCompleter{
		responses: []openai.ChatCompletionResponse{textResponse("  SELECT name FROM students LIMIT 10  ")},
		errs:      []error{nil},
	}
	c := &Client{api: fake, model: "llama-3.1-8b-instant"}

	got, err := c.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "generate sql"},
		{Role: RoleUser, Content: "who are the students"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "SELECT name FROM students LIMIT 10" {
		t.Errorf("Complete() = %q, want trimmed reply", got)
	}
	if fake.lastReq.Model != "llama-3.1-8b-instant" {
		t.Errorf("request model = %q", fake.lastReq.Model)
	}
	if len(fake.lastReq.Messages) != 2 || fake.lastReq.Messages[0].Role != "system" {
		t.Errorf("messages not forwarded: %+v", fake.lastReq.Messages)
	}
}

func TestCompleteRetriesRateLimit(t *testing.T) {
	rateErr := &openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Message: "slow down"}
	fake := &fakeCompleter{
		responses: []openai.ChatCompletionResponse{{}, textResponse("chat")},
		errs:      []error{rateErr, nil},
	}
	c := &Client{api: fake, model: "m"}

	got, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "chat" {
		t.Errorf("Complete() = %q, want %q", got, "chat")
	}
	if fake.calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", fake.calls)
	}
}

func TestCompleteNonRateLimitNotRetried(t *testing.T) {
	serverErr := &openai.APIError{HTTPStatusCode: http.StatusInternalServerError, Message: "boom"}
	fake := &fakeCompleter{
		responses: []openai.ChatCompletionResponse{{}},
		errs:      []error{serverErr},
	}
	c := &Client{api: fake, model: "m"}

	if _, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}); err == nil {
		t.Fatal("expected error, got nil")
	}
	if fake.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", fake.calls)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	fake := &fakeCompleter{
		responses: []openai.ChatCompletionResponse{{}},
		errs:      []error{nil},
	}
	c := &Client{api: fake, model: "m"}

	if _, err := c.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}); err == nil {
		t.Fatal("expected error for empty choices, got nil")
	}
}
