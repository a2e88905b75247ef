package api

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/askdb/internal/agent"
)

// --- helpers ---

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func newTestMCPDeps() (MCPDeps, *mockWorkflow) {
	wf := &mockWorkflow{}
	return MCPDeps{
		Agent:  wf,
		Memory: newMockMemoryStore(),
		DB:     &mockSchemaSource{schema: "Table 'students':\n  Columns: name\n  Detailed: name (TEXT)"},
	}, wf
}

// --- tests ---

func TestMCPTool_AskSQL(t *testing.T) {
	deps, wf := newTestMCPDeps()
	wf.startState = agent.State{Intent: agent.IntentSQL, Query: "SELECT name FROM students", Success: true}
	handler := mcpAsk(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"username": "alice",
		"question": "list students",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var resp ApprovalResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if resp.Checkpoint == "" {
		t.Fatal("no checkpoint in ask response")
	}
	if _, err := agent.DecodeCheckpoint(resp.Checkpoint); err != nil {
		t.Errorf("checkpoint does not decode: %v", err)
	}
}

func TestMCPTool_AskMissingQuestion(t *testing.T) {
	deps, _ := newTestMCPDeps()
	handler := mcpAsk(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"username": "alice",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("missing question should be a tool error")
	}
}

func TestMCPTool_ApproveRoundTrip(t *testing.T) {
	deps, wf := newTestMCPDeps()
	handler := mcpApprove(deps)

	token, err := agent.EncodeCheckpoint(agent.State{
		Username: "alice",
		Question: "who is the top student",
		Intent:   agent.IntentSQL,
		Query:    "SELECT name FROM students",
		Success:  true,
	})
	if err != nil {
		t.Fatalf("EncodeCheckpoint: %v", err)
	}

	result, err := handler(context.Background(), makeCallToolRequest("approve_query", map[string]interface{}{
		"checkpoint": token,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var resp QueryResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if resp.Answer != "Alice has the highest marks." {
		t.Errorf("answer = %q", resp.Answer)
	}
	if wf.approved == nil {
		t.Fatal("workflow never approved")
	}
}

func TestMCPTool_ApproveBadCheckpoint(t *testing.T) {
	deps, _ := newTestMCPDeps()
	handler := mcpApprove(deps)

	result, err := handler(context.Background(), makeCallToolRequest("approve_query", map[string]interface{}{
		"checkpoint": "not-hex",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("bad checkpoint should be a tool error")
	}
}

func TestMCPTool_MemoryCommand(t *testing.T) {
	deps, _ := newTestMCPDeps()
	handler := mcpMemoryCommand(deps)

	result, err := handler(context.Background(), makeCallToolRequest("memory_command", map[string]interface{}{
		"username": "alice",
		"command":  "/summary",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	result, err = handler(context.Background(), makeCallToolRequest("memory_command", map[string]interface{}{
		"username": "alice",
		"command":  "/bogus",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("unknown command should be a tool error")
	}
}

func TestMCPResource_Schema(t *testing.T) {
	deps, _ := newTestMCPDeps()
	handler := mcpResourceSchema(deps)

	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "askdb://schema"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("contents = %d, want 1", len(contents))
	}
	text := contents[0].(mcp.TextResourceContents).Text
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		t.Fatalf("parsing schema json: %v", err)
	}
	if _, ok := parsed["students"]; !ok {
		t.Errorf("schema missing students table: %s", text)
	}
}
