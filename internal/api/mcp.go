package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/askdb/internal/agent"
	"github.com/kalambet/askdb/internal/database"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Agent  Workflow
	Memory MemoryStore
	DB     SchemaSource
}

// NewMCPServer creates an MCP server exposing the query workflow and
// memory commands as tools, plus the database schema as a resource.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"askdb",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("askdb — natural language SQL agent with per-user conversational memory and a human approval step before any query runs."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a natural language question. Chat questions get an immediate answer; data questions return a synthesized SQL query and a checkpoint that must be approved before execution."),
			mcp.WithString("username", mcp.Description("User whose conversation memory to use"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The natural language question"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("approve_query",
			mcp.WithDescription("Approve a pending query checkpoint: executes the SQL and returns the natural language answer."),
			mcp.WithString("checkpoint", mcp.Description("Checkpoint token from a previous ask or regenerate_query call"), mcp.Required()),
			mcp.WithString("feedback", mcp.Description("Optional feedback carried into answer synthesis")),
		),
		mcpApprove(deps),
	)

	s.AddTool(
		mcp.NewTool("regenerate_query",
			mcp.WithDescription("Regenerate the SQL for a pending checkpoint using reviewer feedback. Returns a new checkpoint for another review round."),
			mcp.WithString("checkpoint", mcp.Description("Checkpoint token from a previous ask or regenerate_query call"), mcp.Required()),
			mcp.WithString("feedback", mcp.Description("What to change about the query"), mcp.Required()),
		),
		mcpRegenerate(deps),
	)

	s.AddTool(
		mcp.NewTool("memory_command",
			mcp.WithDescription("Run a conversation memory command: /history, /clear, /entities, /summary, or /users."),
			mcp.WithString("username", mcp.Description("User whose memory to operate on"), mcp.Required()),
			mcp.WithString("command", mcp.Description("The slash command"), mcp.Required()),
		),
		mcpMemoryCommand(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"askdb://schema",
			"Database Schema",
			mcp.WithResourceDescription("Tables and typed columns of the query target as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSchema(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		username, err := req.RequireString("username")
		if err != nil {
			return mcpError("username is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		s := deps.Agent.Start(ctx, username, question)
		if !s.Success {
			return mcpError(s.Answer), nil
		}

		if s.Intent == agent.IntentChat {
			return mcpJSON(queryResponse(s))
		}

		token, err := agent.EncodeCheckpoint(s)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding checkpoint: %v", err)), nil
		}
		return mcpJSON(ApprovalResponse{
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

func mcpApprove(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		token, err := req.RequireString("checkpoint")
		if err != nil {
			return mcpError("checkpoint is required"), nil
		}

		s, err := agent.DecodeCheckpoint(token)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid checkpoint: %v", err)), nil
		}
		if feedback := req.GetString("feedback", ""); feedback != "" {
			s.Feedback = feedback
		}

		return mcpJSON(queryResponse(deps.Agent.Approve(ctx, s)))
	}
}

func mcpRegenerate(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		token, err := req.RequireString("checkpoint")
		if err != nil {
			return mcpError("checkpoint is required"), nil
		}
		feedback, err := req.RequireString("feedback")
		if err != nil {
			return mcpError("feedback is required"), nil
		}

		s, err := agent.DecodeCheckpoint(token)
		if err != nil {
			return mcpError(fmt.Sprintf("invalid checkpoint: %v", err)), nil
		}

		next := deps.Agent.Regenerate(ctx, s, feedback)
		if !next.Success {
			return mcpError(next.Answer), nil
		}

		newToken, err := agent.EncodeCheckpoint(next)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding checkpoint: %v", err)), nil
		}
		return mcpJSON(ApprovalResponse{
			Question:         next.Question,
			ResolvedQuestion: next.ResolvedQuestion,
			Query:            next.Query,
			Answer:           "Query regenerated. You can approve or provide more feedback.",
			Success:          true,
			Message:          "Please review the new query.",
			Checkpoint:       newToken,
		})
	}
}

func mcpMemoryCommand(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		username, err := req.RequireString("username")
		if err != nil {
			return mcpError("username is required"), nil
		}
		command, err := req.RequireString("command")
		if err != nil {
			return mcpError("command is required"), nil
		}

		resp, err := runMemoryCommand(ctx, deps.Memory, username, command)
		if err != nil {
			return mcpError(fmt.Sprintf("memory command failed: %v", err)), nil
		}
		if !resp.Success {
			return mcpError(resp.Message), nil
		}
		return mcpJSON(resp)
	}
}

func mcpResourceSchema(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		raw, err := deps.DB.Describe(ctx)
		if err != nil {
			return nil, fmt.Errorf("describing schema: %w", err)
		}

		b, err := json.Marshal(database.ParseDescription(raw))
		if err != nil {
			return nil, fmt.Errorf("marshalling schema: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
