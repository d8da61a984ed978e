package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/canon/internal/content"
	"github.com/kalambet/canon/internal/queue"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Queue  *queue.Queue
	Status *queue.StatusService
}

// NewMCPServer creates an MCP server exposing the build queue as tools.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	if deps.Status == nil {
		deps.Status = queue.NewStatusService(deps.Queue)
	}

	s := server.NewMCPServer(
		"canon",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("canon generates worlds, characters, cultures and technologies for fictional universes."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("create_content",
			mcp.WithDescription("Queue generation of a new world, character, culture or technology. Returns the job id to poll."),
			mcp.WithString("type", mcp.Description("Content type"), mcp.Required(),
				mcp.Enum("world", "character", "culture", "technology")),
			mcp.WithString("universe_id", mcp.Description("Universe to generate into (optional)")),
		),
		mcpCreateContent(deps),
	)

	s.AddTool(
		mcp.NewTool("job_status",
			mcp.WithDescription("Get the status, progress and result of a build job."),
			mcp.WithString("job_id", mcp.Description("Job id returned by create_content"), mcp.Required()),
		),
		mcpJobStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("queue_stats",
			mcp.WithDescription("Count build jobs per state."),
		),
		mcpQueueStats(deps),
	)

	return s
}

func mcpCreateContent(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, err := req.RequireString("type")
		if err != nil {
			return mcpError("type is required"), nil
		}
		t, err := content.ParseType(raw)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		jobID, err := deps.Queue.Submit(ctx, t, req.GetString("universe_id", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to enqueue job: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Queued %s generation as %s", t, jobID)), nil
	}
}

func mcpJobStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}

		st, err := deps.Status.JobStatus(ctx, jobID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get status: %v", err)), nil
		}
		if st == nil {
			return mcpError(fmt.Sprintf("job %s not found", jobID)), nil
		}
		return mcpJSON(st)
	}
}

func mcpQueueStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Status.QueueStats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get stats: %v", err)), nil
		}
		return mcpJSON(stats)
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
