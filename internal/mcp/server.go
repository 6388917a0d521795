// Package mcp exposes taskloop's task operations as MCP tools, so MCP
// clients can submit work, follow it, and cancel it.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/taskloop/taskloop/internal/config"
	"github.com/taskloop/taskloop/internal/gateway"
	"github.com/taskloop/taskloop/internal/gateway/ws"
)

// NewServer creates an MCP server bridging the four task operations to the
// gateway task handler.
func NewServer(handler *gateway.TaskHandler) *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "taskloop",
		Version: "0.1.0",
	}, nil)

	server.AddTool(sendMessageTool(), func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args struct {
			TaskID        string `json:"task_id"`
			ContextID     string `json:"context_id"`
			Content       string `json:"content"`
			WorkspacePath string `json:"workspace_path"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return errorResult(err)
		}

		params := ws.SendMessageParams{
			TaskID:    args.TaskID,
			ContextID: args.ContextID,
			Content:   args.Content,
		}
		if args.WorkspacePath != "" {
			params.Settings = &config.AgentSettings{WorkspacePath: args.WorkspacePath}
		}

		// Detach from the request: the task outlives this MCP call.
		ack, err := handler.SendMessage(context.WithoutCancel(ctx), params)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(ack)
	})

	server.AddTool(getTaskTool(), func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return errorResult(err)
		}
		view, err := handler.GetTask(args.TaskID)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(view)
	})

	server.AddTool(cancelTaskTool(), func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return errorResult(err)
		}
		if err := handler.CancelTask(ctx, args.TaskID); err != nil {
			return errorResult(err)
		}
		return jsonResult(map[string]string{"status": "canceled"})
	})

	server.AddTool(contextHistoryTool(), func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args struct {
			ContextID string `json:"context_id"`
		}
		if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
			return errorResult(err)
		}
		msgs, err := handler.ContextHistory(ctx, args.ContextID)
		if err != nil {
			return errorResult(err)
		}
		return jsonResult(msgs)
	})

	slog.Debug("mcp server ready", "tools", 4)
	return server
}

func jsonResult(v any) (*mcpsdk.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult(err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(data)}},
	}, nil
}

func errorResult(err error) (*mcpsdk.CallToolResult, error) {
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: err.Error()}},
	}, nil
}
