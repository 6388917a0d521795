package mcp

import mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

func sendMessageTool() *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        "send_message",
		Description: "Send a message to a task. Omit task_id to start a new task; workspace_path is required for a new task.",
		InputSchema: objectSchema(map[string]any{
			"task_id": map[string]any{
				"type":        "string",
				"description": "Task to continue (omit for a new task)",
			},
			"context_id": map[string]any{
				"type":        "string",
				"description": "Conversation context (omit to derive)",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The message content",
			},
			"workspace_path": map[string]any{
				"type":        "string",
				"description": "Workspace directory for a new task",
			},
		}, "content"),
	}
}

func getTaskTool() *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        "get_task",
		Description: "Fetch a task's state and conversation history.",
		InputSchema: objectSchema(map[string]any{
			"task_id": map[string]any{
				"type":        "string",
				"description": "Task identifier",
			},
		}, "task_id"),
	}
}

func cancelTaskTool() *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        "cancel_task",
		Description: "Cancel a running task. Fails on tasks that already finished.",
		InputSchema: objectSchema(map[string]any{
			"task_id": map[string]any{
				"type":        "string",
				"description": "Task identifier",
			},
		}, "task_id"),
	}
}

func contextHistoryTool() *mcpsdk.Tool {
	return &mcpsdk.Tool{
		Name:        "context_history",
		Description: "Fetch the persisted message log of a conversation context.",
		InputSchema: objectSchema(map[string]any{
			"context_id": map[string]any{
				"type":        "string",
				"description": "Context identifier",
			},
		}, "context_id"),
	}
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
