package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// CompleteTool is the model's way of declaring a task fully done. The engine
// treats a successful call as the completion signal; the tool itself only
// echoes the summary back.
type CompleteTool struct{}

func NewCompleteTool() *CompleteTool { return &CompleteTool{} }

func completeSpec() *ToolSpec {
	return &ToolSpec{
		Name:        "task_complete",
		Description: "Mark the current task as completed. Call this only when every part of the requested work is done and verified.",
		Parameters: map[string]ParamSpec{
			"summary": {
				Type:        "string",
				Description: "Short summary of what was accomplished",
				Required:    true,
			},
		},
	}
}

type completeInput struct {
	Summary string `json:"summary"`
}

type completeOutput struct {
	Acknowledged bool   `json:"acknowledged"`
	Summary      string `json:"summary"`
}

func (t *CompleteTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return toolSpecToToolInfo(completeSpec()), nil
}

func (t *CompleteTool) InvokableRun(_ context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var input completeInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("task_complete: parse input: %w", err)
	}
	if input.Summary == "" {
		return "", fmt.Errorf("task_complete: summary is required")
	}

	out, err := json.Marshal(completeOutput{Acknowledged: true, Summary: input.Summary})
	if err != nil {
		return "", fmt.Errorf("task_complete: marshal result: %w", err)
	}
	return string(out), nil
}

var _ tool.InvokableTool = (*CompleteTool)(nil)
