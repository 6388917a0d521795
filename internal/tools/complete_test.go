package tools

import (
	"context"
	"encoding/json"
	"testing"
)

func TestCompleteTool(t *testing.T) {
	ctx := context.Background()
	tool := NewCompleteTool()

	info, err := tool.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Name != "task_complete" {
		t.Errorf("name = %q, want task_complete", info.Name)
	}

	out, err := tool.InvokableRun(ctx, `{"summary":"refactored the parser"}`)
	if err != nil {
		t.Fatalf("InvokableRun: %v", err)
	}
	var result completeOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if !result.Acknowledged || result.Summary != "refactored the parser" {
		t.Errorf("result = %+v", result)
	}

	if _, err := tool.InvokableRun(ctx, `{}`); err == nil {
		t.Error("empty summary must be rejected")
	}
}
