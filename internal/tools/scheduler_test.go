package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// fakeTool is an InvokableTool controlled by the test.
type fakeTool struct {
	name   string
	output string
	err    error
	block  chan struct{} // when non-nil, InvokableRun waits for close or ctx
}

func (t *fakeTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: t.name, Desc: "fake"}, nil
}

func (t *fakeTool) InvokableRun(ctx context.Context, _ string, _ ...tool.Option) (string, error) {
	if t.block != nil {
		select {
		case <-t.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return t.output, t.err
}

func newTestRegistry(t *testing.T, tls ...tool.InvokableTool) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, tl := range tls {
		if err := r.Register(context.Background(), tl); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return r
}

func TestScheduleSettlesAllCalls(t *testing.T) {
	reg := newTestRegistry(t,
		&fakeTool{name: "ok", output: "done"},
		&fakeTool{name: "boom", err: fmt.Errorf("exploded")},
	)
	s := NewPoolScheduler(reg)

	results := s.Schedule(context.Background(), []Call{
		{ID: "call-1", Name: "ok", Arguments: "{}"},
		{ID: "call-2", Name: "boom", Arguments: "{}"},
		{ID: "call-3", Name: "missing", Arguments: "{}"},
	})

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Status != StatusSuccess || results[0].Output != "done" {
		t.Errorf("result[0] = %+v, want success/done", results[0])
	}
	if results[1].Status != StatusError || results[1].Err != "exploded" {
		t.Errorf("result[1] = %+v, want error/exploded", results[1])
	}
	if results[2].Status != StatusError {
		t.Errorf("result[2] = %+v, want error for unknown tool", results[2])
	}
}

func TestScheduleCancellation(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	reg := newTestRegistry(t, &fakeTool{name: "slow", block: block, output: "never"})
	s := NewPoolScheduler(reg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	results := s.Schedule(ctx, []Call{{ID: "call-1", Name: "slow", Arguments: "{}"}})
	if results[0].Status != StatusCancelled {
		t.Fatalf("status = %q, want cancelled", results[0].Status)
	}
	if !Cancelled(results) {
		t.Error("Cancelled should report true for an all-cancelled batch")
	}
}

func TestCancelledHelper(t *testing.T) {
	if Cancelled(nil) {
		t.Error("empty batch must not count as cancelled")
	}
	mixed := []Result{
		{Status: StatusCancelled},
		{Status: StatusSuccess},
	}
	if Cancelled(mixed) {
		t.Error("mixed batch must not count as cancelled")
	}
}

func TestRegistryOrderAndReplace(t *testing.T) {
	reg := newTestRegistry(t,
		&fakeTool{name: "a"},
		&fakeTool{name: "b"},
	)
	if err := reg.Register(context.Background(), &fakeTool{name: "a", output: "v2"}); err != nil {
		t.Fatalf("re-register: %v", err)
	}

	names := reg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("names = %v, want [a b]", names)
	}

	tl, ok := reg.Get("a")
	if !ok {
		t.Fatal("tool a missing")
	}
	out, err := tl.InvokableRun(context.Background(), "{}")
	if err != nil || out != "v2" {
		t.Errorf("got %q/%v, want v2", out, err)
	}
}

func TestFileToolsRoundTrip(t *testing.T) {
	ws := t.TempDir()
	ctx := WithWorkspace(context.Background(), ws)

	write := NewWriteFileTool()
	args, _ := json.Marshal(writeFileInput{Path: "sub/hello.txt", Content: "line1\nline2\nline3"})
	if _, err := write.InvokableRun(ctx, string(args)); err != nil {
		t.Fatalf("write_file: %v", err)
	}

	read := NewReadFileTool()
	args, _ = json.Marshal(readFileInput{Path: "sub/hello.txt", Offset: 1, Limit: 1})
	out, err := read.InvokableRun(ctx, string(args))
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	var result readFileOutput
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if result.Content != "line2" {
		t.Errorf("content = %q, want line2", result.Content)
	}
	if result.Lines != 3 {
		t.Errorf("lines = %d, want 3", result.Lines)
	}

	list := NewListDirTool()
	out, err = list.InvokableRun(ctx, `{"path": "."}`)
	if err != nil {
		t.Fatalf("list_dir: %v", err)
	}
	var dir listDirOutput
	if err := json.Unmarshal([]byte(out), &dir); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(dir.Entries) != 1 || dir.Entries[0] != "sub/" {
		t.Errorf("entries = %v, want [sub/]", dir.Entries)
	}
}

func TestFileToolsRejectWorkspaceEscape(t *testing.T) {
	ctx := WithWorkspace(context.Background(), t.TempDir())

	read := NewReadFileTool()
	if _, err := read.InvokableRun(ctx, `{"path": "../outside.txt"}`); err == nil {
		t.Fatal("expected error for path escaping the workspace")
	}

	write := NewWriteFileTool()
	if _, err := write.InvokableRun(ctx, `{"path": "../../etc/owned", "content": "x"}`); err == nil {
		t.Fatal("expected error for path escaping the workspace")
	}
}

func TestResolvePathWithoutWorkspace(t *testing.T) {
	if _, err := resolvePath(context.Background(), "relative.txt"); err == nil {
		t.Fatal("relative path without workspace should fail")
	}
	got, err := resolvePath(context.Background(), "/tmp/abs.txt")
	if err != nil || got != "/tmp/abs.txt" {
		t.Errorf("got %q/%v, want /tmp/abs.txt", got, err)
	}
}
