package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/taskloop/taskloop/internal/config"
	"github.com/taskloop/taskloop/internal/events"
	"github.com/taskloop/taskloop/internal/store"
	"github.com/taskloop/taskloop/internal/tools"
)

// fakeSession scripts the model side of a conversation. Each call to Stream
// plays the next scripted chunk sequence.
type fakeSession struct {
	mu      sync.Mutex
	pushed  []*schema.Message
	scripts [][]*schema.Message
	calls   int
}

func (s *fakeSession) Push(m *schema.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pushed = append(s.pushed, m)
}

func (s *fakeSession) Stream(_ context.Context) (*schema.StreamReader[*schema.Message], error) {
	s.mu.Lock()
	var script []*schema.Message
	if s.calls < len(s.scripts) {
		script = s.scripts[s.calls]
	}
	s.calls++
	s.mu.Unlock()

	sr, sw := schema.Pipe[*schema.Message](len(script) + 1)
	go func() {
		defer sw.Close()
		for _, m := range script {
			if sw.Send(m, nil) {
				return
			}
		}
	}()
	return sr, nil
}

func (s *fakeSession) streamCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func contentChunk(text string) *schema.Message {
	return &schema.Message{Role: schema.Assistant, Content: text}
}

func toolCallChunk(id, name, args string) *schema.Message {
	return &schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{{
			ID:       id,
			Function: schema.FunctionCall{Name: name, Arguments: args},
		}},
	}
}

func successScheduler(output string) tools.Scheduler {
	return tools.FuncScheduler(func(_ context.Context, calls []tools.Call) []tools.Result {
		out := make([]tools.Result, len(calls))
		for i, c := range calls {
			out[i] = tools.Result{Call: c, Status: tools.StatusSuccess, Output: output}
		}
		return out
	})
}

func newTestExecutor(session *fakeSession, scheduler tools.Scheduler, st store.Store) *Executor {
	return NewExecutor(ExecutorConfig{
		Sessions: func(context.Context, config.AgentSettings) (Session, error) {
			return session, nil
		},
		Scheduler: scheduler,
		Store:     st,
		Logger:    slog.Default(),
	})
}

func testSettings() *config.AgentSettings {
	return &config.AgentSettings{WorkspacePath: "/ws"}
}

func TestExecuteSimpleTurn(t *testing.T) {
	session := &fakeSession{scripts: [][]*schema.Message{
		{contentChunk("hel"), contentChunk("lo")},
	}}
	e := newTestExecutor(session, successScheduler(""), nil)
	sink := events.NewCollectorSink()

	req := Request{TaskID: "task-1", ContextID: "ctx-1", Content: "hello", Settings: testSettings()}
	if err := e.Execute(context.Background(), req, sink); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	updates := sink.StatusUpdates()
	if len(updates) != 2 {
		t.Fatalf("got %d status updates, want 2: %+v", len(updates), updates)
	}
	if updates[0].State != string(StateWorking) || updates[0].Final {
		t.Errorf("first update = %+v, want non-final working", updates[0])
	}
	if updates[1].State != string(StateInputRequired) || !updates[1].Final {
		t.Errorf("second update = %+v, want final input-required", updates[1])
	}
	for _, e := range sink.Events() {
		if e.Type == events.EventStatusUpdate && (e.TaskID != "task-1" || e.ContextID != "ctx-1") {
			t.Errorf("status event tagged %q/%q, want task-1/ctx-1", e.TaskID, e.ContextID)
		}
	}

	task, err := e.GetTask("task-1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	hist := task.History()
	if len(hist) != 2 || hist[0].Role != "user" || hist[1].Role != "agent" {
		t.Fatalf("history = %+v, want user then agent", hist)
	}
	if hist[1].Content != "hello" {
		t.Errorf("agent content = %q, want concatenated chunks", hist[1].Content)
	}
}

func TestExecuteToolRoundTrip(t *testing.T) {
	session := &fakeSession{scripts: [][]*schema.Message{
		{toolCallChunk("call-1", "read_file", `{"path":"a.txt"}`)},
		{contentChunk("file says hi")},
	}}
	e := newTestExecutor(session, successScheduler("contents"), nil)
	sink := events.NewCollectorSink()

	req := Request{TaskID: "task-1", Content: "read it", Settings: testSettings()}
	if err := e.Execute(context.Background(), req, sink); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	task, _ := e.GetTask("task-1")
	hist := task.History()
	// user, agent(tool calls), agent(tool results), agent(content)
	if len(hist) != 4 {
		t.Fatalf("history length = %d, want 4: %+v", len(hist), hist)
	}
	if hist[2].ToolResults == "" {
		t.Error("tool results missing from history")
	}
	if !strings.Contains(hist[2].ToolResults, "contents") {
		t.Errorf("tool results = %q, want to contain output", hist[2].ToolResults)
	}

	// Tool results must enter history before the final status event.
	sawResult := false
	for _, ev := range sink.Events() {
		if ev.Type == events.EventToolActivity {
			if p, ok := events.GetToolActivityPayload(ev); ok && p.Status == events.ToolStatusCompleted {
				sawResult = true
			}
		}
		if ev.Type == events.EventStatusUpdate {
			if p, ok := events.GetStatusUpdatePayload(ev); ok && p.Final && !sawResult {
				t.Fatal("final status published before tool completion event")
			}
		}
	}
	if !sawResult {
		t.Fatal("no tool completion event published")
	}

	// The model session saw the tool result fed back.
	foundToolMsg := false
	for _, m := range session.pushed {
		if m.Role == schema.Tool && m.ToolCallID == "call-1" && m.Content == "contents" {
			foundToolMsg = true
		}
	}
	if !foundToolMsg {
		t.Error("tool result was not fed back to the model session")
	}

	if task.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0", task.PendingCount())
	}
	if task.State() != StateInputRequired {
		t.Errorf("state = %q, want input-required", task.State())
	}
}

func TestExecuteDisconnectMidToolCall(t *testing.T) {
	session := &fakeSession{scripts: [][]*schema.Message{
		{toolCallChunk("call-1", "slow_tool", "{}")},
	}}
	scheduler := tools.FuncScheduler(func(ctx context.Context, calls []tools.Call) []tools.Result {
		<-ctx.Done()
		out := make([]tools.Result, len(calls))
		for i, c := range calls {
			out[i] = tools.Result{Call: c, Status: tools.StatusCancelled, Err: ctx.Err().Error()}
		}
		return out
	})
	e := newTestExecutor(session, scheduler, nil)
	sink := events.NewCollectorSink()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel() // client disconnects
	}()

	req := Request{TaskID: "task-1", Content: "go", Settings: testSettings()}
	if err := e.Execute(ctx, req, sink); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	task, _ := e.GetTask("task-1")
	if task.State() != StateInputRequired {
		t.Fatalf("state = %q, want input-required after abort", task.State())
	}
	if task.PendingCount() != 0 {
		t.Errorf("pending = %d, want 0 after abort", task.PendingCount())
	}

	finals := 0
	for _, u := range sink.StatusUpdates() {
		if u.Final {
			finals++
			if !strings.Contains(u.Message, "abort") {
				t.Errorf("final message = %q, want abort notice", u.Message)
			}
		}
	}
	if finals != 1 {
		t.Fatalf("final status events = %d, want exactly 1", finals)
	}
}

func TestExecuteSecondMessageAbsorbed(t *testing.T) {
	gate := make(chan struct{})
	session := &fakeSession{scripts: [][]*schema.Message{
		{toolCallChunk("call-1", "gated", "{}")},
		{contentChunk("first done")},
		{contentChunk("second done")},
	}}
	scheduler := tools.FuncScheduler(func(_ context.Context, calls []tools.Call) []tools.Result {
		<-gate
		out := make([]tools.Result, len(calls))
		for i, c := range calls {
			out[i] = tools.Result{Call: c, Status: tools.StatusSuccess, Output: "ok"}
		}
		return out
	})
	e := newTestExecutor(session, scheduler, nil)
	sink := events.NewCollectorSink()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		req := Request{TaskID: "task-1", Content: "first", Settings: testSettings()}
		if err := e.Execute(context.Background(), req, sink); err != nil {
			t.Errorf("Execute: %v", err)
		}
	}()

	// Wait until the first loop is executing and blocked on the tool.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e.mu.Lock()
		_, running := e.executing["task-1"]
		e.mu.Unlock()
		if running && session.streamCalls() == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Second message while the loop is running: must be absorbed, not
	// start a concurrent loop.
	req2 := Request{TaskID: "task-1", Content: "second"}
	if err := e.Execute(context.Background(), req2, sink); err != nil {
		t.Fatalf("second Execute: %v", err)
	}

	close(gate)
	wg.Wait()

	task, _ := e.GetTask("task-1")
	var userContents []string
	for _, m := range task.History() {
		if m.Role == "user" {
			userContents = append(userContents, m.Content)
		}
	}
	if len(userContents) != 2 || userContents[0] != "first" || userContents[1] != "second" {
		t.Fatalf("user messages = %v, want [first second]", userContents)
	}

	// Both messages were served by the scripted session of the single loop.
	if got := session.streamCalls(); got != 3 {
		t.Errorf("stream calls = %d, want 3", got)
	}

	finals := 0
	for _, u := range sink.StatusUpdates() {
		if u.Final {
			finals++
		}
	}
	if finals != 1 {
		t.Errorf("final status events = %d, want 1", finals)
	}
}

func TestExecuteAllCancelledBatchYields(t *testing.T) {
	session := &fakeSession{scripts: [][]*schema.Message{
		{toolCallChunk("call-1", "needs_approval", "{}")},
	}}
	scheduler := tools.FuncScheduler(func(_ context.Context, calls []tools.Call) []tools.Result {
		out := make([]tools.Result, len(calls))
		for i, c := range calls {
			out[i] = tools.Result{Call: c, Status: tools.StatusCancelled, Err: "rejected"}
		}
		return out
	})
	e := newTestExecutor(session, scheduler, nil)
	sink := events.NewCollectorSink()

	req := Request{TaskID: "task-1", Content: "go", Settings: testSettings()}
	if err := e.Execute(context.Background(), req, sink); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	task, _ := e.GetTask("task-1")
	if task.State() != StateInputRequired {
		t.Fatalf("state = %q, want input-required", task.State())
	}
	// The cancelled batch is still recorded in history.
	found := false
	for _, m := range task.History() {
		if strings.Contains(m.ToolResults, "cancelled") {
			found = true
		}
	}
	if !found {
		t.Error("cancelled results missing from history")
	}
	// Only one stream call: no continuation after an all-cancelled batch.
	if session.streamCalls() != 1 {
		t.Errorf("stream calls = %d, want 1", session.streamCalls())
	}
}

func TestExecuteTaskCompleteTool(t *testing.T) {
	session := &fakeSession{scripts: [][]*schema.Message{
		{toolCallChunk("call-1", "task_complete", `{"summary":"all green"}`)},
	}}
	e := newTestExecutor(session, successScheduler("{}"), nil)
	sink := events.NewCollectorSink()

	req := Request{TaskID: "task-1", Content: "finish up", Settings: testSettings()}
	if err := e.Execute(context.Background(), req, sink); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	task, _ := e.GetTask("task-1")
	if task.State() != StateCompleted {
		t.Fatalf("state = %q, want completed", task.State())
	}
	updates := sink.StatusUpdates()
	last := updates[len(updates)-1]
	if !last.Final || last.State != string(StateCompleted) || last.Message != "all green" {
		t.Errorf("last update = %+v, want final completed with summary", last)
	}
}

func TestTerminalStateIsSticky(t *testing.T) {
	session := &fakeSession{scripts: [][]*schema.Message{
		{contentChunk("never streamed")},
	}}
	e := newTestExecutor(session, successScheduler(""), nil)
	sink := events.NewCollectorSink()

	task, err := e.CreateTask(context.Background(), "task-1", "ctx-1", *testSettings())
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	task.setState(StateCanceled)

	if task.setState(StateWorking) {
		t.Fatal("setState must refuse transitions out of a terminal state")
	}

	req := Request{TaskID: "task-1", Content: "anyone home?"}
	if err := e.Execute(context.Background(), req, sink); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if session.streamCalls() != 0 {
		t.Error("terminal task must not open a model stream")
	}
	updates := sink.StatusUpdates()
	if len(updates) != 1 || updates[0].State != string(StateCanceled) || !updates[0].Final {
		t.Fatalf("updates = %+v, want single final canceled re-publish", updates)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	e := newTestExecutor(&fakeSession{}, successScheduler(""), nil)
	sink := events.NewCollectorSink()

	e.CancelTask(context.Background(), "task-ghost", sink)

	updates := sink.StatusUpdates()
	if len(updates) != 1 {
		t.Fatalf("got %d updates, want 1", len(updates))
	}
	if updates[0].State != string(StateFailed) || !updates[0].Final {
		t.Errorf("update = %+v, want final failed", updates[0])
	}
	if !strings.Contains(updates[0].Message, "task-ghost") {
		t.Errorf("message = %q, want task id reference", updates[0].Message)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	e := newTestExecutor(&fakeSession{}, successScheduler(""), nil)
	sink := events.NewCollectorSink()

	if _, err := e.CreateTask(context.Background(), "task-1", "ctx-1", *testSettings()); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	e.CancelTask(context.Background(), "task-1", sink)
	e.CancelTask(context.Background(), "task-1", sink)

	updates := sink.StatusUpdates()
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	for i, u := range updates {
		if u.State != string(StateCanceled) || !u.Final {
			t.Errorf("update[%d] = %+v, want final canceled", i, u)
		}
	}
}

func TestExecuteWithoutSettingsFails(t *testing.T) {
	e := newTestExecutor(&fakeSession{}, successScheduler(""), nil)
	sink := events.NewCollectorSink()

	err := e.Execute(context.Background(), Request{Content: "hello"}, sink)
	if !errors.Is(err, ErrSettingsMissing) {
		t.Fatalf("err = %v, want ErrSettingsMissing", err)
	}
	updates := sink.StatusUpdates()
	if len(updates) != 1 || updates[0].State != string(StateFailed) || !updates[0].Final {
		t.Fatalf("updates = %+v, want single final failed", updates)
	}
}

func TestReconstructValidation(t *testing.T) {
	e := newTestExecutor(&fakeSession{}, successScheduler(""), nil)

	cases := []*store.TaskSnapshot{
		nil,
		{TaskID: "task-1"},
		{TaskID: "task-1", ContextID: "ctx-1"},
		{TaskID: "task-1", ContextID: "ctx-1", State: "working"},
	}
	for i, snap := range cases {
		if _, err := e.Reconstruct(context.Background(), snap); !errors.Is(err, ErrMissingPersistedState) {
			t.Errorf("case %d: err = %v, want ErrMissingPersistedState", i, err)
		}
	}

	valid := &store.TaskSnapshot{
		TaskID:    "task-1",
		ContextID: "ctx-1",
		State:     string(StateInputRequired),
		Settings:  config.AgentSettings{WorkspacePath: "/ws"},
		History: []store.Message{
			{ID: "msg-1", Role: "user", Content: "hi"},
			{ID: "msg-2", Role: "agent", Content: "hello"},
		},
	}
	task, err := e.Reconstruct(context.Background(), valid)
	if err != nil {
		t.Fatalf("Reconstruct: %v", err)
	}
	if task.State() != StateInputRequired {
		t.Errorf("state = %q, want input-required", task.State())
	}
	if len(task.History()) != 2 {
		t.Errorf("history length = %d, want 2", len(task.History()))
	}
}

func TestMergeToolCallFragments(t *testing.T) {
	idx := 0
	acc := mergeToolCall(nil, schema.ToolCall{
		Index:    &idx,
		ID:       "call-1",
		Function: schema.FunctionCall{Name: "read_file", Arguments: `{"pa`},
	})
	acc = mergeToolCall(acc, schema.ToolCall{
		Index:    &idx,
		Function: schema.FunctionCall{Arguments: `th":"a.txt"}`},
	})
	if len(acc) != 1 {
		t.Fatalf("got %d calls, want 1", len(acc))
	}
	if acc[0].Function.Arguments != `{"path":"a.txt"}` {
		t.Errorf("arguments = %q", acc[0].Function.Arguments)
	}
	if acc[0].Function.Name != "read_file" || acc[0].ID != "call-1" {
		t.Errorf("call = %+v", acc[0])
	}
}
