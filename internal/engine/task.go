// Package engine implements the task execution engine: the per-task state
// machine, the turn loop that alternates between model streaming and tool
// execution, and the executor that owns the in-memory task registry.
package engine

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taskloop/taskloop/internal/config"
	"github.com/taskloop/taskloop/internal/store"
	"github.com/taskloop/taskloop/internal/tools"
)

// TaskState is the lifecycle state of a task.
type TaskState string

const (
	StateSubmitted     TaskState = "submitted"
	StateWorking       TaskState = "working"
	StateInputRequired TaskState = "input-required"
	StateCompleted     TaskState = "completed"
	StateCanceled      TaskState = "canceled"
	StateFailed        TaskState = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s TaskState) Terminal() bool {
	switch s {
	case StateCompleted, StateCanceled, StateFailed:
		return true
	}
	return false
}

// ToolCallRecord tracks one tool call from request to settlement.
type ToolCallRecord struct {
	CallID    string           `json:"call_id"`
	Name      string           `json:"name"`
	Arguments string           `json:"arguments"`
	Status    tools.CallStatus `json:"status"`
	Result    string           `json:"result,omitempty"`
	Err       string           `json:"error,omitempty"`
}

// Task is one resumable unit of agent work. Its state is mutated only by
// its own turn loop and by explicit cancellation through the executor.
type Task struct {
	ID        string
	ContextID string
	Settings  config.AgentSettings
	CreatedAt time.Time

	mu        sync.Mutex
	state     TaskState
	history   []store.Message
	pending   map[string]*ToolCallRecord
	updatedAt time.Time

	// msgCh absorbs follow-up user messages while the turn loop runs.
	msgCh chan store.Message

	session Session
}

func newTask(id, contextID string, settings config.AgentSettings, session Session) *Task {
	now := time.Now()
	return &Task{
		ID:        id,
		ContextID: contextID,
		Settings:  settings,
		CreatedAt: now,
		state:     StateSubmitted,
		pending:   make(map[string]*ToolCallRecord),
		updatedAt: now,
		msgCh:     make(chan store.Message, 8),
		session:   session,
	}
}

// State returns the current lifecycle state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// setState transitions the task unless it is already terminal. Terminal
// states are sticky; a transition attempt against one is a no-op and
// returns false.
func (t *Task) setState(s TaskState) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return false
	}
	t.state = s
	t.updatedAt = time.Now()
	return true
}

// appendHistory records a message on the task's conversation history.
func (t *Task) appendHistory(msg store.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, msg)
	t.updatedAt = time.Now()
}

// History returns a copy of the conversation history.
func (t *Task) History() []store.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]store.Message, len(t.history))
	copy(out, t.history)
	return out
}

// addPending registers scheduled tool calls.
func (t *Task) addPending(records []*ToolCallRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range records {
		t.pending[r.CallID] = r
	}
}

// settle resolves one pending call with its result.
func (t *Task) settle(callID string, status tools.CallStatus, result, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.pending[callID]; ok {
		r.Status = status
		r.Result = result
		r.Err = errMsg
		delete(t.pending, callID)
	}
}

// cancelPending marks every unresolved tool call cancelled with a reason
// and returns the affected records.
func (t *Task) cancelPending(reason string) []*ToolCallRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*ToolCallRecord
	for id, r := range t.pending {
		r.Status = tools.StatusCancelled
		r.Err = reason
		out = append(out, r)
		delete(t.pending, id)
	}
	return out
}

// PendingCount returns the number of unresolved tool calls.
func (t *Task) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Snapshot produces the durable representation of the task.
func (t *Task) Snapshot() *store.TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	history := make([]store.Message, len(t.history))
	copy(history, t.history)
	return &store.TaskSnapshot{
		TaskID:    t.ID,
		ContextID: t.ContextID,
		State:     string(t.state),
		Settings:  t.Settings,
		History:   history,
		SavedAt:   time.Now(),
	}
}

func marshalRecords(records []*ToolCallRecord) string {
	if len(records) == 0 {
		return ""
	}
	data, err := json.Marshal(records)
	if err != nil {
		return ""
	}
	return string(data)
}

// Short prefixed identifiers in the style of the rest of the system.

func NewTaskID() string    { return "task-" + uuid.New().String()[:8] }
func NewContextID() string { return "ctx-" + uuid.New().String()[:8] }
func NewMessageID() string { return "msg-" + uuid.New().String()[:8] }
func NewCallID() string    { return "call-" + uuid.New().String()[:8] }
