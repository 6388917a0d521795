package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taskloop/taskloop/internal/engine"
	"github.com/taskloop/taskloop/internal/events"
	"github.com/taskloop/taskloop/internal/gateway/ws"
	"github.com/taskloop/taskloop/internal/store"
)

// TaskView is the wire representation of a task.
type TaskView struct {
	TaskID    string          `json:"task_id"`
	ContextID string          `json:"context_id"`
	State     string          `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	Pending   int             `json:"pending_tool_calls"`
	History   []store.Message `json:"history,omitempty"`
}

// TaskHandler bridges the transport layer to the executor. It serves both
// the WebSocket hub and the HTTP task routes.
type TaskHandler struct {
	executor *engine.Executor
	bus      *events.Bus
	sink     events.Sink
	logger   *slog.Logger
}

// NewTaskHandler creates a handler publishing engine activity on the bus.
func NewTaskHandler(executor *engine.Executor, bus *events.Bus, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		executor: executor,
		bus:      bus,
		sink:     events.NewBusSink(bus),
		logger:   logger.With("component", "gateway"),
	}
}

// SendMessage accepts a message and starts (or feeds) the task's turn loop
// in the background. ctx is the execution's cancellation token; canceling it
// aborts streaming and tool execution for this invocation.
func (h *TaskHandler) SendMessage(ctx context.Context, p ws.SendMessageParams) (ws.SendMessageAck, error) {
	taskID := p.TaskID
	contextID := p.ContextID
	state := string(engine.StateSubmitted)

	if taskID == "" {
		taskID = engine.NewTaskID()
		if contextID == "" {
			contextID = engine.NewContextID()
		}
	} else if t, err := h.executor.GetTask(taskID); err == nil {
		contextID = t.ContextID
		state = string(t.State())
	}

	req := engine.Request{
		TaskID:    taskID,
		ContextID: contextID,
		MessageID: p.MessageID,
		Content:   p.Content,
		Settings:  p.Settings,
	}

	go func() {
		if err := h.executor.Execute(ctx, req, h.sink); err != nil {
			h.logger.Warn("execute rejected", "task_id", taskID, "error", err)
		}
	}()

	return ws.SendMessageAck{TaskID: taskID, ContextID: contextID, State: state}, nil
}

// CancelTask cancels a task. Terminal tasks return ErrAlreadyFinal.
func (h *TaskHandler) CancelTask(ctx context.Context, taskID string) error {
	t, err := h.executor.GetTask(taskID)
	if err != nil {
		return err
	}
	if t.State().Terminal() {
		return fmt.Errorf("task %s: %w", taskID, engine.ErrAlreadyFinal)
	}
	h.executor.CancelTask(ctx, taskID, h.sink)
	return nil
}

// GetTask returns the task view, history included.
func (h *TaskHandler) GetTask(taskID string) (any, error) {
	t, err := h.executor.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	return taskView(t, true), nil
}

// TaskEvents returns the task's recent events from the bus ring buffer.
func (h *TaskHandler) TaskEvents(taskID string, limit int) []events.Event {
	return h.bus.TaskHistory(taskID, limit)
}

// List returns every registered task, oldest first, without histories.
func (h *TaskHandler) List() []TaskView {
	tasks := h.executor.ListTasks()
	out := make([]TaskView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskView(t, false))
	}
	return out
}

// ContextHistory returns the persisted message log of a context.
func (h *TaskHandler) ContextHistory(ctx context.Context, contextID string) ([]store.Message, error) {
	return h.executor.ContextHistory(ctx, contextID)
}

func taskView(t *engine.Task, withHistory bool) TaskView {
	v := TaskView{
		TaskID:    t.ID,
		ContextID: t.ContextID,
		State:     string(t.State()),
		CreatedAt: t.CreatedAt,
		Pending:   t.PendingCount(),
	}
	if withHistory {
		v.History = t.History()
	}
	return v
}

var _ ws.TaskHandler = (*TaskHandler)(nil)
