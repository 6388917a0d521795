package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/taskloop/taskloop/internal/config"
	"github.com/taskloop/taskloop/internal/events"
	"github.com/taskloop/taskloop/internal/store"
	"github.com/taskloop/taskloop/internal/tools"
)

// Request is one inbound message driving a task.
type Request struct {
	TaskID    string // empty for a brand-new task
	ContextID string // empty to derive from the task or generate fresh
	MessageID string // empty to generate
	Content   string
	// Settings must be present on the first message of a new task and is
	// ignored on every message after that.
	Settings *config.AgentSettings
}

// ExecutorConfig wires the executor's collaborators.
type ExecutorConfig struct {
	Sessions  SessionFactory
	Scheduler tools.Scheduler
	Store     store.Store // nil disables persistence
	Defaults  config.AgentDefaults
	Logger    *slog.Logger
}

// Executor owns the in-memory task registry and is the single entry point
// for driving tasks. All mutable registries are instance state, so
// independent executors never share tasks.
type Executor struct {
	sessions  SessionFactory
	scheduler tools.Scheduler
	store     store.Store
	defaults  config.AgentDefaults
	logger    *slog.Logger

	mu        sync.Mutex
	tasks     map[string]*Task
	executing map[string]context.CancelFunc
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		sessions:  cfg.Sessions,
		scheduler: cfg.Scheduler,
		store:     cfg.Store,
		defaults:  cfg.Defaults,
		logger:    logger.With("component", "executor"),
		tasks:     make(map[string]*Task),
		executing: make(map[string]context.CancelFunc),
	}
}

// CreateTask allocates a fresh task in state submitted, opens its model
// session, registers it, and writes an initial checkpoint when a store is
// configured.
func (e *Executor) CreateTask(ctx context.Context, taskID, contextID string, settings config.AgentSettings) (*Task, error) {
	if !settings.Valid() {
		return nil, fmt.Errorf("%w: workspace path required", ErrSettingsMissing)
	}
	e.applyDefaults(&settings)

	session, err := e.sessions(ctx, settings)
	if err != nil {
		return nil, fmt.Errorf("open model session: %w", err)
	}

	t := newTask(taskID, contextID, settings, session)

	e.mu.Lock()
	e.tasks[taskID] = t
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.Save(ctx, t.Snapshot()); err != nil {
			return nil, fmt.Errorf("initial checkpoint: %w", err)
		}
	}

	e.logger.Info("task created", "task_id", taskID, "context_id", contextID)
	return t, nil
}

// Reconstruct rebuilds a task from a persisted snapshot: restores its prior
// state, replays its history into a fresh model session, and registers it.
func (e *Executor) Reconstruct(ctx context.Context, snap *store.TaskSnapshot) (*Task, error) {
	if snap == nil || snap.TaskID == "" || snap.ContextID == "" || snap.State == "" || !snap.Settings.Valid() {
		return nil, ErrMissingPersistedState
	}

	session, err := e.sessions(ctx, snap.Settings)
	if err != nil {
		return nil, fmt.Errorf("open model session: %w", err)
	}
	if ms, ok := session.(*ModelSession); ok {
		ms.Replay(snap.History)
	} else {
		for _, msg := range snap.History {
			session.Push(toSchemaMessage(msg))
		}
	}

	t := newTask(snap.TaskID, snap.ContextID, snap.Settings, session)
	t.state = TaskState(snap.State)
	t.history = append(t.history, snap.History...)

	e.mu.Lock()
	e.tasks[snap.TaskID] = t
	e.mu.Unlock()

	e.logger.Info("task reconstructed", "task_id", snap.TaskID, "state", snap.State)
	return t, nil
}

// Execute handles one inbound message. The request context is the
// invocation's cancellation token: the transport cancels it when the client
// disconnects, which aborts model streaming and tool waiting.
//
// Errors from inside the turn loop are converted to published status events
// and never returned; only pre-loop failures (missing settings, store
// errors) surface to the caller, after publishing a failed event.
func (e *Executor) Execute(ctx context.Context, req Request, sink events.Sink) error {
	taskID := req.TaskID
	freshTask := taskID == ""
	if freshTask {
		taskID = NewTaskID()
	}

	t, err := e.resolveTask(ctx, taskID, req, freshTask, sink)
	if err != nil {
		return err
	}

	if t.State().Terminal() {
		// Informational no-op: re-publish the terminal state and stop.
		e.logger.Info("message for terminal task ignored",
			"task_id", t.ID, "state", t.State())
		sink.Status(t.ID, t.ContextID, string(t.State()), "task already finished", true)
		return nil
	}

	msg := store.Message{
		ID:      req.MessageID,
		Role:    "user",
		Content: req.Content,
		Ts:      time.Now(),
	}
	if msg.ID == "" {
		msg.ID = NewMessageID()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if _, running := e.executing[t.ID]; running {
		e.mu.Unlock()
		// A turn loop is already active for this task. Feed the message
		// into it instead of starting a second loop.
		return e.feedMessage(ctx, t, msg)
	}
	e.executing[t.ID] = cancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.executing, t.ID)
		e.mu.Unlock()
	}()

	if err := e.runLoop(loopCtx, t, msg, sink); err != nil {
		e.handleLoopError(t, err, sink)
	}

	e.checkpoint(context.WithoutCancel(ctx), t, sink)
	return nil
}

// resolveTask locates the request's task: in memory, from the store, or by
// creating it when the first message of a new task carries settings.
func (e *Executor) resolveTask(ctx context.Context, taskID string, req Request, freshTask bool, sink events.Sink) (*Task, error) {
	e.mu.Lock()
	t := e.tasks[taskID]
	e.mu.Unlock()
	if t != nil {
		return t, nil
	}

	if !freshTask && e.store != nil {
		snap, err := e.store.Load(ctx, taskID)
		if err != nil {
			sink.Status(taskID, req.ContextID, string(StateFailed),
				"failed to load task: "+err.Error(), true)
			return nil, fmt.Errorf("load task %s: %w", taskID, err)
		}
		if snap != nil {
			return e.Reconstruct(ctx, snap)
		}
	}

	if req.Settings == nil {
		sink.Status(taskID, req.ContextID, string(StateFailed),
			"agent settings required on the first message of a new task", true)
		return nil, fmt.Errorf("task %s: %w", taskID, ErrSettingsMissing)
	}

	contextID := req.ContextID
	if contextID == "" {
		contextID = NewContextID()
	}
	return e.CreateTask(ctx, taskID, contextID, *req.Settings)
}

// feedMessage delivers a follow-up message to the running loop and returns
// once it has been absorbed.
func (e *Executor) feedMessage(ctx context.Context, t *Task, msg store.Message) error {
	select {
	case t.msgCh <- msg:
		e.logger.Debug("message absorbed into running loop", "task_id", t.ID, "message_id", msg.ID)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrExecutionAborted, ctx.Err())
	}
}

// CancelTask cancels a task. Idempotent: unknown tasks publish a failed
// event, terminal tasks re-publish their current state. Failures on this
// path become failed status events rather than returned errors.
func (e *Executor) CancelTask(ctx context.Context, taskID string, sink events.Sink) {
	e.mu.Lock()
	t := e.tasks[taskID]
	cancel := e.executing[taskID]
	e.mu.Unlock()

	if t == nil {
		e.logger.Warn("cancel for unknown task", "task_id", taskID)
		sink.Status(taskID, "", string(StateFailed), "task not found: "+taskID, true)
		return
	}

	if state := t.State(); state.Terminal() {
		sink.Status(t.ID, t.ContextID, string(state), "task already finished", true)
		return
	}

	cancelled := t.cancelPending("canceled by user")
	for _, r := range cancelled {
		sink.Tool(t.ID, t.ContextID, events.ToolActivityPayload{
			Status: events.ToolStatusCancelled,
			CallID: r.CallID,
			Name:   r.Name,
			Error:  "canceled by user",
		})
	}

	t.setState(StateCanceled)
	sink.Status(t.ID, t.ContextID, string(StateCanceled), "task canceled", true)

	// Abort the running loop, if any; its final events are suppressed by
	// terminal-state stickiness.
	if cancel != nil {
		cancel()
	}

	e.checkpoint(context.WithoutCancel(ctx), t, sink)
}

// checkpoint persists the task snapshot. Persistence failures are surfaced
// as events and logs; the in-memory state stays authoritative.
func (e *Executor) checkpoint(ctx context.Context, t *Task, sink events.Sink) {
	if e.store == nil {
		return
	}
	if err := e.store.Save(ctx, t.Snapshot()); err != nil {
		e.logger.Error("checkpoint failed", "task_id", t.ID, "error", err)
		sink.Status(t.ID, t.ContextID, string(t.State()),
			"checkpoint failed: "+err.Error(), false)
	}
}

// GetTask returns a registered task.
func (e *Executor) GetTask(taskID string) (*Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrTaskNotFound)
	}
	return t, nil
}

// ListTasks returns every registered task, ordered by creation time.
func (e *Executor) ListTasks() []*Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ContextHistory returns the persisted message log of a context.
func (e *Executor) ContextHistory(ctx context.Context, contextID string) ([]store.Message, error) {
	if e.store == nil {
		return nil, nil
	}
	return e.store.ContextHistory(ctx, contextID)
}

// Evict drops checkpointed terminal tasks from the in-memory registry and
// returns how many were removed. Running or non-terminal tasks stay.
func (e *Executor) Evict(ctx context.Context) int {
	e.mu.Lock()
	var victims []*Task
	for id, t := range e.tasks {
		if _, running := e.executing[id]; running {
			continue
		}
		if t.State().Terminal() {
			victims = append(victims, t)
		}
	}
	e.mu.Unlock()

	evicted := 0
	for _, t := range victims {
		if e.store != nil {
			if err := e.store.Save(ctx, t.Snapshot()); err != nil {
				e.logger.Warn("skipping eviction, checkpoint failed", "task_id", t.ID, "error", err)
				continue
			}
		}
		e.mu.Lock()
		delete(e.tasks, t.ID)
		e.mu.Unlock()
		evicted++
	}
	if evicted > 0 {
		e.logger.Info("evicted terminal tasks", "count", evicted)
	}
	return evicted
}

func (e *Executor) applyDefaults(settings *config.AgentSettings) {
	if settings.SystemPrompt == "" {
		settings.SystemPrompt = e.defaults.SystemPrompt
	}
	if settings.MaxTurns == 0 {
		settings.MaxTurns = e.defaults.MaxTurns
	}
}
