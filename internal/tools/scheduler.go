package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// CallStatus is the settlement status of one scheduled tool call.
type CallStatus string

const (
	StatusPending   CallStatus = "pending"
	StatusSuccess   CallStatus = "success"
	StatusError     CallStatus = "error"
	StatusCancelled CallStatus = "cancelled"
)

// Call is one tool invocation requested by the model.
type Call struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// Result is the settled outcome of a Call. Every scheduled call settles
// exactly once: success, error, or cancelled.
type Result struct {
	Call   Call
	Status CallStatus
	Output string
	Err    string
}

// Cancelled reports whether every result in the batch was cancelled.
func Cancelled(results []Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Status != StatusCancelled {
			return false
		}
	}
	return true
}

// Scheduler runs a batch of tool calls and blocks until each one settles.
type Scheduler interface {
	Schedule(ctx context.Context, calls []Call) []Result
}

// PoolScheduler executes each call of a batch in its own goroutine against a
// tool registry. Context cancellation settles every unfinished call as
// cancelled without waiting for the underlying invocation to return.
type PoolScheduler struct {
	registry *Registry
}

// NewPoolScheduler creates a scheduler bound to a registry.
func NewPoolScheduler(registry *Registry) *PoolScheduler {
	return &PoolScheduler{registry: registry}
}

func (s *PoolScheduler) Schedule(ctx context.Context, calls []Call) []Result {
	results := make([]Result, len(calls))
	done := make([]chan Result, len(calls))

	for i, call := range calls {
		done[i] = make(chan Result, 1)
		go s.run(ctx, call, done[i])
	}

	for i, call := range calls {
		select {
		case r := <-done[i]:
			results[i] = r
		case <-ctx.Done():
			results[i] = Result{Call: call, Status: StatusCancelled, Err: ctx.Err().Error()}
		}
	}
	return results
}

func (s *PoolScheduler) run(ctx context.Context, call Call, out chan<- Result) {
	t, ok := s.registry.Get(call.Name)
	if !ok {
		out <- Result{Call: call, Status: StatusError, Err: fmt.Sprintf("unknown tool %q", call.Name)}
		return
	}

	output, err := t.InvokableRun(ctx, call.Arguments)
	if err != nil {
		if ctx.Err() != nil {
			out <- Result{Call: call, Status: StatusCancelled, Err: ctx.Err().Error()}
			return
		}
		out <- Result{Call: call, Status: StatusError, Err: err.Error()}
		return
	}
	out <- Result{Call: call, Status: StatusSuccess, Output: output}
}

// FuncScheduler adapts a function to the Scheduler interface. Test helper.
type FuncScheduler func(ctx context.Context, calls []Call) []Result

func (f FuncScheduler) Schedule(ctx context.Context, calls []Call) []Result {
	return f(ctx, calls)
}

// Registry holds the invokable tools available to tasks.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tool.InvokableTool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool.InvokableTool)}
}

// Register adds a tool under its info name. Re-registering a name replaces
// the previous tool.
func (r *Registry) Register(ctx context.Context, t tool.InvokableTool) error {
	info, err := t.Info(ctx)
	if err != nil {
		return fmt.Errorf("tool info: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[info.Name]; !exists {
		r.order = append(r.order, info.Name)
	}
	r.tools[info.Name] = t
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (tool.InvokableTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns all registered tools in registration order.
func (r *Registry) Tools() []tool.InvokableTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tool.InvokableTool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Infos returns the tool infos for model binding, in registration order.
func (r *Registry) Infos(ctx context.Context) ([]*schema.ToolInfo, error) {
	ts := r.Tools()
	out := make([]*schema.ToolInfo, 0, len(ts))
	for _, t := range ts {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		out = append(out, info)
	}
	return out, nil
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
