package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/taskloop/taskloop/internal/events"
	"github.com/taskloop/taskloop/internal/models"
	"github.com/taskloop/taskloop/internal/store"
	"github.com/taskloop/taskloop/internal/tools"
)

const defaultMaxTurns = 32

// completeToolName is the tool the model calls to mark a task fully done.
// Any other successful exit leaves the task in input-required, available
// for further user input.
const completeToolName = "task_complete"

// runLoop drives one execute invocation of a task: stream model events,
// batch requested tool calls, schedule them, feed results back, repeat.
// Returns nil when the loop exits to input-required or completed; the
// caller converts errors into published status events.
func (e *Executor) runLoop(ctx context.Context, t *Task, seed store.Message, sink events.Sink) error {
	ctx = tools.WithWorkspace(ctx, t.Settings.WorkspacePath)

	maxTurns := t.Settings.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	t.setState(StateWorking)
	sink.Status(t.ID, t.ContextID, string(StateWorking), "", false)

	t.appendHistory(seed)
	t.session.Push(schema.UserMessage(seed.Content))

	turns := 0
	for {
		// One full turn: model response plus at most one tool round-trip.
		turns++
		if turns > maxTurns {
			return fmt.Errorf("%w after %d turns", ErrMaxTurnsExceeded, maxTurns)
		}

		assistant, err := e.consumeStream(ctx, t, sink)
		if err != nil {
			return err
		}

		t.session.Push(assistant)
		t.appendHistory(store.Message{
			ID:        NewMessageID(),
			Role:      "agent",
			Content:   assistant.Content,
			ToolCalls: marshalToolCalls(assistant.ToolCalls),
			Ts:        time.Now(),
		})

		if len(assistant.ToolCalls) == 0 {
			// The turn is complete. Absorb any follow-up message that
			// arrived while this invocation was running before exiting.
			select {
			case next := <-t.msgCh:
				sink.Status(t.ID, t.ContextID, string(StateWorking), "", false)
				t.appendHistory(next)
				t.session.Push(schema.UserMessage(next.Content))
				turns = 0
				continue
			default:
			}
			break
		}

		results, err := e.runToolBatch(ctx, t, assistant.ToolCalls, sink)
		if err != nil {
			return err
		}

		if tools.Cancelled(results) {
			// The user most likely cancelled an approval; yield back.
			if t.setState(StateInputRequired) {
				sink.Status(t.ID, t.ContextID, string(StateInputRequired), "tool calls cancelled", true)
			}
			return nil
		}

		for _, r := range results {
			if r.Call.Name == completeToolName && r.Status == tools.StatusSuccess {
				if t.setState(StateCompleted) {
					sink.Status(t.ID, t.ContextID, string(StateCompleted), completionMessage(r), true)
				}
				return nil
			}
		}
	}

	if t.setState(StateInputRequired) {
		sink.Status(t.ID, t.ContextID, string(StateInputRequired), "", true)
	}
	return nil
}

// consumeStream pulls the model event stream to completion, forwarding
// content deltas to the sink and accumulating tool call requests into a
// single assistant message. Cancellation is checked at every receive.
func (e *Executor) consumeStream(ctx context.Context, t *Task, sink events.Sink) (*schema.Message, error) {
	sr, err := t.session.Stream(ctx)
	if err != nil {
		return nil, fmt.Errorf("open model stream: %w", models.HandleError(err))
	}
	defer sr.Close()

	var (
		content   strings.Builder
		toolCalls []schema.ToolCall
		started   bool
	)

	for {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecutionAborted, ctx.Err())
		}

		chunk, err := sr.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrExecutionAborted, ctx.Err())
			}
			return nil, fmt.Errorf("model stream: %w", models.HandleError(err))
		}

		if chunk.Content != "" {
			if !started {
				sink.Stream(t.ID, t.ContextID, events.AgentStreamPayload{Phase: events.StreamPhaseStart})
				started = true
			}
			content.WriteString(chunk.Content)
			sink.Stream(t.ID, t.ContextID, events.AgentStreamPayload{
				Phase:   events.StreamPhaseDelta,
				Content: chunk.Content,
			})
		}

		for _, tc := range chunk.ToolCalls {
			toolCalls = mergeToolCall(toolCalls, tc)
		}
	}

	if started {
		sink.Stream(t.ID, t.ContextID, events.AgentStreamPayload{Phase: events.StreamPhaseEnd})
	}

	return &schema.Message{
		Role:      schema.Assistant,
		Content:   content.String(),
		ToolCalls: toolCalls,
	}, nil
}

// mergeToolCall folds a streamed tool call chunk into the accumulated
// batch. Chunks either carry a whole call, or argument fragments matched by
// stream index.
func mergeToolCall(acc []schema.ToolCall, tc schema.ToolCall) []schema.ToolCall {
	if tc.Index != nil {
		for i := range acc {
			if acc[i].Index != nil && *acc[i].Index == *tc.Index {
				if tc.ID != "" {
					acc[i].ID = tc.ID
				}
				if tc.Function.Name != "" {
					acc[i].Function.Name = tc.Function.Name
				}
				acc[i].Function.Arguments += tc.Function.Arguments
				return acc
			}
		}
		return append(acc, tc)
	}
	if tc.ID != "" || len(acc) == 0 {
		return append(acc, tc)
	}
	acc[len(acc)-1].Function.Arguments += tc.Function.Arguments
	return acc
}

// runToolBatch schedules every accumulated tool call, waits for the batch
// to settle, records the results in history, and feeds them back into the
// model session.
func (e *Executor) runToolBatch(ctx context.Context, t *Task, calls []schema.ToolCall, sink events.Sink) ([]tools.Result, error) {
	batch := make([]tools.Call, 0, len(calls))
	records := make([]*ToolCallRecord, 0, len(calls))

	for _, tc := range calls {
		id := tc.ID
		if id == "" {
			id = NewCallID()
		}
		call := tools.Call{ID: id, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		batch = append(batch, call)
		records = append(records, &ToolCallRecord{
			CallID:    id,
			Name:      call.Name,
			Arguments: call.Arguments,
			Status:    tools.StatusPending,
		})

		sink.Tool(t.ID, t.ContextID, events.ToolActivityPayload{
			Status:    events.ToolStatusStarted,
			CallID:    id,
			Name:      call.Name,
			Arguments: call.Arguments,
		})
	}
	t.addPending(records)

	results := e.scheduler.Schedule(ctx, batch)

	if ctx.Err() != nil && tools.Cancelled(results) {
		// Leave the records pending; the abort path cancels them with the
		// abort reason and publishes the final event.
		return nil, fmt.Errorf("%w: %v", ErrExecutionAborted, ctx.Err())
	}

	settled := make([]*ToolCallRecord, 0, len(results))
	for _, r := range results {
		t.settle(r.Call.ID, r.Status, r.Output, r.Err)
		settled = append(settled, &ToolCallRecord{
			CallID:    r.Call.ID,
			Name:      r.Call.Name,
			Arguments: r.Call.Arguments,
			Status:    r.Status,
			Result:    r.Output,
			Err:       r.Err,
		})

		sink.Tool(t.ID, t.ContextID, events.ToolActivityPayload{
			Status: toolEventStatus(r.Status),
			CallID: r.Call.ID,
			Name:   r.Call.Name,
			Result: r.Output,
			Error:  r.Err,
		})

		e.publishArtifacts(t, r, sink)

		content := r.Output
		if r.Status != tools.StatusSuccess {
			content = fmt.Sprintf("tool %s: %s", r.Status, r.Err)
		}
		t.session.Push(schema.ToolMessage(content, r.Call.ID))
	}

	// Tool results enter history before any final status event for this
	// invocation is published.
	t.appendHistory(store.Message{
		ID:          NewMessageID(),
		Role:        "agent",
		ToolResults: marshalRecords(settled),
		Ts:          time.Now(),
	})

	return results, nil
}

// publishArtifacts emits an artifact-update event for workspace writes.
func (e *Executor) publishArtifacts(t *Task, r tools.Result, sink events.Sink) {
	if r.Call.Name != "write_file" || r.Status != tools.StatusSuccess {
		return
	}
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal([]byte(r.Call.Arguments), &args); err != nil || args.Path == "" {
		return
	}
	sink.Artifact(t.ID, t.ContextID, args.Path, args.Path)
}

// handleLoopError converts a turn loop failure into exactly one published
// terminal-for-this-invocation status event. Errors never escape past the
// executor boundary; the in-memory state transition always completes
// regardless of sink or store outcome.
func (e *Executor) handleLoopError(t *Task, err error, sink events.Sink) {
	reason := err.Error()
	cancelled := t.cancelPending(reason)
	for _, r := range cancelled {
		sink.Tool(t.ID, t.ContextID, events.ToolActivityPayload{
			Status: events.ToolStatusCancelled,
			CallID: r.CallID,
			Name:   r.Name,
			Error:  reason,
		})
	}

	aborted := errors.Is(err, ErrExecutionAborted) || errors.Is(err, context.Canceled)
	state := t.State()

	if aborted {
		if state != StateCanceled && state != StateFailed {
			t.setState(StateInputRequired)
			sink.Status(t.ID, t.ContextID, string(StateInputRequired),
				"execution aborted: "+reason, true)
		}
		e.logger.Info("task execution aborted", "task_id", t.ID, "reason", reason)
		return
	}

	if state != StateFailed {
		t.setState(StateFailed)
		sink.Status(t.ID, t.ContextID, string(StateFailed), reason, true)
	}
	e.logger.Error("task execution failed", "task_id", t.ID, "error", err)
}

func toolEventStatus(s tools.CallStatus) events.ToolStatus {
	switch s {
	case tools.StatusSuccess:
		return events.ToolStatusCompleted
	case tools.StatusCancelled:
		return events.ToolStatusCancelled
	default:
		return events.ToolStatusFailed
	}
}

func completionMessage(r tools.Result) string {
	var args struct {
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(r.Call.Arguments), &args); err == nil && args.Summary != "" {
		return args.Summary
	}
	return "task completed"
}

func marshalToolCalls(calls []schema.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	data, err := json.Marshal(calls)
	if err != nil {
		return ""
	}
	return string(data)
}
