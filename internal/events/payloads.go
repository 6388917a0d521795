package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// TASK STATUS EVENTS
// =============================================================================

// StatusUpdatePayload reports a task lifecycle transition. Final marks the
// last status event of an execute invocation.
type StatusUpdatePayload struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
	Final   bool   `json:"final"`
}

func (StatusUpdatePayload) EventType() EventType { return EventStatusUpdate }

// ArtifactUpdatePayload reports a file produced or modified in the task
// workspace during a turn.
type ArtifactUpdatePayload struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

func (ArtifactUpdatePayload) EventType() EventType { return EventArtifactUpdate }

// =============================================================================
// STREAMING EVENTS
// =============================================================================

type StreamPhase string

const (
	StreamPhaseStart StreamPhase = "start"
	StreamPhaseDelta StreamPhase = "delta"
	StreamPhaseEnd   StreamPhase = "end"
)

type AgentStreamPayload struct {
	Phase   StreamPhase `json:"phase"`
	Content string      `json:"content"`
}

func (AgentStreamPayload) EventType() EventType { return EventAgentStream }

// =============================================================================
// TOOL EVENTS
// =============================================================================

type ToolStatus string

const (
	ToolStatusStarted   ToolStatus = "started"
	ToolStatusCompleted ToolStatus = "completed"
	ToolStatusFailed    ToolStatus = "failed"
	ToolStatusCancelled ToolStatus = "cancelled"
)

type ToolActivityPayload struct {
	Status    ToolStatus `json:"status"`
	CallID    string     `json:"call_id"`
	Name      string     `json:"name"`
	Arguments string     `json:"arguments,omitempty"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func (ToolActivityPayload) EventType() EventType { return EventToolActivity }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

// NewTaskEvent creates an event tagged with task and context identifiers.
func NewTaskEvent(source EventSource, payload EventPayload, taskID, contextID string) Event {
	e := NewTypedEvent(source, payload)
	e.TaskID = taskID
	e.ContextID = contextID
	return e
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetStatusUpdatePayload(e Event) (StatusUpdatePayload, bool) {
	return ExtractPayload[StatusUpdatePayload](e)
}

func GetArtifactUpdatePayload(e Event) (ArtifactUpdatePayload, bool) {
	return ExtractPayload[ArtifactUpdatePayload](e)
}

func GetAgentStreamPayload(e Event) (AgentStreamPayload, bool) {
	return ExtractPayload[AgentStreamPayload](e)
}

func GetToolActivityPayload(e Event) (ToolActivityPayload, bool) {
	return ExtractPayload[ToolActivityPayload](e)
}
