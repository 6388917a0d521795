package events

import "sync"

// Sink is the engine-facing event outlet. The transport layer implements it
// (or adapts the bus) to turn engine activity into a streamed response.
type Sink interface {
	// Status publishes a task lifecycle update. final marks the last status
	// event of the current execute invocation.
	Status(taskID, contextID, state, message string, final bool)
	// Artifact publishes a workspace artifact notification.
	Artifact(taskID, contextID, name, path string)
	// Tool publishes tool call activity.
	Tool(taskID, contextID string, p ToolActivityPayload)
	// Stream publishes a chunk of streamed model output.
	Stream(taskID, contextID string, p AgentStreamPayload)
}

// BusSink adapts the event bus to the Sink interface.
type BusSink struct {
	Bus *Bus
}

func NewBusSink(bus *Bus) *BusSink { return &BusSink{Bus: bus} }

func (s *BusSink) Status(taskID, contextID, state, message string, final bool) {
	s.Bus.Publish(NewTaskEvent(SourceEngine, StatusUpdatePayload{
		State:   state,
		Message: message,
		Final:   final,
	}, taskID, contextID))
}

func (s *BusSink) Artifact(taskID, contextID, name, path string) {
	s.Bus.Publish(NewTaskEvent(SourceEngine, ArtifactUpdatePayload{
		Name: name,
		Path: path,
	}, taskID, contextID))
}

func (s *BusSink) Tool(taskID, contextID string, p ToolActivityPayload) {
	s.Bus.Publish(NewTaskEvent(SourceEngine, p, taskID, contextID))
}

func (s *BusSink) Stream(taskID, contextID string, p AgentStreamPayload) {
	s.Bus.Publish(NewTaskEvent(SourceEngine, p, taskID, contextID))
}

// CollectorSink records every published event in memory. Test helper.
type CollectorSink struct {
	mu     sync.Mutex
	events []Event
}

func NewCollectorSink() *CollectorSink { return &CollectorSink{} }

func (s *CollectorSink) add(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *CollectorSink) Status(taskID, contextID, state, message string, final bool) {
	s.add(NewTaskEvent(SourceEngine, StatusUpdatePayload{State: state, Message: message, Final: final}, taskID, contextID))
}

func (s *CollectorSink) Artifact(taskID, contextID, name, path string) {
	s.add(NewTaskEvent(SourceEngine, ArtifactUpdatePayload{Name: name, Path: path}, taskID, contextID))
}

func (s *CollectorSink) Tool(taskID, contextID string, p ToolActivityPayload) {
	s.add(NewTaskEvent(SourceEngine, p, taskID, contextID))
}

func (s *CollectorSink) Stream(taskID, contextID string, p AgentStreamPayload) {
	s.add(NewTaskEvent(SourceEngine, p, taskID, contextID))
}

// Events returns a copy of everything collected so far.
func (s *CollectorSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// StatusUpdates returns the collected status payloads in publish order.
func (s *CollectorSink) StatusUpdates() []StatusUpdatePayload {
	var out []StatusUpdatePayload
	for _, e := range s.Events() {
		if e.Type != EventStatusUpdate {
			continue
		}
		if p, ok := GetStatusUpdatePayload(e); ok {
			out = append(out, p)
		}
	}
	return out
}
