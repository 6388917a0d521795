package events

import (
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	ch, cancel := bus.SubscribeChan(16, EventStatusUpdate)
	defer cancel()

	bus.Publish(NewTaskEvent(SourceEngine, StatusUpdatePayload{State: "working"}, "task-1", "ctx-1"))

	select {
	case e := <-ch:
		if e.TaskID != "task-1" || e.ContextID != "ctx-1" {
			t.Errorf("event ids = %q/%q, want task-1/ctx-1", e.TaskID, e.ContextID)
		}
		p, ok := GetStatusUpdatePayload(e)
		if !ok {
			t.Fatal("payload did not decode")
		}
		if p.State != "working" {
			t.Errorf("state = %q, want working", p.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestBusTypeFilter(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	ch, cancel := bus.SubscribeChan(16, EventArtifactUpdate)
	defer cancel()

	bus.Publish(NewTaskEvent(SourceEngine, StatusUpdatePayload{State: "working"}, "task-1", "ctx-1"))
	bus.Publish(NewTaskEvent(SourceEngine, ArtifactUpdatePayload{Name: "main.go"}, "task-1", "ctx-1"))

	select {
	case e := <-ch:
		if e.Type != EventArtifactUpdate {
			t.Errorf("type = %q, want %q", e.Type, EventArtifactUpdate)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestBusTaskHistory(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	bus.Publish(NewTaskEvent(SourceEngine, StatusUpdatePayload{State: "working"}, "task-a", "ctx-1"))
	bus.Publish(NewTaskEvent(SourceEngine, StatusUpdatePayload{State: "working"}, "task-b", "ctx-1"))
	bus.Publish(NewTaskEvent(SourceEngine, StatusUpdatePayload{State: "input-required", Final: true}, "task-a", "ctx-1"))

	waitFor(t, func() bool { return len(bus.TaskHistory("task-a", 16)) == 2 })

	hist := bus.TaskHistory("task-a", 16)
	for _, e := range hist {
		if e.TaskID != "task-a" {
			t.Errorf("history contains task %q", e.TaskID)
		}
	}
}

func TestBusPublishAfterClose(t *testing.T) {
	bus := NewBus(4)
	bus.Close()
	// Must not panic.
	bus.Publish(NewTypedEvent(SourceEngine, StatusUpdatePayload{State: "working"}))
}

func TestCollectorSinkOrder(t *testing.T) {
	sink := NewCollectorSink()
	sink.Status("task-1", "ctx-1", "working", "", false)
	sink.Status("task-1", "ctx-1", "input-required", "done", true)

	updates := sink.StatusUpdates()
	if len(updates) != 2 {
		t.Fatalf("got %d status updates, want 2", len(updates))
	}
	if updates[0].State != "working" || updates[1].State != "input-required" {
		t.Errorf("order = %q then %q", updates[0].State, updates[1].State)
	}
	if !updates[1].Final {
		t.Error("second update should be final")
	}
}

func TestRingBufferWraps(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 5; i++ {
		rb.Add(NewTypedEvent(SourceEngine, StatusUpdatePayload{State: "working"}))
	}
	if got := len(rb.Get(10)); got != 3 {
		t.Errorf("got %d events, want 3", got)
	}
}
