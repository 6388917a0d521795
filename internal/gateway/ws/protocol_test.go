package ws

import (
	"encoding/json"
	"testing"
)

func TestRequestFrameRoundTrip(t *testing.T) {
	raw := `{"type":"req","id":"r1","method":"send_message","params":{"content":"hi"}}`

	f, err := UnmarshalFrame([]byte(raw))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Type != FrameTypeRequest || f.ID != "r1" || f.Method != MethodSendMessage {
		t.Fatalf("frame = %+v", f)
	}

	var params SendMessageParams
	if err := json.Unmarshal(f.Params, &params); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if params.Content != "hi" {
		t.Errorf("content = %q", params.Content)
	}
}

func TestResponseFrame(t *testing.T) {
	f, err := NewResponseFrame("r1", false, nil, "boom")
	if err != nil {
		t.Fatalf("NewResponseFrame: %v", err)
	}
	if f.OK == nil || *f.OK {
		t.Error("ok flag not set to false")
	}
	if f.Error != "boom" {
		t.Errorf("error = %q", f.Error)
	}
	if f.Payload != nil {
		t.Error("error response must carry no payload")
	}
}

func TestEventFrameCarriesTaskTags(t *testing.T) {
	f, err := NewEventFrame("task.status", "task-1", "ctx-1", map[string]any{"state": "working"})
	if err != nil {
		t.Fatalf("NewEventFrame: %v", err)
	}
	if f.Type != FrameTypeEvent || f.TaskID != "task-1" || f.ContextID != "ctx-1" {
		t.Fatalf("frame = %+v", f)
	}

	data, err := MarshalFrame(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := UnmarshalFrame(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(back.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload["state"] != "working" {
		t.Errorf("payload = %v", payload)
	}
}
