package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/taskloop/taskloop/internal/config"
	"github.com/taskloop/taskloop/internal/events"
)

// SendMessageParams carries one inbound message. Settings is required on the
// first message of a new task and ignored afterwards.
type SendMessageParams struct {
	TaskID    string                `json:"task_id,omitempty"`
	ContextID string                `json:"context_id,omitempty"`
	MessageID string                `json:"message_id,omitempty"`
	Content   string                `json:"content"`
	Settings  *config.AgentSettings `json:"settings,omitempty"`
}

// SendMessageAck acknowledges that a message was accepted for execution.
// Progress arrives as event frames on the same connection.
type SendMessageAck struct {
	TaskID    string `json:"task_id"`
	ContextID string `json:"context_id"`
	State     string `json:"state"`
}

// TaskHandler is the engine-facing surface the hub dispatches requests to.
// SendMessage must not block on task execution: it accepts the message,
// starts or feeds the turn loop under the given context, and returns. The
// context is the execution's cancellation token; the hub derives it from the
// connection, so a dropped socket aborts the work it started.
type TaskHandler interface {
	SendMessage(ctx context.Context, p SendMessageParams) (SendMessageAck, error)
	CancelTask(ctx context.Context, taskID string) error
	GetTask(taskID string) (any, error)
	TaskEvents(taskID string, limit int) []events.Event
}

// Client represents a connected WebSocket client.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// Hub manages WebSocket clients and bridges them to the event bus.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	bus         *events.Bus
	handler     TaskHandler
	unsubscribe func()
}

// NewHub creates a hub forwarding every bus event to connected clients and
// dispatching request frames to the handler.
func NewHub(bus *events.Bus, handler TaskHandler) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		bus:     bus,
		handler: handler,
	}

	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		frame, err := NewEventFrame(string(e.Type), e.TaskID, e.ContextID, e.Payload)
		if err != nil {
			slog.Error("marshal event frame", "error", err)
			return
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			slog.Error("marshal frame", "error", err)
			return
		}
		h.broadcast(data)
	})

	return h
}

// broadcast sends data to all connected clients.
func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws client disconnected", "clients", len(h.clients))
	}
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for dev
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
	}

	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}

		if frame.Type == FrameTypeRequest {
			c.handleRequest(ctx, frame)
		} else {
			slog.Debug("ws unexpected frame type", "type", frame.Type)
		}
	}
}

// handleRequest processes a request frame (method dispatch). ctx is the
// connection context: execution started here stops when the socket closes.
func (c *Client) handleRequest(ctx context.Context, frame Frame) {
	switch frame.Method {
	case MethodSendMessage:
		var params SendMessageParams
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		if params.Content == "" {
			c.sendError(frame.ID, "content is required")
			return
		}

		ack, err := c.hub.handler.SendMessage(ctx, params)
		if err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.sendOK(frame.ID, ack)

	case MethodCancelTask:
		var params struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil || params.TaskID == "" {
			c.sendError(frame.ID, "invalid params")
			return
		}

		if err := c.hub.handler.CancelTask(ctx, params.TaskID); err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.sendOK(frame.ID, map[string]string{"status": "canceled"})

	case MethodGetTask:
		var params struct {
			TaskID string `json:"task_id"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil || params.TaskID == "" {
			c.sendError(frame.ID, "invalid params")
			return
		}

		view, err := c.hub.handler.GetTask(params.TaskID)
		if err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.sendOK(frame.ID, view)

	case MethodResubscribe:
		var params struct {
			TaskID string `json:"task_id"`
			Limit  int    `json:"limit"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil || params.TaskID == "" {
			c.sendError(frame.ID, "invalid params")
			return
		}
		if params.Limit <= 0 {
			params.Limit = 100
		}

		// Replay missed events to this client only, then resume live flow.
		for _, e := range c.hub.handler.TaskEvents(params.TaskID, params.Limit) {
			ef, err := NewEventFrame(string(e.Type), e.TaskID, e.ContextID, e.Payload)
			if err != nil {
				continue
			}
			data, err := MarshalFrame(ef)
			if err != nil {
				continue
			}
			select {
			case c.send <- data:
			default:
			}
		}
		c.sendOK(frame.ID, map[string]string{"status": "resubscribed"})

	default:
		c.sendError(frame.ID, "unknown method: "+frame.Method)
	}
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(id string, payload any) {
	f, err := NewResponseFrame(id, true, payload, "")
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(id string, errMsg string) {
	f, err := NewResponseFrame(id, false, nil, errMsg)
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close shuts down the hub and all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}
