package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/taskloop/taskloop/internal/config"
	"github.com/taskloop/taskloop/internal/store"
)

// Session is the conversation held with the agent model for one task. The
// turn loop pushes messages and pulls a streamed response; implementations
// own the accumulated model-side history.
type Session interface {
	// Push appends a message to the model-side history.
	Push(msg *schema.Message)
	// Stream opens a model event stream over the accumulated history.
	Stream(ctx context.Context) (*schema.StreamReader[*schema.Message], error)
}

// SessionFactory builds a model session for a task from its settings.
type SessionFactory func(ctx context.Context, settings config.AgentSettings) (Session, error)

// ModelSession backs a Session with an eino ToolCallingChatModel.
type ModelSession struct {
	mu      sync.Mutex
	cm      model.ToolCallingChatModel
	history []*schema.Message
}

// NewModelSession creates a session over cm, binding the given tools and
// seeding the history with the system prompt when one is set.
func NewModelSession(cm model.ToolCallingChatModel, toolInfos []*schema.ToolInfo, systemPrompt string) (*ModelSession, error) {
	if len(toolInfos) > 0 {
		bound, err := cm.WithTools(toolInfos)
		if err != nil {
			return nil, fmt.Errorf("bind tools: %w", err)
		}
		cm = bound
	}

	s := &ModelSession{cm: cm}
	if systemPrompt != "" {
		s.history = append(s.history, schema.SystemMessage(systemPrompt))
	}
	return s, nil
}

func (s *ModelSession) Push(msg *schema.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msg)
}

func (s *ModelSession) Stream(ctx context.Context) (*schema.StreamReader[*schema.Message], error) {
	s.mu.Lock()
	msgs := make([]*schema.Message, len(s.history))
	copy(msgs, s.history)
	s.mu.Unlock()

	return s.cm.Stream(ctx, msgs)
}

// Replay loads persisted history into the session, mapping the stored
// "agent" role to the model's assistant role. Used when reconstructing a
// task from a snapshot.
func (s *ModelSession) Replay(history []store.Message) {
	for _, msg := range history {
		s.Push(toSchemaMessage(msg))
	}
}

func toSchemaMessage(msg store.Message) *schema.Message {
	switch msg.Role {
	case "agent":
		return schema.AssistantMessage(msg.Content, nil)
	default:
		return schema.UserMessage(msg.Content)
	}
}
