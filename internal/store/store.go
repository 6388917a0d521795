// Package store persists task snapshots, workspace archives, and per-context
// message logs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/taskloop/taskloop/internal/config"
)

var (
	// ErrNoContext is returned by Save when the task lacks a context id.
	ErrNoContext = errors.New("task has no context id")

	// ErrInconsistentState is returned by Load when an index entry exists
	// without a matching snapshot. Index entries must never outlive their
	// snapshot, so this always indicates store corruption.
	ErrInconsistentState = errors.New("task index entry without snapshot")
)

// Message is one persisted conversation message. The context log
// deduplicates by ID.
type Message struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"` // "user" or "agent"
	Content     string    `json:"content"`
	ToolCalls   string    `json:"tool_calls,omitempty"`   // serialized tool call requests
	ToolResults string    `json:"tool_results,omitempty"` // serialized settled results
	Ts          time.Time `json:"ts"`
}

// TaskSnapshot is the durable representation of a task: its lifecycle state,
// immutable settings, and full history at checkpoint time.
type TaskSnapshot struct {
	TaskID    string               `json:"task_id"`
	ContextID string               `json:"context_id"`
	State     string               `json:"state"`
	Settings  config.AgentSettings `json:"settings"`
	History   []Message            `json:"history"`
	SavedAt   time.Time            `json:"saved_at"`
}

// Store is the durable task store contract consumed by the engine.
type Store interface {
	// Save checkpoints a task: snapshot, index entry, workspace archive,
	// and any history messages not yet in the context log.
	Save(ctx context.Context, snap *TaskSnapshot) error
	// Load retrieves a snapshot by task id and restores its workspace
	// archive. Returns (nil, nil) when the task is unknown.
	Load(ctx context.Context, taskID string) (*TaskSnapshot, error)
	// ContextHistory returns the accumulated message log of a context,
	// oldest first. An unknown context yields an empty slice.
	ContextHistory(ctx context.Context, contextID string) ([]Message, error)
}

// NoopStore ignores all saves but still delegates loads to a wrapped store.
// Used for read-only or dry-run execution modes.
type NoopStore struct {
	Inner Store // may be nil
}

func (s *NoopStore) Save(context.Context, *TaskSnapshot) error { return nil }

func (s *NoopStore) Load(ctx context.Context, taskID string) (*TaskSnapshot, error) {
	if s.Inner == nil {
		return nil, nil
	}
	return s.Inner.Load(ctx, taskID)
}

func (s *NoopStore) ContextHistory(ctx context.Context, contextID string) ([]Message, error) {
	if s.Inner == nil {
		return nil, nil
	}
	return s.Inner.ContextHistory(ctx, contextID)
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*NoopStore)(nil)
)
