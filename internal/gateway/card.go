package gateway

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentCard is the public description of this agent, served on
// /api/agent-card so clients can discover what the endpoint offers.
type AgentCard struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	Version      string   `yaml:"version" json:"version"`
	Capabilities []string `yaml:"capabilities" json:"capabilities"`
	Tools        []string `yaml:"tools,omitempty" json:"tools,omitempty"`
}

// DefaultCard is served when no card file is configured.
func DefaultCard(tools []string) AgentCard {
	return AgentCard{
		Name:         "taskloop",
		Description:  "Long-lived coding task agent with resumable tasks and streamed progress.",
		Version:      "0.1.0",
		Capabilities: []string{"streaming", "resubscribe", "cancellation", "persistence"},
		Tools:        tools,
	}
}

// LoadCard reads the agent card from a YAML file. A missing file falls back
// to the default card; a malformed one is an error.
func LoadCard(path string, tools []string) (AgentCard, error) {
	if path == "" {
		return DefaultCard(tools), nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultCard(tools), nil
	}
	if err != nil {
		return AgentCard{}, fmt.Errorf("read agent card: %w", err)
	}

	var card AgentCard
	if err := yaml.Unmarshal(data, &card); err != nil {
		return AgentCard{}, fmt.Errorf("parse agent card: %w", err)
	}
	if len(card.Tools) == 0 {
		card.Tools = tools
	}
	return card, nil
}
