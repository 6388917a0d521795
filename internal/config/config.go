package config

import "time"

// Config is the root configuration for taskloop.
type Config struct {
	Gateway GatewayConfig `json:"gateway"`
	Models  ModelsConfig  `json:"models"`
	Events  EventsConfig  `json:"events"`
	Agent   AgentDefaults `json:"agent"`
	Store   StoreConfig   `json:"store"`
	Tools   ToolsConfig   `json:"tools"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	CardPath string `json:"card_path,omitempty"` // agent card YAML (default: $TASKLOOP_PATH/agent-card.yaml)
}

// ModelsConfig holds model provider configuration.
type ModelsConfig struct {
	Default   string                    `json:"default"`
	Providers map[string]ProviderConfig `json:"providers"`
}

// ProviderConfig configures a single LLM provider.
type ProviderConfig struct {
	Driver        string         `json:"driver"` // "claude", "openai", "gemini", "ollama", "mistral"
	Model         string         `json:"model"`
	BaseURL       string         `json:"base_url,omitempty"`
	Auth          AuthConfig     `json:"auth"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	ContextWindow int            `json:"context_window,omitempty"`
	Timeout       Duration       `json:"timeout,omitempty"`
	Options       map[string]any `json:"options,omitempty"`
}

// AuthConfig configures API key resolution.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // Direct API key or ${{ .Env.VAR }} template
	Token  string `json:"token,omitempty"`   // OAuth/Bearer token
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// AgentDefaults holds server-wide defaults applied to new tasks when the
// first message does not carry its own settings overrides.
type AgentDefaults struct {
	SystemPrompt string `json:"system_prompt,omitempty"`
	MaxTurns     int    `json:"max_turns,omitempty"`
}

// StoreConfig configures the durable task store.
type StoreConfig struct {
	Path          string `json:"path,omitempty"`           // sqlite file (default: $TASKLOOP_PATH/tasks.db)
	ArchiveDir    string `json:"archive_dir,omitempty"`    // workspace archives (default: $TASKLOOP_PATH/archives)
	EvictSchedule string `json:"evict_schedule,omitempty"` // cron expression for the terminal-task sweep
	ReadOnly      bool   `json:"read_only,omitempty"`      // ignore saves, still serve loads
}

// ToolsConfig configures the tool registry.
type ToolsConfig struct {
	Web     WebSearchConfig `json:"web"`
	Enabled []string        `json:"enabled,omitempty"` // enabled tool names (empty = all)
}

// WebSearchConfig selects and configures the web_search provider.
type WebSearchConfig struct {
	Provider     string   `json:"provider,omitempty"` // "duckduckgo" (default), "google", "bing"
	MaxResults   int      `json:"max_results,omitempty"`
	Timeout      Duration `json:"timeout,omitempty"`
	GoogleAPIKey string   `json:"google_api_key,omitempty"`
	GoogleCX     string   `json:"google_cx,omitempty"`
	BingAPIKey   string   `json:"bing_api_key,omitempty"`
}

// AgentSettings is the per-task configuration captured on the first message
// of a new task. It is immutable for the task's lifetime and required to
// rehydrate a reconstructed task identically.
type AgentSettings struct {
	WorkspacePath string `json:"workspace_path"`
	SystemPrompt  string `json:"system_prompt,omitempty"`
	Provider      string `json:"provider,omitempty"` // model provider name (empty = registry default)
	MaxTurns      int    `json:"max_turns,omitempty"`
}

// Valid reports whether the settings carry the required fields.
func (s AgentSettings) Valid() bool {
	return s.WorkspacePath != ""
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
