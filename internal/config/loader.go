package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/tailscale/hujson"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// standardizes it to plain JSON, unmarshals it into Config, and applies
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates before stripping comments,
	// since templates live inside string values.
	expanded := expandEnvTemplates(string(data))

	standardized, err := hujson.Standardize([]byte(expanded))
	if err != nil {
		return nil, fmt.Errorf("standardize config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18730
	}
	if cfg.Gateway.CardPath == "" {
		cfg.Gateway.CardPath = filepath.Join(TaskloopPath(), "agent-card.yaml")
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(TaskloopPath(), "tasks.db")
	}
	if cfg.Store.ArchiveDir == "" {
		cfg.Store.ArchiveDir = filepath.Join(TaskloopPath(), "archives")
	}
	if cfg.Store.EvictSchedule == "" {
		cfg.Store.EvictSchedule = "*/15 * * * *"
	}
	if cfg.Tools.Web.Provider == "" {
		cfg.Tools.Web.Provider = "duckduckgo"
	}
	if cfg.Agent.MaxTurns == 0 {
		cfg.Agent.MaxTurns = 32
	}
}

// Defaults returns a Config with every default applied, used when no config
// file exists on disk.
func Defaults() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
