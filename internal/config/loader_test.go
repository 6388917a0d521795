package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadStripsCommentsAndAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		// local dev setup
		"gateway": { "port": 9100 },
		"models": {
			"default": "main",
			"providers": {
				"main": { "driver": "openai", "model": "gpt-4o", "timeout": "30s" },
			},
		},
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Gateway.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Gateway.Port)
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("host default = %q, want 127.0.0.1", cfg.Gateway.Host)
	}
	if cfg.Events.BufferSize != 1024 {
		t.Errorf("buffer size default = %d, want 1024", cfg.Events.BufferSize)
	}
	if cfg.Tools.Web.Provider != "duckduckgo" {
		t.Errorf("web provider default = %q, want duckduckgo", cfg.Tools.Web.Provider)
	}

	main := cfg.Models.Providers["main"]
	if main.Driver != "openai" || main.Model != "gpt-4o" {
		t.Errorf("provider = %+v", main)
	}
	if got := main.Timeout.Duration().Seconds(); got != 30 {
		t.Errorf("timeout = %vs, want 30s", got)
	}
}

func TestLoadExpandsEnvTemplates(t *testing.T) {
	t.Setenv("TEST_LOADER_KEY", "sk-12345")

	path := writeConfig(t, `{
		"models": {
			"default": "main",
			"providers": {
				"main": {
					"driver": "claude",
					"model": "claude-sonnet-4-6",
					"auth": { "api_key": "${{ .Env.TEST_LOADER_KEY }}" }
				}
			}
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Models.Providers["main"].Auth.APIKey; got != "sk-12345" {
		t.Errorf("api key = %q, want sk-12345", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.jsonc")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAgentSettingsValid(t *testing.T) {
	if (AgentSettings{}).Valid() {
		t.Error("empty settings should be invalid")
	}
	if !(AgentSettings{WorkspacePath: "/ws"}).Valid() {
		t.Error("settings with workspace path should be valid")
	}
}
