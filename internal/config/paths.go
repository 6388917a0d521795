package config

import (
	"os"
	"path/filepath"
)

// TaskloopPath returns the root directory for taskloop data.
// It uses $TASKLOOP_PATH if set, otherwise defaults to ~/.taskloop.
func TaskloopPath() string {
	if v := os.Getenv("TASKLOOP_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".taskloop")
	}
	return filepath.Join(home, ".taskloop")
}

// ConfigPath returns the path to the taskloop config file.
func ConfigPath() string {
	return filepath.Join(TaskloopPath(), "config.jsonc")
}

// DotenvPath returns the path to the taskloop .env file.
func DotenvPath() string {
	return filepath.Join(TaskloopPath(), ".env")
}
