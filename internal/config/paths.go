package config

import (
	"os"
	"path/filepath"
)

// EnvoyPath returns the root directory for Envoy data.
// It uses $ENVOY_PATH if set, otherwise defaults to ~/.envoy.
func EnvoyPath() string {
	if v := os.Getenv("ENVOY_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".envoy")
	}
	return filepath.Join(home, ".envoy")
}

// ConfigPath returns the path to the Envoy config file.
func ConfigPath() string {
	return filepath.Join(EnvoyPath(), "config.jsonc")
}

// DotenvPath returns the path to the Envoy .env file.
func DotenvPath() string {
	return filepath.Join(EnvoyPath(), ".env")
}

// TasksPath returns the directory holding task records.
func TasksPath() string {
	return filepath.Join(EnvoyPath(), "tasks")
}

// HeartbeatPath returns the path to the daemon heartbeat file.
func HeartbeatPath() string {
	return filepath.Join(EnvoyPath(), "daemon.heartbeat")
}
