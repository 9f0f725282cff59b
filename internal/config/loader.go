package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/marcozac/go-jsonc"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates before stripping comments,
	// since templates live inside strings.
	expanded := expandEnvTemplates(string(data))

	var cfg Config
	if err := jsonc.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
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

// ApplyDefaults fills in zero-value fields with sensible defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18520
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Engine.TickInterval.Duration() == 0 {
		cfg.Engine.TickInterval = Duration(30 * time.Second)
	}
	if cfg.Engine.DefaultPollInterval.Duration() == 0 {
		cfg.Engine.DefaultPollInterval = Duration(5 * time.Minute)
	}
	if cfg.Engine.DefaultMaxFollowups == 0 {
		cfg.Engine.DefaultMaxFollowups = 3
	}
	if cfg.Engine.FollowupAfterHours == 0 {
		cfg.Engine.FollowupAfterHours = 24
	}
	if cfg.Engine.ConfirmTimeout.Duration() == 0 {
		cfg.Engine.ConfirmTimeout = Duration(5 * time.Minute)
	}
	if cfg.Messaging.IMessage.BaseURL == "" {
		cfg.Messaging.IMessage.BaseURL = "http://127.0.0.1:1234"
	}
	if cfg.Messaging.Slack.BaseURL == "" {
		cfg.Messaging.Slack.BaseURL = "https://slack.com/api"
	}
	if cfg.Messaging.Email.BaseURL == "" {
		cfg.Messaging.Email.BaseURL = "https://gmail.googleapis.com/gmail/v1"
	}
	if cfg.Messaging.X.BaseURL == "" {
		cfg.Messaging.X.BaseURL = "https://api.x.com/2"
	}
}
