package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/envoy/internal/config"
)

// NewInitCommand returns the onboarding subcommand.
func NewInitCommand() *cli.Command {
	return &cli.Command{
		Name:   "init",
		Usage:  "Initialize the envoy home directory (~/.envoy)",
		Action: runInit,
	}
}

func runInit(_ context.Context, _ *cli.Command) error {
	root := config.EnvoyPath()
	created := false

	dirs := []string{root, config.TasksPath()}
	for _, d := range dirs {
		if _, err := os.Stat(d); err != nil {
			if err := os.MkdirAll(d, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", d, err)
			}
			fmt.Printf("  Created %s\n", d)
			created = true
		}
	}

	configPath := config.ConfigPath()
	if _, err := os.Stat(configPath); err != nil {
		if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("  Created %s\n", configPath)
		created = true
	}

	dotenvPath := config.DotenvPath()
	if _, err := os.Stat(dotenvPath); err != nil {
		if err := os.WriteFile(dotenvPath, []byte(defaultDotenv), 0o600); err != nil {
			return fmt.Errorf("write .env: %w", err)
		}
		fmt.Printf("  Created %s\n", dotenvPath)
		created = true
	}

	if !created {
		fmt.Printf("Already initialized — %s is complete. Nothing to do.\n", root)
		return nil
	}

	fmt.Printf(`
  envoy home set up at %s

  Next steps:
    1. Drop your API keys in %s/.env
    2. Enable the messaging integrations you use in %s/config.jsonc
    3. Run: envoy daemon

`, root, root, root)
	return nil
}

const defaultConfig = `{
	// envoy configuration

	"gateway": {
		"host": "127.0.0.1",
		"port": 18520
	},

	"models": {
		"default": "claude",
		"providers": {
			"claude": {
				"driver": "anthropic",
				"model": "claude-sonnet-4-6",
				"max_tokens": 4096
			}

			// "gpt": {
			// 	"driver": "openai",
			// 	"model": "gpt-4o-mini",
			// 	"max_tokens": 4096
			// }
		}
	},

	"engine": {
		"tick_interval": "30s",
		"default_poll_interval": "5m",
		"default_max_followups": 3,
		"followup_after_hours": 24,
		"confirm_timeout": "5m"
	},

	"messaging": {
		"slack": {
			"enabled": false,
			"bot_token": "${{ .Env.SLACK_BOT_TOKEN }}"
		},
		"email": {
			"enabled": false,
			"access_token": "${{ .Env.GMAIL_ACCESS_TOKEN }}"
		},
		"imessage": {
			"enabled": false,
			"base_url": "http://127.0.0.1:1234"
		},
		"telegram": {
			"enabled": false,
			"token": "${{ .Env.TELEGRAM_BOT_TOKEN }}"
		},
		"discord": {
			"enabled": false,
			"token": "${{ .Env.DISCORD_BOT_TOKEN }}"
		},
		"x": {
			"enabled": false,
			"bearer_token": "${{ .Env.X_BEARER_TOKEN }}"
		}
	},

	"events": {
		"buffer_size": 1024
	}
}
`

const defaultDotenv = `# envoy environment variables
# This file is loaded automatically. Existing env vars are never overridden.

# ANTHROPIC_API_KEY=sk-ant-...
# OPENAI_API_KEY=sk-...
# SLACK_BOT_TOKEN=xoxb-...
# GMAIL_ACCESS_TOKEN=ya29....
# TELEGRAM_BOT_TOKEN=...
# DISCORD_BOT_TOKEN=...
# X_BEARER_TOKEN=...
`
