// Package commands holds the envoy CLI command tree.
package commands

import (
	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/envoy/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "envoy",
		Usage: "Autonomous messaging agent: send, wait, follow up, escalate",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewInitCommand(),
			NewDaemonCommand(),
			NewTasksCommand(),
			NewStatusCommand(),
		},
	}
}
