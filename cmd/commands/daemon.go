package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/envoy/internal/config"
	"github.com/dohr-michael/envoy/internal/engine"
	"github.com/dohr-michael/envoy/internal/events"
	"github.com/dohr-michael/envoy/internal/gateway"
	"github.com/dohr-michael/envoy/internal/heartbeat"
	"github.com/dohr-michael/envoy/internal/messaging"
	"github.com/dohr-michael/envoy/internal/models"
	"github.com/dohr-michael/envoy/internal/replywait"
	"github.com/dohr-michael/envoy/internal/tasks"
)

// NewDaemonCommand returns the daemon subcommand.
func NewDaemonCommand() *cli.Command {
	return &cli.Command{
		Name:  "daemon",
		Usage: "Run the envoy engine, scheduler and gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runDaemon,
	}
}

func runDaemon(_ context.Context, cmd *cli.Command) error {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = &config.Config{}
		config.ApplyDefaults(cfg)
	}

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = cmd.Int("port")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	store := tasks.NewFileStore(config.TasksPath())
	registry := messaging.Setup(cfg.Messaging)
	judge := replywait.NewModelJudge(models.NewRegistry(cfg.Models), "")

	eng := engine.New(engine.Config{
		Store:        store,
		Integrations: registry,
		Judge:        judge,
		Executor:     defaultExecutor(),
		Bus:          bus,
		Engine:       cfg.Engine,
	})
	eng.Start(ctx)
	defer eng.Stop()

	gatewayAddr := fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	hb := heartbeat.NewWriter(config.HeartbeatPath(), gatewayAddr, func() heartbeat.Stats {
		return engineStats(store)
	})
	hb.Start()
	defer hb.Stop()

	server := gateway.NewServer(eng, bus, cfg.Gateway.Host, cfg.Gateway.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// defaultExecutor is the built-in step executor: it performs no work of its
// own and lets the engine's auto-advance fallback move the cursor. Real
// deployments swap in an executor that plans and sends messages.
func defaultExecutor() engine.Executor {
	return engine.ExecutorFunc(func(_ context.Context, t *tasks.Task) (*engine.Transition, error) {
		slog.Debug("executing step", "task", t.ID, "step", t.CurrentStep.Index, "description", t.CurrentStep.Description)
		return nil, nil
	})
}

func engineStats(store tasks.Store) heartbeat.Stats {
	var s heartbeat.Stats
	list, err := store.List(tasks.ListFilter{IncludeHidden: true})
	if err != nil {
		return s
	}
	for _, t := range list {
		switch t.Status {
		case tasks.StatusActive:
			s.ActiveTasks++
		case tasks.StatusWaiting:
			s.WaitingTasks++
		}
		s.PendingMessages += len(t.PendingMessages)
	}
	return s
}
