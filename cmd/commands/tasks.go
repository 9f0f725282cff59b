package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/dohr-michael/envoy/internal/config"
	"github.com/dohr-michael/envoy/internal/heartbeat"
	"github.com/dohr-michael/envoy/internal/tasks"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and steer envoy tasks",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List all tasks",
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show task details and activity log",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a task",
				ArgsUsage: "<task_id>",
				Action:    runTasksCancel,
			},
			{
				Name:      "respond",
				Usage:     "Answer a task waiting for your input",
				ArgsUsage: "<task_id> <response...>",
				Action:    runTasksRespond,
			},
			{
				Name:      "approve",
				Usage:     "Approve and send a queued message",
				ArgsUsage: "<task_id> <message_id>",
				Action:    runTasksApprove,
			},
			{
				Name:      "reject",
				Usage:     "Reject a queued message",
				ArgsUsage: "<task_id> <message_id>",
				Action:    runTasksReject,
			},
		},
		DefaultCommand: "list",
	}
}

func newTaskStore() *tasks.FileStore {
	return tasks.NewFileStore(config.TasksPath())
}

func runTasksList(_ context.Context, _ *cli.Command) error {
	store := newTaskStore()

	list, err := store.List(tasks.ListFilter{})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTEP\tPENDING\tTITLE")
	for _, t := range list {
		step := "-"
		if len(t.Plan) > 0 {
			step = fmt.Sprintf("%d/%d", t.CurrentStep.Index+1, len(t.Plan))
		}
		pending := "-"
		if n := len(t.PendingMessages); n > 0 {
			pending = fmt.Sprintf("%d", n)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, step, pending, t.Title)
	}
	return w.Flush()
}

func runTasksShow(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: envoy tasks show <task_id>")
	}

	store := newTaskStore()

	t, err := store.Get(taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	fmt.Printf("ID:          %s\n", t.ID)
	fmt.Printf("Title:       %s\n", t.Title)
	fmt.Printf("Status:      %s\n", t.Status)
	fmt.Printf("Type:        %s\n", t.Type)
	fmt.Printf("Created:     %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
	if t.MessagingChannel != "" {
		fmt.Printf("Channel:     %s\n", t.MessagingChannel)
	}
	if t.NextCheck != nil {
		fmt.Printf("Next check:  %s\n", t.NextCheck.Format("2006-01-02 15:04:05"))
	}

	if t.Description != "" {
		fmt.Printf("\nDescription:\n%s\n", t.Description)
	}

	if len(t.Plan) > 0 {
		fmt.Println("\nPlan:")
		for i, step := range t.Plan {
			marker := " "
			switch {
			case i < t.CurrentStep.Index:
				marker = "x"
			case i == t.CurrentStep.Index:
				marker = ">"
			}
			fmt.Printf("  %d. [%s] %s\n", i+1, marker, step)
		}
	}

	if t.ReplyWait.Active {
		fmt.Printf("\nWaiting on %s via %s (follow-ups %d/%d)\n",
			t.ReplyWait.Contact, t.ReplyWait.Via,
			t.ReplyWait.FollowupCount, t.ReplyWait.MaxFollowups)
	}

	if t.Clarification != "" {
		fmt.Printf("\nNeeds input: %s\n", t.Clarification)
	}

	if len(t.PendingMessages) > 0 {
		fmt.Println("\nPending messages:")
		for _, pm := range t.PendingMessages {
			fmt.Printf("  %s → %s via %s: %s\n", pm.ID, pm.Recipient, pm.Platform, pm.Body)
		}
	}

	log, _ := store.LoadLog(taskID)
	if len(log) > 0 {
		fmt.Println("\nActivity:")
		for _, entry := range log {
			fmt.Printf("  [%s] %s\n", entry.Ts.Format("15:04:05"), entry.Message)
		}
	}

	if t.LastError != "" {
		fmt.Printf("\nError: %s\n", t.LastError)
	}

	return nil
}

func runTasksCancel(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: envoy tasks cancel <task_id>")
	}

	// Prefer the running daemon; fall back to a direct store transition so
	// cancel works while the daemon is down.
	if base := gatewayURL(); base != "" {
		if err := postGateway(base, fmt.Sprintf("/api/tasks/%s/cancel", taskID), nil); err != nil {
			return err
		}
		fmt.Printf("Task %s cancelled.\n", taskID)
		return nil
	}

	store := newTaskStore()
	if _, err := store.Update(taskID, func(cur *tasks.Task) error {
		return cur.Transition(tasks.StatusCancelled)
	}); err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}
	fmt.Printf("Task %s cancelled.\n", taskID)
	return nil
}

func runTasksRespond(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	response := ""
	if args := cmd.Args().Slice(); len(args) > 1 {
		for i, a := range args[1:] {
			if i > 0 {
				response += " "
			}
			response += a
		}
	}
	if taskID == "" || response == "" {
		return fmt.Errorf("usage: envoy tasks respond <task_id> <response...>")
	}

	base := gatewayURL()
	if base == "" {
		return fmt.Errorf("envoy daemon is not running; responses need the engine")
	}
	if err := postGateway(base, fmt.Sprintf("/api/tasks/%s/respond", taskID), map[string]string{"response": response}); err != nil {
		return err
	}
	fmt.Println("Response delivered.")
	return nil
}

func runTasksApprove(_ context.Context, cmd *cli.Command) error {
	return resolvePendingMessage(cmd, "approve")
}

func runTasksReject(_ context.Context, cmd *cli.Command) error {
	return resolvePendingMessage(cmd, "reject")
}

func resolvePendingMessage(cmd *cli.Command, verb string) error {
	taskID := cmd.Args().First()
	messageID := cmd.Args().Get(1)
	if taskID == "" || messageID == "" {
		return fmt.Errorf("usage: envoy tasks %s <task_id> <message_id>", verb)
	}

	base := gatewayURL()
	if base == "" {
		return fmt.Errorf("envoy daemon is not running; approvals need the engine")
	}
	if err := postGateway(base, fmt.Sprintf("/api/tasks/%s/messages/%s/%s", taskID, messageID, verb), nil); err != nil {
		return err
	}
	fmt.Printf("Message %s %sd.\n", messageID, verb)
	return nil
}

// gatewayURL returns the base URL of the running daemon's gateway, or ""
// when the daemon is not alive.
func gatewayURL() string {
	status, hb, err := heartbeat.Check(config.HeartbeatPath(), 2*time.Minute)
	if err != nil || status != heartbeat.StatusAlive || hb.Gateway == "" {
		return ""
	}
	return "http://" + hb.Gateway
}

func postGateway(base, path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	resp, err := http.Post(base+path, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("call daemon: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			return fmt.Errorf("daemon: %s", payload.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return nil
}
