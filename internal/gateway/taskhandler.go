package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dohr-michael/envoy/internal/engine"
	"github.com/dohr-michael/envoy/internal/tasks"
)

// TaskHandler bridges gateway requests (HTTP and WS) to the engine.
type TaskHandler struct {
	engine *engine.Engine
}

// NewTaskHandler creates a handler backed by the engine.
func NewTaskHandler(e *engine.Engine) *TaskHandler {
	return &TaskHandler{engine: e}
}

type taskSummary struct {
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Type      tasks.Type   `json:"type"`
	Status    tasks.Status `json:"status"`
	Step      int          `json:"step"`
	Steps     int          `json:"steps"`
	Pending   int          `json:"pending_messages"`
	NextCheck *time.Time   `json:"next_check,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func summarize(t *tasks.Task) taskSummary {
	return taskSummary{
		ID:        t.ID,
		Title:     t.Title,
		Type:      t.Type,
		Status:    t.Status,
		Step:      t.CurrentStep.Index + 1,
		Steps:     len(t.Plan),
		Pending:   len(t.PendingMessages),
		NextCheck: t.NextCheck,
		UpdatedAt: t.UpdatedAt,
	}
}

// Create parses a task spec and creates the task.
func (h *TaskHandler) Create(ctx context.Context, params json.RawMessage) (any, error) {
	var spec engine.CreateSpec
	if err := json.Unmarshal(params, &spec); err != nil {
		return nil, fmt.Errorf("invalid task spec: %w", err)
	}
	t, err := h.engine.CreateTask(ctx, spec)
	if err != nil {
		return nil, err
	}
	return summarize(t), nil
}

// List returns summaries of all non-hidden tasks.
func (h *TaskHandler) List() (any, error) {
	all, err := h.engine.Store().List(tasks.ListFilter{})
	if err != nil {
		return nil, err
	}
	result := make([]taskSummary, 0, len(all))
	for _, t := range all {
		result = append(result, summarize(t))
	}
	return result, nil
}

// Get returns the full task record.
func (h *TaskHandler) Get(taskID string) (any, error) {
	return h.engine.Store().Get(taskID)
}

// Log returns a task's activity log.
func (h *TaskHandler) Log(taskID string) ([]tasks.LogEntry, error) {
	return h.engine.Store().LoadLog(taskID)
}

// Cancel moves a task to cancelled.
func (h *TaskHandler) Cancel(ctx context.Context, taskID string) error {
	return h.engine.Cancel(ctx, taskID)
}

// Respond routes a user answer to a task waiting for input.
func (h *TaskHandler) Respond(ctx context.Context, taskID, response string) error {
	return h.engine.RespondToInput(ctx, taskID, response)
}

// Approve sends a queued message. An empty taskID resolves an ad hoc
// confirmation instead.
func (h *TaskHandler) Approve(ctx context.Context, taskID, messageID string) error {
	if taskID == "" {
		if !h.engine.Gate().Approve(messageID) {
			return fmt.Errorf("no pending confirmation %s", messageID)
		}
		return nil
	}
	return h.engine.ApprovePendingMessage(ctx, taskID, messageID)
}

// Reject drops a queued message or an ad hoc confirmation.
func (h *TaskHandler) Reject(ctx context.Context, taskID, messageID string) error {
	if taskID == "" {
		if !h.engine.Gate().Reject(messageID, "rejected by user") {
			return fmt.Errorf("no pending confirmation %s", messageID)
		}
		return nil
	}
	return h.engine.RejectPendingMessage(ctx, taskID, messageID)
}
