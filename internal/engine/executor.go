package engine

import (
	"context"

	"github.com/dohr-michael/envoy/internal/tasks"
)

// Transition is a step executor's explicit state-transition request. A nil
// Transition means "no request": the engine applies its auto-advance
// fallback so a task never silently re-runs the same step forever.
type Transition struct {
	NextStatus            tasks.Status     `json:"next_status,omitempty"`
	GotoStep              *int             `json:"goto_step,omitempty"`
	PollIntervalSec       int              `json:"poll_interval_sec,omitempty"`
	ContextUpdates        map[string]any   `json:"context_updates,omitempty"`
	ClarificationQuestion string           `json:"clarification_question,omitempty"`
	ModifyPlan            []string         `json:"modify_plan,omitempty"`
	ReplyWait             *tasks.ReplyWait `json:"reply_wait,omitempty"`
}

// Executor performs one unit of work for a task's current step and may
// request a transition. Implementations are typically LLM tool-calling
// loops; the engine only depends on this contract.
type Executor interface {
	Execute(ctx context.Context, t *tasks.Task) (*Transition, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t *tasks.Task) (*Transition, error)

func (f ExecutorFunc) Execute(ctx context.Context, t *tasks.Task) (*Transition, error) {
	return f(ctx, t)
}
