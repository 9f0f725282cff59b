// Package tasks provides the durable task model and its persistence.
package tasks

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task. Exactly one is true at a time.
type Status string

const (
	StatusActive          Status = "active"
	StatusWaiting         Status = "waiting"
	StatusWaitingForInput Status = "waiting_for_input"
	StatusWaitingApproval Status = "waiting_approval"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// Terminal reports whether the status is a terminal state.
// Terminal tasks are permanently removed from the scheduler's active set.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Type distinguishes tasks with a terminal success condition from tasks that
// loop indefinitely.
type Type string

const (
	TypeDiscrete   Type = "discrete"
	TypeContinuous Type = "continuous"
)

// StepState mirrors, but is not identical to, the task's own status.
// A step can be executing while the task is active.
type StepState string

const (
	StepPending   StepState = "pending"
	StepExecuting StepState = "executing"
	StepWaiting   StepState = "waiting"
	StepDone      StepState = "done"
)

// Step is the cursor into the plan.
type Step struct {
	Index       int       `json:"index"`
	Description string    `json:"description"`
	State       StepState `json:"state"`
}

// PollKind selects between time-based and event-triggered scheduling.
type PollKind string

const (
	PollPreset PollKind = "preset"
	PollCron   PollKind = "cron"
	PollEvent  PollKind = "event"
)

// PollFrequency controls when the scheduler revisits a task.
// Event-kind tasks are excluded from the time sweep and fire on named
// lifecycle hooks instead.
type PollFrequency struct {
	Kind        PollKind `json:"kind"`
	IntervalSec int      `json:"interval_sec,omitempty"`
	CronSpec    string   `json:"cron_spec,omitempty"` // for cron-kind tasks
	Trigger     string   `json:"trigger,omitempty"`   // hook name, e.g. "login"
}

// Interval returns the preset polling interval as a duration.
func (p PollFrequency) Interval() time.Duration {
	return time.Duration(p.IntervalSec) * time.Second
}

// ReplyWait carries the reply-detection state for tasks that sent a message
// and are waiting on a human. Once captured, ConversationID is sticky: later
// steps reuse it rather than re-derive it.
type ReplyWait struct {
	Active             bool       `json:"active"`
	Via                string     `json:"via,omitempty"`     // integration id
	Contact            string     `json:"contact,omitempty"` // as understood by that integration
	ConversationID     string     `json:"conversation_id,omitempty"`
	LastMessageTime    time.Time  `json:"last_message_time,omitzero"` // detection cutoff
	FollowupCount      int        `json:"followup_count"`
	MaxFollowups       int        `json:"max_followups"`
	FollowupAfterHours float64    `json:"followup_after_hours"`
	LastFollowupTime   *time.Time `json:"last_followup_time,omitempty"`
	SuccessCriteria    string     `json:"success_criteria,omitempty"`
	OriginalRequest    string     `json:"original_request,omitempty"`
}

// FollowupDue reports whether enough time has elapsed since the last
// follow-up (or since the wait began) to permit another one.
func (rw ReplyWait) FollowupDue(now time.Time) bool {
	anchor := rw.LastMessageTime
	if rw.LastFollowupTime != nil && rw.LastFollowupTime.After(anchor) {
		anchor = *rw.LastFollowupTime
	}
	if anchor.IsZero() {
		return false
	}
	dwell := time.Duration(rw.FollowupAfterHours * float64(time.Hour))
	return now.Sub(anchor) >= dwell
}

// BudgetExhausted reports whether the follow-up retry budget is spent.
func (rw ReplyWait) BudgetExhausted() bool {
	return rw.FollowupCount >= rw.MaxFollowups
}

// PendingMessage is a drafted-but-unsent message awaiting user approval.
type PendingMessage struct {
	ID        string         `json:"id"`
	Platform  string         `json:"platform"` // integration id
	Recipient string         `json:"recipient"`
	Subject   string         `json:"subject,omitempty"`
	Body      string         `json:"body"`
	CreatedAt time.Time      `json:"created_at"`
	RawInput  map[string]any `json:"raw_input,omitempty"`
}

// LogEntry is one line of the append-only execution log — the canonical
// record the user-facing "what happened" view is built from.
type LogEntry struct {
	Ts      time.Time `json:"ts"`
	Message string    `json:"message"`
}

// Task represents a durable unit of multi-step autonomous work.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status"`
	Type        Type   `json:"type"`

	// Plan is replaced wholesale, never partially mutated in place.
	Plan        []string      `json:"plan"`
	CurrentStep Step          `json:"current_step"`
	NextCheck   *time.Time    `json:"next_check,omitempty"`
	Poll        PollFrequency `json:"poll"`

	ReplyWait ReplyWait      `json:"reply_wait"`
	Scratch   map[string]any `json:"scratch,omitempty"` // open-ended step-local data

	PendingMessages []PendingMessage `json:"pending_messages,omitempty"`

	// MessagingChannel, once set, always wins over keyword inference and is
	// never overridden mid-task.
	MessagingChannel string `json:"messaging_channel,omitempty"`

	AutoSend              bool   `json:"auto_send"`
	NotificationsDisabled bool   `json:"notifications_disabled"`
	Hidden                bool   `json:"hidden"`
	Clarification         string `json:"clarification,omitempty"` // question behind waiting_for_input
	UserResponse          string `json:"user_response,omitempty"` // answer supplied by the user
	LastError             string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StepDescription returns the description of the plan step at index i.
func (t *Task) StepDescription(i int) string {
	if i < 0 || i >= len(t.Plan) {
		return ""
	}
	return t.Plan[i]
}

// OnLastStep reports whether the current step is the final plan step.
func (t *Task) OnLastStep() bool {
	return t.CurrentStep.Index >= len(t.Plan)-1
}

// FindPendingMessage returns the pending message with the given id, or nil.
func (t *Task) FindPendingMessage(id string) *PendingMessage {
	for i := range t.PendingMessages {
		if t.PendingMessages[i].ID == id {
			return &t.PendingMessages[i]
		}
	}
	return nil
}

// RemovePendingMessage deletes the pending message with the given id.
// Returns true if it was present.
func (t *Task) RemovePendingMessage(id string) bool {
	for i := range t.PendingMessages {
		if t.PendingMessages[i].ID == id {
			t.PendingMessages = append(t.PendingMessages[:i], t.PendingMessages[i+1:]...)
			return true
		}
	}
	return false
}

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	u := uuid.New().String()
	return "task_" + strings.ReplaceAll(u[:8], "-", "")
}

// GenerateMessageID creates a unique pending-message identifier.
func GenerateMessageID() string {
	u := uuid.New().String()
	return "msg_" + strings.ReplaceAll(u[:8], "-", "")
}
