package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

type TaskCreatedPayload struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Type   string `json:"type"` // "discrete" | "continuous"
}

func (TaskCreatedPayload) EventType() EventType { return EventTaskCreated }

type TaskStatusPayload struct {
	TaskID string `json:"task_id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

func (TaskStatusPayload) EventType() EventType { return EventTaskStatus }

type TaskStepPayload struct {
	TaskID      string `json:"task_id"`
	StepIndex   int    `json:"step_index"`
	TotalSteps  int    `json:"total_steps"`
	Description string `json:"description"`
}

func (TaskStepPayload) EventType() EventType { return EventTaskStep }

type ReplyReceivedPayload struct {
	TaskID         string `json:"task_id"`
	Integration    string `json:"integration"`
	Contact        string `json:"contact"`
	ConversationID string `json:"conversation_id,omitempty"`
	Preview        string `json:"preview"`
}

func (ReplyReceivedPayload) EventType() EventType { return EventReplyReceived }

type FollowupSentPayload struct {
	TaskID        string `json:"task_id"`
	Integration   string `json:"integration"`
	Contact       string `json:"contact"`
	FollowupCount int    `json:"followup_count"`
	MaxFollowups  int    `json:"max_followups"`
	IsTimeout     bool   `json:"is_timeout"`
}

func (FollowupSentPayload) EventType() EventType { return EventFollowupSent }

type ApprovalRequestedPayload struct {
	TaskID    string `json:"task_id,omitempty"`
	MessageID string `json:"message_id"`
	Platform  string `json:"platform"`
	Recipient string `json:"recipient"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
}

func (ApprovalRequestedPayload) EventType() EventType { return EventApprovalRequested }

type ApprovalResolvedPayload struct {
	TaskID    string `json:"task_id,omitempty"`
	MessageID string `json:"message_id"`
	Outcome   string `json:"outcome"` // "approved" | "rejected" | "timeout"
}

func (ApprovalResolvedPayload) EventType() EventType { return EventApprovalResolved }

type InputRequestedPayload struct {
	TaskID   string `json:"task_id"`
	Question string `json:"question"`
}

func (InputRequestedPayload) EventType() EventType { return EventInputRequested }

type InputReceivedPayload struct {
	TaskID   string `json:"task_id"`
	Response string `json:"response"`
}

func (InputReceivedPayload) EventType() EventType { return EventInputReceived }

type NotificationPayload struct {
	TaskID    string `json:"task_id,omitempty"`
	TaskTitle string `json:"task_title,omitempty"`
	Message   string `json:"message"`
	Emoji     string `json:"emoji,omitempty"`
	ToChat    bool   `json:"to_chat"`
}

func (NotificationPayload) EventType() EventType { return EventNotification }

type LifecycleHookPayload struct {
	Hook string `json:"hook"` // e.g. "login", "wake"
}

func (LifecycleHookPayload) EventType() EventType { return EventLifecycleHook }

// NewTypedEvent wraps a typed payload into an Event.
func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

// NewTypedEventForTask wraps a typed payload into an Event carrying a task ID.
func NewTypedEventForTask(source EventSource, payload EventPayload, taskID string) Event {
	e := NewTypedEvent(source, payload)
	e.TaskID = taskID
	return e
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// ExtractPayload decodes an event's payload map into a typed payload.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
