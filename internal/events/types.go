package events

// EventType represents the type of event.
type EventType string

const (
	// Task lifecycle
	EventTaskCreated EventType = "task.created"
	EventTaskStatus  EventType = "task.status"
	EventTaskStep    EventType = "task.step"

	// Reply-wait workflow
	EventReplyReceived EventType = "reply.received"
	EventFollowupSent  EventType = "followup.sent"

	// Confirmation gate
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalResolved  EventType = "approval.resolved"

	// User input (clarifications)
	EventInputRequested EventType = "input.requested"
	EventInputReceived  EventType = "input.received"

	// User-facing notifications
	EventNotification EventType = "notification"

	// Named lifecycle hooks (trigger event-typed tasks, e.g. "login")
	EventLifecycleHook EventType = "lifecycle.hook"
)

// EventSource identifies the component that emitted an event.
type EventSource string

const (
	SourceEngine    EventSource = "engine"
	SourceScheduler EventSource = "scheduler"
	SourceGateway   EventSource = "gateway"
	SourceMessaging EventSource = "messaging"
)
