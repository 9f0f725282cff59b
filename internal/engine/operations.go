package engine

import (
	"context"
	"fmt"

	"github.com/dohr-michael/envoy/internal/approvals"
	"github.com/dohr-michael/envoy/internal/events"
	"github.com/dohr-michael/envoy/internal/messaging"
	"github.com/dohr-michael/envoy/internal/tasks"
)

// CreateSpec describes a new task.
type CreateSpec struct {
	Title                 string              `json:"title"`
	Description           string              `json:"description"`
	Plan                  []string            `json:"plan"`
	Type                  tasks.Type          `json:"type,omitempty"`
	Poll                  tasks.PollFrequency `json:"poll,omitempty"`
	MessagingChannel      string              `json:"messaging_channel,omitempty"`
	AutoSend              bool                `json:"auto_send,omitempty"`
	Hidden                bool                `json:"hidden,omitempty"`
	NotificationsDisabled bool                `json:"notifications_disabled,omitempty"`
}

// CreateTask persists a new task and kicks off its first step. When no
// messaging channel is named, a best-effort keyword inference runs over
// the description; the explicit field, once set, always wins later.
func (e *Engine) CreateTask(ctx context.Context, spec CreateSpec) (*tasks.Task, error) {
	if spec.Title == "" {
		return nil, fmt.Errorf("task title is required")
	}
	if len(spec.Plan) == 0 {
		return nil, fmt.Errorf("task plan is required")
	}

	channel := spec.MessagingChannel
	if channel == "" {
		if id, ok := messaging.InferIntegration(spec.Description); ok {
			channel = string(id)
		}
	}

	t := &tasks.Task{
		Title:                 spec.Title,
		Description:           spec.Description,
		Plan:                  spec.Plan,
		Type:                  spec.Type,
		Poll:                  spec.Poll,
		MessagingChannel:      channel,
		AutoSend:              spec.AutoSend,
		Hidden:                spec.Hidden,
		NotificationsDisabled: spec.NotificationsDisabled,
	}
	if t.Poll.Kind == "" {
		t.Poll = tasks.PollFrequency{
			Kind:        tasks.PollPreset,
			IntervalSec: int(e.cfg.DefaultPollInterval.Duration().Seconds()),
		}
	}

	if err := e.store.Create(t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	e.log(t.ID, fmt.Sprintf("task created: %s (%d steps)", t.Title, len(t.Plan)))

	e.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.TaskCreatedPayload{
		TaskID: t.ID,
		Title:  t.Title,
		Type:   string(t.Type),
	}, t.ID))

	go func() {
		// Invoke records failures on the task itself.
		_ = e.Invoke(context.WithoutCancel(ctx), t.ID)
	}()

	return t, nil
}

// Cancel unconditionally moves a non-terminal task to cancelled.
func (e *Engine) Cancel(ctx context.Context, taskID string) error {
	t, err := e.store.Update(taskID, func(cur *tasks.Task) error {
		return cur.Transition(tasks.StatusCancelled)
	})
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}

	e.log(taskID, "cancelled by user")
	e.publishStatus(t, "cancelled by user")
	return nil
}

// RespondToInput routes the user's free-text answer to a task parked in
// waiting_for_input, clears the clarification, and resumes execution.
func (e *Engine) RespondToInput(ctx context.Context, taskID, response string) error {
	t, err := e.store.Update(taskID, func(cur *tasks.Task) error {
		if cur.Status != tasks.StatusWaitingForInput {
			return fmt.Errorf("task %s is not waiting for input (status %s)", cur.ID, cur.Status)
		}
		if err := cur.Transition(tasks.StatusActive); err != nil {
			return err
		}
		cur.UserResponse = response
		cur.Clarification = ""
		return nil
	})
	if err != nil {
		return err
	}

	e.log(taskID, fmt.Sprintf("user responded: %s", response))
	e.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.InputReceivedPayload{
		TaskID:   taskID,
		Response: response,
	}, taskID))
	e.publishStatus(t, "user input received")

	go func() {
		_ = e.Invoke(context.WithoutCancel(ctx), taskID)
	}()
	return nil
}

// SendOutcome reports what happened to an outbound message.
type SendOutcome struct {
	Sent           bool   `json:"sent"`
	Deferred       bool   `json:"deferred"` // queued on the task for approval
	MessageID      string `json:"message_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// SendTaskMessage sends a message on behalf of a task through the
// confirmation gate. On an actual send it captures the reply-wait context;
// if the current step is a send-and-wait step the task parks in waiting
// rather than advancing.
func (e *Engine) SendTaskMessage(ctx context.Context, taskID string, draft approvals.Draft) (*SendOutcome, error) {
	t, err := e.store.Get(taskID)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}

	// The task's explicit channel always wins over whatever the caller
	// inferred; it is never overridden mid-task.
	if t.MessagingChannel != "" {
		draft.Platform = t.MessagingChannel
	}
	if draft.ConversationID == "" && t.ReplyWait.Via == draft.Platform {
		draft.ConversationID = t.ReplyWait.ConversationID
	}

	res, err := e.gate.RequestConfirmation(ctx, draft, t)
	if err != nil {
		return nil, err
	}
	if res.PendingInTask {
		e.log(taskID, fmt.Sprintf("message to %s queued for approval (%s)", draft.Recipient, res.MessageID))
		return &SendOutcome{Deferred: true, MessageID: res.MessageID}, nil
	}
	if !res.Approved {
		e.log(taskID, fmt.Sprintf("message to %s rejected: %s", draft.Recipient, res.Reason))
		return &SendOutcome{Reason: res.Reason}, nil
	}

	sent, err := e.deliver(ctx, draft)
	if err != nil {
		return nil, err
	}

	waiting := e.classify(t.CurrentStep.Description)
	now := e.now()
	_, err = e.store.Update(taskID, func(cur *tasks.Task) error {
		if cur.MessagingChannel == "" {
			cur.MessagingChannel = draft.Platform
		}
		cur.ReplyWait.Via = draft.Platform
		cur.ReplyWait.Contact = draft.Recipient
		cur.ReplyWait.LastMessageTime = now
		if cur.ReplyWait.ConversationID == "" && sent.ConversationID != "" {
			cur.ReplyWait.ConversationID = sent.ConversationID
		}
		if cur.ReplyWait.MaxFollowups == 0 {
			cur.ReplyWait.MaxFollowups = e.cfg.DefaultMaxFollowups
		}
		if cur.ReplyWait.FollowupAfterHours == 0 {
			cur.ReplyWait.FollowupAfterHours = e.cfg.FollowupAfterHours
		}
		if waiting {
			cur.ReplyWait.Active = true
			if cur.Status == tasks.StatusActive {
				if err := cur.Transition(tasks.StatusWaiting); err != nil {
					return err
				}
			}
			cur.CurrentStep.State = tasks.StepWaiting
			e.stampNextCheck(cur, now)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record send: %w", err)
	}

	e.log(taskID, fmt.Sprintf("sent message to %s via %s", draft.Recipient, draft.Platform))
	return &SendOutcome{Sent: true, MessageID: sent.MessageID, ConversationID: sent.ConversationID}, nil
}

func (e *Engine) deliver(ctx context.Context, draft approvals.Draft) (*messaging.SendResult, error) {
	id, err := messaging.ParseID(draft.Platform)
	if err != nil {
		return nil, err
	}
	integ, ok := e.integrations.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("integration %q not configured", draft.Platform)
	}
	return integ.SendMessage(ctx, messaging.SendRequest{
		Recipient:      draft.Recipient,
		Subject:        draft.Subject,
		Body:           draft.Body,
		ConversationID: draft.ConversationID,
	})
}

// ApprovePendingMessage sends a queued message and removes it from the
// task's approval queue. The owning step decides the next status: a
// waiting step parks the task in waiting on the just-sent message,
// anything else advances (or completes).
func (e *Engine) ApprovePendingMessage(ctx context.Context, taskID, messageID string) error {
	t, err := e.store.Get(taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	pm := t.FindPendingMessage(messageID)
	if pm == nil {
		return fmt.Errorf("pending message %s not found on task %s", messageID, taskID)
	}

	conversationID := ""
	if t.ReplyWait.Via == pm.Platform {
		conversationID = t.ReplyWait.ConversationID
	}

	sent, err := e.deliver(ctx, approvals.Draft{
		Platform:       pm.Platform,
		Recipient:      pm.Recipient,
		Subject:        pm.Subject,
		Body:           pm.Body,
		ConversationID: conversationID,
	})
	if err != nil {
		return fmt.Errorf("send approved message: %w", err)
	}

	now := e.now()
	waiting := e.classify(t.CurrentStep.Description)
	wasFollowup := t.ReplyWait.Active

	updated, err := e.store.Update(taskID, func(cur *tasks.Task) error {
		if !cur.RemovePendingMessage(messageID) {
			return fmt.Errorf("pending message %s vanished", messageID)
		}

		cur.ReplyWait.Via = pm.Platform
		cur.ReplyWait.Contact = pm.Recipient
		if cur.ReplyWait.ConversationID == "" && sent.ConversationID != "" {
			cur.ReplyWait.ConversationID = sent.ConversationID
		}
		if cur.ReplyWait.MaxFollowups == 0 {
			cur.ReplyWait.MaxFollowups = e.cfg.DefaultMaxFollowups
		}
		if cur.ReplyWait.FollowupAfterHours == 0 {
			cur.ReplyWait.FollowupAfterHours = e.cfg.FollowupAfterHours
		}

		if wasFollowup {
			// An approved send on a live reply wait is a follow-up: the
			// budget moves only now, after the send went out.
			cur.ReplyWait.FollowupCount++
			cur.ReplyWait.LastFollowupTime = &now
		} else {
			cur.ReplyWait.LastMessageTime = now
		}

		if len(cur.PendingMessages) > 0 {
			return nil // more drafts still waiting on the human
		}

		if waiting || wasFollowup {
			cur.ReplyWait.Active = true
			if err := cur.Transition(tasks.StatusWaiting); err != nil {
				return err
			}
			cur.CurrentStep.State = tasks.StepWaiting
			e.stampNextCheck(cur, now)
			return nil
		}

		if err := cur.Transition(tasks.StatusActive); err != nil {
			return err
		}
		cur.CurrentStep.State = tasks.StepDone
		cur.AdvanceStep()
		if cur.Status == tasks.StatusWaiting {
			e.stampNextCheck(cur, now)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.log(taskID, fmt.Sprintf("approved and sent message to %s via %s", pm.Recipient, pm.Platform))

	e.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.ApprovalResolvedPayload{
		TaskID:    taskID,
		MessageID: messageID,
		Outcome:   "approved",
	}, taskID))
	if wasFollowup {
		e.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.FollowupSentPayload{
			TaskID:        taskID,
			Integration:   pm.Platform,
			Contact:       pm.Recipient,
			FollowupCount: updated.ReplyWait.FollowupCount,
			MaxFollowups:  updated.ReplyWait.MaxFollowups,
		}, taskID))
	}
	e.publishStatus(updated, "message approved")
	return nil
}

// RejectPendingMessage drops a queued message. Rejection always advances
// past the owning step so the task never re-offers the same draft.
func (e *Engine) RejectPendingMessage(ctx context.Context, taskID, messageID string) error {
	now := e.now()
	updated, err := e.store.Update(taskID, func(cur *tasks.Task) error {
		if !cur.RemovePendingMessage(messageID) {
			return fmt.Errorf("pending message %s not found on task %s", messageID, taskID)
		}
		if len(cur.PendingMessages) > 0 {
			return nil
		}
		if err := cur.Transition(tasks.StatusActive); err != nil {
			return err
		}
		cur.CurrentStep.State = tasks.StepDone
		cur.AdvanceStep()
		if cur.Status == tasks.StatusWaiting {
			e.stampNextCheck(cur, now)
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.log(taskID, fmt.Sprintf("message %s rejected by user", messageID))

	e.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.ApprovalResolvedPayload{
		TaskID:    taskID,
		MessageID: messageID,
		Outcome:   "rejected",
	}, taskID))
	e.publishStatus(updated, "message rejected")
	return nil
}

// TriggerHook publishes a named lifecycle hook; event-kind tasks whose
// trigger matches wake up via the scheduler's subscription.
func (e *Engine) TriggerHook(name string) {
	e.bus.Publish(events.NewTypedEvent(events.SourceEngine, events.LifecycleHookPayload{Hook: name}))
}
