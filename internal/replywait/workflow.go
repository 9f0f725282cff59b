package replywait

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dohr-michael/envoy/internal/approvals"
	"github.com/dohr-michael/envoy/internal/events"
	"github.com/dohr-michael/envoy/internal/messaging"
	"github.com/dohr-michael/envoy/internal/tasks"
)

// ConfirmationGate is the approval checkpoint the workflow sends through.
type ConfirmationGate interface {
	RequestConfirmation(ctx context.Context, draft approvals.Draft, t *tasks.Task) (*approvals.Result, error)
}

// Integrations resolves integration ids to live backends.
type Integrations interface {
	Lookup(id messaging.ID) (messaging.Integration, bool)
}

// Workflow decides, for each observed reply or dwell timeout, whether a
// waiting task is satisfied, needs a follow-up, or has exhausted its
// budget and must escalate to the user.
type Workflow struct {
	store        tasks.Store
	integrations Integrations
	gate         ConfirmationGate
	judge        Judge
	bus          *events.Bus
	now          func() time.Time
}

// New creates a reply-wait workflow.
func New(store tasks.Store, integrations Integrations, gate ConfirmationGate, judge Judge, bus *events.Bus) *Workflow {
	return &Workflow{
		store:        store,
		integrations: integrations,
		gate:         gate,
		judge:        judge,
		bus:          bus,
		now:          time.Now,
	}
}

// HandleReply evaluates a newly observed reply against the task's success
// criteria and runs the ladder when it falls short.
func (w *Workflow) HandleReply(ctx context.Context, t *tasks.Task, reply messaging.Message) error {
	rw := t.ReplyWait
	if !rw.Active {
		return fmt.Errorf("replywait: task %s has no active reply wait", t.ID)
	}

	judgment := w.evaluate(ctx, EvaluateInput{
		ReplyBody:       reply.Body,
		OriginalRequest: rw.OriginalRequest,
		SuccessCriteria: rw.SuccessCriteria,
		Contact:         rw.Contact,
	})

	if judgment.Satisfies {
		return w.complete(t, reply, judgment)
	}

	slog.Info("reply does not satisfy objective",
		"task", t.ID, "contact", rw.Contact, "reason", judgment.Reason)
	return w.ladder(ctx, t, reply.Body, false)
}

// HandleTimeout runs the ladder when the dwell elapsed with no reply at
// all, so the generated message gently reminds rather than responds.
func (w *Workflow) HandleTimeout(ctx context.Context, t *tasks.Task) error {
	if !t.ReplyWait.Active {
		return fmt.Errorf("replywait: task %s has no active reply wait", t.ID)
	}
	return w.ladder(ctx, t, "", true)
}

// evaluate degrades to "not satisfied" when the judge is unavailable so
// the ladder keeps going instead of failing the tick.
func (w *Workflow) evaluate(ctx context.Context, in EvaluateInput) *Judgment {
	judgment, err := w.judge.Evaluate(ctx, in)
	if err != nil {
		slog.Warn("judge unavailable, treating reply as not satisfying", "error", err)
		return &Judgment{Satisfies: false, Reason: "judge unavailable: " + err.Error()}
	}
	return judgment
}

func (w *Workflow) complete(t *tasks.Task, reply messaging.Message, judgment *Judgment) error {
	updated, err := w.store.Update(t.ID, func(cur *tasks.Task) error {
		if err := cur.Transition(tasks.StatusCompleted); err != nil {
			return err
		}
		cur.ReplyWait.Active = false
		if judgment.ExtractedInfo != "" {
			if cur.Scratch == nil {
				cur.Scratch = make(map[string]any)
			}
			cur.Scratch["extracted_info"] = judgment.ExtractedInfo
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete task %s: %w", t.ID, err)
	}

	w.log(t.ID, fmt.Sprintf("reply from %s satisfied the objective: %s (%s)",
		t.ReplyWait.Contact, judgment.Reason, preview(reply.Body, 120)))

	w.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.TaskStatusPayload{
		TaskID: t.ID,
		From:   string(t.Status),
		To:     string(tasks.StatusCompleted),
		Reason: judgment.Reason,
	}, t.ID))

	// Exactly one completion notification.
	w.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.NotificationPayload{
		TaskID:    t.ID,
		TaskTitle: updated.Title,
		Message:   fmt.Sprintf("%s replied — task complete. %s", t.ReplyWait.Contact, judgment.Reason),
		Emoji:     "white_check_mark",
		ToChat:    !updated.NotificationsDisabled,
	}, t.ID))

	return nil
}

func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// ladder is the shared follow-up/escalation path for unsatisfying replies
// and timeouts. The budget check comes first: escalation happens exactly
// when the budget is spent and the latest observation was unsatisfying.
func (w *Workflow) ladder(ctx context.Context, t *tasks.Task, lastReply string, isTimeout bool) error {
	rw := t.ReplyWait

	if rw.BudgetExhausted() {
		return w.escalate(t)
	}

	body := w.followupBody(ctx, FollowupInput{
		OriginalRequest: rw.OriginalRequest,
		SuccessCriteria: rw.SuccessCriteria,
		Contact:         rw.Contact,
		LastReply:       lastReply,
		FollowupCount:   rw.FollowupCount,
		IsTimeout:       isTimeout,
	})

	res, err := w.gate.RequestConfirmation(ctx, approvals.Draft{
		Platform:       rw.Via,
		Recipient:      rw.Contact,
		Body:           body,
		ConversationID: rw.ConversationID,
	}, t)
	if err != nil {
		return fmt.Errorf("request confirmation: %w", err)
	}

	switch {
	case res.PendingInTask:
		w.log(t.ID, fmt.Sprintf("follow-up to %s queued for approval (%s)", rw.Contact, res.MessageID))
		return nil
	case !res.Approved:
		w.log(t.ID, fmt.Sprintf("follow-up to %s rejected: %s", rw.Contact, res.Reason))
		return nil
	}

	integ, ok := w.integrations.Lookup(messaging.ID(rw.Via))
	if !ok {
		return fmt.Errorf("integration %q not configured", rw.Via)
	}

	sent, err := integ.SendMessage(ctx, messaging.SendRequest{
		Recipient:      rw.Contact,
		Body:           body,
		ConversationID: rw.ConversationID,
	})
	if err != nil {
		// Transient send failures reschedule at the normal poll cadence;
		// the budget only moves after a send actually went out.
		slog.Warn("follow-up send failed", "task", t.ID, "via", rw.Via, "error", err)
		w.log(t.ID, fmt.Sprintf("follow-up send via %s failed: %v", rw.Via, err))
		return nil
	}

	now := w.now()
	updated, err := w.store.Update(t.ID, func(cur *tasks.Task) error {
		cur.ReplyWait.FollowupCount++
		cur.ReplyWait.LastFollowupTime = &now
		if cur.ReplyWait.ConversationID == "" && sent.ConversationID != "" {
			cur.ReplyWait.ConversationID = sent.ConversationID
		}
		if cur.Status != tasks.StatusWaiting {
			return cur.Transition(tasks.StatusWaiting)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record follow-up on %s: %w", t.ID, err)
	}

	w.log(t.ID, fmt.Sprintf("follow-up %d/%d sent to %s via %s",
		updated.ReplyWait.FollowupCount, updated.ReplyWait.MaxFollowups, rw.Contact, rw.Via))

	w.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.FollowupSentPayload{
		TaskID:        t.ID,
		Integration:   rw.Via,
		Contact:       rw.Contact,
		FollowupCount: updated.ReplyWait.FollowupCount,
		MaxFollowups:  updated.ReplyWait.MaxFollowups,
		IsTimeout:     isTimeout,
	}, t.ID))

	return nil
}

func (w *Workflow) followupBody(ctx context.Context, in FollowupInput) string {
	body, err := w.judge.GenerateFollowup(ctx, in)
	if err != nil {
		slog.Warn("follow-up generator unavailable, using fallback template", "error", err)
		return FallbackFollowup(in)
	}
	return body
}

// escalate hands the stalemate to the user. This is a hard boundary: the
// engine never silently gives up and never retries past the budget.
func (w *Workflow) escalate(t *tasks.Task) error {
	rw := t.ReplyWait
	elapsed := w.now().Sub(rw.LastMessageTime)
	question := StalemateSummary(rw.Contact, elapsed, rw.FollowupCount, rw.SuccessCriteria)

	_, err := w.store.Update(t.ID, func(cur *tasks.Task) error {
		if err := cur.Transition(tasks.StatusWaitingForInput); err != nil {
			return err
		}
		cur.Clarification = question
		return nil
	})
	if err != nil {
		return fmt.Errorf("escalate task %s: %w", t.ID, err)
	}

	w.log(t.ID, fmt.Sprintf("follow-up budget exhausted (%d/%d), escalating to user",
		rw.FollowupCount, rw.MaxFollowups))

	w.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.InputRequestedPayload{
		TaskID:   t.ID,
		Question: question,
	}, t.ID))

	w.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.NotificationPayload{
		TaskID:    t.ID,
		TaskTitle: t.Title,
		Message:   question,
		Emoji:     "hourglass_flowing_sand",
		ToChat:    !t.NotificationsDisabled,
	}, t.ID))

	return nil
}

func (w *Workflow) log(taskID, message string) {
	if err := w.store.AppendLog(taskID, message); err != nil {
		slog.Warn("append task log failed", "task", taskID, "error", err)
	}
}
