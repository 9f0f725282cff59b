package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dohr-michael/envoy/internal/events"
	"github.com/dohr-michael/envoy/internal/tasks"
)

// resume replays the startup plan: approvals are surfaced for a human,
// waiting tasks with an elapsed check run immediately, and tasks that
// were mid-execution re-enter the executor after a grace delay.
func (s *Scheduler) resume(ctx context.Context) {
	now := s.now()
	plan, err := tasks.PlanRecovery(s.store, now)
	if err != nil {
		slog.Warn("scheduler: recovery plan", "error", err)
		return
	}

	for _, t := range plan.Surface {
		s.surfaceApprovals(t)
	}

	for _, t := range plan.CheckNow {
		s.checkTask(ctx, t.ID, now)
	}

	for _, t := range plan.ResumeDelayed {
		taskID := t.ID
		go func() {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case <-time.After(s.resumeDelay):
			}
			if s.runner == nil {
				return
			}
			if err := s.runner.Invoke(ctx, taskID); err != nil {
				slog.Warn("scheduler: resume invoke", "task", taskID, "error", err)
			}
		}()
	}

	if n := len(plan.Surface) + len(plan.CheckNow) + len(plan.ResumeDelayed); n > 0 {
		slog.Info("scheduler: resumed persisted tasks",
			"surfaced", len(plan.Surface),
			"checked", len(plan.CheckNow),
			"delayed", len(plan.ResumeDelayed))
	}
}

// surfaceApprovals re-announces a task's pending messages. Approval is
// never auto-acted on; a human decides.
func (s *Scheduler) surfaceApprovals(t *tasks.Task) {
	for _, pm := range t.PendingMessages {
		s.bus.Publish(events.NewTypedEventForTask(events.SourceScheduler, events.ApprovalRequestedPayload{
			TaskID:    t.ID,
			MessageID: pm.ID,
			Platform:  pm.Platform,
			Recipient: pm.Recipient,
			Subject:   pm.Subject,
			Body:      pm.Body,
		}, t.ID))
	}

	s.bus.Publish(events.NewTypedEventForTask(events.SourceScheduler, events.NotificationPayload{
		TaskID:    t.ID,
		TaskTitle: t.Title,
		Message:   fmt.Sprintf("%d message(s) still awaiting your approval", len(t.PendingMessages)),
		Emoji:     "inbox_tray",
		ToChat:    !t.NotificationsDisabled,
	}, t.ID))
}
