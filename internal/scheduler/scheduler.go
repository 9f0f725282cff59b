package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dohr-michael/envoy/internal/events"
	"github.com/dohr-michael/envoy/internal/messaging"
	"github.com/dohr-michael/envoy/internal/tasks"
)

const (
	// DefaultTick is the sweep interval when none is configured.
	DefaultTick = 30 * time.Second
	// DefaultPoll is the per-task reply polling interval when a task
	// carries none.
	DefaultPoll = 5 * time.Minute
	// DefaultResumeDelay is how long startup waits before re-invoking
	// tasks that were mid-execution at crash time.
	DefaultResumeDelay = 10 * time.Second
)

// Integrations resolves integration ids to live backends.
type Integrations interface {
	Lookup(id messaging.ID) (messaging.Integration, bool)
}

// ReplyWorkflow is the handoff target once the scheduler has observed a
// reply (or decided the dwell elapsed without one).
type ReplyWorkflow interface {
	HandleReply(ctx context.Context, t *tasks.Task, reply messaging.Message) error
	HandleTimeout(ctx context.Context, t *tasks.Task) error
}

// Runner re-enters the step executor for a task that is due to run.
type Runner interface {
	Invoke(ctx context.Context, taskID string) error
}

// Config holds dependencies for the scheduler.
type Config struct {
	Store        tasks.Store
	Integrations Integrations
	Workflow     ReplyWorkflow
	Runner       Runner
	Bus          *events.Bus
	TickInterval time.Duration
	DefaultPoll  time.Duration
	ResumeDelay  time.Duration
}

// Scheduler drives the single periodic sweep over waiting tasks: reply
// polling, follow-up dwell checks, and cheap rescheduling. One timer loop,
// no per-task pollers.
type Scheduler struct {
	store        tasks.Store
	integrations Integrations
	workflow     ReplyWorkflow
	runner       Runner
	bus          *events.Bus

	tick        time.Duration
	defaultPoll time.Duration
	resumeDelay time.Duration
	now         func() time.Time

	done        chan struct{}
	unsubscribe func()
}

// New creates a scheduler.
func New(cfg Config) *Scheduler {
	s := &Scheduler{
		store:        cfg.Store,
		integrations: cfg.Integrations,
		workflow:     cfg.Workflow,
		runner:       cfg.Runner,
		bus:          cfg.Bus,
		tick:         cfg.TickInterval,
		defaultPoll:  cfg.DefaultPoll,
		resumeDelay:  cfg.ResumeDelay,
		now:          time.Now,
		done:         make(chan struct{}),
	}
	if s.tick <= 0 {
		s.tick = DefaultTick
	}
	if s.defaultPoll <= 0 {
		s.defaultPoll = DefaultPoll
	}
	if s.resumeDelay <= 0 {
		s.resumeDelay = DefaultResumeDelay
	}
	return s
}

// Start runs the startup resume pass, subscribes to lifecycle hooks, and
// begins the timer loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.resume(ctx)
	s.unsubscribe = s.bus.Subscribe(func(e events.Event) {
		s.handleHook(ctx, e)
	}, events.EventLifecycleHook)
	go s.loop(ctx)
	slog.Info("scheduler started", "tick", s.tick)
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() {
	close(s.done)
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	slog.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick sweeps the current active snapshot once. Event-kind tasks are
// excluded from the time sweep; they fire on lifecycle hooks.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	snapshot, err := s.store.ListActive()
	if err != nil {
		slog.Warn("scheduler: list active", "error", err)
		return
	}

	for _, t := range snapshot {
		if t.Poll.Kind == tasks.PollEvent {
			continue
		}
		if t.Status != tasks.StatusWaiting {
			continue
		}
		if t.NextCheck == nil || now.Before(*t.NextCheck) {
			continue
		}
		s.checkTask(ctx, t.ID, now)
	}
}

// checkTask re-reads the task and acts on it. The fresh status read is
// the at-most-one-concurrent-execution guard: a task another tick already
// moved out of waiting is skipped here, never re-entered.
func (s *Scheduler) checkTask(ctx context.Context, id string, now time.Time) {
	t, err := s.store.Get(id)
	if err != nil {
		slog.Warn("scheduler: load task", "task", id, "error", err)
		return
	}
	if t.Status != tasks.StatusWaiting {
		return
	}
	if t.NextCheck == nil || now.Before(*t.NextCheck) {
		return
	}

	rw := t.ReplyWait
	if rw.Active && rw.Via != "" && rw.Contact != "" && !rw.LastMessageTime.IsZero() {
		s.checkReplies(ctx, t, now)
		return
	}

	// Waiting without a reply-wait context: the task is simply due for
	// its next cycle, hand it back to the executor.
	if s.runner != nil {
		if err := s.runner.Invoke(ctx, t.ID); err != nil {
			slog.Warn("scheduler: invoke executor", "task", t.ID, "error", err)
			s.reschedule(t, now)
		}
		return
	}
	s.reschedule(t, now)
}

func (s *Scheduler) checkReplies(ctx context.Context, t *tasks.Task, now time.Time) {
	rw := t.ReplyWait

	integ, ok := s.integrations.Lookup(messaging.ID(rw.Via))
	if !ok {
		slog.Warn("scheduler: integration not configured", "task", t.ID, "via", rw.Via)
		s.reschedule(t, now)
		return
	}

	if rw.ConversationID == "" {
		// First-contact wait: detection degrades to any message from
		// this contact on this platform.
		slog.Debug("scheduler: polling without thread scope", "task", t.ID, "contact", rw.Contact)
	}

	res, err := integ.CheckForNewMessages(ctx, rw.Contact, rw.LastMessageTime, rw.ConversationID)
	if err != nil {
		// Transient: log and reschedule at the normal cadence, never
		// escalate on a single occurrence.
		slog.Warn("scheduler: check for new messages", "task", t.ID, "via", rw.Via, "error", err)
		s.reschedule(t, now)
		return
	}

	if !res.HasNew {
		if rw.FollowupDue(now) {
			if err := s.workflow.HandleTimeout(ctx, t); err != nil {
				slog.Warn("scheduler: timeout handoff", "task", t.ID, "error", err)
			}
		}
		s.reschedule(t, now)
		return
	}

	reply := latest(res.Messages)

	if err := s.store.AppendLog(t.ID, fmt.Sprintf("reply from %s via %s: %s",
		rw.Contact, rw.Via, preview(reply.Body, 200))); err != nil {
		slog.Warn("scheduler: append log", "task", t.ID, "error", err)
	}

	s.bus.Publish(events.NewTypedEventForTask(events.SourceScheduler, events.ReplyReceivedPayload{
		TaskID:         t.ID,
		Integration:    rw.Via,
		Contact:        rw.Contact,
		ConversationID: reply.ConversationID,
		Preview:        preview(reply.Body, 200),
	}, t.ID))

	s.bus.Publish(events.NewTypedEventForTask(events.SourceScheduler, events.NotificationPayload{
		TaskID:    t.ID,
		TaskTitle: t.Title,
		Message:   fmt.Sprintf("%s replied: %s", rw.Contact, preview(reply.Body, 200)),
		Emoji:     "speech_balloon",
		ToChat:    !t.NotificationsDisabled,
	}, t.ID))

	// Move the detection cutoff before the handoff so a slow evaluation
	// cannot re-observe the same reply on the next tick.
	updated, err := s.store.Update(t.ID, func(cur *tasks.Task) error {
		if reply.SentAt.After(cur.ReplyWait.LastMessageTime) {
			cur.ReplyWait.LastMessageTime = reply.SentAt
		}
		return nil
	})
	if err != nil {
		slog.Warn("scheduler: advance cutoff", "task", t.ID, "error", err)
		return
	}

	if err := s.workflow.HandleReply(ctx, updated, reply); err != nil {
		slog.Warn("scheduler: reply handoff", "task", t.ID, "error", err)
		s.reschedule(updated, now)
	}
}

// reschedule bumps nextCheck by the task's poll frequency. This is the
// cheap branch: one store write, no model calls. Tasks the workflow moved
// out of waiting in the meantime are left alone.
func (s *Scheduler) reschedule(t *tasks.Task, now time.Time) {
	next := s.nextCheckTime(t, now)
	_, err := s.store.Update(t.ID, func(cur *tasks.Task) error {
		if cur.Status != tasks.StatusWaiting {
			return nil
		}
		cur.NextCheck = &next
		return nil
	})
	if err != nil {
		slog.Warn("scheduler: reschedule", "task", t.ID, "error", err)
	}
}

func (s *Scheduler) nextCheckTime(t *tasks.Task, now time.Time) time.Time {
	if t.Poll.Kind == tasks.PollCron && t.Poll.CronSpec != "" {
		expr, err := ParseCron(t.Poll.CronSpec)
		if err == nil {
			return expr.Next(now)
		}
		slog.Warn("scheduler: invalid cron spec, falling back to interval",
			"task", t.ID, "spec", t.Poll.CronSpec, "error", err)
	}
	interval := t.Poll.Interval()
	if interval <= 0 {
		interval = s.defaultPoll
	}
	return now.Add(interval)
}

// handleHook wakes event-kind tasks whose trigger matches a lifecycle
// hook. Scheduler-originated events are rejected to prevent loops.
func (s *Scheduler) handleHook(ctx context.Context, e events.Event) {
	if e.Source == events.SourceScheduler {
		return
	}
	payload, ok := events.ExtractPayload[events.LifecycleHookPayload](e)
	if !ok || payload.Hook == "" {
		return
	}

	snapshot, err := s.store.ListActive()
	if err != nil {
		slog.Warn("scheduler: list active for hook", "hook", payload.Hook, "error", err)
		return
	}

	for _, t := range snapshot {
		if t.Poll.Kind != tasks.PollEvent || t.Poll.Trigger != payload.Hook {
			continue
		}
		if t.Status != tasks.StatusWaiting {
			continue
		}
		if s.runner == nil {
			continue
		}
		slog.Info("scheduler: lifecycle hook fired", "hook", payload.Hook, "task", t.ID)
		if err := s.runner.Invoke(ctx, t.ID); err != nil {
			slog.Warn("scheduler: hook invoke", "task", t.ID, "error", err)
		}
	}
}

func latest(msgs []messaging.Message) messaging.Message {
	best := msgs[0]
	for _, m := range msgs[1:] {
		if m.SentAt.After(best.SentAt) {
			best = m
		}
	}
	return best
}

func preview(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
