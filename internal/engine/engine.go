package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dohr-michael/envoy/internal/approvals"
	"github.com/dohr-michael/envoy/internal/config"
	"github.com/dohr-michael/envoy/internal/events"
	"github.com/dohr-michael/envoy/internal/messaging"
	"github.com/dohr-michael/envoy/internal/replywait"
	"github.com/dohr-michael/envoy/internal/scheduler"
	"github.com/dohr-michael/envoy/internal/tasks"
)

// Config holds the engine's collaborators.
type Config struct {
	Store        tasks.Store
	Integrations *messaging.Registry
	Judge        replywait.Judge
	Executor     Executor
	Bus          *events.Bus
	Classifier   tasks.StepClassifier // nil means the default keyword heuristic
	Engine       config.EngineConfig
}

// Engine owns the task lifecycle: the store, the confirmation gate, the
// reply-wait workflow, and the scheduler are constructed here and carry no
// package-level state. Lifecycle is explicit via Start/Stop.
type Engine struct {
	store        tasks.Store
	integrations *messaging.Registry
	gate         *approvals.Gate
	workflow     *replywait.Workflow
	sched        *scheduler.Scheduler
	bus          *events.Bus
	executor     Executor
	classify     tasks.StepClassifier
	contacts     *messaging.ContactCache
	cfg          config.EngineConfig
	now          func() time.Time
}

// New wires an engine from its collaborators.
func New(cfg Config) *Engine {
	classify := cfg.Classifier
	if classify == nil {
		classify = tasks.DefaultStepClassifier
	}

	gate := approvals.NewGate(cfg.Store, cfg.Bus, cfg.Engine.ConfirmTimeout.Duration())
	workflow := replywait.New(cfg.Store, cfg.Integrations, gate, cfg.Judge, cfg.Bus)

	e := &Engine{
		store:        cfg.Store,
		integrations: cfg.Integrations,
		gate:         gate,
		workflow:     workflow,
		bus:          cfg.Bus,
		executor:     cfg.Executor,
		classify:     classify,
		contacts:     messaging.NewContactCache(),
		cfg:          cfg.Engine,
		now:          time.Now,
	}

	e.sched = scheduler.New(scheduler.Config{
		Store:        cfg.Store,
		Integrations: cfg.Integrations,
		Workflow:     workflow,
		Runner:       e,
		Bus:          cfg.Bus,
		TickInterval: cfg.Engine.TickInterval.Duration(),
		DefaultPoll:  cfg.Engine.DefaultPollInterval.Duration(),
	})

	return e
}

// Start begins the scheduler (including its startup resume pass).
func (e *Engine) Start(ctx context.Context) {
	e.sched.Start(ctx)
	slog.Info("engine started")
}

// Stop halts the scheduler and rejects outstanding ephemeral confirmations.
func (e *Engine) Stop() {
	e.sched.Stop()
	e.gate.Clear()
	e.contacts.Clear()
	slog.Info("engine stopped")
}

// Gate exposes the confirmation gate for the gateway's approval endpoints.
func (e *Engine) Gate() *approvals.Gate { return e.gate }

// Store exposes the task store for read paths.
func (e *Engine) Store() tasks.Store { return e.store }

// Contacts exposes the process-local contact-resolution cache.
func (e *Engine) Contacts() *messaging.ContactCache { return e.contacts }

// Invoke runs one step-executor unit for a task. The status is read fresh
// here: terminal tasks and tasks parked on a human are never re-entered.
func (e *Engine) Invoke(ctx context.Context, taskID string) error {
	t, err := e.store.Get(taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if t.Status.Terminal() {
		return nil
	}
	if t.Status == tasks.StatusWaitingApproval || t.Status == tasks.StatusWaitingForInput {
		return nil
	}

	if t.Status == tasks.StatusWaiting {
		t, err = e.store.Update(taskID, func(cur *tasks.Task) error {
			if cur.Status != tasks.StatusWaiting {
				return fmt.Errorf("task %s no longer waiting", cur.ID)
			}
			if err := cur.Transition(tasks.StatusActive); err != nil {
				return err
			}
			cur.CurrentStep.State = tasks.StepExecuting
			return nil
		})
		if err != nil {
			return err
		}
	}

	if e.executor == nil {
		return fmt.Errorf("no executor configured")
	}

	tr, err := e.executor.Execute(ctx, t)
	if err != nil {
		return e.fail(t, err)
	}

	return e.apply(t.ID, tr)
}

// fail records an unrecoverable step error: failed status, the error as
// the final execution-log entry, one notification. Failed tasks are never
// retried automatically.
func (e *Engine) fail(t *tasks.Task, cause error) error {
	_, err := e.store.Update(t.ID, func(cur *tasks.Task) error {
		if cur.Status.Terminal() {
			return nil
		}
		if terr := cur.Transition(tasks.StatusFailed); terr != nil {
			return terr
		}
		cur.LastError = cause.Error()
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	e.log(t.ID, fmt.Sprintf("step %d failed: %v", t.CurrentStep.Index+1, cause))

	e.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.TaskStatusPayload{
		TaskID: t.ID,
		From:   string(t.Status),
		To:     string(tasks.StatusFailed),
		Reason: cause.Error(),
	}, t.ID))

	e.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.NotificationPayload{
		TaskID:    t.ID,
		TaskTitle: t.Title,
		Message:   fmt.Sprintf("task failed: %v", cause),
		Emoji:     "x",
		ToChat:    !t.NotificationsDisabled,
	}, t.ID))

	return cause
}

// apply installs an executor's transition request, or auto-advances when
// the executor made none.
func (e *Engine) apply(taskID string, tr *Transition) error {
	if tr == nil {
		return e.autoAdvance(taskID)
	}

	now := e.now()
	updated, err := e.store.Update(taskID, func(cur *tasks.Task) error {
		if len(tr.ModifyPlan) > 0 {
			start := 0
			if tr.GotoStep != nil {
				start = *tr.GotoStep
			}
			cur.ReplacePlan(tr.ModifyPlan, start)
		} else if tr.GotoStep != nil {
			idx := *tr.GotoStep
			if idx < 0 || idx >= len(cur.Plan) {
				return fmt.Errorf("goto_step %d out of range", idx)
			}
			cur.CurrentStep = tasks.Step{Index: idx, Description: cur.StepDescription(idx), State: tasks.StepPending}
		}

		if len(tr.ContextUpdates) > 0 {
			if cur.Scratch == nil {
				cur.Scratch = make(map[string]any)
			}
			for k, v := range tr.ContextUpdates {
				cur.Scratch[k] = v
			}
		}

		if tr.ReplyWait != nil {
			e.installReplyWait(cur, tr.ReplyWait, now)
		}

		if tr.PollIntervalSec > 0 {
			cur.Poll.Kind = tasks.PollPreset
			cur.Poll.IntervalSec = tr.PollIntervalSec
		}

		next := tr.NextStatus
		if tr.ClarificationQuestion != "" {
			cur.Clarification = tr.ClarificationQuestion
			if next == "" {
				next = tasks.StatusWaitingForInput
			}
		}
		if next != "" && next != cur.Status {
			if err := cur.Transition(next); err != nil {
				return err
			}
		}

		if cur.Status == tasks.StatusWaiting {
			cur.CurrentStep.State = tasks.StepWaiting
			e.stampNextCheck(cur, now)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}

	e.publishStatus(updated, "executor transition")

	if updated.Status == tasks.StatusWaitingForInput && updated.Clarification != "" {
		e.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.InputRequestedPayload{
			TaskID:   updated.ID,
			Question: updated.Clarification,
		}, updated.ID))
	}
	return nil
}

// autoAdvance moves the cursor exactly one step, honoring the waiting-step
// gate: a send-and-wait step that has a live reply wait parks the task in
// waiting instead of advancing.
func (e *Engine) autoAdvance(taskID string) error {
	now := e.now()
	updated, err := e.store.Update(taskID, func(cur *tasks.Task) error {
		if cur.Status.Terminal() {
			return nil
		}
		if cur.ReplyWait.Active && e.classify(cur.CurrentStep.Description) {
			if cur.Status != tasks.StatusWaiting {
				if err := cur.Transition(tasks.StatusWaiting); err != nil {
					return err
				}
			}
			cur.CurrentStep.State = tasks.StepWaiting
			e.stampNextCheck(cur, now)
			return nil
		}

		cur.CurrentStep.State = tasks.StepDone
		cur.AdvanceStep()
		if cur.Status == tasks.StatusWaiting {
			e.stampNextCheck(cur, now)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("auto-advance: %w", err)
	}

	e.publishStatus(updated, "auto-advance")
	e.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.TaskStepPayload{
		TaskID:      updated.ID,
		StepIndex:   updated.CurrentStep.Index,
		TotalSteps:  len(updated.Plan),
		Description: updated.CurrentStep.Description,
	}, updated.ID))
	return nil
}

// installReplyWait merges a requested reply-wait context, keeping the
// conversation id sticky and filling budget defaults from config.
func (e *Engine) installReplyWait(cur *tasks.Task, rw *tasks.ReplyWait, now time.Time) {
	merged := *rw
	if merged.ConversationID == "" {
		merged.ConversationID = cur.ReplyWait.ConversationID
	}
	if merged.LastMessageTime.IsZero() {
		merged.LastMessageTime = now
	}
	if merged.MaxFollowups == 0 {
		merged.MaxFollowups = e.cfg.DefaultMaxFollowups
	}
	if merged.FollowupAfterHours == 0 {
		merged.FollowupAfterHours = e.cfg.FollowupAfterHours
	}
	merged.FollowupCount = cur.ReplyWait.FollowupCount
	merged.LastFollowupTime = cur.ReplyWait.LastFollowupTime
	cur.ReplyWait = merged

	if cur.MessagingChannel == "" {
		cur.MessagingChannel = merged.Via
	}
}

func (e *Engine) stampNextCheck(cur *tasks.Task, now time.Time) {
	interval := cur.Poll.Interval()
	if interval <= 0 {
		interval = e.cfg.DefaultPollInterval.Duration()
	}
	if interval <= 0 {
		interval = scheduler.DefaultPoll
	}
	next := now.Add(interval)
	cur.NextCheck = &next
}

func (e *Engine) publishStatus(t *tasks.Task, reason string) {
	e.bus.Publish(events.NewTypedEventForTask(events.SourceEngine, events.TaskStatusPayload{
		TaskID: t.ID,
		To:     string(t.Status),
		Reason: reason,
	}, t.ID))
}

func (e *Engine) log(taskID, message string) {
	if err := e.store.AppendLog(taskID, message); err != nil {
		slog.Warn("append task log failed", "task", taskID, "error", err)
	}
}
