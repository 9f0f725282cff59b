package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dohr-michael/envoy/internal/approvals"
	"github.com/dohr-michael/envoy/internal/config"
	"github.com/dohr-michael/envoy/internal/events"
	"github.com/dohr-michael/envoy/internal/messaging"
	"github.com/dohr-michael/envoy/internal/replywait"
	"github.com/dohr-michael/envoy/internal/tasks"
)

type nullJudge struct{}

func (nullJudge) Evaluate(ctx context.Context, in replywait.EvaluateInput) (*replywait.Judgment, error) {
	return nil, errors.New("no judge in this test")
}

func (nullJudge) GenerateFollowup(ctx context.Context, in replywait.FollowupInput) (string, error) {
	return "", errors.New("no judge in this test")
}

type stubIntegration struct {
	sends []messaging.SendRequest
}

func (s *stubIntegration) ID() messaging.ID { return messaging.IDSlack }

func (s *stubIntegration) SendMessage(ctx context.Context, req messaging.SendRequest) (*messaging.SendResult, error) {
	s.sends = append(s.sends, req)
	return &messaging.SendResult{ConversationID: "thread-9", MessageID: "m9"}, nil
}

func (s *stubIntegration) CheckForNewMessages(ctx context.Context, contact string, since time.Time, conversationID string) (*messaging.CheckResult, error) {
	return &messaging.CheckResult{}, nil
}

func (s *stubIntegration) GetMessages(ctx context.Context, contact string, opts messaging.GetOptions) ([]messaging.Message, error) {
	return nil, nil
}

func newEngine(t *testing.T, exec Executor) (*Engine, tasks.Store, *stubIntegration) {
	t.Helper()
	store := tasks.NewFileStore(t.TempDir())
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)
	integ := &stubIntegration{}
	registry := messaging.NewRegistry()
	registry.Register(integ)

	e := New(Config{
		Store:        store,
		Integrations: registry,
		Judge:        nullJudge{},
		Executor:     exec,
		Bus:          bus,
		Engine: config.EngineConfig{
			TickInterval:        config.Duration(time.Hour),
			DefaultPollInterval: config.Duration(5 * time.Minute),
			DefaultMaxFollowups: 3,
			FollowupAfterHours:  24,
			ConfirmTimeout:      config.Duration(time.Minute),
		},
	})
	return e, store, integ
}

func createTask(t *testing.T, store tasks.Store, mutate func(*tasks.Task)) *tasks.Task {
	t.Helper()
	task := &tasks.Task{
		Title: "plan dinner",
		Plan:  []string{"pick a restaurant", "message sam and wait for a reply", "book the table"},
	}
	if mutate != nil {
		mutate(task)
	}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return task
}

func TestAutoAdvanceOneStep(t *testing.T) {
	e, store, _ := newEngine(t, ExecutorFunc(func(ctx context.Context, tk *tasks.Task) (*Transition, error) {
		return nil, nil
	}))
	task := createTask(t, store, nil)

	if err := e.Invoke(context.Background(), task.ID); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	got, _ := store.Get(task.ID)
	if got.CurrentStep.Index != 1 {
		t.Fatalf("step index: %d", got.CurrentStep.Index)
	}
	if got.Status != tasks.StatusActive {
		t.Fatalf("status: %s", got.Status)
	}
}

func TestAutoAdvanceCompletesOnLastStep(t *testing.T) {
	e, store, _ := newEngine(t, ExecutorFunc(func(ctx context.Context, tk *tasks.Task) (*Transition, error) {
		return nil, nil
	}))
	task := createTask(t, store, func(tk *tasks.Task) {
		tk.Plan = []string{"only step"}
	})

	if err := e.Invoke(context.Background(), task.ID); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	got, _ := store.Get(task.ID)
	if got.Status != tasks.StatusCompleted {
		t.Fatalf("status: %s", got.Status)
	}
}

func TestContinuousTaskLoopsInsteadOfCompleting(t *testing.T) {
	e, store, _ := newEngine(t, ExecutorFunc(func(ctx context.Context, tk *tasks.Task) (*Transition, error) {
		return nil, nil
	}))
	task := createTask(t, store, func(tk *tasks.Task) {
		tk.Type = tasks.TypeContinuous
		tk.Plan = []string{"check the inbox"}
		tk.Poll = tasks.PollFrequency{Kind: tasks.PollPreset, IntervalSec: 600}
	})

	if err := e.Invoke(context.Background(), task.ID); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	got, _ := store.Get(task.ID)
	if got.Status != tasks.StatusWaiting {
		t.Fatalf("status: %s", got.Status)
	}
	if got.CurrentStep.Index != 0 {
		t.Fatalf("step index: %d", got.CurrentStep.Index)
	}
	if got.NextCheck == nil {
		t.Fatal("continuous loop-back left no nextCheck")
	}
}

func TestWaitingStepDoesNotAutoAdvance(t *testing.T) {
	e, store, _ := newEngine(t, ExecutorFunc(func(ctx context.Context, tk *tasks.Task) (*Transition, error) {
		return nil, nil
	}))
	task := createTask(t, store, func(tk *tasks.Task) {
		tk.Plan = []string{"message sam and wait for a reply", "book the table"}
		tk.ReplyWait = tasks.ReplyWait{
			Active: true, Via: "slack", Contact: "U42",
			LastMessageTime: time.Now(), MaxFollowups: 3, FollowupAfterHours: 24,
		}
	})

	if err := e.Invoke(context.Background(), task.ID); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	got, _ := store.Get(task.ID)
	if got.CurrentStep.Index != 0 {
		t.Fatalf("waiting step advanced: %d", got.CurrentStep.Index)
	}
	if got.Status != tasks.StatusWaiting {
		t.Fatalf("status: %s", got.Status)
	}
}

func TestExecutorErrorFailsTask(t *testing.T) {
	e, store, _ := newEngine(t, ExecutorFunc(func(ctx context.Context, tk *tasks.Task) (*Transition, error) {
		return nil, errors.New("tool exploded")
	}))
	task := createTask(t, store, nil)

	if err := e.Invoke(context.Background(), task.ID); err == nil {
		t.Fatal("expected error")
	}

	got, _ := store.Get(task.ID)
	if got.Status != tasks.StatusFailed {
		t.Fatalf("status: %s", got.Status)
	}
	if !strings.Contains(got.LastError, "tool exploded") {
		t.Fatalf("last error: %q", got.LastError)
	}

	log, _ := store.LoadLog(task.ID)
	if len(log) == 0 || !strings.Contains(log[len(log)-1].Message, "tool exploded") {
		t.Fatalf("final log entry: %+v", log)
	}
}

func TestClarificationTransition(t *testing.T) {
	e, store, _ := newEngine(t, ExecutorFunc(func(ctx context.Context, tk *tasks.Task) (*Transition, error) {
		return &Transition{ClarificationQuestion: "which sam?"}, nil
	}))
	task := createTask(t, store, nil)

	if err := e.Invoke(context.Background(), task.ID); err != nil {
		t.Fatalf("Invoke: %v", err)
	}

	got, _ := store.Get(task.ID)
	if got.Status != tasks.StatusWaitingForInput || got.Clarification != "which sam?" {
		t.Fatalf("task: status=%s clarification=%q", got.Status, got.Clarification)
	}
}

func TestRespondToInputResumes(t *testing.T) {
	invoked := make(chan string, 1)
	e, store, _ := newEngine(t, ExecutorFunc(func(ctx context.Context, tk *tasks.Task) (*Transition, error) {
		invoked <- tk.ID
		return &Transition{NextStatus: tasks.StatusWaitingForInput, ClarificationQuestion: "?"}, nil
	}))
	task := createTask(t, store, func(tk *tasks.Task) {
		tk.Status = tasks.StatusWaitingForInput
		tk.Clarification = "which sam?"
	})

	if err := e.RespondToInput(context.Background(), task.ID, "sam from work"); err != nil {
		t.Fatalf("RespondToInput: %v", err)
	}

	got, _ := store.Get(task.ID)
	if got.UserResponse != "sam from work" || got.Clarification != "" {
		t.Fatalf("task: %+v", got)
	}

	select {
	case id := <-invoked:
		if id != task.ID {
			t.Fatalf("invoked wrong task: %s", id)
		}
	case <-time.After(time.Second):
		t.Fatal("executor not re-invoked after input")
	}
}

func TestCancelIsTerminal(t *testing.T) {
	e, store, _ := newEngine(t, ExecutorFunc(func(ctx context.Context, tk *tasks.Task) (*Transition, error) {
		t.Error("executor ran on a cancelled task")
		return nil, nil
	}))
	task := createTask(t, store, nil)

	if err := e.Cancel(context.Background(), task.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := store.Get(task.ID)
	if got.Status != tasks.StatusCancelled {
		t.Fatalf("status: %s", got.Status)
	}

	if err := e.Invoke(context.Background(), task.ID); err != nil {
		t.Fatalf("Invoke on cancelled: %v", err)
	}
	if err := e.Cancel(context.Background(), task.ID); err == nil {
		t.Fatal("cancelling a terminal task should error")
	}
}

func TestSendTaskMessageCapturesReplyWait(t *testing.T) {
	e, store, integ := newEngine(t, nil)
	task := createTask(t, store, func(tk *tasks.Task) {
		tk.AutoSend = true
		tk.MessagingChannel = "slack"
		tk.CurrentStep = tasks.Step{Index: 1, Description: "message sam and wait for a reply", State: tasks.StepExecuting}
	})

	out, err := e.SendTaskMessage(context.Background(), task.ID, approvals.Draft{
		Platform: "slack", Recipient: "U42", Body: "dinner friday?",
	})
	if err != nil {
		t.Fatalf("SendTaskMessage: %v", err)
	}
	if !out.Sent || out.ConversationID != "thread-9" {
		t.Fatalf("outcome: %+v", out)
	}
	if len(integ.sends) != 1 {
		t.Fatalf("sends: %d", len(integ.sends))
	}

	got, _ := store.Get(task.ID)
	if got.Status != tasks.StatusWaiting {
		t.Fatalf("status: %s", got.Status)
	}
	rw := got.ReplyWait
	if !rw.Active || rw.Via != "slack" || rw.Contact != "U42" || rw.ConversationID != "thread-9" {
		t.Fatalf("reply wait: %+v", rw)
	}
	if rw.MaxFollowups != 3 || rw.FollowupAfterHours != 24 {
		t.Fatalf("budget defaults: %+v", rw)
	}
	if got.NextCheck == nil {
		t.Fatal("no nextCheck after entering waiting")
	}
}

func TestApprovePendingMessageAdvances(t *testing.T) {
	e, store, integ := newEngine(t, nil)
	task := createTask(t, store, func(tk *tasks.Task) {
		tk.Status = tasks.StatusWaitingApproval
		tk.CurrentStep = tasks.Step{Index: 0, Description: "pick a restaurant", State: tasks.StepExecuting}
		tk.PendingMessages = []tasks.PendingMessage{
			{ID: "msg_1", Platform: "slack", Recipient: "U42", Body: "how about thai?"},
		}
	})

	logBefore, _ := store.LoadLog(task.ID)

	if err := e.ApprovePendingMessage(context.Background(), task.ID, "msg_1"); err != nil {
		t.Fatalf("ApprovePendingMessage: %v", err)
	}

	if len(integ.sends) != 1 || integ.sends[0].Body != "how about thai?" {
		t.Fatalf("sends: %+v", integ.sends)
	}

	got, _ := store.Get(task.ID)
	if len(got.PendingMessages) != 0 {
		t.Fatalf("pending messages: %+v", got.PendingMessages)
	}
	// Non-waiting step advances.
	if got.CurrentStep.Index != 1 || got.Status != tasks.StatusActive {
		t.Fatalf("task: step=%d status=%s", got.CurrentStep.Index, got.Status)
	}

	logAfter, _ := store.LoadLog(task.ID)
	if len(logAfter) != len(logBefore)+1 {
		t.Fatalf("log entries: before=%d after=%d", len(logBefore), len(logAfter))
	}
}

func TestApprovePendingMessageOnWaitingStepParks(t *testing.T) {
	e, store, _ := newEngine(t, nil)
	task := createTask(t, store, func(tk *tasks.Task) {
		tk.Status = tasks.StatusWaitingApproval
		tk.CurrentStep = tasks.Step{Index: 1, Description: "message sam and wait for a reply", State: tasks.StepExecuting}
		tk.PendingMessages = []tasks.PendingMessage{
			{ID: "msg_1", Platform: "slack", Recipient: "U42", Body: "dinner friday?"},
		}
	})

	if err := e.ApprovePendingMessage(context.Background(), task.ID, "msg_1"); err != nil {
		t.Fatalf("ApprovePendingMessage: %v", err)
	}

	got, _ := store.Get(task.ID)
	if got.Status != tasks.StatusWaiting {
		t.Fatalf("status: %s", got.Status)
	}
	if !got.ReplyWait.Active || got.ReplyWait.Contact != "U42" {
		t.Fatalf("reply wait: %+v", got.ReplyWait)
	}
	if got.CurrentStep.Index != 1 {
		t.Fatalf("waiting step advanced: %d", got.CurrentStep.Index)
	}
}

func TestApproveFollowupMovesBudget(t *testing.T) {
	e, store, _ := newEngine(t, nil)
	task := createTask(t, store, func(tk *tasks.Task) {
		tk.Status = tasks.StatusWaitingApproval
		tk.CurrentStep = tasks.Step{Index: 1, Description: "message sam and wait for a reply", State: tasks.StepWaiting}
		tk.ReplyWait = tasks.ReplyWait{
			Active: true, Via: "slack", Contact: "U42", ConversationID: "thread-9",
			LastMessageTime: time.Now().Add(-48 * time.Hour), MaxFollowups: 3, FollowupAfterHours: 24,
		}
		tk.PendingMessages = []tasks.PendingMessage{
			{ID: "msg_1", Platform: "slack", Recipient: "U42", Body: "any word?"},
		}
	})

	if err := e.ApprovePendingMessage(context.Background(), task.ID, "msg_1"); err != nil {
		t.Fatalf("ApprovePendingMessage: %v", err)
	}

	got, _ := store.Get(task.ID)
	if got.ReplyWait.FollowupCount != 1 || got.ReplyWait.LastFollowupTime == nil {
		t.Fatalf("budget not moved: %+v", got.ReplyWait)
	}
	if got.Status != tasks.StatusWaiting {
		t.Fatalf("status: %s", got.Status)
	}
}

func TestRejectPendingMessageAlwaysAdvances(t *testing.T) {
	e, store, integ := newEngine(t, nil)
	task := createTask(t, store, func(tk *tasks.Task) {
		tk.Status = tasks.StatusWaitingApproval
		tk.CurrentStep = tasks.Step{Index: 1, Description: "message sam and wait for a reply", State: tasks.StepExecuting}
		tk.PendingMessages = []tasks.PendingMessage{
			{ID: "msg_1", Platform: "slack", Recipient: "U42", Body: "dinner friday?"},
		}
	})

	if err := e.RejectPendingMessage(context.Background(), task.ID, "msg_1"); err != nil {
		t.Fatalf("RejectPendingMessage: %v", err)
	}

	if len(integ.sends) != 0 {
		t.Fatalf("rejected message was sent: %+v", integ.sends)
	}
	got, _ := store.Get(task.ID)
	// Even a waiting step advances on rejection — never re-offer the draft.
	if got.CurrentStep.Index != 2 || got.Status != tasks.StatusActive {
		t.Fatalf("task: step=%d status=%s", got.CurrentStep.Index, got.Status)
	}
}

func TestCreateTaskInfersChannel(t *testing.T) {
	e, store, _ := newEngine(t, ExecutorFunc(func(ctx context.Context, tk *tasks.Task) (*Transition, error) {
		return &Transition{NextStatus: tasks.StatusWaitingForInput, ClarificationQuestion: "?"}, nil
	}))

	task, err := e.CreateTask(context.Background(), CreateSpec{
		Title:       "chase sam",
		Description: "send sam an email about the contract and follow up until she replies",
		Plan:        []string{"email sam", "wait for reply"},
	})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.MessagingChannel != "email" {
		t.Fatalf("inferred channel: %q", task.MessagingChannel)
	}

	got, _ := store.Get(task.ID)
	if got.Title != "chase sam" {
		t.Fatalf("persisted task: %+v", got)
	}
}
