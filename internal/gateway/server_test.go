package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dohr-michael/envoy/internal/config"
	"github.com/dohr-michael/envoy/internal/engine"
	"github.com/dohr-michael/envoy/internal/events"
	"github.com/dohr-michael/envoy/internal/messaging"
	"github.com/dohr-michael/envoy/internal/tasks"
)

type stubIntegration struct {
	sends int
}

func (s *stubIntegration) ID() messaging.ID { return messaging.IDSlack }

func (s *stubIntegration) SendMessage(ctx context.Context, req messaging.SendRequest) (*messaging.SendResult, error) {
	s.sends++
	return &messaging.SendResult{ConversationID: "thread-1"}, nil
}

func (s *stubIntegration) CheckForNewMessages(ctx context.Context, contact string, since time.Time, conversationID string) (*messaging.CheckResult, error) {
	return &messaging.CheckResult{}, nil
}

func (s *stubIntegration) GetMessages(ctx context.Context, contact string, opts messaging.GetOptions) ([]messaging.Message, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, tasks.Store, *stubIntegration) {
	t.Helper()
	store := tasks.NewFileStore(t.TempDir())
	bus := events.NewBus(64)
	t.Cleanup(bus.Close)
	integ := &stubIntegration{}
	registry := messaging.NewRegistry()
	registry.Register(integ)

	e := engine.New(engine.Config{
		Store:        store,
		Integrations: registry,
		Bus:          bus,
		Executor: engine.ExecutorFunc(func(ctx context.Context, tk *tasks.Task) (*engine.Transition, error) {
			// Park immediately so HTTP assertions see a stable record.
			return &engine.Transition{NextStatus: tasks.StatusWaitingForInput, ClarificationQuestion: "ready?"}, nil
		}),
		Engine: config.EngineConfig{
			TickInterval:        config.Duration(time.Hour),
			DefaultPollInterval: config.Duration(5 * time.Minute),
			DefaultMaxFollowups: 3,
			FollowupAfterHours:  24,
			ConfirmTimeout:      config.Duration(time.Minute),
		},
	})
	return NewServer(e, bus, "127.0.0.1", 0), store, integ
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestCreateAndListTasks(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/tasks", map[string]any{
		"title": "plan dinner",
		"plan":  []string{"pick a restaurant", "message sam"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status: %d body: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID    string `json:"id"`
		Steps int    `json:"steps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Steps != 2 {
		t.Fatalf("created: %+v", created)
	}

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/tasks/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status: %d", rec.Code)
	}
	var list []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("list: %+v", list)
	}

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/tasks/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status: %d", rec.Code)
	}
}

func TestCreateTaskRejectsEmptyPlan(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/tasks", map[string]any{"title": "no plan"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestRespondEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	task := &tasks.Task{
		Title: "t", Plan: []string{"step"},
		Status: tasks.StatusWaitingForInput, Clarification: "which one?",
	}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := doJSON(t, srv.Handler(), http.MethodPost,
		fmt.Sprintf("/api/tasks/%s/respond", task.ID), map[string]string{"response": "the first"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}

	got, _ := store.Get(task.ID)
	if got.UserResponse != "the first" {
		t.Fatalf("task: %+v", got)
	}
}

func TestCancelEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	task := &tasks.Task{Title: "t", Plan: []string{"step"}, Status: tasks.StatusWaiting}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/tasks/"+task.ID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	got, _ := store.Get(task.ID)
	if got.Status != tasks.StatusCancelled {
		t.Fatalf("status: %s", got.Status)
	}

	// Second cancel conflicts: the task is terminal.
	rec = doJSON(t, srv.Handler(), http.MethodPost, "/api/tasks/"+task.ID+"/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second cancel status: %d", rec.Code)
	}
}

func TestApprovePendingMessageEndpoint(t *testing.T) {
	srv, store, integ := newTestServer(t)
	task := &tasks.Task{
		Title: "t", Plan: []string{"ask sam", "done"},
		Status: tasks.StatusWaitingApproval,
		PendingMessages: []tasks.PendingMessage{
			{ID: "msg_1", Platform: "slack", Recipient: "U42", Body: "hello"},
		},
	}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rec := doJSON(t, srv.Handler(), http.MethodPost,
		fmt.Sprintf("/api/tasks/%s/messages/msg_1/approve", task.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d body: %s", rec.Code, rec.Body.String())
	}
	if integ.sends != 1 {
		t.Fatalf("sends: %d", integ.sends)
	}
	got, _ := store.Get(task.ID)
	if len(got.PendingMessages) != 0 {
		t.Fatalf("pending: %+v", got.PendingMessages)
	}

	// Unknown message id conflicts.
	rec = doJSON(t, srv.Handler(), http.MethodPost,
		fmt.Sprintf("/api/tasks/%s/messages/msg_404/approve", task.ID), nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("unknown message status: %d", rec.Code)
	}
}

func TestAdHocApprovalNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/approvals/nope/approve", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status: %d", rec.Code)
	}
}

func TestEventsHistory(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/hooks/login", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("hook status: %d", rec.Code)
	}

	// The bus dispatches asynchronously; poll briefly for the hook event.
	deadline := time.Now().Add(time.Second)
	for {
		rec = doJSON(t, srv.Handler(), http.MethodGet, "/api/events", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("events status: %d", rec.Code)
		}
		var list []map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
			t.Fatalf("decode events: %v", err)
		}
		if len(list) > 0 {
			if list[len(list)-1]["type"] != string(events.EventLifecycleHook) {
				t.Fatalf("last event: %+v", list[len(list)-1])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("hook event never reached history")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
