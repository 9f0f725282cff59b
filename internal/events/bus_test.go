package events

import (
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	ch, unsub := bus.SubscribeChan(4, EventTaskStatus)
	defer unsub()

	bus.Publish(NewTypedEventForTask(SourceEngine, TaskStatusPayload{
		TaskID: "task_abc",
		From:   "active",
		To:     "waiting",
	}, "task_abc"))

	select {
	case e := <-ch:
		if e.Type != EventTaskStatus {
			t.Fatalf("type: got %q", e.Type)
		}
		payload, ok := ExtractPayload[TaskStatusPayload](e)
		if !ok {
			t.Fatal("failed to extract payload")
		}
		if payload.To != "waiting" {
			t.Fatalf("payload.To: got %q", payload.To)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestBusTypeFilter(t *testing.T) {
	bus := NewBus(16)
	defer bus.Close()

	ch, unsub := bus.SubscribeChan(4, EventNotification)
	defer unsub()

	bus.Publish(NewTypedEvent(SourceEngine, TaskCreatedPayload{TaskID: "task_x"}))

	select {
	case e := <-ch:
		t.Fatalf("unexpected event: %v", e.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBusHistory(t *testing.T) {
	bus := NewBus(8)
	defer bus.Close()

	for i := 0; i < 3; i++ {
		bus.Publish(NewTypedEvent(SourceScheduler, LifecycleHookPayload{Hook: "wake"}))
	}

	// Dispatch is async; give the ring buffer a moment.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(bus.History(10)) == 3 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("history: got %d events, want 3", len(bus.History(10)))
}
