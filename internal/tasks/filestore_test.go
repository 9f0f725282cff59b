package tasks

import (
	"errors"
	"testing"
	"time"
)

func TestFileStoreCRUD(t *testing.T) {
	store := NewFileStore(t.TempDir())

	task := &Task{
		Title: "Schedule lunch with Sam",
		Plan:  []string{"send invite", "wait for reply"},
	}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected non-empty task ID")
	}
	if task.Status != StatusActive {
		t.Errorf("default status: got %q, want %q", task.Status, StatusActive)
	}
	if task.CurrentStep.Description != "send invite" {
		t.Errorf("cursor not anchored at first step: %+v", task.CurrentStep)
	}

	got, err := store.Get(task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Schedule lunch with Sam" {
		t.Errorf("Title: got %q", got.Title)
	}

	updated, err := store.Update(task.ID, func(tk *Task) error {
		tk.Status = StatusWaiting
		now := time.Now().Add(5 * time.Minute)
		tk.NextCheck = &now
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != StatusWaiting {
		t.Errorf("Status after update: got %q", updated.Status)
	}
	if updated.NextCheck == nil {
		t.Error("NextCheck not persisted")
	}

	if err := store.Delete(task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(task.ID); err == nil {
		t.Fatal("expected error after delete, got nil")
	}
}

func TestFileStoreUpdateMutatorError(t *testing.T) {
	store := NewFileStore(t.TempDir())

	task := &Task{Title: "t", Plan: []string{"a"}}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	boom := errors.New("boom")
	if _, err := store.Update(task.ID, func(tk *Task) error {
		tk.Status = StatusFailed
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected mutator error, got %v", err)
	}

	got, err := store.Get(task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("failed mutation must not persist: got %q", got.Status)
	}
}

func TestFileStoreListActive(t *testing.T) {
	store := NewFileStore(t.TempDir())

	statuses := []Status{
		StatusActive, StatusWaiting, StatusWaitingForInput,
		StatusWaitingApproval, StatusCompleted,
	}
	for _, s := range statuses {
		task := &Task{Title: string(s), Plan: []string{"x"}, Status: s}
		if err := store.Create(task); err != nil {
			t.Fatalf("Create %s: %v", s, err)
		}
	}

	active, err := store.ListActive()
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("ListActive: got %d, want 2", len(active))
	}

	input, err := store.ListWaitingForInput()
	if err != nil {
		t.Fatalf("ListWaitingForInput: %v", err)
	}
	if len(input) != 1 {
		t.Fatalf("ListWaitingForInput: got %d, want 1", len(input))
	}
}

func TestFileStoreHiddenExcludedFromListing(t *testing.T) {
	store := NewFileStore(t.TempDir())

	task := &Task{Title: "done", Plan: []string{"x"}, Status: StatusCompleted, Hidden: true}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	visible, err := store.List(ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("hidden task listed: %d", len(visible))
	}

	all, err := store.List(ListFilter{IncludeHidden: true})
	if err != nil {
		t.Fatalf("List hidden: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("IncludeHidden: got %d, want 1", len(all))
	}
}

func TestFileStoreExecutionLog(t *testing.T) {
	store := NewFileStore(t.TempDir())

	task := &Task{Title: "logged", Plan: []string{"x"}}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := store.AppendLog(task.ID, "first"); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	if err := store.AppendLog(task.ID, "second"); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}

	log, err := store.LoadLog(task.ID)
	if err != nil {
		t.Fatalf("LoadLog: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("LoadLog: got %d entries, want 2", len(log))
	}
	if log[0].Message != "first" || log[1].Message != "second" {
		t.Errorf("log order: %+v", log)
	}
	if log[0].Ts.IsZero() {
		t.Error("log entry missing timestamp")
	}
}
