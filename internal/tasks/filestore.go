package tasks

import (
	"sort"
	"time"

	"github.com/dohr-michael/envoy/internal/storage/dirstore"
)

// FileStore persists tasks as directories with meta.json + execlog.jsonl.
type FileStore struct {
	ds *dirstore.DirStore
}

// NewFileStore creates a FileStore rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{ds: dirstore.NewDirStore(baseDir, "task")}
}

// Create persists a new task to disk.
func (fs *FileStore) Create(t *Task) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	if t.ID == "" {
		t.ID = GenerateTaskID()
	}
	if t.Type == "" {
		t.Type = TypeDiscrete
	}
	if t.Status == "" {
		t.Status = StatusActive
	}
	if len(t.Plan) > 0 && t.CurrentStep.Description == "" {
		t.CurrentStep = Step{Index: 0, Description: t.Plan[0], State: StepPending}
	}

	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := fs.ds.EnsureDir(t.ID); err != nil {
		return err
	}

	return fs.ds.WriteMeta(t.ID, t)
}

// Get reads task metadata by ID.
func (fs *FileStore) Get(id string) (*Task, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	var t Task
	if err := fs.ds.ReadMeta(id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Update re-reads the task, applies the mutator, and atomically rewrites
// meta.json — the single read-merge-persist point for all task mutation.
func (fs *FileStore) Update(id string, mutate func(*Task) error) (*Task, error) {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	var t Task
	if err := fs.ds.ReadMeta(id, &t); err != nil {
		return nil, err
	}

	if err := mutate(&t); err != nil {
		return nil, err
	}

	t.UpdatedAt = time.Now()
	if err := fs.ds.WriteMeta(id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// List returns tasks matching the filter, sorted by UpdatedAt descending.
// Terminal tasks are hidden from listing unless IncludeHidden is set.
func (fs *FileStore) List(filter ListFilter) ([]*Task, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	dirs, err := fs.ds.ListDirs()
	if err != nil {
		return nil, err
	}

	var list []*Task
	for _, name := range dirs {
		var t Task
		if err := fs.ds.ReadMeta(name, &t); err != nil {
			continue // skip corrupted tasks
		}

		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if t.Hidden && !filter.IncludeHidden {
			continue
		}

		list = append(list, &t)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})

	return list, nil
}

// ListActive returns tasks the scheduler may act on (active or waiting).
func (fs *FileStore) ListActive() ([]*Task, error) {
	all, err := fs.List(ListFilter{})
	if err != nil {
		return nil, err
	}

	var active []*Task
	for _, t := range all {
		if t.Status == StatusActive || t.Status == StatusWaiting {
			active = append(active, t)
		}
	}
	return active, nil
}

// ListWaitingForInput returns tasks blocked on a free-text user answer.
func (fs *FileStore) ListWaitingForInput() ([]*Task, error) {
	return fs.List(ListFilter{Status: StatusWaitingForInput})
}

// Delete removes a task directory.
func (fs *FileStore) Delete(id string) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	return fs.ds.RemoveDir(id)
}

// AppendLog appends a timestamped entry to the append-only execution log.
func (fs *FileStore) AppendLog(taskID, message string) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	return fs.ds.AppendJSONL(taskID, "execlog.jsonl", LogEntry{
		Ts:      time.Now(),
		Message: message,
	})
}

// LoadLog reads the full execution log for a task.
func (fs *FileStore) LoadLog(taskID string) ([]LogEntry, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	return dirstore.LoadJSONL[LogEntry](fs.ds, taskID, "execlog.jsonl")
}
