package tasks

// ListFilter defines criteria for filtering task lists.
type ListFilter struct {
	Status        Status `json:"status,omitempty"`
	IncludeHidden bool   `json:"include_hidden,omitempty"`
}

// Store defines the persistence interface for tasks.
//
// Update is the single mutation funnel: it re-reads the current record,
// applies the mutator under the store lock, and persists the result. Callers
// must not cache a Task across an await boundary and write back stale fields.
type Store interface {
	Create(t *Task) error
	Get(id string) (*Task, error)
	Update(id string, mutate func(*Task) error) (*Task, error)
	List(filter ListFilter) ([]*Task, error)
	ListActive() ([]*Task, error)          // status in {active, waiting}
	ListWaitingForInput() ([]*Task, error) // status == waiting_for_input
	Delete(id string) error
	AppendLog(taskID, message string) error
	LoadLog(taskID string) ([]LogEntry, error)
}
