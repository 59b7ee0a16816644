package domain

// Task statuses in cycle order.
const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskCompleted  = "completed"
)

// Task represents a single work item inside a project.
type Task struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"projectId,omitempty"`
	Title     string   `json:"title"`
	Notes     string   `json:"notes,omitempty"`
	Status    string   `json:"status"`
	Progress  int      `json:"progress"`
	Assignees []string `json:"assignees,omitempty"`
	DueDate   string   `json:"dueDate,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
	// Extra holds server attributes not modelled above.
	Extra map[string]any `json:"-"`
}

func (t *Task) Kind() Kind         { return KindTask }
func (t *Task) ResourceID() string { return t.ID }

type taskJSON Task

var taskKeys = jsonKeys(taskJSON{})

func (t *Task) UnmarshalJSON(data []byte) error {
	extra, err := unmarshalWithExtra(data, (*taskJSON)(t), taskKeys)
	if err != nil {
		return err
	}
	t.Extra = extra
	return nil
}

func (t Task) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(taskJSON(t), t.Extra)
}

func (t *Task) Clone() Resource {
	c := *t
	c.Assignees = cloneStrings(t.Assignees)
	c.Extra = cloneExtra(t.Extra)
	return &c
}

// NextTaskStatus returns the status a status toggle moves to.
func NextTaskStatus(status string) string {
	switch status {
	case TaskTodo:
		return TaskInProgress
	case TaskInProgress:
		return TaskCompleted
	default:
		return TaskTodo
	}
}

// TaskProgress derives the progress percentage shown for a status.
func TaskProgress(status string) int {
	switch status {
	case TaskInProgress:
		return 50
	case TaskCompleted:
		return 100
	default:
		return 0
	}
}

// CycleTaskStatus returns a copy of t advanced to the next status.
func CycleTaskStatus(t *Task) *Task {
	next := t.Clone().(*Task)
	next.Status = NextTaskStatus(t.Status)
	next.Progress = TaskProgress(next.Status)
	return next
}

// ProjectProgress is the share of completed tasks, as a percentage.
func ProjectProgress(tasks []*Task) int {
	if len(tasks) == 0 {
		return 0
	}
	done := 0
	for _, t := range tasks {
		if t.Status == TaskCompleted {
			done++
		}
	}
	return done * 100 / len(tasks)
}
