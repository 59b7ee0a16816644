package mutation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"prism-client/domain"
	"prism-client/remote"
	"prism-client/store"
)

// Performer issues remote mutations. *remote.Client implements it.
type Performer interface {
	Perform(ctx context.Context, op remote.Op, kind domain.Kind, id string, payload any) (domain.Resource, error)
	PerformAction(ctx context.Context, op remote.Op, kind domain.Kind, id, action string, payload any) (domain.Resource, error)
}

var _ Performer = (*remote.Client)(nil)

// TaskStatusPatch is the body of PATCH /tasks/{id}/status.
type TaskStatusPatch struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// TaskFields carries optional task edits; nil fields are left unchanged.
type TaskFields struct {
	Title     *string  `json:"title,omitempty"`
	Notes     *string  `json:"notes,omitempty"`
	DueDate   *string  `json:"dueDate,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

// NewTask is the body of POST /tasks.
type NewTask struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"projectId"`
	Title     string   `json:"title"`
	Notes     string   `json:"notes,omitempty"`
	DueDate   string   `json:"dueDate,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

// ProjectArchivePatch is the body of PATCH /projects/{id}/archive.
type ProjectArchivePatch struct {
	Archived bool `json:"archived"`
}

// NotificationReadPatch is the body of PATCH /notifications/{id}/read.
type NotificationReadPatch struct {
	Read bool `json:"read"`
}

func asTask(r domain.Resource) (*domain.Task, error) {
	t, ok := r.(*domain.Task)
	if !ok || t == nil {
		return nil, fmt.Errorf("expected task, got %T", r)
	}
	return t, nil
}

func asProject(r domain.Resource) (*domain.Project, error) {
	p, ok := r.(*domain.Project)
	if !ok || p == nil {
		return nil, fmt.Errorf("expected project, got %T", r)
	}
	return p, nil
}

func asNotification(r domain.Resource) (*domain.Notification, error) {
	n, ok := r.(*domain.Notification)
	if !ok || n == nil {
		return nil, fmt.Errorf("expected notification, got %T", r)
	}
	return n, nil
}

// CycleTask advances a task todo -> in_progress -> completed -> todo.
func CycleTask(p Performer, id string) Intent {
	return Intent{
		Kind: domain.KindTask,
		ID:   id,
		Op:   remote.OpPatch,
		Optimistic: func(cur domain.Resource) (domain.Resource, error) {
			t, err := asTask(cur)
			if err != nil {
				return nil, err
			}
			return domain.CycleTaskStatus(t), nil
		},
		Effect: func(ctx context.Context, cur domain.Resource) (domain.Resource, error) {
			t, err := asTask(cur)
			if err != nil {
				return nil, err
			}
			next := domain.NextTaskStatus(t.Status)
			return p.PerformAction(ctx, remote.OpPatch, domain.KindTask, id, "status",
				TaskStatusPatch{Status: next, Progress: domain.TaskProgress(next)})
		},
	}
}

// UpdateTask edits task fields.
func UpdateTask(p Performer, id string, f TaskFields) Intent {
	return Intent{
		Kind: domain.KindTask,
		ID:   id,
		Op:   remote.OpPatch,
		Optimistic: func(cur domain.Resource) (domain.Resource, error) {
			t, err := asTask(cur)
			if err != nil {
				return nil, err
			}
			next := t.Clone().(*domain.Task)
			if f.Title != nil {
				next.Title = *f.Title
			}
			if f.Notes != nil {
				next.Notes = *f.Notes
			}
			if f.DueDate != nil {
				next.DueDate = *f.DueDate
			}
			if f.Assignees != nil {
				next.Assignees = append([]string(nil), f.Assignees...)
			}
			return next, nil
		},
		Effect: func(ctx context.Context, _ domain.Resource) (domain.Resource, error) {
			return p.Perform(ctx, remote.OpPatch, domain.KindTask, id, f)
		},
	}
}

// CreateTask adds a task under a provisional client id. The id is sent to
// the server; if the server answers with its own id the entry is moved.
func CreateTask(p Performer, nt NewTask) Intent {
	if nt.ID == "" {
		nt.ID = uuid.NewString()
	}
	return Intent{
		Kind: domain.KindTask,
		ID:   nt.ID,
		Op:   remote.OpCreate,
		Optimistic: func(cur domain.Resource) (domain.Resource, error) {
			if cur != nil {
				return nil, fmt.Errorf("task %s already exists", nt.ID)
			}
			return &domain.Task{
				ID:        nt.ID,
				ProjectID: nt.ProjectID,
				Title:     nt.Title,
				Notes:     nt.Notes,
				DueDate:   nt.DueDate,
				Assignees: append([]string(nil), nt.Assignees...),
				Status:    domain.TaskTodo,
			}, nil
		},
		Effect: func(ctx context.Context, _ domain.Resource) (domain.Resource, error) {
			return p.Perform(ctx, remote.OpCreate, domain.KindTask, nt.ID, nt)
		},
	}
}

// DeleteTask removes a task once the server confirms.
func DeleteTask(p Performer, id string) Intent {
	return Intent{
		Kind: domain.KindTask,
		ID:   id,
		Op:   remote.OpDelete,
		Effect: func(ctx context.Context, _ domain.Resource) (domain.Resource, error) {
			return p.Perform(ctx, remote.OpDelete, domain.KindTask, id, nil)
		},
	}
}

func setProjectArchived(p Performer, id string, archived bool) Intent {
	return Intent{
		Kind: domain.KindProject,
		ID:   id,
		Op:   remote.OpPatch,
		Optimistic: func(cur domain.Resource) (domain.Resource, error) {
			pr, err := asProject(cur)
			if err != nil {
				return nil, err
			}
			if archived {
				return domain.ArchiveProject(pr), nil
			}
			return domain.UnarchiveProject(pr), nil
		},
		Effect: func(ctx context.Context, _ domain.Resource) (domain.Resource, error) {
			return p.PerformAction(ctx, remote.OpPatch, domain.KindProject, id, "archive",
				ProjectArchivePatch{Archived: archived})
		},
	}
}

// ArchiveProject hides a project from active boards.
func ArchiveProject(p Performer, id string) Intent { return setProjectArchived(p, id, true) }

// UnarchiveProject restores an archived project.
func UnarchiveProject(p Performer, id string) Intent { return setProjectArchived(p, id, false) }

// MarkNotificationRead marks one notification read.
func MarkNotificationRead(p Performer, id string) Intent {
	return Intent{
		Kind: domain.KindNotification,
		ID:   id,
		Op:   remote.OpPatch,
		Optimistic: func(cur domain.Resource) (domain.Resource, error) {
			n, err := asNotification(cur)
			if err != nil {
				return nil, err
			}
			return domain.MarkNotificationRead(n), nil
		},
		Effect: func(ctx context.Context, _ domain.Resource) (domain.Resource, error) {
			return p.PerformAction(ctx, remote.OpPatch, domain.KindNotification, id, "read",
				NotificationReadPatch{Read: true})
		},
	}
}

// MarkAllNotificationsRead returns one intent per unread notification held
// locally. Each settles on its own so a failure rolls back only that entry.
func MarkAllNotificationsRead(p Performer, r store.Reader) []Intent {
	var intents []Intent
	for _, id := range r.Keys(domain.KindNotification) {
		res, ok := r.Get(domain.KindNotification, id)
		if !ok {
			continue
		}
		if n, err := asNotification(res); err == nil && !n.Read {
			intents = append(intents, MarkNotificationRead(p, id))
		}
	}
	return intents
}
