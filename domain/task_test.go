package domain

import (
	"testing"
)

func TestNextTaskStatusCycles(t *testing.T) {
	tests := []struct {
		from string
		want string
	}{
		{from: TaskTodo, want: TaskInProgress},
		{from: TaskInProgress, want: TaskCompleted},
		{from: TaskCompleted, want: TaskTodo},
		{from: "", want: TaskTodo},
	}
	for _, tt := range tests {
		if got := NextTaskStatus(tt.from); got != tt.want {
			t.Fatalf("NextTaskStatus(%q) = %q, want %q", tt.from, got, tt.want)
		}
	}
}

func TestCycleTaskStatusRecomputesProgress(t *testing.T) {
	cur := &Task{ID: "T1", Title: "write docs", Status: TaskTodo, Assignees: []string{"ann"}}
	next := CycleTaskStatus(cur)

	if next.Status != TaskInProgress || next.Progress != 50 {
		t.Fatalf("unexpected next task: %#v", next)
	}
	if cur.Status != TaskTodo || cur.Progress != 0 {
		t.Fatalf("current task was mutated: %#v", cur)
	}
	next.Assignees[0] = "bob"
	if cur.Assignees[0] != "ann" {
		t.Fatalf("assignees slice shared between copies")
	}
}

func TestTaskCloneIsIndependent(t *testing.T) {
	orig := &Task{ID: "T1", Assignees: []string{"a", "b"}}
	cp := orig.Clone().(*Task)
	cp.Assignees = append(cp.Assignees[:1], "z")
	cp.Title = "changed"
	if orig.Assignees[1] != "b" || orig.Title != "" {
		t.Fatalf("clone shares state with original: %#v", orig)
	}
}

func TestProjectProgress(t *testing.T) {
	tasks := []*Task{
		{ID: "1", Status: TaskCompleted},
		{ID: "2", Status: TaskInProgress},
		{ID: "3", Status: TaskCompleted},
		{ID: "4", Status: TaskTodo},
	}
	if got := ProjectProgress(tasks); got != 50 {
		t.Fatalf("expected 50%%, got %d", got)
	}
	if got := ProjectProgress(nil); got != 0 {
		t.Fatalf("expected 0 for no tasks, got %d", got)
	}
}

func TestArchiveAndUnarchiveProject(t *testing.T) {
	p := &Project{ID: "P1", Status: ProjectActive, MemberIDs: []string{"m1"}}
	archived := ArchiveProject(p)
	if !archived.Archived || archived.Status != ProjectArchived {
		t.Fatalf("unexpected archived project: %#v", archived)
	}
	if p.Archived {
		t.Fatalf("original project mutated")
	}
	restored := UnarchiveProject(archived)
	if restored.Archived || restored.Status != ProjectActive {
		t.Fatalf("unexpected unarchived project: %#v", restored)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	n := &Notification{ID: "N1", Status: NotificationUnread}
	read := MarkNotificationRead(n)
	if !read.Read || read.Status != NotificationRead {
		t.Fatalf("unexpected notification: %#v", read)
	}
	if n.Read {
		t.Fatalf("original notification mutated")
	}
}
