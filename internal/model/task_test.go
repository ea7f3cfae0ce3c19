package model

import (
	"errors"
	"testing"
)

func TestTaskValidate(t *testing.T) {
	base := Task{Title: "X", Status: StatusTodo, Priority: PriorityLow}

	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr bool
	}{
		{"valid", func(*Task) {}, false},
		{"blank title", func(t *Task) { t.Title = "  " }, true},
		{"unknown status", func(t *Task) { t.Status = "done" }, true},
		{"unknown priority", func(t *Task) { t.Priority = "urgent" }, true},
		{"progress below range", func(t *Task) { t.Progress = -1 }, true},
		{"progress above range", func(t *Task) { t.Progress = 101 }, true},
		{"progress at bound", func(t *Task) { t.Progress = 100 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := base
			tt.mutate(&task)
			err := task.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err=%v, wantErr=%v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTask) {
				t.Fatalf("expected ErrInvalidTask, got %v", err)
			}
		})
	}
}

func TestAssignedToName(t *testing.T) {
	task := Task{AssignedTo: "  Ali "}
	if !task.AssignedToName("ali") {
		t.Fatal("expected case-insensitive trimmed match")
	}
	if task.AssignedToName("Alice") {
		t.Fatal("unexpected match")
	}
	if (Task{}).AssignedToName("") {
		t.Fatal("unassigned task must not match an empty name")
	}
}

func TestTaskPatchFieldsAndApply(t *testing.T) {
	progress := 50
	notes := "halfway"
	patch := TaskPatch{Progress: &progress, MemberNotes: &notes}

	fields := patch.Fields()
	if len(fields) != 2 || fields[0] != FieldProgress || fields[1] != FieldMemberNotes {
		t.Fatalf("unexpected fields %v", fields)
	}

	got := patch.Apply(Task{ID: "1", Title: "X", Progress: 10})
	if got.Progress != 50 || got.MemberNotes != "halfway" || got.Title != "X" {
		t.Fatalf("unexpected merge %+v", got)
	}
	if !(TaskPatch{}).Empty() {
		t.Fatal("zero patch should be empty")
	}
}

func TestProfileAuthenticable(t *testing.T) {
	tests := []struct {
		name string
		p    Profile
		want bool
	}{
		{"active admin", Profile{Role: RoleAdmin, Active: true}, true},
		{"member with secret", Profile{Role: RoleMember, Active: true, SecretNumber: "1234"}, true},
		{"member without secret", Profile{Role: RoleMember, Active: true}, false},
		{"inactive member", Profile{Role: RoleMember, SecretNumber: "1234"}, false},
	}
	for _, tt := range tests {
		if got := tt.p.Authenticable(); got != tt.want {
			t.Errorf("%s: got %v want %v", tt.name, got, tt.want)
		}
	}
}
