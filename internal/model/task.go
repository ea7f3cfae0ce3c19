package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in-progress"
	StatusInReview   TaskStatus = "in-review"
	StatusCompleted  TaskStatus = "completed"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusInReview, StatusCompleted:
		return true
	}
	return false
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// TaskField names a mutable task attribute for authorization checks.
type TaskField string

const (
	FieldTitle       TaskField = "title"
	FieldDescription TaskField = "description"
	FieldStatus      TaskField = "status"
	FieldPriority    TaskField = "priority"
	FieldAssignedTo  TaskField = "assigned_to"
	FieldDueDate     TaskField = "due_date"
	FieldProgress    TaskField = "progress"
	FieldMemberNotes TaskField = "member_notes"
)

var ErrInvalidTask = errors.New("invalid task")

type Task struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	AssignedTo  string       `json:"assigned_to"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	Progress    int          `json:"progress"`
	MemberNotes string       `json:"member_notes"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

func (t Task) Key() string { return t.ID }

// Validate checks the invariants every stored task must hold.
func (t Task) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, t.Status)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidTask, t.Priority)
	}
	if t.Progress < 0 || t.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidTask, t.Progress)
	}
	return nil
}

// AssignedToName reports whether the task is assigned to name, ignoring case
// and surrounding whitespace.
func (t Task) AssignedToName(name string) bool {
	a := strings.TrimSpace(t.AssignedTo)
	return a != "" && strings.EqualFold(a, strings.TrimSpace(name))
}

// TaskInput is the create payload. The record store assigns id and timestamps.
type TaskInput struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	AssignedTo  string       `json:"assigned_to"`
	DueDate     *time.Time   `json:"due_date,omitempty"`
	Progress    int          `json:"progress"`
	MemberNotes string       `json:"member_notes"`
}

// WithDefaults fills an empty status and priority.
func (in TaskInput) WithDefaults() TaskInput {
	if in.Status == "" {
		in.Status = StatusTodo
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	return in
}

// Task renders the input as a task with the given id and timestamps.
func (in TaskInput) Task(id string, now time.Time) Task {
	return Task{
		ID:          id,
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		AssignedTo:  in.AssignedTo,
		DueDate:     in.DueDate,
		Progress:    in.Progress,
		MemberNotes: in.MemberNotes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TaskPatch is a partial update; nil fields are left untouched.
type TaskPatch struct {
	Title       *string       `json:"title,omitempty"`
	Description *string       `json:"description,omitempty"`
	Status      *TaskStatus   `json:"status,omitempty"`
	Priority    *TaskPriority `json:"priority,omitempty"`
	AssignedTo  *string       `json:"assigned_to,omitempty"`
	DueDate     *time.Time    `json:"due_date,omitempty"`
	Progress    *int          `json:"progress,omitempty"`
	MemberNotes *string       `json:"member_notes,omitempty"`
}

// Fields lists the task fields the patch touches.
func (p TaskPatch) Fields() []TaskField {
	var fields []TaskField
	if p.Title != nil {
		fields = append(fields, FieldTitle)
	}
	if p.Description != nil {
		fields = append(fields, FieldDescription)
	}
	if p.Status != nil {
		fields = append(fields, FieldStatus)
	}
	if p.Priority != nil {
		fields = append(fields, FieldPriority)
	}
	if p.AssignedTo != nil {
		fields = append(fields, FieldAssignedTo)
	}
	if p.DueDate != nil {
		fields = append(fields, FieldDueDate)
	}
	if p.Progress != nil {
		fields = append(fields, FieldProgress)
	}
	if p.MemberNotes != nil {
		fields = append(fields, FieldMemberNotes)
	}
	return fields
}

func (p TaskPatch) Empty() bool { return len(p.Fields()) == 0 }

// Apply returns t with the patch merged in. updated_at is left to the caller.
func (p TaskPatch) Apply(t Task) Task {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.AssignedTo != nil {
		t.AssignedTo = *p.AssignedTo
	}
	if p.DueDate != nil {
		d := *p.DueDate
		t.DueDate = &d
	}
	if p.Progress != nil {
		t.Progress = *p.Progress
	}
	if p.MemberNotes != nil {
		t.MemberNotes = *p.MemberNotes
	}
	return t
}
