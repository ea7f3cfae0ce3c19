package model

import "time"

type NotificationType string

const (
	NotificationTaskCreated NotificationType = "task_created"
	NotificationTaskUpdated NotificationType = "task_updated"
	NotificationTaskDeleted NotificationType = "task_deleted"
	NotificationInfo        NotificationType = "info"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTaskCreated, NotificationTaskUpdated, NotificationTaskDeleted, NotificationInfo:
		return true
	}
	return false
}

type Notification struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
	Read      bool             `json:"read"`
}

func (n Notification) Key() string { return n.ID }

type NotificationInput struct {
	Title   string           `json:"title"`
	Message string           `json:"message"`
	Type    NotificationType `json:"type"`
}

// TaskLifecycleNotification builds the notification announcing a task change.
func TaskLifecycleNotification(kind NotificationType, task Task) NotificationInput {
	in := NotificationInput{Type: kind}
	switch kind {
	case NotificationTaskCreated:
		in.Title = "New task created"
		in.Message = "Task \"" + task.Title + "\" was created"
		if task.AssignedTo != "" {
			in.Message += " and assigned to " + task.AssignedTo
		}
	case NotificationTaskUpdated:
		in.Title = "Task updated"
		in.Message = "Task \"" + task.Title + "\" was updated (" + string(task.Status) + ")"
	case NotificationTaskDeleted:
		in.Title = "Task deleted"
		in.Message = "Task \"" + task.Title + "\" was deleted"
	default:
		in.Title = "Task notice"
		in.Message = task.Title
	}
	return in
}
