// Package store defines the record store contract the sync core depends on.
package store

import (
	"context"
	"errors"
	"fmt"

	"tasksync/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
	// ErrNameTaken wraps ErrConflict. Profile names are unique ignoring case
	// and surrounding whitespace because task ownership is matched by name.
	ErrNameTaken = fmt.Errorf("%w: profile name already in use", ErrConflict)
)

// Tasks is the task collection. Lists are ordered by creation time, newest first.
type Tasks interface {
	ListTasks(ctx context.Context) ([]model.Task, error)
	InsertTask(ctx context.Context, in model.TaskInput) (model.Task, error)
	UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

type Notifications interface {
	ListNotifications(ctx context.Context) ([]model.Notification, error)
	InsertNotification(ctx context.Context, in model.NotificationInput) (model.Notification, error)
	MarkNotificationRead(ctx context.Context, id string) (model.Notification, error)
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
	ClearNotifications(ctx context.Context) error
}

type Profiles interface {
	ListProfiles(ctx context.Context) ([]model.Profile, error)
	InsertProfile(ctx context.Context, in model.ProfileInput) (model.Profile, error)
	UpdateProfile(ctx context.Context, id string, patch model.ProfilePatch) (model.Profile, error)
	// FindActiveMemberBySecret returns ErrNotFound when no active member holds secret.
	FindActiveMemberBySecret(ctx context.Context, secret string) (model.Profile, error)
}

// Store is the full record store.
type Store interface {
	Tasks
	Notifications
	Profiles
}
