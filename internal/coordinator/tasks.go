package coordinator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tasksync/internal/model"
	"tasksync/internal/store"
	"tasksync/pkg/rbac"
	"tasksync/pkg/trace"
)

const (
	OpCreateTask = "create_task"
	OpUpdateTask = "update_task"
	OpDeleteTask = "delete_task"
)

// TempIDPrefix marks ids of tasks and profiles not yet acknowledged by the store.
const TempIDPrefix = "tmp-"

// CreateTask inserts the task into the cache under a temporary id, then
// swaps in the stored task once the insert succeeds.
func (c *Coordinator) CreateTask(ctx context.Context, actor model.Identity, in model.TaskInput) (model.Task, error) {
	ctx = trace.Ensure(ctx)
	if err := rbac.CheckPermission(actor, rbac.PermissionCreateTask); err != nil {
		return model.Task{}, c.reject(ctx, OpCreateTask, ErrForbidden, err)
	}

	in = in.WithDefaults()
	optimistic := in.Task(TempIDPrefix+uuid.NewString(), c.now())
	if err := optimistic.Validate(); err != nil {
		return model.Task{}, c.reject(ctx, OpCreateTask, ErrInvalid, err)
	}

	prior := c.cache.Tasks.Put(optimistic)

	var created model.Task
	err := c.dispatch(ctx, OpCreateTask, model.CollectionTasks,
		func() { c.cache.Tasks.Restore(prior) },
		func(ctx context.Context) error {
			var err error
			created, err = c.store.InsertTask(ctx, in)
			if err != nil {
				return err
			}
			c.cache.Tasks.Rekey(optimistic.ID, created)
			return nil
		})
	if err != nil {
		return model.Task{}, err
	}

	c.enqueueNotification(ctx, model.NotificationTaskCreated, created)
	return created, nil
}

// UpdateTask applies patch to the cached task. Every touched field is
// authorized before the cache changes.
func (c *Coordinator) UpdateTask(ctx context.Context, actor model.Identity, id string, patch model.TaskPatch) (model.Task, error) {
	ctx = trace.Ensure(ctx)
	current, ok := c.cache.Tasks.Find(id)
	if !ok {
		return model.Task{}, c.reject(ctx, OpUpdateTask, ErrInvalid, fmt.Errorf("task %s: %w", id, store.ErrNotFound))
	}
	if patch.Empty() {
		return model.Task{}, c.reject(ctx, OpUpdateTask, ErrInvalid, fmt.Errorf("%w: empty patch", model.ErrInvalidTask))
	}
	if err := rbac.CheckFields(actor, current, patch.Fields()); err != nil {
		return model.Task{}, c.reject(ctx, OpUpdateTask, ErrForbidden, err)
	}

	next := patch.Apply(current)
	next.UpdatedAt = c.now()
	if err := next.Validate(); err != nil {
		return model.Task{}, c.reject(ctx, OpUpdateTask, ErrInvalid, err)
	}

	prior := c.cache.Tasks.Put(next)

	var updated model.Task
	err := c.dispatch(ctx, OpUpdateTask, model.CollectionTasks,
		func() { c.cache.Tasks.Restore(prior) },
		func(ctx context.Context) error {
			var err error
			updated, err = c.store.UpdateTask(ctx, id, patch)
			if err != nil {
				return err
			}
			// Last acknowledgment wins for concurrent writes to one task.
			c.cache.Tasks.Put(updated)
			return nil
		})
	if err != nil {
		return model.Task{}, err
	}

	c.enqueueNotification(ctx, model.NotificationTaskUpdated, updated)
	return updated, nil
}

func (c *Coordinator) DeleteTask(ctx context.Context, actor model.Identity, id string) error {
	ctx = trace.Ensure(ctx)
	if err := rbac.CheckPermission(actor, rbac.PermissionDeleteTask); err != nil {
		return c.reject(ctx, OpDeleteTask, ErrForbidden, err)
	}

	current, ok := c.cache.Tasks.Find(id)
	if !ok {
		current = model.Task{ID: id, Title: id}
	}

	prior := c.cache.Tasks.Remove(id)
	err := c.dispatch(ctx, OpDeleteTask, model.CollectionTasks,
		func() { c.cache.Tasks.Restore(prior) },
		func(ctx context.Context) error {
			return c.store.DeleteTask(ctx, id)
		})
	if err != nil {
		return err
	}

	c.enqueueNotification(ctx, model.NotificationTaskDeleted, current)
	return nil
}

// enqueueNotification records a lifecycle notification in the background.
// Its failure is logged and never touches the task mutation.
func (c *Coordinator) enqueueNotification(ctx context.Context, kind model.NotificationType, task model.Task) {
	in := model.TaskLifecycleNotification(kind, task)
	traceID := trace.FromContext(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(trace.WithContext(context.Background(), traceID), c.notifyTTL)
		defer cancel()

		n, err := c.store.InsertNotification(ctx, in)
		if err != nil {
			c.logger.Warn("Failed to create task notification",
				zap.String("trace_id", traceID),
				zap.String("type", string(kind)),
				zap.String("task_id", task.ID),
				zap.Error(err),
			)
			return
		}
		c.cache.Notifications.Put(n)
		c.publish(ctx, model.CollectionNotifications)
	}()
}
