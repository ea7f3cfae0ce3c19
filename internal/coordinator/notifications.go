package coordinator

import (
	"context"
	"fmt"

	"tasksync/internal/model"
	"tasksync/internal/store"
	"tasksync/pkg/rbac"
	"tasksync/pkg/trace"
)

const (
	OpMarkNotificationRead     = "mark_notification_read"
	OpMarkAllNotificationsRead = "mark_all_notifications_read"
	OpDeleteNotification       = "delete_notification"
	OpClearNotifications       = "clear_notifications"
)

// MarkNotificationRead is a no-op for notifications that are already read.
func (c *Coordinator) MarkNotificationRead(ctx context.Context, actor model.Identity, id string) error {
	ctx = trace.Ensure(ctx)
	if err := rbac.CheckPermission(actor, rbac.PermissionUpdateNotification); err != nil {
		return c.reject(ctx, OpMarkNotificationRead, ErrForbidden, err)
	}

	current, ok := c.cache.Notifications.Find(id)
	if !ok {
		return c.reject(ctx, OpMarkNotificationRead, ErrInvalid, fmt.Errorf("notification %s: %w", id, store.ErrNotFound))
	}
	if current.Read {
		return nil
	}

	current.Read = true
	prior := c.cache.Notifications.Put(current)
	return c.dispatch(ctx, OpMarkNotificationRead, model.CollectionNotifications,
		func() { c.cache.Notifications.Restore(prior) },
		func(ctx context.Context) error {
			n, err := c.store.MarkNotificationRead(ctx, id)
			if err != nil {
				return err
			}
			c.cache.Notifications.Put(n)
			return nil
		})
}

// MarkAllNotificationsRead flips every unread notification to read. The
// cache stamp moves forward, so snapshots taken before the bulk action cannot
// bring unread items back.
func (c *Coordinator) MarkAllNotificationsRead(ctx context.Context, actor model.Identity) error {
	ctx = trace.Ensure(ctx)
	if err := rbac.CheckPermission(actor, rbac.PermissionUpdateNotification); err != nil {
		return c.reject(ctx, OpMarkAllNotificationsRead, ErrForbidden, err)
	}

	priors := c.cache.Notifications.Update(func(n model.Notification) (model.Notification, bool) {
		if n.Read {
			return n, false
		}
		n.Read = true
		return n, true
	})
	return c.dispatch(ctx, OpMarkAllNotificationsRead, model.CollectionNotifications,
		func() { c.cache.Notifications.Restore(priors...) },
		c.store.MarkAllNotificationsRead)
}

func (c *Coordinator) DeleteNotification(ctx context.Context, actor model.Identity, id string) error {
	ctx = trace.Ensure(ctx)
	if err := rbac.CheckPermission(actor, rbac.PermissionUpdateNotification); err != nil {
		return c.reject(ctx, OpDeleteNotification, ErrForbidden, err)
	}

	prior := c.cache.Notifications.Remove(id)
	return c.dispatch(ctx, OpDeleteNotification, model.CollectionNotifications,
		func() { c.cache.Notifications.Restore(prior) },
		func(ctx context.Context) error {
			return c.store.DeleteNotification(ctx, id)
		})
}

// ClearNotifications deletes every notification.
func (c *Coordinator) ClearNotifications(ctx context.Context, actor model.Identity) error {
	ctx = trace.Ensure(ctx)
	if err := rbac.CheckPermission(actor, rbac.PermissionUpdateNotification); err != nil {
		return c.reject(ctx, OpClearNotifications, ErrForbidden, err)
	}

	priors := c.cache.Notifications.Clear()
	return c.dispatch(ctx, OpClearNotifications, model.CollectionNotifications,
		func() { c.cache.Notifications.Restore(priors...) },
		c.store.ClearNotifications)
}
