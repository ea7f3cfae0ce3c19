package cache

import (
	"time"

	"tasksync/internal/model"
)

// Cache bundles the tracked collections.
type Cache struct {
	Tasks         *Collection[model.Task]
	Notifications *Collection[model.Notification]
	Profiles      *Collection[model.Profile]
}

func New(now func() time.Time) *Cache {
	return &Cache{
		Tasks:         NewCollection[model.Task](string(model.CollectionTasks), now),
		Notifications: NewCollection[model.Notification](string(model.CollectionNotifications), now),
		Profiles:      NewCollection[model.Profile](string(model.CollectionProfiles), now),
	}
}

// Stamp returns the last-applied timestamp of collection c.
func (c *Cache) Stamp(coll model.Collection) int64 {
	switch coll {
	case model.CollectionTasks:
		return c.Tasks.Stamp()
	case model.CollectionNotifications:
		return c.Notifications.Stamp()
	case model.CollectionProfiles:
		return c.Profiles.Stamp()
	}
	return 0
}

func (c *Cache) UnreadCount() int {
	n := 0
	for _, item := range c.Notifications.Get() {
		if !item.Read {
			n++
		}
	}
	return n
}

// Close drops every listener.
func (c *Cache) Close() {
	c.Tasks.UnsubscribeAll()
	c.Notifications.UnsubscribeAll()
	c.Profiles.UnsubscribeAll()
}
