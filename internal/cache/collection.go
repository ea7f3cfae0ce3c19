// Package cache holds the local snapshot of every tracked collection.
package cache

import (
	"sync"
	"time"

	"tasksync/pkg/metrics"
)

// Keyed is implemented by every cached entity.
type Keyed interface {
	Key() string
}

// Prior is an entity's state captured before an optimistic change.
type Prior[T Keyed] struct {
	ID      string
	Item    T
	Index   int
	Existed bool
}

// Collection is one collection's snapshot plus its last-applied stamp in unix
// milliseconds. Incoming snapshots replace it wholesale; there is no
// field-level merge.
type Collection[T Keyed] struct {
	name string
	now  func() time.Time

	mu      sync.RWMutex
	items   []T
	stamp   int64
	version uint64

	lmu       sync.Mutex
	listeners map[int]func([]T)
	nextID    int

	// dmu orders deliveries; delivered is the newest version handed out.
	dmu       sync.Mutex
	delivered uint64
}

func NewCollection[T Keyed](name string, now func() time.Time) *Collection[T] {
	if now == nil {
		now = time.Now
	}
	return &Collection[T]{
		name:      name,
		now:       now,
		listeners: make(map[int]func([]T)),
	}
}

func (c *Collection[T]) Name() string { return c.name }

// Stamp returns the last-applied timestamp.
func (c *Collection[T]) Stamp() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stamp
}

// Get returns a copy of the current snapshot.
func (c *Collection[T]) Get() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clone(c.items)
}

// Replace swaps the snapshot and moves the stamp to now.
func (c *Collection[T]) Replace(items []T) {
	c.mu.Lock()
	c.items = clone(items)
	c.touch()
	snap, v := clone(c.items), c.bump()
	c.mu.Unlock()
	c.notify(v, snap)
}

// ApplyIfNewer swaps the snapshot only when ts is strictly greater than the
// current stamp, and reports whether it did.
func (c *Collection[T]) ApplyIfNewer(items []T, ts int64) bool {
	c.mu.Lock()
	if ts <= c.stamp {
		c.mu.Unlock()
		metrics.RecordCacheApply(c.name, false)
		return false
	}
	c.items = clone(items)
	c.stamp = ts
	snap, v := clone(c.items), c.bump()
	c.mu.Unlock()

	metrics.RecordCacheApply(c.name, true)
	c.notify(v, snap)
	return true
}

// Find returns the entity with key id.
func (c *Collection[T]) Find(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.index(id); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// Capture records id's current state for a later Restore.
func (c *Collection[T]) Capture(id string) Prior[T] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capture(id)
}

// Put inserts item at the head or replaces the entity with the same key.
func (c *Collection[T]) Put(item T) Prior[T] {
	c.mu.Lock()
	prior := c.capture(item.Key())
	if prior.Existed {
		c.items[prior.Index] = item
	} else {
		c.items = append([]T{item}, c.items...)
	}
	c.touch()
	snap, v := clone(c.items), c.bump()
	c.mu.Unlock()
	c.notify(v, snap)
	return prior
}

// Remove drops the entity with key id.
func (c *Collection[T]) Remove(id string) Prior[T] {
	c.mu.Lock()
	prior := c.capture(id)
	if prior.Existed {
		c.items = append(c.items[:prior.Index:prior.Index], c.items[prior.Index+1:]...)
	}
	c.touch()
	snap, v := clone(c.items), c.bump()
	c.mu.Unlock()
	c.notify(v, snap)
	return prior
}

// Rekey replaces the entity stored under oldID with item, keeping its
// position. Used when the store assigns the real id to an optimistic insert.
func (c *Collection[T]) Rekey(oldID string, item T) {
	c.mu.Lock()
	if dup := c.index(item.Key()); dup >= 0 && item.Key() != oldID {
		c.items = append(c.items[:dup:dup], c.items[dup+1:]...)
	}
	if i := c.index(oldID); i >= 0 {
		c.items[i] = item
	} else {
		c.items = append([]T{item}, c.items...)
	}
	c.touch()
	snap, v := clone(c.items), c.bump()
	c.mu.Unlock()
	c.notify(v, snap)
}

// Update rewrites every entity fn reports as changed and returns their priors.
func (c *Collection[T]) Update(fn func(T) (T, bool)) []Prior[T] {
	c.mu.Lock()
	var priors []Prior[T]
	for i, item := range c.items {
		next, changed := fn(item)
		if !changed {
			continue
		}
		priors = append(priors, Prior[T]{ID: item.Key(), Item: item, Index: i, Existed: true})
		c.items[i] = next
	}
	c.touch()
	snap, v := clone(c.items), c.bump()
	c.mu.Unlock()
	c.notify(v, snap)
	return priors
}

// Clear empties the collection and returns the priors of every entity.
func (c *Collection[T]) Clear() []Prior[T] {
	c.mu.Lock()
	priors := make([]Prior[T], 0, len(c.items))
	for i, item := range c.items {
		priors = append(priors, Prior[T]{ID: item.Key(), Item: item, Index: i, Existed: true})
	}
	c.items = nil
	c.touch()
	v := c.bump()
	c.mu.Unlock()
	c.notify(v, nil)
	return priors
}

// Restore puts each captured entity back the way it was. Entities that did
// not exist are removed. Other entities are left alone, so concurrent
// mutations on them survive the rollback.
func (c *Collection[T]) Restore(priors ...Prior[T]) {
	if len(priors) == 0 {
		return
	}
	c.mu.Lock()
	for _, p := range priors {
		i := c.index(p.ID)
		switch {
		case !p.Existed && i >= 0:
			c.items = append(c.items[:i:i], c.items[i+1:]...)
		case p.Existed && i >= 0:
			c.items[i] = p.Item
		case p.Existed:
			at := p.Index
			if at > len(c.items) {
				at = len(c.items)
			}
			c.items = append(c.items[:at:at], append([]T{p.Item}, c.items[at:]...)...)
		}
	}
	c.touch()
	snap, v := clone(c.items), c.bump()
	c.mu.Unlock()
	c.notify(v, snap)
}

// Subscribe registers fn for every snapshot change. fn runs outside the data
// lock on a copy of the snapshot. Deliveries are serialized and never go
// backwards: a snapshot older than one already delivered is skipped. fn must
// not mutate the collection synchronously.
func (c *Collection[T]) Subscribe(fn func([]T)) (cancel func()) {
	c.lmu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.lmu.Lock()
			delete(c.listeners, id)
			c.lmu.Unlock()
		})
	}
}

// UnsubscribeAll drops every listener.
func (c *Collection[T]) UnsubscribeAll() {
	c.lmu.Lock()
	c.listeners = make(map[int]func([]T))
	c.lmu.Unlock()
}

func (c *Collection[T]) notify(version uint64, snap []T) {
	c.dmu.Lock()
	defer c.dmu.Unlock()
	if version <= c.delivered {
		return
	}
	c.delivered = version

	c.lmu.Lock()
	fns := make([]func([]T), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.lmu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// bump returns the version of the change just made. Must hold mu.
func (c *Collection[T]) bump() uint64 {
	c.version++
	return c.version
}

// touch moves the stamp to now unless it is already ahead. Must hold mu.
func (c *Collection[T]) touch() {
	if now := c.now().UnixMilli(); now > c.stamp {
		c.stamp = now
	}
}

// capture must hold mu.
func (c *Collection[T]) capture(id string) Prior[T] {
	if i := c.index(id); i >= 0 {
		return Prior[T]{ID: id, Item: c.items[i], Index: i, Existed: true}
	}
	return Prior[T]{ID: id, Index: -1}
}

// index must hold mu.
func (c *Collection[T]) index(id string) int {
	for i, item := range c.items {
		if item.Key() == id {
			return i
		}
	}
	return -1
}

func clone[T any](items []T) []T {
	if items == nil {
		return nil
	}
	out := make([]T, len(items))
	copy(out, items)
	return out
}
