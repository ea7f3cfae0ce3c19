package channel

import (
	"context"
	"sync"
	"time"
)

// Deduper answers whether a message id is new within the dedup window.
type Deduper interface {
	AcquireOnce(ctx context.Context, scope, id string) bool
}

// windowDeduper is the in-memory Deduper used when redis is not configured.
type windowDeduper struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	seen   map[string]time.Time
}

func newWindowDeduper(window time.Duration, now func() time.Time) *windowDeduper {
	return &windowDeduper{window: window, now: now, seen: make(map[string]time.Time)}
}

func (d *windowDeduper) AcquireOnce(_ context.Context, scope, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) > d.window {
			delete(d.seen, k)
		}
	}

	key := scope + ":" + id
	if _, ok := d.seen[key]; ok {
		return false
	}
	d.seen[key] = now
	return true
}
