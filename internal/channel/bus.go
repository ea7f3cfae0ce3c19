package channel

import "sync"

// Bus connects channels living in the same process. Delivery is synchronous
// and unordered across subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]func([]byte)
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]func([]byte))}
}

func (b *Bus) Subscribe(fn func([]byte)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

func (b *Bus) Publish(raw []byte) {
	b.mu.RLock()
	fns := make([]func([]byte), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(raw)
	}
}
