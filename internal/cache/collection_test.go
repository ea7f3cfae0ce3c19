package cache

import (
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"tasksync/internal/model"
)

type clock struct{ ms int64 }

func (c *clock) now() time.Time { return time.UnixMilli(c.ms) }

func tasks(ids ...string) []model.Task {
	out := make([]model.Task, len(ids))
	for i, id := range ids {
		out[i] = model.Task{ID: id, Title: "t" + id}
	}
	return out
}

func TestApplyIfNewerDiscardsStale(t *testing.T) {
	clk := &clock{ms: 100}
	c := NewCollection[model.Task]("tasks", clk.now)

	if !c.ApplyIfNewer(tasks("a"), 200) {
		t.Fatal("expected first apply to succeed")
	}
	if c.ApplyIfNewer(tasks("b"), 200) {
		t.Fatal("equal timestamp must be discarded")
	}
	if c.ApplyIfNewer(tasks("c"), 150) {
		t.Fatal("older timestamp must be discarded")
	}
	if got := c.Get(); len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if c.Stamp() != 200 {
		t.Fatalf("unexpected stamp %d", c.Stamp())
	}
}

func TestReplaceMovesStampToNow(t *testing.T) {
	clk := &clock{ms: 500}
	c := NewCollection[model.Task]("tasks", clk.now)
	c.Replace(tasks("a"))
	if c.Stamp() != 500 {
		t.Fatalf("expected stamp 500, got %d", c.Stamp())
	}

	c.ApplyIfNewer(tasks("b"), 900)
	c.Replace(tasks("c"))
	if c.Stamp() != 900 {
		t.Fatalf("replace must not move the stamp backwards, got %d", c.Stamp())
	}
}

// The final snapshot is the one with the highest timestamp, whatever the
// arrival order.
func TestApplyIfNewerOrderIndependent(t *testing.T) {
	type update struct {
		ts    int64
		items []model.Task
	}
	updates := []update{
		{10, tasks("a")},
		{20, tasks("b")},
		{30, tasks("c", "d")},
		{40, tasks("e")},
		{50, tasks("f", "g", "h")},
	}

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		rng.Shuffle(len(updates), func(i, j int) { updates[i], updates[j] = updates[j], updates[i] })

		c := NewCollection[model.Task]("tasks", (&clock{ms: 1}).now)
		for _, u := range updates {
			c.ApplyIfNewer(u.items, u.ts)
		}
		if got := c.Get(); !reflect.DeepEqual(got, tasks("f", "g", "h")) {
			t.Fatalf("round %d: final snapshot %+v", round, got)
		}
		if c.Stamp() != 50 {
			t.Fatalf("round %d: stamp %d", round, c.Stamp())
		}
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c := NewCollection[model.Task]("tasks", nil)
	c.Replace(tasks("a"))
	got := c.Get()
	got[0].Title = "mutated"
	if c.Get()[0].Title != "ta" {
		t.Fatal("caller mutation leaked into the cache")
	}
}

func TestOptimisticPrimitivesAndRestore(t *testing.T) {
	clk := &clock{ms: 100}
	c := NewCollection[model.Task]("tasks", clk.now)
	c.ApplyIfNewer(tasks("a", "b", "c"), 50)
	before := c.Get()

	clk.ms = 200
	removed := c.Remove("b")
	if !removed.Existed || removed.Index != 1 {
		t.Fatalf("unexpected prior %+v", removed)
	}
	if c.Stamp() != 200 {
		t.Fatalf("optimistic change must move stamp to now, got %d", c.Stamp())
	}

	c.Restore(removed)
	if got := c.Get(); !reflect.DeepEqual(got, before) {
		t.Fatalf("restore mismatch: %+v", got)
	}

	inserted := c.Put(model.Task{ID: "tmp-1", Title: "new"})
	if inserted.Existed {
		t.Fatal("new item should not have existed")
	}
	if got := c.Get(); got[0].ID != "tmp-1" {
		t.Fatalf("new item should be at head: %+v", got)
	}
	c.Restore(inserted)
	if got := c.Get(); !reflect.DeepEqual(got, before) {
		t.Fatalf("restore of insert mismatch: %+v", got)
	}
}

func TestRestoreLeavesOtherEntitiesAlone(t *testing.T) {
	c := NewCollection[model.Task]("tasks", nil)
	c.Replace(tasks("a", "b"))

	prior := c.Put(model.Task{ID: "a", Title: "edited a"})
	c.Put(model.Task{ID: "b", Title: "edited b"})
	c.Restore(prior)

	got := c.Get()
	if got[0].Title != "ta" || got[1].Title != "edited b" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestRekeyKeepsPosition(t *testing.T) {
	c := NewCollection[model.Task]("tasks", nil)
	c.Replace(tasks("a"))
	c.Put(model.Task{ID: "tmp-1"})
	c.Rekey("tmp-1", model.Task{ID: "real-1", Title: "server"})

	got := c.Get()
	if len(got) != 2 || got[0].ID != "real-1" || got[1].ID != "a" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestUpdateAndClear(t *testing.T) {
	c := NewCollection[model.Notification]("notifications", nil)
	c.Replace([]model.Notification{{ID: "1"}, {ID: "2", Read: true}, {ID: "3"}})

	priors := c.Update(func(n model.Notification) (model.Notification, bool) {
		if n.Read {
			return n, false
		}
		n.Read = true
		return n, true
	})
	if len(priors) != 2 {
		t.Fatalf("expected 2 priors, got %d", len(priors))
	}
	for _, n := range c.Get() {
		if !n.Read {
			t.Fatalf("notification %s still unread", n.ID)
		}
	}

	c.Restore(priors...)
	if got := c.Get(); got[0].Read || !got[1].Read || got[2].Read {
		t.Fatalf("restore mismatch %+v", got)
	}

	all := c.Clear()
	if len(c.Get()) != 0 || len(all) != 3 {
		t.Fatal("clear should empty the collection")
	}
	c.Restore(all...)
	if got := c.Get(); len(got) != 3 || got[0].ID != "1" || got[2].ID != "3" {
		t.Fatalf("restore after clear mismatch %+v", got)
	}
}

func TestSubscribe(t *testing.T) {
	c := NewCollection[model.Task]("tasks", nil)
	var seen [][]model.Task
	cancel := c.Subscribe(func(items []model.Task) { seen = append(seen, items) })

	c.Replace(tasks("a"))
	c.ApplyIfNewer(tasks("b"), 1) // stale, no notification
	cancel()
	c.Replace(tasks("c"))

	if len(seen) != 1 || seen[0][0].ID != "a" {
		t.Fatalf("unexpected notifications %+v", seen)
	}
}

func TestSubscribeSkipsOlderSnapshots(t *testing.T) {
	c := NewCollection[model.Task]("tasks", nil)
	var seen []string
	c.Subscribe(func(items []model.Task) { seen = append(seen, items[0].ID) })

	// Two writers that released the data lock in order 1, 2 but reach the
	// listeners in order 2, 1.
	c.notify(2, tasks("newer"))
	c.notify(1, tasks("older"))

	if !reflect.DeepEqual(seen, []string{"newer"}) {
		t.Fatalf("listener went backwards: %v", seen)
	}
}

func TestSubscribeEndsOnFinalSnapshot(t *testing.T) {
	c := NewCollection[model.Task]("tasks", nil)
	var last []model.Task
	c.Subscribe(func(items []model.Task) { last = items })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Put(model.Task{ID: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()

	if got := c.Get(); len(last) != 50 || !reflect.DeepEqual(last, got) {
		t.Fatalf("last delivered snapshot has %d items, cache has %d", len(last), len(got))
	}
}

func TestCacheUnreadCount(t *testing.T) {
	c := New(nil)
	c.Notifications.Replace([]model.Notification{{ID: "1"}, {ID: "2", Read: true}})
	if c.UnreadCount() != 1 {
		t.Fatalf("unexpected unread count %d", c.UnreadCount())
	}
	if c.Stamp(model.CollectionNotifications) == 0 {
		t.Fatal("stamp should be set after replace")
	}
}
