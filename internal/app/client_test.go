package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tasksync/internal/channel"
	"tasksync/internal/coordinator"
	"tasksync/internal/envelope"
	"tasksync/internal/model"
	"tasksync/internal/store"
	"tasksync/pkg/config"
)

var (
	admin = model.Identity{ID: "a1", Name: "Root", Role: model.RoleAdmin}
	ali   = model.Identity{ID: "m1", Name: "Ali", Role: model.RoleMember}
	bea   = model.Identity{ID: "m2", Name: "Bea", Role: model.RoleMember}
)

func testConfig() config.SyncConfig {
	cfg := config.DefaultSyncConfig()
	cfg.KeyPrefix = "apptest:"
	cfg.HeartbeatInterval = time.Hour
	cfg.PollInterval = time.Hour
	cfg.PruneInterval = time.Hour
	cfg.ReconcileInterval = time.Hour
	cfg.FeedEnabled = false
	return cfg
}

func newClient(t *testing.T, deps Deps) *Client {
	t.Helper()
	c, err := New(context.Background(), deps, testConfig(), nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func publish(t *testing.T, bus *channel.Bus, env envelope.Envelope) {
	t.Helper()
	raw, err := envelope.Encode(env)
	if err != nil {
		t.Fatal(err)
	}
	bus.Publish(raw)
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := New(context.Background(), Deps{}, testConfig(), nil); err == nil {
		t.Fatal("expected error without a record store")
	}
}

func TestMutationReachesOtherContextOnSameBus(t *testing.T) {
	bus := channel.NewBus()
	shared := store.NewMemory()
	a := newClient(t, Deps{Store: shared, Bus: bus})
	b := newClient(t, Deps{Store: shared, Bus: bus})

	created, err := a.Mutations().CreateTask(context.Background(), admin, model.TaskInput{Title: "X", AssignedTo: "Ali"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got := b.Cache().Tasks.Get()
	if len(got) != 1 || got[0].ID != created.ID {
		t.Fatalf("other context did not receive the snapshot: %+v", got)
	}

	a.Mutations().Wait()
	if b.Cache().UnreadCount() != 1 {
		t.Fatalf("lifecycle notification should reach the other context, unread = %d", b.Cache().UnreadCount())
	}
}

func TestOutOfOrderEnvelopes(t *testing.T) {
	bus := channel.NewBus()
	c := newClient(t, Deps{Store: store.NewMemory(), Bus: bus})

	base := time.Now().UnixMilli()
	older := envelope.Envelope{
		Meta:    envelope.Meta{ID: "msg-1", Timestamp: base + 1, Origin: "tab-1"},
		Payload: envelope.TasksSnapshot{Items: []model.Task{{ID: "t", Title: "t1 state", Progress: 10}}},
	}
	newer := envelope.Envelope{
		Meta:    envelope.Meta{ID: "msg-2", Timestamp: base + 2, Origin: "tab-2"},
		Payload: envelope.TasksSnapshot{Items: []model.Task{{ID: "t", Title: "t2 state", Progress: 20}}},
	}

	publish(t, bus, newer)
	publish(t, bus, older)

	got := c.Cache().Tasks.Get()
	if len(got) != 1 || got[0].Title != "t2 state" {
		t.Fatalf("receiver should end in the newest state, got %+v", got)
	}
	if c.Cache().Stamp(model.CollectionTasks) != base+2 {
		t.Fatalf("stamp = %d", c.Cache().Stamp(model.CollectionTasks))
	}
}

func TestHeartbeatOnlyRecordsLiveness(t *testing.T) {
	bus := channel.NewBus()
	c := newClient(t, Deps{Store: store.NewMemory(), Bus: bus})

	publish(t, bus, envelope.Envelope{
		Meta:    envelope.Meta{ID: "hb", Timestamp: time.Now().UnixMilli(), Origin: "tab-9"},
		Payload: envelope.Heartbeat{},
	})

	if _, ok := c.Channel().Liveness()["tab-9"]; !ok {
		t.Fatal("heartbeat should be recorded")
	}
	if c.Cache().Stamp(model.CollectionTasks) != 0 {
		t.Fatal("heartbeat must not touch the cache")
	}
}

func TestDeniedMutationRaisesNotice(t *testing.T) {
	mem := store.NewMemory()
	task, _ := mem.InsertTask(context.Background(), model.TaskInput{Title: "X", AssignedTo: "Ali"})
	c := newClient(t, Deps{Store: mem})
	c.Cache().Tasks.Replace([]model.Task{task})

	status := model.StatusCompleted
	_, err := c.Mutations().UpdateTask(context.Background(), bea, task.ID, model.TaskPatch{Status: &status})
	if !errors.Is(err, coordinator.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	select {
	case n := <-c.Notices():
		if n.Op != coordinator.OpUpdateTask || n.Message == "" {
			t.Fatalf("unexpected notice %+v", n)
		}
	default:
		t.Fatal("expected a notice")
	}
}

func TestStartLoadsCacheAndCloseIsIdempotent(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	if _, err := mem.InsertTask(ctx, model.TaskInput{Title: "X", AssignedTo: "Ali"}); err != nil {
		t.Fatal(err)
	}
	c, err := New(ctx, Deps{Store: mem}, testConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, func() bool { return len(c.Cache().Tasks.Get()) == 1 })

	progress := 40
	if _, err := c.Mutations().UpdateTask(ctx, ali, c.Cache().Tasks.Get()[0].ID, model.TaskPatch{Progress: &progress}); err != nil {
		t.Fatalf("member update: %v", err)
	}

	c.Close()
	c.Close()
}

func TestRedisCarriesSnapshotsAcrossDevices(t *testing.T) {
	mr := miniredis.RunT(t)
	newRedis := func() *redis.Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return rdb
	}
	ctx := context.Background()

	a := newClient(t, Deps{Store: store.NewMemory(), Redis: newRedis()})
	// b's clock sits in the past so its own refetches never outrank a's envelopes.
	b := newClient(t, Deps{
		Store: store.NewMemory(),
		Redis: newRedis(),
		Now:   func() time.Time { return time.UnixMilli(1_000) },
	})
	if err := a.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := a.Mutations().CreateTask(ctx, admin, model.TaskInput{Title: "from a"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	waitFor(t, func() bool {
		got := b.Cache().Tasks.Get()
		return len(got) == 1 && got[0].Title == "from a"
	})

	env, ok, err := b.Channel().Latest(ctx, envelope.KindTasks)
	if err != nil || !ok || env.Origin != a.Channel().Origin() {
		t.Fatalf("snapshot should be persisted for catch-up: ok=%v err=%v", ok, err)
	}
}
