package coordinator

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"tasksync/internal/cache"
	"tasksync/internal/envelope"
	"tasksync/internal/model"
	"tasksync/internal/store"
)

var (
	admin = model.Identity{ID: "a1", Name: "Root", Role: model.RoleAdmin}
	ali   = model.Identity{ID: "m1", Name: "Ali", Role: model.RoleMember}
	bea   = model.Identity{ID: "m2", Name: "Bea", Role: model.RoleMember}
)

var errRemote = errors.New("remote write rejected")

// flakyStore wraps the in-memory store with failure injection and a hook
// that runs while a remote write is in flight.
type flakyStore struct {
	*store.Memory

	mu          sync.Mutex
	fail        map[string]error
	inFlight    func(op string)
	writes      int
	notifyCalls int
}

func newFlakyStore() *flakyStore {
	return &flakyStore{Memory: store.NewMemory(), fail: make(map[string]error)}
}

func (s *flakyStore) failOn(op string, err error) {
	s.mu.Lock()
	s.fail[op] = err
	s.mu.Unlock()
}

func (s *flakyStore) enter(op string) error {
	s.mu.Lock()
	s.writes++
	hook := s.inFlight
	err := s.fail[op]
	s.mu.Unlock()
	if hook != nil {
		hook(op)
	}
	return err
}

func (s *flakyStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *flakyStore) InsertTask(ctx context.Context, in model.TaskInput) (model.Task, error) {
	if err := s.enter("insert_task"); err != nil {
		return model.Task{}, err
	}
	return s.Memory.InsertTask(ctx, in)
}

func (s *flakyStore) UpdateTask(ctx context.Context, id string, p model.TaskPatch) (model.Task, error) {
	if err := s.enter("update_task"); err != nil {
		return model.Task{}, err
	}
	return s.Memory.UpdateTask(ctx, id, p)
}

func (s *flakyStore) DeleteTask(ctx context.Context, id string) error {
	if err := s.enter("delete_task"); err != nil {
		return err
	}
	return s.Memory.DeleteTask(ctx, id)
}

func (s *flakyStore) InsertNotification(ctx context.Context, in model.NotificationInput) (model.Notification, error) {
	s.mu.Lock()
	s.notifyCalls++
	err := s.fail["insert_notification"]
	s.mu.Unlock()
	if err != nil {
		return model.Notification{}, err
	}
	return s.Memory.InsertNotification(ctx, in)
}

func (s *flakyStore) MarkAllNotificationsRead(ctx context.Context) error {
	if err := s.enter("mark_all"); err != nil {
		return err
	}
	return s.Memory.MarkAllNotificationsRead(ctx)
}

func (s *flakyStore) ClearNotifications(ctx context.Context) error {
	if err := s.enter("clear"); err != nil {
		return err
	}
	return s.Memory.ClearNotifications(ctx)
}

func (s *flakyStore) InsertProfile(ctx context.Context, in model.ProfileInput) (model.Profile, error) {
	if err := s.enter("insert_profile"); err != nil {
		return model.Profile{}, err
	}
	return s.Memory.InsertProfile(ctx, in)
}

type recorder struct {
	mu       sync.Mutex
	kinds    []envelope.Kind
	triggers []model.Collection
	notices  []Notice
}

func (r *recorder) Broadcast(_ context.Context, p envelope.Payload) (envelope.Envelope, error) {
	r.mu.Lock()
	r.kinds = append(r.kinds, p.Kind())
	r.mu.Unlock()
	return envelope.Envelope{Payload: p}, nil
}

func (r *recorder) Trigger(c model.Collection) {
	r.mu.Lock()
	r.triggers = append(r.triggers, c)
	r.mu.Unlock()
}

func (r *recorder) notice(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

func (r *recorder) noticeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

type fixture struct {
	store *flakyStore
	cache *cache.Cache
	rec   *recorder
	coord *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := newFlakyStore()
	c := cache.New(nil)
	rec := &recorder{}
	coord := New(Options{
		Store:       fs,
		Cache:       c,
		Broadcaster: rec,
		Refresher:   rec,
		Notify:      rec.notice,
	})
	t.Cleanup(coord.Wait)
	return &fixture{store: fs, cache: c, rec: rec, coord: coord}
}

// seedTask stores a task and loads the store's task list into the cache.
func (f *fixture) seedTask(t *testing.T, in model.TaskInput) model.Task {
	t.Helper()
	task, err := f.store.Memory.InsertTask(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	tasks, _ := f.store.ListTasks(context.Background())
	f.cache.Tasks.Replace(tasks)
	return task
}

func ptr[T any](v T) *T { return &v }

func TestCreateTaskAsAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.coord.CreateTask(ctx, admin, model.TaskInput{
		Title:      "X",
		AssignedTo: "Ali",
		Status:     model.StatusTodo,
		Progress:   0,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tasks := f.cache.Tasks.Get()
	if len(tasks) != 1 {
		t.Fatalf("expected one cached task, got %d", len(tasks))
	}
	if tasks[0].ID != created.ID || strings.HasPrefix(tasks[0].ID, TempIDPrefix) {
		t.Fatalf("cache should hold the generated id, got %q", tasks[0].ID)
	}

	f.coord.Wait()
	notes, _ := f.store.ListNotifications(ctx)
	if len(notes) != 1 || notes[0].Type != model.NotificationTaskCreated {
		t.Fatalf("expected one task_created notification, got %+v", notes)
	}
	if len(f.cache.Notifications.Get()) != 1 {
		t.Fatal("notification should reach the cache")
	}

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	if len(f.rec.triggers) == 0 || f.rec.triggers[0] != model.CollectionTasks {
		t.Fatalf("expected a tasks refetch trigger, got %v", f.rec.triggers)
	}
	if len(f.rec.kinds) == 0 || f.rec.kinds[0] != envelope.KindTasks {
		t.Fatalf("expected a tasks snapshot broadcast, got %v", f.rec.kinds)
	}
}

func TestCreateTaskShowsTempRowWhilePending(t *testing.T) {
	f := newFixture(t)
	var seen []model.Task
	f.store.inFlight = func(string) { seen = f.cache.Tasks.Get() }

	if _, err := f.coord.CreateTask(context.Background(), admin, model.TaskInput{Title: "X"}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || !strings.HasPrefix(seen[0].ID, TempIDPrefix) {
		t.Fatalf("expected optimistic temp task during dispatch, got %+v", seen)
	}
}

func TestMemberUpdateIsOptimistic(t *testing.T) {
	f := newFixture(t)
	task := f.seedTask(t, model.TaskInput{Title: "X", AssignedTo: "Ali", Progress: 10})

	var during model.Task
	f.store.inFlight = func(string) { during, _ = f.cache.Tasks.Find(task.ID) }

	updated, err := f.coord.UpdateTask(context.Background(), ali, task.ID, model.TaskPatch{
		Progress:    ptr(50),
		MemberNotes: ptr("halfway"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if during.Progress != 50 || during.MemberNotes != "halfway" {
		t.Fatalf("cache should reflect the change before the ack, got %+v", during)
	}
	if updated.Progress != 50 {
		t.Fatalf("unexpected stored task %+v", updated)
	}
}

func TestFailedUpdateRollsBack(t *testing.T) {
	f := newFixture(t)
	task := f.seedTask(t, model.TaskInput{Title: "X", AssignedTo: "Ali", Progress: 10})
	before := f.cache.Tasks.Get()
	f.store.failOn("update_task", errRemote)

	_, err := f.coord.UpdateTask(context.Background(), ali, task.ID, model.TaskPatch{Progress: ptr(50)})

	var mErr *MutationError
	if !errors.As(err, &mErr) || !errors.Is(err, errRemote) {
		t.Fatalf("expected MutationError wrapping the remote error, got %v", err)
	}
	if got := f.cache.Tasks.Get(); !reflect.DeepEqual(got, before) {
		t.Fatalf("cache not restored:\n got %+v\nwant %+v", got, before)
	}

	f.coord.Wait()
	if f.store.notifyCalls != 0 {
		t.Fatal("failed mutation must not create a notification")
	}
	if f.rec.noticeCount() != 1 {
		t.Fatal("expected a failure notice")
	}
}

func TestRollbackRestoresPriorSnapshot(t *testing.T) {
	tests := []struct {
		name string
		op   string
		run  func(f *fixture, task model.Task) error
	}{
		{"create", "insert_task", func(f *fixture, _ model.Task) error {
			_, err := f.coord.CreateTask(context.Background(), admin, model.TaskInput{Title: "new"})
			return err
		}},
		{"delete", "delete_task", func(f *fixture, task model.Task) error {
			return f.coord.DeleteTask(context.Background(), admin, task.ID)
		}},
		{"admin update", "update_task", func(f *fixture, task model.Task) error {
			_, err := f.coord.UpdateTask(context.Background(), admin, task.ID, model.TaskPatch{
				Title:    ptr("renamed"),
				Priority: ptr(model.PriorityHigh),
			})
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			task := f.seedTask(t, model.TaskInput{Title: "X"})
			f.seedTask(t, model.TaskInput{Title: "Y"})
			before := f.cache.Tasks.Get()
			f.store.failOn(tt.op, errRemote)

			if err := tt.run(f, task); err == nil {
				t.Fatal("expected failure")
			}
			if got := f.cache.Tasks.Get(); !reflect.DeepEqual(got, before) {
				t.Fatalf("cache not restored:\n got %+v\nwant %+v", got, before)
			}
		})
	}
}

func TestMemberCannotTouchOthersTasks(t *testing.T) {
	patches := map[string]model.TaskPatch{
		"status":     {Status: ptr(model.StatusCompleted)},
		"priority":   {Priority: ptr(model.PriorityHigh)},
		"assignment": {AssignedTo: ptr("Bea")},
		"progress":   {Progress: ptr(90)},
	}

	for name, patch := range patches {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			task := f.seedTask(t, model.TaskInput{Title: "X", AssignedTo: "Ali"})
			before := f.cache.Tasks.Get()
			stamp := f.cache.Tasks.Stamp()

			_, err := f.coord.UpdateTask(context.Background(), bea, task.ID, patch)
			if !errors.Is(err, ErrForbidden) {
				t.Fatalf("expected ErrForbidden, got %v", err)
			}
			if got := f.cache.Tasks.Get(); !reflect.DeepEqual(got, before) || f.cache.Tasks.Stamp() != stamp {
				t.Fatal("denied mutation changed the cache")
			}
			if f.store.writeCount() != 0 {
				t.Fatal("denied mutation reached the store")
			}
			if f.rec.noticeCount() != 1 {
				t.Fatal("denial should be surfaced")
			}
		})
	}
}

func TestMemberRestrictedFieldsOnOwnTask(t *testing.T) {
	f := newFixture(t)
	task := f.seedTask(t, model.TaskInput{Title: "X", AssignedTo: "Ali"})

	if _, err := f.coord.UpdateTask(context.Background(), ali, task.ID, model.TaskPatch{Priority: ptr(model.PriorityHigh)}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("member must not change priority, got %v", err)
	}
	if _, err := f.coord.UpdateTask(context.Background(), ali, task.ID, model.TaskPatch{Status: ptr(model.StatusInReview)}); err != nil {
		t.Fatalf("member may change status of own task: %v", err)
	}
}

func TestMemberCannotCreateOrDelete(t *testing.T) {
	f := newFixture(t)
	task := f.seedTask(t, model.TaskInput{Title: "X", AssignedTo: "Ali"})

	if _, err := f.coord.CreateTask(context.Background(), ali, model.TaskInput{Title: "Y"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden create, got %v", err)
	}
	if err := f.coord.DeleteTask(context.Background(), ali, task.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
	if len(f.cache.Tasks.Get()) != 1 {
		t.Fatal("cache changed after denied operations")
	}
}

func TestInvalidPayloadRejectedBeforeApply(t *testing.T) {
	f := newFixture(t)
	task := f.seedTask(t, model.TaskInput{Title: "X", AssignedTo: "Ali"})
	stamp := f.cache.Tasks.Stamp()

	_, err := f.coord.UpdateTask(context.Background(), ali, task.ID, model.TaskPatch{Progress: ptr(150)})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := f.coord.CreateTask(context.Background(), admin, model.TaskInput{Title: " "}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for blank title, got %v", err)
	}
	if f.cache.Tasks.Stamp() != stamp || f.store.writeCount() != 0 {
		t.Fatal("invalid mutation must not touch cache or store")
	}
}

func TestDeleteEmitsNotification(t *testing.T) {
	f := newFixture(t)
	task := f.seedTask(t, model.TaskInput{Title: "X"})

	if err := f.coord.DeleteTask(context.Background(), admin, task.ID); err != nil {
		t.Fatal(err)
	}
	f.coord.Wait()

	notes, _ := f.store.ListNotifications(context.Background())
	if len(notes) != 1 || notes[0].Type != model.NotificationTaskDeleted || !strings.Contains(notes[0].Message, "X") {
		t.Fatalf("expected task_deleted notification, got %+v", notes)
	}
}

func TestNotificationFailureKeepsTask(t *testing.T) {
	f := newFixture(t)
	f.store.failOn("insert_notification", errRemote)

	created, err := f.coord.CreateTask(context.Background(), admin, model.TaskInput{Title: "X"})
	if err != nil {
		t.Fatalf("create should succeed: %v", err)
	}
	f.coord.Wait()

	if _, ok := f.cache.Tasks.Find(created.ID); !ok {
		t.Fatal("task must stay after notification failure")
	}
	if f.rec.noticeCount() != 0 {
		t.Fatal("notification failure is not user-facing")
	}
}

func TestMarkAllReadBlocksOlderSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, title := range []string{"a", "b"} {
		if _, err := f.store.Memory.InsertNotification(ctx, model.NotificationInput{Title: title, Type: model.NotificationInfo}); err != nil {
			t.Fatal(err)
		}
	}
	unread, _ := f.store.ListNotifications(ctx)
	f.cache.Notifications.ApplyIfNewer(unread, 1)
	staleStamp := f.cache.Notifications.Stamp()

	if err := f.coord.MarkAllNotificationsRead(ctx, ali); err != nil {
		t.Fatalf("mark all: %v", err)
	}
	if f.cache.UnreadCount() != 0 {
		t.Fatalf("expected zero unread, got %d", f.cache.UnreadCount())
	}

	// A snapshot taken before the bulk action arrives late.
	if f.cache.Notifications.ApplyIfNewer(unread, staleStamp+1) {
		t.Fatal("late snapshot must not resurrect unread notifications")
	}
	if f.cache.UnreadCount() != 0 {
		t.Fatal("unread items came back")
	}
}

func TestMarkAllReadRollback(t *testing.T) {
	f := newFixture(t)
	f.cache.Notifications.Replace([]model.Notification{{ID: "1"}, {ID: "2", Read: true}})
	before := f.cache.Notifications.Get()
	f.store.failOn("mark_all", errRemote)

	if err := f.coord.MarkAllNotificationsRead(context.Background(), ali); err == nil {
		t.Fatal("expected failure")
	}
	if got := f.cache.Notifications.Get(); !reflect.DeepEqual(got, before) {
		t.Fatalf("rollback mismatch %+v", got)
	}
}

func TestClearNotificationsRollback(t *testing.T) {
	f := newFixture(t)
	f.cache.Notifications.Replace([]model.Notification{{ID: "1"}, {ID: "2"}})
	before := f.cache.Notifications.Get()
	f.store.failOn("clear", errRemote)

	if err := f.coord.ClearNotifications(context.Background(), admin); err == nil {
		t.Fatal("expected failure")
	}
	if got := f.cache.Notifications.Get(); !reflect.DeepEqual(got, before) {
		t.Fatalf("rollback mismatch %+v", got)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	f := newFixture(t)
	n, _ := f.store.Memory.InsertNotification(context.Background(), model.NotificationInput{Title: "a", Type: model.NotificationInfo})
	f.cache.Notifications.Replace([]model.Notification{n})

	if err := f.coord.MarkNotificationRead(context.Background(), ali, n.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := f.cache.Notifications.Find(n.ID)
	if !got.Read {
		t.Fatal("notification should be read")
	}
	if err := f.coord.MarkNotificationRead(context.Background(), ali, n.ID); err != nil {
		t.Fatalf("second mark read should be a no-op: %v", err)
	}
}

func TestCreateMemberAndRename(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.coord.CreateMember(ctx, ali, model.ProfileInput{Name: "Cy", SecretNumber: "1"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("members cannot create members, got %v", err)
	}

	member, err := f.coord.CreateMember(ctx, admin, model.ProfileInput{Name: "Cy", SecretNumber: "777"})
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	if member.Role != model.RoleMember || strings.HasPrefix(member.ID, TempIDPrefix) {
		t.Fatalf("unexpected member %+v", member)
	}

	cy := member.Identity()
	for _, patch := range []model.ProfilePatch{{Name: ptr("Cyrus")}, {Active: ptr(false)}} {
		if _, err := f.coord.UpdateProfile(ctx, cy, member.ID, patch); !errors.Is(err, ErrForbidden) {
			t.Fatalf("members cannot change their own profile, got %v", err)
		}
	}

	renamed, err := f.coord.UpdateProfile(ctx, admin, member.ID, model.ProfilePatch{Name: ptr("Cyrus")})
	if err != nil || renamed.Name != "Cyrus" {
		t.Fatalf("admin rename: %+v %v", renamed, err)
	}
}

func TestRenameCannotTakeOverAnotherMembersTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	aliProfile, err := f.coord.CreateMember(ctx, admin, model.ProfileInput{Name: "Ali", SecretNumber: "1"})
	if err != nil {
		t.Fatal(err)
	}
	beaProfile, err := f.coord.CreateMember(ctx, admin, model.ProfileInput{Name: "Bea", SecretNumber: "2"})
	if err != nil {
		t.Fatal(err)
	}
	task := f.seedTask(t, model.TaskInput{Title: "X", AssignedTo: aliProfile.Name})

	if _, err := f.coord.CreateMember(ctx, admin, model.ProfileInput{Name: " ali ", SecretNumber: "3"}); !errors.Is(err, store.ErrNameTaken) {
		t.Fatalf("duplicate name on create should be rejected, got %v", err)
	}

	tests := []struct {
		name  string
		actor model.Identity
		want  error
	}{
		{"member renames self onto another member", beaProfile.Identity(), ErrForbidden},
		{"admin renames onto another member", admin, store.ErrNameTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.coord.UpdateProfile(ctx, tt.actor, beaProfile.ID, model.ProfilePatch{Name: ptr("ALI")})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if got, _ := f.cache.Profiles.Find(beaProfile.ID); got.Name != "Bea" {
				t.Fatalf("rejected rename must not touch the cache, name = %q", got.Name)
			}
		})
	}

	var mErr *MutationError
	_, err = f.coord.UpdateProfile(ctx, admin, beaProfile.ID, model.ProfilePatch{Name: ptr("Ali")})
	if !errors.As(err, &mErr) || mErr.Reason != "conflict" {
		t.Fatalf("expected conflict reason, got %v", err)
	}

	status := model.StatusCompleted
	if _, err := f.coord.UpdateTask(ctx, beaProfile.Identity(), task.ID, model.TaskPatch{Status: &status}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("bea must not gain rights over ali's task, got %v", err)
	}
}

func TestCreateMemberConflictRollsBack(t *testing.T) {
	f := newFixture(t)
	f.store.failOn("insert_profile", store.ErrConflict)

	_, err := f.coord.CreateMember(context.Background(), admin, model.ProfileInput{Name: "Cy", SecretNumber: "1"})
	var mErr *MutationError
	if !errors.As(err, &mErr) || mErr.Reason != "conflict" {
		t.Fatalf("expected conflict MutationError, got %v", err)
	}
	if len(f.cache.Profiles.Get()) != 0 {
		t.Fatal("optimistic profile should be rolled back")
	}
}
