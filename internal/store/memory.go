package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tasksync/internal/model"
)

// Memory is an in-process Store. It backs tests and the offline mode of
// taskctl; ids are uuids and lists are newest first.
type Memory struct {
	mu            sync.Mutex
	now           func() time.Time
	tasks         map[string]model.Task
	notifications map[string]model.Notification
	profiles      map[string]model.Profile
	hashes        map[string]string
}

func NewMemory() *Memory {
	return &Memory{
		now:           time.Now,
		tasks:         make(map[string]model.Task),
		notifications: make(map[string]model.Notification),
		profiles:      make(map[string]model.Profile),
		hashes:        make(map[string]string),
	}
}

func (m *Memory) ListTasks(ctx context.Context) ([]model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) InsertTask(ctx context.Context, in model.TaskInput) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := in.WithDefaults().Task(uuid.NewString(), m.now())
	if err := t.Validate(); err != nil {
		return model.Task{}, err
	}
	m.tasks[t.ID] = t
	return t, nil
}

func (m *Memory) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	t = patch.Apply(t)
	if err := t.Validate(); err != nil {
		return model.Task{}, err
	}
	t.UpdatedAt = m.now()
	m.tasks[id] = t
	return t, nil
}

func (m *Memory) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Notification, 0, len(m.notifications))
	for _, n := range m.notifications {
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) InsertNotification(ctx context.Context, in model.NotificationInput) (model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := model.Notification{
		ID:        uuid.NewString(),
		Title:     in.Title,
		Message:   in.Message,
		Type:      in.Type,
		CreatedAt: m.now(),
	}
	m.notifications[n.ID] = n
	return n, nil
}

func (m *Memory) MarkNotificationRead(ctx context.Context, id string) (model.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return model.Notification{}, ErrNotFound
	}
	n.Read = true
	m.notifications[id] = n
	return n, nil
}

func (m *Memory) MarkAllNotificationsRead(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range m.notifications {
		n.Read = true
		m.notifications[id] = n
	}
	return nil
}

func (m *Memory) DeleteNotification(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.notifications[id]; !ok {
		return ErrNotFound
	}
	delete(m.notifications, id)
	return nil
}

func (m *Memory) ClearNotifications(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = make(map[string]model.Notification)
	return nil
}

func (m *Memory) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) InsertProfile(ctx context.Context, in model.ProfileInput) (model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := in.Validate(); err != nil {
		return model.Profile{}, err
	}
	if in.Role == model.RoleMember && m.secretTaken(in.SecretNumber, "") {
		return model.Profile{}, ErrConflict
	}
	if in.Role == model.RoleAdmin && m.adminByEmail(in.Email) != "" {
		return model.Profile{}, ErrConflict
	}
	if m.nameTaken(in.Name, "") {
		return model.Profile{}, ErrNameTaken
	}
	p := in.Profile(uuid.NewString(), m.now())
	m.profiles[p.ID] = p
	if in.PasswordHash != "" {
		m.hashes[p.ID] = in.PasswordHash
	}
	return p, nil
}

func (m *Memory) UpdateProfile(ctx context.Context, id string, patch model.ProfilePatch) (model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return model.Profile{}, ErrNotFound
	}
	next := patch.Apply(p)
	if next.Role == model.RoleMember && next.Active && m.secretTaken(next.SecretNumber, id) {
		return model.Profile{}, ErrConflict
	}
	if patch.Name != nil && m.nameTaken(next.Name, id) {
		return model.Profile{}, ErrNameTaken
	}
	next.UpdatedAt = m.now()
	m.profiles[id] = next
	return next, nil
}

func (m *Memory) FindProfile(ctx context.Context, id string) (model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return model.Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) FindActiveMemberBySecret(ctx context.Context, secret string) (model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return model.Profile{}, ErrNotFound
	}
	for _, p := range m.profiles {
		if p.Role == model.RoleMember && p.SecretNumber == secret && p.Authenticable() {
			return p, nil
		}
	}
	return model.Profile{}, ErrNotFound
}

// FindAdminByEmail returns the admin profile registered under email and its
// password hash.
func (m *Memory) FindAdminByEmail(ctx context.Context, email string) (model.Profile, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.adminByEmail(email)
	if id == "" {
		return model.Profile{}, "", ErrNotFound
	}
	return m.profiles[id], m.hashes[id], nil
}

// adminByEmail must be called with mu held.
func (m *Memory) adminByEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}
	for id, p := range m.profiles {
		if p.Role == model.RoleAdmin && strings.EqualFold(p.Email, email) {
			return id
		}
	}
	return ""
}

// secretTaken must be called with mu held.
func (m *Memory) secretTaken(secret, exceptID string) bool {
	for id, p := range m.profiles {
		if id != exceptID && p.Active && p.Role == model.RoleMember && p.SecretNumber == secret {
			return true
		}
	}
	return false
}

// nameTaken must be called with mu held.
func (m *Memory) nameTaken(name, exceptID string) bool {
	name = strings.TrimSpace(name)
	for id, p := range m.profiles {
		if id != exceptID && strings.EqualFold(strings.TrimSpace(p.Name), name) {
			return true
		}
	}
	return false
}
