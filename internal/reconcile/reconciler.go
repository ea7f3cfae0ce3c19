// Package reconcile keeps the local cache converging on the record store by
// refetching collections on a timer and on demand.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"tasksync/internal/cache"
	"tasksync/internal/envelope"
	"tasksync/internal/model"
	"tasksync/internal/store"
	"tasksync/pkg/circuitbreaker"
	"tasksync/pkg/logger"
	"tasksync/pkg/metrics"
)

type State string

const (
	StateIdle     State = "idle"
	StateSyncing  State = "syncing"
	StateDegraded State = "degraded"
)

// Fallback serves the newest snapshot seen on the sync channel when the
// record store cannot be read.
type Fallback interface {
	Latest(ctx context.Context, kind envelope.Kind) (envelope.Envelope, bool, error)
}

// Reader is the read side of the record store.
type Reader interface {
	ListTasks(ctx context.Context) ([]model.Task, error)
	ListNotifications(ctx context.Context) ([]model.Notification, error)
	ListProfiles(ctx context.Context) ([]model.Profile, error)
}

var _ Reader = (store.Store)(nil)

type Options struct {
	Store    Reader
	Cache    *cache.Cache
	Fallback Fallback
	Breaker  *circuitbreaker.CircuitBreaker
	Interval time.Duration
	Logger   *zap.Logger
	Now      func() time.Time
}

type Reconciler struct {
	store    Reader
	cache    *cache.Cache
	fallback Fallback
	breaker  *circuitbreaker.CircuitBreaker
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	states  map[model.Collection]State
	pending map[model.Collection]bool
	wake    chan struct{}
}

func New(opts Options) *Reconciler {
	r := &Reconciler{
		store:    opts.Store,
		cache:    opts.Cache,
		fallback: opts.Fallback,
		breaker:  opts.Breaker,
		interval: opts.Interval,
		logger:   logger.OrNop(opts.Logger),
		now:      opts.Now,
		states:   make(map[model.Collection]State, len(model.Collections)),
		pending:  make(map[model.Collection]bool, len(model.Collections)),
		wake:     make(chan struct{}, 1),
	}
	if r.breaker == nil {
		r.breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
	}
	if r.interval <= 0 {
		r.interval = 10 * time.Second
	}
	if r.now == nil {
		r.now = time.Now
	}
	for _, c := range model.Collections {
		r.states[c] = StateIdle
	}
	return r
}

// Run syncs every collection once, then on every tick and wake-up until ctx
// is done.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("Reconciler started", zap.Duration("interval", r.interval))
	_ = r.SyncAll(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return
		case <-ticker.C:
			_ = r.SyncAll(ctx)
		case <-r.wake:
			for _, c := range r.takePending() {
				_ = r.Sync(ctx, c)
			}
		}
	}
}

// Trigger schedules a refetch of collection c. Repeated triggers before the
// loop wakes collapse into one fetch.
func (r *Reconciler) Trigger(c model.Collection) {
	r.mu.Lock()
	r.pending[c] = true
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Focus refetches everything, for a context coming back to the foreground.
func (r *Reconciler) Focus() {
	for _, c := range model.Collections {
		r.Trigger(c)
	}
}

// Online refetches everything after connectivity returns.
func (r *Reconciler) Online() {
	r.Focus()
}

func (r *Reconciler) takePending() []model.Collection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Collection
	for _, c := range model.Collections {
		if r.pending[c] {
			out = append(out, c)
			delete(r.pending, c)
		}
	}
	return out
}

// SyncAll refetches every collection and joins the failures.
func (r *Reconciler) SyncAll(ctx context.Context) error {
	var errs []error
	for _, c := range model.Collections {
		if err := r.Sync(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Sync refetches collection c. The stamp is taken before the request so a
// local change made while the fetch is in flight wins over the response. On
// failure the cached data stays as is and the newest channel snapshot is
// applied if it is newer.
func (r *Reconciler) Sync(ctx context.Context, c model.Collection) error {
	start := time.Now()
	r.setState(c, StateSyncing)

	stamp := r.now().UnixMilli()
	var apply func(ts int64) bool
	err := r.breaker.Execute(func() error {
		var err error
		apply, err = r.fetch(ctx, c)
		return err
	})

	if err != nil {
		metrics.RecordReconcile(string(c), "failed", time.Since(start))
		r.logger.Warn("Reconcile failed, keeping cached data",
			zap.String("collection", string(c)),
			zap.String("breaker", r.breaker.GetState().String()),
			zap.Error(err),
		)
		r.applyFallback(ctx, c)
		r.setState(c, StateDegraded)
		return fmt.Errorf("sync %s: %w", c, err)
	}

	applied := apply(stamp)
	metrics.RecordReconcile(string(c), "success", time.Since(start))
	r.logger.Debug("Reconciled collection",
		zap.String("collection", string(c)),
		zap.Bool("applied", applied),
		zap.Int64("stamp", stamp),
	)
	r.setState(c, StateIdle)
	return nil
}

func (r *Reconciler) fetch(ctx context.Context, c model.Collection) (func(int64) bool, error) {
	switch c {
	case model.CollectionTasks:
		items, err := r.store.ListTasks(ctx)
		if err != nil {
			return nil, err
		}
		return func(ts int64) bool { return r.cache.Tasks.ApplyIfNewer(items, ts) }, nil
	case model.CollectionNotifications:
		items, err := r.store.ListNotifications(ctx)
		if err != nil {
			return nil, err
		}
		return func(ts int64) bool { return r.cache.Notifications.ApplyIfNewer(items, ts) }, nil
	case model.CollectionProfiles:
		items, err := r.store.ListProfiles(ctx)
		if err != nil {
			return nil, err
		}
		return func(ts int64) bool { return r.cache.Profiles.ApplyIfNewer(items, ts) }, nil
	}
	return nil, fmt.Errorf("unknown collection %q", c)
}

func (r *Reconciler) applyFallback(ctx context.Context, c model.Collection) {
	if r.fallback == nil {
		return
	}
	kind, ok := envelope.KindFor(c)
	if !ok {
		return
	}
	env, ok, err := r.fallback.Latest(ctx, kind)
	if err != nil {
		r.logger.Debug("Fallback snapshot unavailable", zap.String("collection", string(c)), zap.Error(err))
		return
	}
	if ok && Apply(r.cache, env) {
		r.logger.Info("Applied fallback snapshot from sync channel",
			zap.String("collection", string(c)),
			zap.Int64("timestamp", env.Timestamp),
		)
	}
}

func (r *Reconciler) setState(c model.Collection, s State) {
	r.mu.Lock()
	prev := r.states[c]
	r.states[c] = s
	r.mu.Unlock()

	if prev == StateDegraded && s == StateIdle {
		r.logger.Info("Collection recovered", zap.String("collection", string(c)))
	}
}

// State returns the sync state of collection c.
func (r *Reconciler) State(c model.Collection) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[c]
}

// Apply hands a snapshot envelope to the matching cache collection through
// ApplyIfNewer. Heartbeats and unknown payloads are ignored.
func Apply(ch *cache.Cache, env envelope.Envelope) bool {
	switch p := env.Payload.(type) {
	case envelope.TasksSnapshot:
		return ch.Tasks.ApplyIfNewer(p.Items, env.Timestamp)
	case envelope.NotificationsSnapshot:
		return ch.Notifications.ApplyIfNewer(p.Items, env.Timestamp)
	case envelope.ProfilesSnapshot:
		return ch.Profiles.ApplyIfNewer(p.Items, env.Timestamp)
	}
	return false
}
