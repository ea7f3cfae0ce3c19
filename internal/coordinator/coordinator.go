// Package coordinator turns user intents into optimistic cache changes
// backed by record store writes, rolling back on failure.
package coordinator

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
	"tasksync/pkg/logger"
	"tasksync/pkg/metrics"
	"tasksync/pkg/trace"
	"tasksync/pkg/util"
)

var (
	ErrForbidden = errors.New("forbidden")
	ErrInvalid   = errors.New("invalid mutation")
)

// Mutation results recorded in metrics.
const (
	resultSuccess    = "success"
	resultRolledBack = "rolled_back"
	resultForbidden  = "forbidden"
	resultInvalid    = "invalid"
)

// MutationError is returned for every rejected or failed mutation.
type MutationError struct {
	Op     string
	Reason string
	Err    error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Reason, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// Notice is the user-facing signal for a rejected or rolled back mutation.
type Notice struct {
	Op      string
	Reason  string
	Message string
	TraceID string
}

// Broadcaster publishes collection snapshots to other contexts.
type Broadcaster interface {
	Broadcast(ctx context.Context, p envelope.Payload) (envelope.Envelope, error)
}

// Refresher schedules a background refetch of a collection.
type Refresher interface {
	Trigger(c model.Collection)
}

type Options struct {
	Store       store.Store
	Cache       *cache.Cache
	Broadcaster Broadcaster
	Refresher   Refresher
	// Notify receives failure notices. It must not block.
	Notify func(Notice)
	Logger *zap.Logger
	Now    func() time.Time
	// NotificationTimeout bounds the fire-and-forget notification insert.
	NotificationTimeout time.Duration
}

type Coordinator struct {
	store       store.Store
	cache       *cache.Cache
	broadcaster Broadcaster
	refresher   Refresher
	notify      func(Notice)
	logger      *zap.Logger
	now         func() time.Time
	notifyTTL   time.Duration

	wg sync.WaitGroup
}

func New(opts Options) *Coordinator {
	c := &Coordinator{
		store:       opts.Store,
		cache:       opts.Cache,
		broadcaster: opts.Broadcaster,
		refresher:   opts.Refresher,
		notify:      opts.Notify,
		logger:      logger.OrNop(opts.Logger),
		now:         opts.Now,
		notifyTTL:   opts.NotificationTimeout,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.notify == nil {
		c.notify = func(Notice) {}
	}
	if c.notifyTTL <= 0 {
		c.notifyTTL = 10 * time.Second
	}
	return c
}

// Wait blocks until queued notification inserts have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// reject reports a mutation refused before any cache change.
func (c *Coordinator) reject(ctx context.Context, op string, sentinel, cause error) error {
	result := resultInvalid
	if errors.Is(sentinel, ErrForbidden) {
		result = resultForbidden
	}
	metrics.RecordMutation(op, result)

	err := &MutationError{Op: op, Reason: util.ClassifyError(cause), Err: fmt.Errorf("%w: %w", sentinel, cause)}
	if err.Reason == util.ReasonUnknown {
		err.Reason = result
	}
	logger.WithTrace(ctx, c.logger).Info("Mutation rejected",
		zap.String("operation", op),
		zap.String("reason", err.Reason),
		zap.Error(cause),
	)
	c.emit(ctx, op, err.Reason)
	return err
}

// dispatch performs the remote write for an already applied optimistic
// change. On failure rollback runs and a notice is emitted; there is no retry.
func (c *Coordinator) dispatch(ctx context.Context, op string, coll model.Collection, rollback func(), remote func(context.Context) error) error {
	start := time.Now()
	err := remote(ctx)
	metrics.RecordMutationLatency(op, time.Since(start))

	if err != nil {
		rollback()
		metrics.RecordMutation(op, resultRolledBack)
		reason := util.ClassifyError(err)
		logger.WithTrace(ctx, c.logger).Warn("Mutation failed, optimistic change rolled back",
			zap.String("operation", op),
			zap.String("reason", reason),
			zap.Error(err),
		)
		c.emit(ctx, op, reason)
		return &MutationError{Op: op, Reason: reason, Err: err}
	}

	metrics.RecordMutation(op, resultSuccess)
	c.publish(ctx, coll)
	return nil
}

func (c *Coordinator) emit(ctx context.Context, op, reason string) {
	c.notify(Notice{
		Op:      op,
		Reason:  reason,
		Message: util.UserMessage(reason),
		TraceID: trace.FromContext(ctx),
	})
}

// publish broadcasts the collection snapshot and asks for a refetch so
// server-computed fields land in the cache.
func (c *Coordinator) publish(ctx context.Context, coll model.Collection) {
	if c.broadcaster != nil {
		if _, err := c.broadcaster.Broadcast(ctx, Snapshot(c.cache, coll)); err != nil {
			logger.WithTrace(ctx, c.logger).Debug("Snapshot broadcast incomplete",
				zap.String("collection", string(coll)),
				zap.Error(err),
			)
		}
	}
	if c.refresher != nil {
		c.refresher.Trigger(coll)
	}
}

// Snapshot builds the envelope payload for collection coll from the cache.
func Snapshot(ch *cache.Cache, coll model.Collection) envelope.Payload {
	switch coll {
	case model.CollectionNotifications:
		return envelope.NotificationsSnapshot{Items: nonNil(ch.Notifications.Get())}
	case model.CollectionProfiles:
		return envelope.ProfilesSnapshot{Items: nonNil(ch.Profiles.Get())}
	default:
		return envelope.TasksSnapshot{Items: nonNil(ch.Tasks.Get())}
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
