// Package channel propagates update envelopes between client contexts over
// three layers: an in-process bus, redis pub/sub, and persisted redis keys.
package channel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tasksync/internal/envelope"
	"tasksync/pkg/config"
	"tasksync/pkg/metrics"
	"tasksync/pkg/util"
)

// Delivery layers, used in logs and metrics.
const (
	LayerLocal  = "local"
	LayerPubSub = "pubsub"
	LayerStore  = "store"
)

// Handler receives every envelope from another origin, once.
type Handler func(envelope.Envelope)

// Options are the channel's collaborators. Redis and Bus may be nil.
type Options struct {
	Redis  *redis.Client
	Bus    *Bus
	Config config.SyncConfig
	Logger *zap.Logger
	Now    func() time.Time
}

type Channel struct {
	rdb    *redis.Client
	bus    *Bus
	dedup  Deduper
	cfg    config.SyncConfig
	logger *zap.Logger
	now    func() time.Time

	origin string
	device string

	mu        sync.Mutex
	lastStamp int64
	handlers  map[int]Handler
	nextID    int
	liveness  map[string]time.Time
	selfEcho  time.Time
	startedAt time.Time
	degraded  bool
	cursor    int64

	busCancel func()
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New builds a channel with a fresh origin id. The device id is resolved from
// redis so every context on the host shares it.
func New(ctx context.Context, opts Options) (*Channel, error) {
	cfg := opts.Config.WithDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	c := &Channel{
		rdb:       opts.Redis,
		bus:       opts.Bus,
		cfg:       cfg,
		now:       now,
		origin:    uuid.NewString(),
		handlers:  make(map[int]Handler),
		liveness:  make(map[string]time.Time),
		startedAt: now(),
	}
	c.logger = logger.With(zap.String("origin", c.origin))

	if c.rdb != nil {
		c.dedup = util.NewDeduper(c.rdb, cfg.KeyPrefix, cfg.DedupWindow, c.logger)
	} else {
		c.dedup = newWindowDeduper(cfg.DedupWindow, now)
	}

	device, err := c.resolveDevice(ctx)
	if err != nil {
		return nil, err
	}
	c.device = device

	if c.bus != nil {
		c.busCancel = c.bus.Subscribe(func(raw []byte) {
			c.receive(context.Background(), LayerLocal, raw)
		})
	}
	return c, nil
}

func (c *Channel) Origin() string { return c.origin }
func (c *Channel) Device() string { return c.device }

func (c *Channel) resolveDevice(ctx context.Context) (string, error) {
	if c.rdb == nil {
		return uuid.NewString(), nil
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	key := c.cfg.KeyPrefix + "device:" + host
	if err := c.rdb.SetNX(ctx, key, uuid.NewString(), 0).Err(); err != nil {
		return "", fmt.Errorf("register device id: %w", err)
	}
	id, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("read device id: %w", err)
	}
	return id, nil
}

// Start runs the background loops. With redis configured the pub/sub
// subscription is confirmed before Start returns.
func (c *Channel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if c.rdb != nil {
		sub := c.rdb.Subscribe(ctx, c.pubsubChannel())
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			cancel()
			return fmt.Errorf("subscribe %s: %w", c.pubsubChannel(), err)
		}
		c.goLoop(func() { c.pubsubLoop(ctx, sub) })
		c.goLoop(func() { c.every(ctx, c.cfg.PollInterval, c.pollOnce) })
		c.goLoop(func() {
			c.every(ctx, c.cfg.PruneInterval, func(ctx context.Context) {
				if _, err := c.Prune(ctx); err != nil {
					c.logger.Warn("Prune persisted envelopes failed", zap.Error(err))
				}
			})
		})
	}
	c.goLoop(func() { c.every(ctx, c.cfg.HeartbeatInterval, c.heartbeat) })

	c.logger.Info("Sync channel started",
		zap.String("device", c.device),
		zap.Bool("redis", c.rdb != nil),
		zap.Bool("bus", c.bus != nil),
	)
	return nil
}

// Close stops every loop and drops all handlers. Safe to call more than once.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.busCancel != nil {
			c.busCancel()
		}
		c.wg.Wait()

		c.mu.Lock()
		c.handlers = make(map[int]Handler)
		c.mu.Unlock()
		c.logger.Info("Sync channel closed")
	})
}

// OnMessage registers h and returns its unsubscribe func.
func (c *Channel) OnMessage(h Handler) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.handlers[id] = h
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.handlers, id)
		c.mu.Unlock()
	}
}

// Broadcast stamps p and publishes it on every layer. Heartbeats are not
// persisted. The envelope is returned even when a layer failed.
func (c *Channel) Broadcast(ctx context.Context, p envelope.Payload) (envelope.Envelope, error) {
	env := envelope.Envelope{
		Meta: envelope.Meta{
			ID:        uuid.NewString(),
			Timestamp: c.nextStamp(),
			Origin:    c.origin,
			Device:    c.device,
		},
		Payload: p,
	}
	raw, err := envelope.Encode(env)
	if err != nil {
		return env, err
	}

	if c.bus != nil {
		c.bus.Publish(raw)
		metrics.RecordEnvelopePublished(LayerLocal, nil)
	}
	if c.rdb == nil {
		return env, nil
	}

	var errs []error
	pubErr := c.rdb.Publish(ctx, c.pubsubChannel(), raw).Err()
	metrics.RecordEnvelopePublished(LayerPubSub, pubErr)
	if pubErr != nil {
		errs = append(errs, fmt.Errorf("publish: %w", pubErr))
	}

	if env.Kind() != envelope.KindHeartbeat {
		storeErr := c.persist(ctx, env, raw)
		metrics.RecordEnvelopePublished(LayerStore, storeErr)
		if storeErr != nil {
			errs = append(errs, fmt.Errorf("persist: %w", storeErr))
		}
	}

	if err := errors.Join(errs...); err != nil {
		c.logger.Warn("Broadcast partially failed",
			zap.String("type", string(env.Kind())),
			zap.String("message_id", env.ID),
			zap.Error(err),
		)
		return env, err
	}
	return env, nil
}

// nextStamp returns a unix-millis timestamp strictly greater than the last
// one this channel issued.
func (c *Channel) nextStamp() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now().UnixMilli()
	if ts <= c.lastStamp {
		ts = c.lastStamp + 1
	}
	c.lastStamp = ts
	return ts
}

func (c *Channel) receive(ctx context.Context, layer string, raw []byte) {
	env, err := envelope.Decode(raw)
	if err != nil {
		metrics.RecordEnvelopeDropped("malformed")
		c.logger.Debug("Discarded malformed envelope", zap.String("layer", layer), zap.Error(err))
		return
	}

	if env.Origin == c.origin {
		if env.Kind() == envelope.KindHeartbeat && layer == LayerPubSub {
			c.mu.Lock()
			c.selfEcho = c.now()
			c.mu.Unlock()
		}
		metrics.RecordEnvelopeDropped("own_origin")
		return
	}

	if !c.dedup.AcquireOnce(ctx, c.origin, env.Origin+":"+env.ID) {
		metrics.RecordEnvelopeDropped("duplicate")
		return
	}

	c.mu.Lock()
	if env.Kind() == envelope.KindHeartbeat {
		c.liveness[env.Origin] = c.now()
	}
	handlers := make([]Handler, 0, len(c.handlers))
	for _, h := range c.handlers {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	metrics.RecordEnvelopeReceived(layer, string(env.Kind()))
	for _, h := range handlers {
		c.safeCall(h, env)
	}
}

func (c *Channel) safeCall(h Handler, env envelope.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Envelope handler panic recovered",
				zap.String("type", string(env.Kind())),
				zap.Any("panic", r),
			)
		}
	}()
	h(env)
}

func (c *Channel) pubsubChannel() string {
	return c.cfg.KeyPrefix + "broadcast"
}

// pubsubLoop resubscribes when the subscription channel closes.
func (c *Channel) pubsubLoop(ctx context.Context, sub *redis.PubSub) {
	for {
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				c.receive(ctx, LayerPubSub, []byte(msg.Payload))
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("Pub/sub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
		sub = c.rdb.Subscribe(ctx, c.pubsubChannel())
	}
}

func (c *Channel) goLoop(fn func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
}

func (c *Channel) every(ctx context.Context, d time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
