// Package app wires the sync core into one client context with an explicit
// lifetime.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tasksync/internal/cache"
	"tasksync/internal/channel"
	"tasksync/internal/coordinator"
	"tasksync/internal/envelope"
	"tasksync/internal/feed"
	"tasksync/internal/reconcile"
	"tasksync/internal/store"
	"tasksync/pkg/circuitbreaker"
	"tasksync/pkg/config"
	"tasksync/pkg/logger"
)

// Deps are the external collaborators of a client. Redis, Bus and FeedURL
// are optional; without them the matching sync layer is skipped.
type Deps struct {
	Store   store.Store
	Redis   *redis.Client
	Bus     *channel.Bus
	FeedURL string
	Now     func() time.Time
}

type Client struct {
	cache      *cache.Cache
	channel    *channel.Channel
	mutations  *coordinator.Coordinator
	reconciler *reconcile.Reconciler
	feedURL    string
	feedOn     bool
	subscriber *feed.Subscriber
	notices    chan coordinator.Notice
	logger     *zap.Logger

	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
}

func New(ctx context.Context, deps Deps, cfg config.SyncConfig, l *zap.Logger) (*Client, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("client needs a record store")
	}
	cfg = cfg.WithDefaults()
	l = logger.OrNop(l)

	ch, err := channel.New(ctx, channel.Options{
		Redis:  deps.Redis,
		Bus:    deps.Bus,
		Config: cfg,
		Logger: l.Named("channel"),
		Now:    deps.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("sync channel: %w", err)
	}

	c := &Client{
		cache:   cache.New(deps.Now),
		channel: ch,
		feedURL: deps.FeedURL,
		feedOn:  cfg.FeedEnabled && deps.FeedURL != "",
		notices: make(chan coordinator.Notice, 64),
		logger:  l,
	}
	c.reconciler = reconcile.New(reconcile.Options{
		Store:    deps.Store,
		Cache:    c.cache,
		Fallback: ch,
		Breaker:  circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		Interval: cfg.ReconcileInterval,
		Logger:   l.Named("reconcile"),
		Now:      deps.Now,
	})
	c.mutations = coordinator.New(coordinator.Options{
		Store:       deps.Store,
		Cache:       c.cache,
		Broadcaster: ch,
		Refresher:   c.reconciler,
		Notify:      c.notify,
		Logger:      l.Named("coordinator"),
		Now:         deps.Now,
	})
	c.unsubscribe = ch.OnMessage(c.apply)
	return c, nil
}

// Start runs the channel, the reconciliation loop and, when configured, the
// change feed. A change feed that cannot connect is logged and skipped; the
// timer and channel still converge the cache.
func (c *Client) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.channel.Start(ctx); err != nil {
		cancel()
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reconciler.Run(ctx)
	}()

	if c.feedOn {
		sub, err := feed.NewSubscriber(c.feedURL, c.reconciler, c.logger.Named("feed"))
		if err != nil {
			c.logger.Warn("Change feed unavailable, relying on polling", zap.Error(err))
		} else {
			c.subscriber = sub
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				sub.Run(ctx)
			}()
		}
	}

	c.logger.Info("Sync client started",
		zap.String("origin", c.channel.Origin()),
		zap.String("device", c.channel.Device()),
		zap.Bool("change_feed", c.subscriber != nil),
	)
	return nil
}

// apply hands channel envelopes to the cache. Heartbeats only feed liveness,
// which the channel tracks itself.
func (c *Client) apply(env envelope.Envelope) {
	if env.Kind() == envelope.KindHeartbeat {
		return
	}
	applied := reconcile.Apply(c.cache, env)
	c.logger.Debug("Envelope received",
		zap.String("type", string(env.Kind())),
		zap.String("origin", env.Origin),
		zap.Int64("timestamp", env.Timestamp),
		zap.Bool("applied", applied),
	)
}

// notify never blocks the coordinator; notices are dropped when nobody reads.
func (c *Client) notify(n coordinator.Notice) {
	select {
	case c.notices <- n:
	default:
		c.logger.Debug("Dropping notice, queue full", zap.String("operation", n.Op))
	}
}

// Focus asks for a full refetch when the client comes to the foreground.
func (c *Client) Focus() { c.reconciler.Focus() }

// Online asks for a full refetch after connectivity returns.
func (c *Client) Online() { c.reconciler.Online() }

func (c *Client) Cache() *cache.Cache                 { return c.cache }
func (c *Client) Mutations() *coordinator.Coordinator { return c.mutations }
func (c *Client) Reconciler() *reconcile.Reconciler   { return c.reconciler }
func (c *Client) Channel() *channel.Channel           { return c.channel }
func (c *Client) Notices() <-chan coordinator.Notice  { return c.notices }

// Close stops every goroutine and drops every listener. Safe to call more
// than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.subscriber != nil {
			c.subscriber.Close()
		}
		c.unsubscribe()
		c.channel.Close()
		c.wg.Wait()
		c.mutations.Wait()
		c.cache.Close()
		c.logger.Info("Sync client closed")
	})
}
