package main

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tasksync/internal/app"
	"tasksync/internal/auth"
	"tasksync/internal/model"
	"tasksync/internal/repository"
	"tasksync/internal/store"
	"tasksync/pkg/config"
	"tasksync/pkg/db"
	"tasksync/pkg/logger"
	"tasksync/pkg/redis"
)

var errNotSignedIn = errors.New("not signed in, run `taskctl login` first")

// env holds what every subcommand shares: config, record store, auth and the
// optional redis client.
type env struct {
	cfgEnv  string
	cfgDir  string
	offline bool
	verbose bool

	cfg     *config.Config
	logger  *zap.Logger
	store   store.Store
	rdb     *goredis.Client
	auth    *auth.Service
	closers []func()
}

func (e *env) open(ctx context.Context) error {
	if e.verbose {
		e.logger = logger.NewLogger()
	} else {
		e.logger = zap.NewNop()
	}

	if e.cfgEnv == "" {
		e.cfgEnv = config.GetConfigEnv()
	}
	cfg, err := config.Load(e.cfgEnv, e.cfgDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	e.cfg = cfg

	if e.offline {
		e.store = store.NewMemory()
	} else {
		pool, err := db.NewConnection(ctx, cfg.DB, e.logger)
		if err != nil {
			return fmt.Errorf("connect record store: %w", err)
		}
		e.closers = append(e.closers, pool.Close)
		e.store = repository.New(pool, e.logger)

		if cfg.Redis.Addr != "" {
			rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
			if err != nil {
				e.logger.Warn("Redis unavailable, cross-device sync disabled", zap.Error(err))
			} else {
				e.rdb = rdb
				e.closers = append(e.closers, func() { _ = rdb.Close() })
			}
		}
	}

	// The offline store starts empty, so there is no directory to check
	// sessions against; saved tokens are only verified by signature.
	var dir auth.Directory
	if !e.offline {
		dir, _ = e.store.(auth.Directory)
	}
	e.auth = auth.NewService(dir, cfg.JWT.Secret, cfg.JWT.TTL, e.logger)
	return nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
	if e.logger != nil {
		_ = e.logger.Sync()
	}
}

// identity resumes the saved session.
func (e *env) identity(ctx context.Context) (model.Identity, error) {
	token, err := loadToken()
	if err != nil {
		return model.Identity{}, err
	}
	if token == "" {
		return model.Identity{}, errNotSignedIn
	}
	sess, err := e.auth.Resume(ctx, token)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %v", errNotSignedIn, err)
	}
	return sess.Identity, nil
}

// client builds a sync client and loads every collection once.
func (e *env) client(ctx context.Context) (*app.Client, error) {
	feedURL := ""
	if !e.offline {
		feedURL = e.cfg.MQ.URL
	}
	c, err := app.New(ctx, app.Deps{
		Store:   e.store,
		Redis:   e.rdb,
		FeedURL: feedURL,
	}, e.cfg.Sync, e.logger)
	if err != nil {
		return nil, err
	}
	if err := c.Reconciler().SyncAll(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}
