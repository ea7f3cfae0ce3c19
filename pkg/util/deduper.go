package util

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper remembers message ids for a bounded window using SETNX.
type Deduper struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewDeduper(rdb *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *Deduper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// AcquireOnce reports whether id has not been seen within the window for scope.
// When redis is unavailable it returns true; the timestamp guard downstream
// keeps a repeated apply harmless.
func (d *Deduper) AcquireOnce(ctx context.Context, scope, id string) bool {
	key := d.prefix + "dedup:" + scope + ":" + id

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("scope", scope),
			zap.String("message_id", id),
			zap.Error(err),
		)
		return true
	}

	if !ok {
		d.logger.Debug("Skipped duplicated message",
			zap.String("scope", scope),
			zap.String("message_id", id),
		)
	}
	return ok
}
