package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tasksync/internal/envelope"
)

const snapshotPattern = "*_snapshot:*"

// persistedKey is one envelope key with the timestamp parsed out of it.
type persistedKey struct {
	key  string
	kind envelope.Kind
	ts   int64
}

func (c *Channel) lastUpdateKey() string { return c.cfg.KeyPrefix + "last_update" }

func (c *Channel) envelopeKey(kind envelope.Kind, ts int64) string {
	return c.cfg.KeyPrefix + string(kind) + ":" + strconv.FormatInt(ts, 10)
}

// persist writes the envelope under its own key and advances the advisory
// last_update marker. Concurrent writers race on the marker; that is fine.
func (c *Channel) persist(ctx context.Context, env envelope.Envelope, raw []byte) error {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, c.envelopeKey(env.Kind(), env.Timestamp), raw, 0)
		p.Set(ctx, c.lastUpdateKey(), env.Timestamp, 0)
		return nil
	})
	return err
}

func (c *Channel) parseKey(key string) (persistedKey, bool) {
	rest, ok := strings.CutPrefix(key, c.cfg.KeyPrefix)
	if !ok {
		return persistedKey{}, false
	}
	kindStr, tsStr, ok := strings.Cut(rest, ":")
	if !ok {
		return persistedKey{}, false
	}
	kind := envelope.Kind(kindStr)
	if _, ok := kind.Collection(); !ok {
		return persistedKey{}, false
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil || ts <= 0 {
		return persistedKey{}, false
	}
	return persistedKey{key: key, kind: kind, ts: ts}, true
}

// scanKeys lists persisted envelope keys matching pattern, oldest first.
func (c *Channel) scanKeys(ctx context.Context, pattern string) ([]persistedKey, error) {
	var out []persistedKey
	iter := c.rdb.Scan(ctx, 0, c.cfg.KeyPrefix+pattern, 200).Iterator()
	for iter.Next(ctx) {
		if pk, ok := c.parseKey(iter.Val()); ok {
			out = append(out, pk)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ts < out[j].ts })
	return out, nil
}

// pollOnce delivers persisted envelopes newer than the cursor, in timestamp
// order. The last_update marker short-circuits the scan when nothing changed.
func (c *Channel) pollOnce(ctx context.Context) {
	marker, err := c.rdb.Get(ctx, c.lastUpdateKey()).Int64()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("Read last_update marker failed", zap.Error(err))
		}
		return
	}

	c.mu.Lock()
	cursor := c.cursor
	c.mu.Unlock()
	if marker <= cursor {
		return
	}

	keys, err := c.scanKeys(ctx, snapshotPattern)
	if err != nil {
		c.logger.Warn("Scan persisted envelopes failed", zap.Error(err))
		return
	}

	newest := cursor
	for _, pk := range keys {
		if pk.ts <= cursor {
			continue
		}
		raw, err := c.rdb.Get(ctx, pk.key).Bytes()
		if err != nil {
			// pruned between scan and get
			continue
		}
		c.receive(ctx, LayerStore, raw)
		if pk.ts > newest {
			newest = pk.ts
		}
	}

	c.mu.Lock()
	if newest > c.cursor {
		c.cursor = newest
	}
	c.mu.Unlock()
}

// Latest returns the newest persisted envelope of kind. ok is false when none
// is stored or the stored value no longer decodes.
func (c *Channel) Latest(ctx context.Context, kind envelope.Kind) (envelope.Envelope, bool, error) {
	if c.rdb == nil {
		return envelope.Envelope{}, false, nil
	}
	keys, err := c.scanKeys(ctx, string(kind)+":*")
	if err != nil {
		return envelope.Envelope{}, false, fmt.Errorf("scan %s envelopes: %w", kind, err)
	}

	for i := len(keys) - 1; i >= 0; i-- {
		raw, err := c.rdb.Get(ctx, keys[i].key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return envelope.Envelope{}, false, fmt.Errorf("get %s: %w", keys[i].key, err)
		}
		env, err := envelope.Decode(raw)
		if err != nil || env.Kind() != kind {
			c.logger.Debug("Skipping undecodable persisted envelope", zap.String("key", keys[i].key))
			continue
		}
		return env, true, nil
	}
	return envelope.Envelope{}, false, nil
}

// Prune deletes persisted envelopes older than MaxAge and returns how many
// were removed.
func (c *Channel) Prune(ctx context.Context) (int, error) {
	if c.rdb == nil {
		return 0, nil
	}
	keys, err := c.scanKeys(ctx, snapshotPattern)
	if err != nil {
		return 0, fmt.Errorf("scan envelopes: %w", err)
	}

	cutoff := c.now().Add(-c.cfg.MaxAge).UnixMilli()
	var stale []string
	for _, pk := range keys {
		if pk.ts < cutoff {
			stale = append(stale, pk.key)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	n, err := c.rdb.Del(ctx, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete stale envelopes: %w", err)
	}
	c.logger.Debug("Pruned persisted envelopes", zap.Int64("deleted", n))
	return int(n), nil
}
