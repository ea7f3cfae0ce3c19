package redis

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"tasksync/pkg/config"
)

func TestNewRedisClient(t *testing.T) {
	m := miniredis.RunT(t)

	rdb, err := NewRedisClient(context.Background(), config.RedisConfig{Addr: m.Addr()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer rdb.Close()

	if err := rdb.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := m.Get("k"); got != "v" {
		t.Fatalf("expected v, got %q", got)
	}
}

func TestNewRedisClientUnreachable(t *testing.T) {
	m := miniredis.RunT(t)
	addr := m.Addr()
	m.Close()

	if _, err := NewRedisClient(context.Background(), config.RedisConfig{Addr: addr}); err == nil {
		t.Fatal("expected ping failure")
	}
}
