package util

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"

	"tasksync/internal/model"
	"tasksync/internal/store"
	"tasksync/pkg/circuitbreaker"
	"tasksync/pkg/rbac"
)

func TestDeduperAcquireOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	d := NewDeduper(rdb, "test:", time.Minute, nil)
	ctx := context.Background()

	if !d.AcquireOnce(ctx, "origin-a", "m1") {
		t.Fatal("first delivery should pass")
	}
	if d.AcquireOnce(ctx, "origin-a", "m1") {
		t.Fatal("duplicate should be rejected")
	}
	if !d.AcquireOnce(ctx, "origin-b", "m1") {
		t.Fatal("different scope should pass")
	}

	mr.FastForward(2 * time.Minute)
	if !d.AcquireOnce(ctx, "origin-a", "m1") {
		t.Fatal("expired entry should pass again")
	}
}

func TestDeduperFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	d := NewDeduper(rdb, "test:", time.Minute, nil)
	if !d.AcquireOnce(context.Background(), "s", "m") {
		t.Fatal("expected fail-open when redis is down")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&rbac.PermissionDeniedError{Permission: "x"}, ReasonForbidden},
		{fmt.Errorf("wrap: %w", model.ErrInvalidTask), ReasonInvalid},
		{fmt.Errorf("update: %w", store.ErrNotFound), ReasonNotFound},
		{store.ErrConflict, ReasonConflict},
		{&pgconn.PgError{Code: "23505"}, ReasonConflict},
		{context.DeadlineExceeded, ReasonTimeout},
		{context.Canceled, ReasonCanceled},
		{circuitbreaker.ErrCircuitBreakerOpen, ReasonUnavailable},
		{errors.New("weird"), ReasonUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.want {
			t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
	if ClassifyError(nil) != "" {
		t.Error("nil error should have no reason")
	}
}

func TestJWTRoundTrip(t *testing.T) {
	id := model.Identity{ID: "m1", Name: "Ali", Role: model.RoleMember}
	token, err := GenerateJWT(id, "secret", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	got, err := ParseJWT(token, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != id {
		t.Fatalf("got %+v want %+v", got, id)
	}

	if _, err := ParseJWT(token, "other"); err == nil {
		t.Fatal("expected signature failure")
	}
}

func TestJWTExpired(t *testing.T) {
	id := model.Identity{ID: "a1", Name: "Root", Role: model.RoleAdmin}
	token, err := GenerateJWT(id, "secret", time.Nanosecond)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	time.Sleep(1100 * time.Millisecond)
	if _, err := ParseJWT(token, "secret"); err == nil {
		t.Fatal("expected expiry error")
	}
}
