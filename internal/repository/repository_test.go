package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tasksync/internal/model"
	"tasksync/internal/store"
)

func TestMapError(t *testing.T) {
	if !errors.Is(mapError(pgx.ErrNoRows), store.ErrNotFound) {
		t.Fatal("no rows should map to ErrNotFound")
	}
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "profiles_active_secret"})
	if !errors.Is(mapError(wrapped), store.ErrConflict) {
		t.Fatal("unique violation should map to ErrConflict")
	}
	if errors.Is(mapError(wrapped), store.ErrNameTaken) {
		t.Fatal("a secret number clash is not a name clash")
	}
	name := &pgconn.PgError{Code: "23505", ConstraintName: "profiles_name"}
	if err := mapError(name); !errors.Is(err, store.ErrNameTaken) || !errors.Is(err, store.ErrConflict) {
		t.Fatalf("name index violation should map to ErrNameTaken, got %v", err)
	}
	other := errors.New("boom")
	if mapError(other) != other {
		t.Fatal("unknown errors pass through")
	}
	if mapError(nil) != nil {
		t.Fatal("nil stays nil")
	}
}

func TestEnumPtr(t *testing.T) {
	if enumPtr[model.TaskStatus](nil) != nil {
		t.Fatal("nil stays nil")
	}
	s := model.StatusInReview
	if got := enumPtr(&s); got == nil || *got != "in-review" {
		t.Fatalf("unexpected %v", got)
	}
}
