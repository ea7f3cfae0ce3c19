package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tasksync/internal/store"
	"tasksync/pkg/outbox"
)

// Repository is the PostgreSQL record store. Every write commits an outbox
// change event in the same transaction.
type Repository struct {
	*TaskRepository
	*NotificationRepository
	*ProfileRepository
}

var _ store.Store = (*Repository)(nil)

func New(db *pgxpool.Pool, logger *zap.Logger) *Repository {
	ob := outbox.NewRepository(db)
	w := &writer{db: db, outbox: ob}
	return &Repository{
		TaskRepository:         NewTaskRepository(db, w, logger),
		NotificationRepository: NewNotificationRepository(db, w, logger),
		ProfileRepository:      NewProfileRepository(db, w, logger),
	}
}

type writer struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
}

// inTx runs fn in a transaction and records a change event for collection.
// recordID may be filled in by fn.
func (w *writer) inTx(ctx context.Context, collection, op string, recordID *string, fn func(tx pgx.Tx) error) error {
	tx, err := w.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}

	id := ""
	if recordID != nil {
		id = *recordID
	}
	if err := outbox.InsertEventInTx(ctx, tx, w.outbox, collection, op, id); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// profileNameIndex enforces unique profile names, see migrations/001_init.sql.
const profileNameIndex = "profiles_name"

// mapError translates driver errors into store sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if pgErr.ConstraintName == profileNameIndex {
			return store.ErrNameTaken
		}
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func enumPtr[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
