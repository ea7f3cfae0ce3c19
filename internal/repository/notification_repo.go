package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tasksync/internal/model"
	"tasksync/internal/store"
	"tasksync/pkg/outbox"
)

const notificationColumns = `id, title, message, type, created_at, read`

type NotificationRepository struct {
	db     *pgxpool.Pool
	w      *writer
	logger *zap.Logger
}

func NewNotificationRepository(db *pgxpool.Pool, w *writer, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{db: db, w: w, logger: logger}
}

func scanNotification(row pgx.Row) (model.Notification, error) {
	var n model.Notification
	err := row.Scan(&n.ID, &n.Title, &n.Message, &n.Type, &n.CreatedAt, &n.Read)
	return n, err
}

func (r *NotificationRepository) ListNotifications(ctx context.Context) ([]model.Notification, error) {
	rows, err := r.db.Query(ctx, `SELECT `+notificationColumns+` FROM notifications ORDER BY created_at DESC`)
	if err != nil {
		r.logger.Error("Failed to query notifications", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	out := []model.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			r.logger.Error("Failed to scan notification row", zap.Error(err))
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *NotificationRepository) InsertNotification(ctx context.Context, in model.NotificationInput) (model.Notification, error) {
	r.logger.Debug("Inserting notification",
		zap.String("type", string(in.Type)),
		zap.String("title", in.Title),
	)

	var n model.Notification
	err := r.w.inTx(ctx, string(model.CollectionNotifications), outbox.OpInsert, &n.ID, func(tx pgx.Tx) error {
		var err error
		n, err = scanNotification(tx.QueryRow(ctx, `
			INSERT INTO notifications (title, message, type)
			VALUES ($1, $2, $3)
			RETURNING `+notificationColumns,
			in.Title, in.Message, string(in.Type),
		))
		return err
	})
	if err != nil {
		r.logger.Error("Failed to insert notification", zap.Error(err))
		return model.Notification{}, mapError(err)
	}

	r.logger.Info("Notification inserted", zap.String("id", n.ID), zap.String("type", string(n.Type)))
	return n, nil
}

func (r *NotificationRepository) MarkNotificationRead(ctx context.Context, id string) (model.Notification, error) {
	var n model.Notification
	err := r.w.inTx(ctx, string(model.CollectionNotifications), outbox.OpUpdate, &id, func(tx pgx.Tx) error {
		var err error
		n, err = scanNotification(tx.QueryRow(ctx, `
			UPDATE notifications SET read = TRUE WHERE id = $1
			RETURNING `+notificationColumns, id))
		return err
	})
	if err != nil {
		r.logger.Error("Failed to mark notification read", zap.Error(err), zap.String("id", id))
		return model.Notification{}, mapError(err)
	}
	return n, nil
}

func (r *NotificationRepository) MarkAllNotificationsRead(ctx context.Context) error {
	var affected int64
	err := r.w.inTx(ctx, string(model.CollectionNotifications), outbox.OpUpdate, nil, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE notifications SET read = TRUE WHERE read = FALSE`)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		r.logger.Error("Failed to mark all notifications read", zap.Error(err))
		return mapError(err)
	}
	r.logger.Info("Notifications marked read", zap.Int64("rows_affected", affected))
	return nil
}

func (r *NotificationRepository) DeleteNotification(ctx context.Context, id string) error {
	err := r.w.inTx(ctx, string(model.CollectionNotifications), outbox.OpDelete, &id, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to delete notification", zap.Error(err), zap.String("id", id))
		return mapError(err)
	}
	return nil
}

func (r *NotificationRepository) ClearNotifications(ctx context.Context) error {
	var affected int64
	err := r.w.inTx(ctx, string(model.CollectionNotifications), outbox.OpDelete, nil, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM notifications`)
		affected = tag.RowsAffected()
		return err
	})
	if err != nil {
		r.logger.Error("Failed to clear notifications", zap.Error(err))
		return mapError(err)
	}
	r.logger.Info("Notifications cleared", zap.Int64("rows_affected", affected))
	return nil
}
