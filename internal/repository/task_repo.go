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

const taskColumns = `id, title, description, status, priority, assigned_to, due_date,
	       progress, member_notes, created_at, updated_at`

type TaskRepository struct {
	db     *pgxpool.Pool
	w      *writer
	logger *zap.Logger
}

func NewTaskRepository(db *pgxpool.Pool, w *writer, logger *zap.Logger) *TaskRepository {
	return &TaskRepository{db: db, w: w, logger: logger}
}

func scanTask(row pgx.Row) (model.Task, error) {
	var t model.Task
	err := row.Scan(
		&t.ID,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.Priority,
		&t.AssignedTo,
		&t.DueDate,
		&t.Progress,
		&t.MemberNotes,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	return t, err
}

func (r *TaskRepository) ListTasks(ctx context.Context) ([]model.Task, error) {
	r.logger.Debug("Listing tasks")
	rows, err := r.db.Query(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		r.logger.Error("Failed to query tasks", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			r.logger.Error("Failed to scan task row", zap.Error(err))
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	r.logger.Debug("Tasks listed", zap.Int("count", len(tasks)))
	return tasks, nil
}

func (r *TaskRepository) InsertTask(ctx context.Context, in model.TaskInput) (model.Task, error) {
	in = in.WithDefaults()
	r.logger.Debug("Inserting task",
		zap.String("title", in.Title),
		zap.String("assigned_to", in.AssignedTo),
		zap.String("status", string(in.Status)),
	)

	var t model.Task
	err := r.w.inTx(ctx, string(model.CollectionTasks), outbox.OpInsert, &t.ID, func(tx pgx.Tx) error {
		var err error
		t, err = scanTask(tx.QueryRow(ctx, `
			INSERT INTO tasks (title, description, status, priority, assigned_to, due_date, progress, member_notes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING `+taskColumns,
			in.Title,
			in.Description,
			string(in.Status),
			string(in.Priority),
			in.AssignedTo,
			in.DueDate,
			in.Progress,
			in.MemberNotes,
		))
		return err
	})
	if err != nil {
		r.logger.Error("Failed to insert task", zap.Error(err), zap.String("title", in.Title))
		return model.Task{}, mapError(err)
	}

	r.logger.Info("Task inserted", zap.String("task_id", t.ID))
	return t, nil
}

func (r *TaskRepository) UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error) {
	r.logger.Debug("Updating task", zap.String("task_id", id), zap.Int("fields", len(patch.Fields())))

	var t model.Task
	err := r.w.inTx(ctx, string(model.CollectionTasks), outbox.OpUpdate, &id, func(tx pgx.Tx) error {
		var err error
		t, err = scanTask(tx.QueryRow(ctx, `
			UPDATE tasks SET
			    title        = COALESCE($2, title),
			    description  = COALESCE($3, description),
			    status       = COALESCE($4, status),
			    priority     = COALESCE($5, priority),
			    assigned_to  = COALESCE($6, assigned_to),
			    due_date     = COALESCE($7, due_date),
			    progress     = COALESCE($8, progress),
			    member_notes = COALESCE($9, member_notes),
			    updated_at   = NOW()
			WHERE id = $1
			RETURNING `+taskColumns,
			id,
			patch.Title,
			patch.Description,
			enumPtr(patch.Status),
			enumPtr(patch.Priority),
			patch.AssignedTo,
			patch.DueDate,
			patch.Progress,
			patch.MemberNotes,
		))
		return err
	})
	if err != nil {
		r.logger.Error("Failed to update task", zap.Error(err), zap.String("task_id", id))
		return model.Task{}, mapError(err)
	}

	r.logger.Info("Task updated", zap.String("task_id", id))
	return t, nil
}

func (r *TaskRepository) DeleteTask(ctx context.Context, id string) error {
	r.logger.Debug("Deleting task", zap.String("task_id", id))

	err := r.w.inTx(ctx, string(model.CollectionTasks), outbox.OpDelete, &id, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to delete task", zap.Error(err), zap.String("task_id", id))
		return mapError(err)
	}

	r.logger.Info("Task deleted", zap.String("task_id", id))
	return nil
}
