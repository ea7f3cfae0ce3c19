package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"tasksync/internal/model"
	"tasksync/pkg/outbox"
)

const profileColumns = `id, name, email, role, COALESCE(secret_number, ''), active, created_at, updated_at`

type ProfileRepository struct {
	db     *pgxpool.Pool
	w      *writer
	logger *zap.Logger
}

func NewProfileRepository(db *pgxpool.Pool, w *writer, logger *zap.Logger) *ProfileRepository {
	return &ProfileRepository{db: db, w: w, logger: logger}
}

func scanProfile(row pgx.Row) (model.Profile, error) {
	var p model.Profile
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Role, &p.SecretNumber, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func nullIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func (r *ProfileRepository) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	rows, err := r.db.Query(ctx, `SELECT `+profileColumns+` FROM profiles ORDER BY created_at DESC`)
	if err != nil {
		r.logger.Error("Failed to query profiles", zap.Error(err))
		return nil, err
	}
	defer rows.Close()

	out := []model.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			r.logger.Error("Failed to scan profile row", zap.Error(err))
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *ProfileRepository) InsertProfile(ctx context.Context, in model.ProfileInput) (model.Profile, error) {
	r.logger.Debug("Inserting profile", zap.String("name", in.Name), zap.String("role", string(in.Role)))

	var p model.Profile
	err := r.w.inTx(ctx, string(model.CollectionProfiles), outbox.OpInsert, &p.ID, func(tx pgx.Tx) error {
		var err error
		p, err = scanProfile(tx.QueryRow(ctx, `
			INSERT INTO profiles (name, email, role, secret_number, password_hash)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING `+profileColumns,
			in.Name,
			in.Email,
			string(in.Role),
			nullIfEmpty(in.SecretNumber),
			nullIfEmpty(in.PasswordHash),
		))
		return err
	})
	if err != nil {
		r.logger.Error("Failed to insert profile", zap.Error(err), zap.String("name", in.Name))
		return model.Profile{}, mapError(err)
	}

	r.logger.Info("Profile inserted", zap.String("profile_id", p.ID), zap.String("role", string(p.Role)))
	return p, nil
}

func (r *ProfileRepository) UpdateProfile(ctx context.Context, id string, patch model.ProfilePatch) (model.Profile, error) {
	var p model.Profile
	err := r.w.inTx(ctx, string(model.CollectionProfiles), outbox.OpUpdate, &id, func(tx pgx.Tx) error {
		var err error
		p, err = scanProfile(tx.QueryRow(ctx, `
			UPDATE profiles SET
			    name          = COALESCE($2, name),
			    email         = COALESCE($3, email),
			    secret_number = COALESCE($4, secret_number),
			    active        = COALESCE($5, active),
			    updated_at    = NOW()
			WHERE id = $1
			RETURNING `+profileColumns,
			id, patch.Name, patch.Email, patch.SecretNumber, patch.Active,
		))
		return err
	})
	if err != nil {
		r.logger.Error("Failed to update profile", zap.Error(err), zap.String("profile_id", id))
		return model.Profile{}, mapError(err)
	}

	r.logger.Info("Profile updated", zap.String("profile_id", id))
	return p, nil
}

func (r *ProfileRepository) FindProfile(ctx context.Context, id string) (model.Profile, error) {
	p, err := scanProfile(r.db.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
	if err != nil {
		return model.Profile{}, mapError(err)
	}
	return p, nil
}

func (r *ProfileRepository) FindActiveMemberBySecret(ctx context.Context, secret string) (model.Profile, error) {
	secret = strings.TrimSpace(secret)
	p, err := scanProfile(r.db.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM profiles
		WHERE role = 'member' AND active AND secret_number = $1
	`, secret))
	if err != nil {
		r.logger.Debug("Member secret lookup failed", zap.Error(err))
		return model.Profile{}, mapError(err)
	}
	return p, nil
}

// FindAdminByEmail returns the admin profile and its bcrypt hash.
func (r *ProfileRepository) FindAdminByEmail(ctx context.Context, email string) (model.Profile, string, error) {
	var hash string
	var p model.Profile
	err := r.db.QueryRow(ctx, `
		SELECT `+profileColumns+`, COALESCE(password_hash, '')
		FROM profiles
		WHERE role = 'admin' AND lower(email) = lower($1)
	`, strings.TrimSpace(email)).Scan(
		&p.ID, &p.Name, &p.Email, &p.Role, &p.SecretNumber, &p.Active, &p.CreatedAt, &p.UpdatedAt, &hash,
	)
	if err != nil {
		return model.Profile{}, "", mapError(err)
	}
	return p, hash, nil
}
