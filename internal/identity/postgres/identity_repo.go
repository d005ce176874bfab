package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/securimed/heartsync/internal/errs"
	"github.com/securimed/heartsync/internal/model"
)

// IdentityRepo implements identity.Repository using PostgreSQL.
type IdentityRepo struct{ db *DB }

// NewIdentityRepo constructs an identity repository.
func NewIdentityRepo(db *DB) *IdentityRepo { return &IdentityRepo{db: db} }

// Create inserts a new identity row.
func (r *IdentityRepo) Create(ctx context.Context, rec *model.IdentityRecord) error {
	const q = `
INSERT INTO identities (id, alias, pwd_hash, salt_auth, kek_salt, key_blob)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Pool.Exec(ctx, q, rec.ID, rec.Alias, rec.PwdHash, rec.SaltAuth, rec.KekSalt, rec.KeyBlob)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
	return nil
}

// GetByAlias selects an identity row by alias.
func (r *IdentityRepo) GetByAlias(ctx context.Context, alias string) (*model.IdentityRecord, error) {
	const q = `
SELECT id, alias, pwd_hash, salt_auth, kek_salt, key_blob, created_at
FROM identities WHERE alias=$1`
	row := r.db.Pool.QueryRow(ctx, q, alias)
	var rec model.IdentityRecord
	if err := row.Scan(&rec.ID, &rec.Alias, &rec.PwdHash, &rec.SaltAuth, &rec.KekSalt, &rec.KeyBlob, &rec.CreatedAt); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", errs.ErrUnavailable, err)
	}
	return &rec, nil
}
