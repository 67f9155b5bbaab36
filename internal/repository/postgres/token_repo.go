package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/avkdev/lingsync/internal/errs"
	"github.com/avkdev/lingsync/internal/model"
)

// TokenRepo implements TokenRepository using PostgreSQL.
type TokenRepo struct{ db *DB }

// NewTokenRepo constructs a refresh-token repository.
func NewTokenRepo(db *DB) *TokenRepo { return &TokenRepo{db: db} }

// Save stores a new refresh token row.
func (r *TokenRepo) Save(ctx context.Context, t *model.RefreshToken) error {
	const q = `
INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool.Exec(ctx, q, t.ID, t.UserID, t.TokenHash, t.ExpiresAt)
	return err
}

// FindByHash returns the token row for a digest.
func (r *TokenRepo) FindByHash(ctx context.Context, hash []byte) (*model.RefreshToken, error) {
	const q = `
SELECT id, user_id, token_hash, expires_at
FROM refresh_tokens WHERE token_hash=$1`
	var t model.RefreshToken
	err := r.db.Pool.QueryRow(ctx, q, hash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// DeleteByHash removes one token row. Deleting an absent row is not an error.
func (r *TokenRepo) DeleteByHash(ctx context.Context, hash []byte) error {
	const q = `DELETE FROM refresh_tokens WHERE token_hash=$1`
	_, err := r.db.Pool.Exec(ctx, q, hash)
	return err
}

// DeleteForUser removes all token rows of a user.
func (r *TokenRepo) DeleteForUser(ctx context.Context, userID uuid.UUID) error {
	const q = `DELETE FROM refresh_tokens WHERE user_id=$1`
	_, err := r.db.Pool.Exec(ctx, q, userID)
	return err
}
