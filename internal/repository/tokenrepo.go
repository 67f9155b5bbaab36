package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/avkdev/lingsync/internal/model"
)

// TokenRepository persists refresh-token digests.
type TokenRepository interface {
	// Save stores a new refresh token row.
	Save(ctx context.Context, t *model.RefreshToken) error
	// FindByHash returns the token row for a digest, or errs.ErrNotFound.
	FindByHash(ctx context.Context, hash []byte) (*model.RefreshToken, error)
	// DeleteByHash removes one token (rotation, logout).
	DeleteByHash(ctx context.Context, hash []byte) error
	// DeleteForUser removes all tokens of a user (forced teardown).
	DeleteForUser(ctx context.Context, userID uuid.UUID) error
}
