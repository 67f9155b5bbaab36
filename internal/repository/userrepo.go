// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/avkdev/lingsync/internal/model"
)

// UserRepository provides account and language-course access.
type UserRepository interface {
	// Create inserts a new user together with its initial progress row.
	Create(ctx context.Context, u *model.User) error
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// GetByUsername loads a user by username.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// CreateLanguage enrolls the user in a course and makes it current.
	CreateLanguage(ctx context.Context, userID uuid.UUID, lang model.LanguageProgress) (int64, error)
}
