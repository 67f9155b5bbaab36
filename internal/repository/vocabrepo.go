package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/avkdev/lingsync/internal/model"
)

// VocabularyRepository persists per-user vocabulary and progress, addressed
// by (user_id, word_id, user_languages_id).
type VocabularyRepository interface {
	// InsertMany bulk-inserts entries attributed to userLanguagesID and
	// returns only rows scoped to that course.
	InsertMany(ctx context.Context, userID uuid.UUID, entries map[string]model.VocabularyEntry, userLanguagesID int64) ([]model.VocabularyRow, error)
	// UpdateMany applies partial updates; words matching no row are skipped.
	UpdateMany(ctx context.Context, userID uuid.UUID, updates map[string]model.VocabularyPatch) ([]model.VocabularyRow, error)
	// DeleteMany removes words and returns the number of rows deleted.
	DeleteMany(ctx context.Context, userID uuid.UUID, wordIDs []string) (int64, error)
	// UpdateProgress mutates whitelisted progress fields; returns nil (not
	// an error) when no recognized field was present.
	UpdateProgress(ctx context.Context, userID uuid.UUID, fields map[string]any) (*model.UserProgress, error)
	// GetProgress loads the progress row.
	GetProgress(ctx context.Context, userID uuid.UUID) (*model.UserProgress, error)
	// ApplySync runs deletes, updates, inserts and the progress patch inside
	// one transaction, in that fixed order.
	ApplySync(ctx context.Context, userID uuid.UUID, in model.SyncApply) (*model.SyncOutcome, error)
}
