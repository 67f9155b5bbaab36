package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/avkdev/lingsync/internal/errs"
	"github.com/avkdev/lingsync/internal/model"
)

// VocabRepo implements VocabularyRepository using PostgreSQL.
type VocabRepo struct{ db *DB }

// NewVocabRepo constructs a vocabulary repository.
func NewVocabRepo(db *DB) *VocabRepo { return &VocabRepo{db: db} }

const vocabReturning = `word_id, user_languages_id, language_id, mastery_level, last_review, created_at`

// InsertMany bulk-inserts entries attributed to userLanguagesID. Inserting a
// word that already exists overwrites it (idempotent put). Only rows scoped
// to userLanguagesID are returned.
func (r *VocabRepo) InsertMany(ctx context.Context, userID uuid.UUID, entries map[string]model.VocabularyEntry, userLanguagesID int64) ([]model.VocabularyRow, error) {
	return insertMany(ctx, r.db.Pool, userID, entries, userLanguagesID)
}

// UpdateMany applies partial updates. Words matching no row are skipped and
// simply absent from the result.
func (r *VocabRepo) UpdateMany(ctx context.Context, userID uuid.UUID, updates map[string]model.VocabularyPatch) ([]model.VocabularyRow, error) {
	return updateMany(ctx, r.db.Pool, userID, updates)
}

// DeleteMany removes words and returns the number of rows actually deleted.
func (r *VocabRepo) DeleteMany(ctx context.Context, userID uuid.UUID, wordIDs []string) (int64, error) {
	return deleteMany(ctx, r.db.Pool, userID, wordIDs)
}

// UpdateProgress mutates whitelisted progress fields. A nil result with nil
// error means no recognized field was present.
func (r *VocabRepo) UpdateProgress(ctx context.Context, userID uuid.UUID, fields map[string]any) (*model.UserProgress, error) {
	return updateProgress(ctx, r.db.Pool, userID, fields)
}

// GetProgress loads the progress row.
func (r *VocabRepo) GetProgress(ctx context.Context, userID uuid.UUID) (*model.UserProgress, error) {
	return getProgress(ctx, r.db.Pool, userID)
}

// ApplySync applies one sync envelope atomically. Order is fixed: deletes
// free uniqueness constraints an insert may re-use, updates run before
// inserts so a word cannot be updated by a not-yet-committed insert in the
// same batch. Any failure rolls the whole envelope back.
func (r *VocabRepo) ApplySync(ctx context.Context, userID uuid.UUID, in model.SyncApply) (out *model.SyncOutcome, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
			out = nil
		}
	}()

	if in.CurrentUserLanguagesID != nil {
		if err = checkLanguageOwned(ctx, tx, userID, *in.CurrentUserLanguagesID); err != nil {
			return nil, err
		}
	}

	out = &model.SyncOutcome{}
	if len(in.Deletes) > 0 {
		if out.Deleted, err = deleteMany(ctx, tx, userID, in.Deletes); err != nil {
			return nil, err
		}
	}
	if len(in.Updates) > 0 {
		if out.Updated, err = updateMany(ctx, tx, userID, in.Updates); err != nil {
			return nil, err
		}
	}
	if len(in.Inserts) > 0 {
		// service validation guarantees the course id is present here
		if out.Inserted, err = insertMany(ctx, tx, userID, in.Inserts, *in.CurrentUserLanguagesID); err != nil {
			return nil, err
		}
	}

	fields := map[string]any{}
	if in.Energy != nil {
		fields["energy"] = *in.Energy
	}
	if in.Coins != nil {
		fields["coins"] = *in.Coins
	}
	if in.CurrentUserLanguagesID != nil {
		fields["current_user_languages_id"] = *in.CurrentUserLanguagesID
	}
	if out.Progress, err = updateProgress(ctx, tx, userID, fields); err != nil {
		return nil, err
	}
	if out.Progress == nil {
		// nothing recognized to write; still echo the authoritative row
		if out.Progress, err = getProgress(ctx, tx, userID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// --- helpers shared between standalone methods and the sync transaction ---

func checkLanguageOwned(ctx context.Context, q querier, userID uuid.UUID, userLanguagesID int64) error {
	const sel = `SELECT 1 FROM user_languages WHERE id=$1 AND user_id=$2`
	var one int
	if err := q.QueryRow(ctx, sel, userLanguagesID, userID).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("unknown user_languages_id %d: %w", userLanguagesID, errs.ErrValidation)
		}
		return err
	}
	return nil
}

func deleteMany(ctx context.Context, q querier, userID uuid.UUID, wordIDs []string) (int64, error) {
	if len(wordIDs) == 0 {
		return 0, nil
	}
	ids := append([]string(nil), wordIDs...)
	sort.Strings(ids)
	const del = `DELETE FROM user_vocabulary WHERE user_id=$1 AND word_id = ANY($2)`
	tag, err := q.Exec(ctx, del, userID, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func updateMany(ctx context.Context, q querier, userID uuid.UUID, updates map[string]model.VocabularyPatch) ([]model.VocabularyRow, error) {
	words := sortedKeys(updates)
	out := make([]model.VocabularyRow, 0, len(words))
	for _, wordID := range words {
		p := updates[wordID]
		set := make([]string, 0, 2)
		args := []any{userID, wordID}
		if p.MasteryLevel != nil {
			args = append(args, *p.MasteryLevel)
			set = append(set, fmt.Sprintf("mastery_level=$%d", len(args)))
		}
		if p.LastReviewSet {
			args = append(args, p.LastReview)
			set = append(set, fmt.Sprintf("last_review=$%d", len(args)))
		}
		if len(set) == 0 {
			continue
		}
		upd := fmt.Sprintf(
			`UPDATE user_vocabulary SET %s WHERE user_id=$1 AND word_id=$2 RETURNING %s`,
			strings.Join(set, ", "), vocabReturning)
		row, err := scanVocabRow(q.QueryRow(ctx, upd, args...))
		if errors.Is(err, pgx.ErrNoRows) {
			// word not present: a partial match is not an error
			continue
		}
		if err != nil {
			return nil, err
		}
		row.UserID = userID
		out = append(out, *row)
	}
	return out, nil
}

func insertMany(ctx context.Context, q querier, userID uuid.UUID, entries map[string]model.VocabularyEntry, userLanguagesID int64) ([]model.VocabularyRow, error) {
	const ins = `
INSERT INTO user_vocabulary (user_id, word_id, user_languages_id, language_id, mastery_level, last_review, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (user_id, word_id) DO UPDATE
SET user_languages_id=EXCLUDED.user_languages_id, language_id=EXCLUDED.language_id,
    mastery_level=EXCLUDED.mastery_level, last_review=EXCLUDED.last_review
RETURNING ` + vocabReturning

	words := sortedKeys(entries)
	out := make([]model.VocabularyRow, 0, len(words))
	for _, wordID := range words {
		e := entries[wordID]
		row, err := scanVocabRow(q.QueryRow(ctx, ins,
			userID, wordID, userLanguagesID, e.LanguageID, e.MasteryLevel, e.LastReview, e.CreatedAt))
		if err != nil {
			return nil, err
		}
		if row.UserLanguagesID != userLanguagesID {
			// batch spanned another language context; do not leak its rows
			continue
		}
		row.UserID = userID
		out = append(out, *row)
	}
	return out, nil
}

var progressFields = map[string]bool{
	"energy":                    true,
	"coins":                     true,
	"current_user_languages_id": true,
}

func updateProgress(ctx context.Context, q querier, userID uuid.UUID, fields map[string]any) (*model.UserProgress, error) {
	set := make([]string, 0, len(fields))
	args := []any{userID}
	for _, name := range sortedKeys(fields) {
		if !progressFields[name] {
			continue
		}
		args = append(args, fields[name])
		set = append(set, fmt.Sprintf("%s=$%d", name, len(args)))
	}
	if len(set) == 0 {
		return nil, nil
	}
	upd := fmt.Sprintf(
		`UPDATE user_progress SET %s, updated_at=now() WHERE user_id=$1
RETURNING energy, coins, current_user_languages_id, updated_at`,
		strings.Join(set, ", "))
	return scanProgress(q.QueryRow(ctx, upd, args...), userID)
}

func getProgress(ctx context.Context, q querier, userID uuid.UUID) (*model.UserProgress, error) {
	const sel = `
SELECT energy, coins, current_user_languages_id, updated_at
FROM user_progress WHERE user_id=$1`
	return scanProgress(q.QueryRow(ctx, sel, userID), userID)
}

func scanProgress(row pgx.Row, userID uuid.UUID) (*model.UserProgress, error) {
	var p model.UserProgress
	if err := row.Scan(&p.Energy, &p.Coins, &p.CurrentUserLanguagesID, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	p.UserID = userID
	return &p, nil
}

func scanVocabRow(row pgx.Row) (*model.VocabularyRow, error) {
	var v model.VocabularyRow
	if err := row.Scan(&v.WordID, &v.UserLanguagesID, &v.LanguageID, &v.MasteryLevel, &v.LastReview, &v.CreatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
