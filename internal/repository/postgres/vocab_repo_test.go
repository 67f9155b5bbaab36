package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/avkdev/lingsync/internal/errs"
	"github.com/avkdev/lingsync/internal/model"
)

func newDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return &DB{Pool: mock}, mock
}

func vocabRows(rows ...[]any) *pgxmock.Rows {
	r := pgxmock.NewRows([]string{"word_id", "user_languages_id", "language_id", "mastery_level", "last_review", "created_at"})
	for _, row := range rows {
		r.AddRow(row...)
	}
	return r
}

func TestVocabRepo_DeleteMany_ReportsAffectedRows(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVocabRepo(db)

	userID := uuid.Must(uuid.NewV4())
	mock.ExpectExec(`DELETE FROM user_vocabulary WHERE user_id=\$1 AND word_id = ANY\(\$2\)`).
		WithArgs(userID, []string{"41", "42"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	n, err := r.DeleteMany(context.Background(), userID, []string{"42", "41"})
	require.NoError(t, err)
	require.EqualValues(t, 1, n, "deletes matching no row are not an error")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVocabRepo_UpdateMany_SkipsMissingRows(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVocabRepo(db)

	userID := uuid.Must(uuid.NewV4())
	now := time.Unix(1700000000, 0)
	lvl := 3

	mock.ExpectQuery(`UPDATE user_vocabulary SET mastery_level=\$3 WHERE user_id=\$1 AND word_id=\$2 RETURNING`).
		WithArgs(userID, "41", lvl).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`UPDATE user_vocabulary SET mastery_level=\$3 WHERE user_id=\$1 AND word_id=\$2 RETURNING`).
		WithArgs(userID, "42", lvl).
		WillReturnRows(vocabRows([]any{"42", int64(11), 2, 3, nil, now}))

	out, err := r.UpdateMany(context.Background(), userID, map[string]model.VocabularyPatch{
		"41": {MasteryLevel: &lvl},
		"42": {MasteryLevel: &lvl},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "42", out[0].WordID)
	require.Equal(t, 3, out[0].MasteryLevel)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVocabRepo_UpdateMany_LastReviewNull(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVocabRepo(db)

	userID := uuid.Must(uuid.NewV4())
	now := time.Unix(1700000000, 0)

	mock.ExpectQuery(`UPDATE user_vocabulary SET last_review=\$3 WHERE user_id=\$1 AND word_id=\$2 RETURNING`).
		WithArgs(userID, "42", (*time.Time)(nil)).
		WillReturnRows(vocabRows([]any{"42", int64(11), 2, 1, nil, now}))

	out, err := r.UpdateMany(context.Background(), userID, map[string]model.VocabularyPatch{
		"42": {LastReview: nil, LastReviewSet: true},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Nil(t, out[0].LastReview)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVocabRepo_InsertMany_IdempotentPut(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVocabRepo(db)

	userID := uuid.Must(uuid.NewV4())
	created := time.Unix(1700000000, 0)
	entry := model.VocabularyEntry{LanguageID: 2, MasteryLevel: 0, CreatedAt: created}

	mock.ExpectQuery(`INSERT INTO user_vocabulary .*ON CONFLICT \(user_id, word_id\) DO UPDATE`).
		WithArgs(userID, "42", int64(11), 2, 0, (*time.Time)(nil), created).
		WillReturnRows(vocabRows([]any{"42", int64(11), 2, 0, nil, created}))

	out, err := r.InsertMany(context.Background(), userID, map[string]model.VocabularyEntry{"42": entry}, 11)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.EqualValues(t, 11, out[0].UserLanguagesID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVocabRepo_InsertMany_FiltersForeignLanguageRows(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVocabRepo(db)

	userID := uuid.Must(uuid.NewV4())
	created := time.Unix(1700000000, 0)

	mock.ExpectQuery(`INSERT INTO user_vocabulary`).
		WithArgs(userID, "42", int64(11), 2, 0, (*time.Time)(nil), created).
		WillReturnRows(vocabRows([]any{"42", int64(99), 2, 0, nil, created}))

	out, err := r.InsertMany(context.Background(), userID,
		map[string]model.VocabularyEntry{"42": {LanguageID: 2, CreatedAt: created}}, 11)
	require.NoError(t, err)
	require.Empty(t, out, "rows outside the attributed course must not leak")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVocabRepo_UpdateProgress_NothingRecognized(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVocabRepo(db)

	out, err := r.UpdateProgress(context.Background(), uuid.Must(uuid.NewV4()), map[string]any{"bogus": 1})
	require.NoError(t, err, "unrecognized fields signal nothing-to-do, not failure")
	require.Nil(t, out)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVocabRepo_UpdateProgress_Whitelist(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVocabRepo(db)

	userID := uuid.Must(uuid.NewV4())
	now := time.Unix(1700000000, 0)
	cur := int64(11)

	mock.ExpectQuery(`UPDATE user_progress SET coins=\$2, energy=\$3, updated_at=now\(\) WHERE user_id=\$1`).
		WithArgs(userID, 15, 80).
		WillReturnRows(pgxmock.NewRows([]string{"energy", "coins", "current_user_languages_id", "updated_at"}).
			AddRow(80, 15, &cur, now))

	out, err := r.UpdateProgress(context.Background(), userID, map[string]any{
		"energy": 80, "coins": 15, "hacked": "x",
	})
	require.NoError(t, err)
	require.Equal(t, 80, out.Energy)
	require.Equal(t, 15, out.Coins)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVocabRepo_ApplySync_FixedOrderSingleTransaction(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVocabRepo(db)

	userID := uuid.Must(uuid.NewV4())
	created := time.Unix(1700000000, 0)
	cur := int64(11)
	energy, coins := 80, 15
	lvl := 2

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM user_languages WHERE id=\$1 AND user_id=\$2`).
		WithArgs(cur, userID).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec(`DELETE FROM user_vocabulary`).
		WithArgs(userID, []string{"9"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(`UPDATE user_vocabulary SET mastery_level=\$3`).
		WithArgs(userID, "8", lvl).
		WillReturnRows(vocabRows([]any{"8", cur, 2, 2, nil, created}))
	mock.ExpectQuery(`INSERT INTO user_vocabulary`).
		WithArgs(userID, "42", cur, 2, 0, (*time.Time)(nil), created).
		WillReturnRows(vocabRows([]any{"42", cur, 2, 0, nil, created}))
	mock.ExpectQuery(`UPDATE user_progress SET coins=\$2, current_user_languages_id=\$3, energy=\$4`).
		WithArgs(userID, coins, cur, energy).
		WillReturnRows(pgxmock.NewRows([]string{"energy", "coins", "current_user_languages_id", "updated_at"}).
			AddRow(energy, coins, &cur, created))
	mock.ExpectCommit()

	out, err := r.ApplySync(context.Background(), userID, model.SyncApply{
		Energy: &energy, Coins: &coins, CurrentUserLanguagesID: &cur,
		Deletes: []string{"9"},
		Updates: map[string]model.VocabularyPatch{"8": {MasteryLevel: &lvl}},
		Inserts: map[string]model.VocabularyEntry{"42": {LanguageID: 2, CreatedAt: created}},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, out.Deleted)
	require.Len(t, out.Updated, 1)
	require.Len(t, out.Inserted, 1)
	require.Equal(t, 80, out.Progress.Energy)
	require.NoError(t, mock.ExpectationsWereMet(), "deletes, then updates, then inserts, in one transaction")
}

func TestVocabRepo_ApplySync_DeleteThenInsertSameWord(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVocabRepo(db)

	userID := uuid.Must(uuid.NewV4())
	created := time.Unix(1700000000, 0)
	cur := int64(11)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM user_languages`).
		WithArgs(cur, userID).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec(`DELETE FROM user_vocabulary`).
		WithArgs(userID, []string{"42"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(`INSERT INTO user_vocabulary`).
		WithArgs(userID, "42", cur, 2, 1, (*time.Time)(nil), created).
		WillReturnRows(vocabRows([]any{"42", cur, 2, 1, nil, created}))
	mock.ExpectQuery(`UPDATE user_progress SET current_user_languages_id=\$2`).
		WithArgs(userID, cur).
		WillReturnRows(pgxmock.NewRows([]string{"energy", "coins", "current_user_languages_id", "updated_at"}).
			AddRow(100, 0, &cur, created))
	mock.ExpectCommit()

	out, err := r.ApplySync(context.Background(), userID, model.SyncApply{
		CurrentUserLanguagesID: &cur,
		Deletes:                []string{"42"},
		Inserts:                map[string]model.VocabularyEntry{"42": {LanguageID: 2, MasteryLevel: 1, CreatedAt: created}},
	})
	require.NoError(t, err)
	require.Len(t, out.Inserted, 1, "delete-then-insert for one word must end inserted, never absent")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVocabRepo_ApplySync_UnknownLanguageIsValidationError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVocabRepo(db)

	userID := uuid.Must(uuid.NewV4())
	cur := int64(99)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM user_languages`).
		WithArgs(cur, userID).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	_, err := r.ApplySync(context.Background(), userID, model.SyncApply{CurrentUserLanguagesID: &cur})
	require.ErrorIs(t, err, errs.ErrValidation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestVocabRepo_ApplySync_FailureRollsBackEverything(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewVocabRepo(db)

	userID := uuid.Must(uuid.NewV4())
	created := time.Unix(1700000000, 0)
	cur := int64(11)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM user_languages`).
		WithArgs(cur, userID).
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec(`DELETE FROM user_vocabulary`).
		WithArgs(userID, []string{"9"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectQuery(`INSERT INTO user_vocabulary`).
		WithArgs(userID, "42", cur, 2, 0, (*time.Time)(nil), created).
		WillReturnError(errors.New("constraint violated"))
	mock.ExpectRollback()

	_, err := r.ApplySync(context.Background(), userID, model.SyncApply{
		CurrentUserLanguagesID: &cur,
		Deletes:                []string{"9"},
		Inserts:                map[string]model.VocabularyEntry{"42": {LanguageID: 2, CreatedAt: created}},
	})
	require.Error(t, err, "a failed insert must roll back the committed deletes too")
	require.NoError(t, mock.ExpectationsWereMet())
}
