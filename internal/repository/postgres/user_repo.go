package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/avkdev/lingsync/internal/errs"
	"github.com/avkdev/lingsync/internal/model"
)

// InitialEnergy is granted to every new account.
const InitialEnergy = 100

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row plus its initial progress row in one
// transaction, so a user never exists without progress.
func (r *UserRepo) Create(ctx context.Context, u *model.User) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const insUser = `
INSERT INTO users (id, username, pwd_hash, salt_auth)
VALUES ($1, $2, $3, $4)`
	if _, err = tx.Exec(ctx, insUser, u.ID, u.Username, u.PwdHash, u.SaltAuth); err != nil {
		if isUniqueViolation(err) {
			err = errs.ErrAlreadyExists
		}
		return err
	}

	const insProgress = `
INSERT INTO user_progress (user_id, energy, coins)
VALUES ($1, $2, 0)`
	_, err = tx.Exec(ctx, insProgress, u.ID, InitialEnergy)
	return err
}

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `
SELECT id, username, pwd_hash, salt_auth, created_at
FROM users WHERE id=$1`
	return r.scanUser(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByUsername selects a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	const q = `
SELECT id, username, pwd_hash, salt_auth, created_at
FROM users WHERE username=$1`
	return r.scanUser(r.db.Pool.QueryRow(ctx, q, username))
}

func (r *UserRepo) scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.PwdHash, &u.SaltAuth, &u.CreatedAt); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

// CreateLanguage inserts a course row and points the progress row at it, in
// one transaction so the "exactly one current course" invariant holds.
func (r *UserRepo) CreateLanguage(ctx context.Context, userID uuid.UUID, lang model.LanguageProgress) (id int64, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	const ins = `
INSERT INTO user_languages (user_id, native_language_id, learning_language_id, proficiency_level, experience)
VALUES ($1, $2, $3, $4, 0)
RETURNING id`
	if err = tx.QueryRow(ctx, ins, userID, lang.NativeLanguageID, lang.LearningLanguageID, lang.ProficiencyLevel).Scan(&id); err != nil {
		return 0, err
	}

	const setCurrent = `UPDATE user_progress SET current_user_languages_id=$2, updated_at=now() WHERE user_id=$1`
	if _, err = tx.Exec(ctx, setCurrent, userID, id); err != nil {
		return 0, err
	}
	return id, nil
}
