package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/vibast-solutions/ms-go-credentials/app/entity"
)

const userColumns = `id, name, email, password_hash, two_fa_enabled, two_fa_code, two_fa_expires,
		       reset_token, reset_expires, created_at`

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, user *entity.User) error {
	query := `
		INSERT INTO users (name, email, password_hash, two_fa_enabled, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.TwoFAEnabled,
		user.CreatedAt,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return ErrDuplicateEmail
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	user.ID = uint64(id)
	return nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE email = ?
	`
	return r.findOne(ctx, query, email)
}

func (r *UserRepository) FindByID(ctx context.Context, id uint64) (*entity.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users WHERE id = ?
	`
	return r.findOne(ctx, query, id)
}

func (r *UserRepository) SetTwoFAChallenge(ctx context.Context, userID uint64, code string, expiresAt int64) error {
	query := `UPDATE users SET two_fa_code = ?, two_fa_expires = ? WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, code, expiresAt, userID)
	return err
}

func (r *UserRepository) ClearTwoFAChallenge(ctx context.Context, userID uint64) error {
	query := `UPDATE users SET two_fa_code = NULL, two_fa_expires = NULL WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, userID)
	return err
}

// ConsumeTwoFAChallenge clears the pending code only if it is still the one the
// caller validated. It returns false when another request consumed or replaced it.
func (r *UserRepository) ConsumeTwoFAChallenge(ctx context.Context, userID uint64, code string, expiresAt int64) (bool, error) {
	query := `
		UPDATE users SET two_fa_code = NULL, two_fa_expires = NULL
		WHERE id = ? AND two_fa_code = ? AND two_fa_expires = ?
	`
	result, err := r.db.ExecContext(ctx, query, userID, code, expiresAt)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

func (r *UserRepository) SetResetChallenge(ctx context.Context, email, token string, expiresAt int64) error {
	query := `UPDATE users SET reset_token = ?, reset_expires = ? WHERE email = ?`
	_, err := r.db.ExecContext(ctx, query, token, expiresAt, email)
	return err
}

func (r *UserRepository) ClearResetChallenge(ctx context.Context, email string) error {
	query := `UPDATE users SET reset_token = NULL, reset_expires = NULL WHERE email = ?`
	_, err := r.db.ExecContext(ctx, query, email)
	return err
}

// ConsumeResetChallenge stores the new password hash and clears the reset pair in
// one statement, guarded by the token and expiry the caller validated.
func (r *UserRepository) ConsumeResetChallenge(ctx context.Context, email, token string, expiresAt int64, passwordHash string) (bool, error) {
	query := `
		UPDATE users SET password_hash = ?, reset_token = NULL, reset_expires = NULL
		WHERE email = ? AND reset_token = ? AND reset_expires = ?
	`
	result, err := r.db.ExecContext(ctx, query, passwordHash, email, token, expiresAt)
	if err != nil {
		return false, err
	}
	return affectedOne(result)
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, email, passwordHash string) error {
	query := `UPDATE users SET password_hash = ? WHERE email = ?`
	_, err := r.db.ExecContext(ctx, query, passwordHash, email)
	return err
}

// SetTwoFAEnabled toggles the second factor. Disabling also drops any pending code.
func (r *UserRepository) SetTwoFAEnabled(ctx context.Context, userID uint64, enabled bool) error {
	query := `UPDATE users SET two_fa_enabled = ? WHERE id = ?`
	if !enabled {
		query = `UPDATE users SET two_fa_enabled = ?, two_fa_code = NULL, two_fa_expires = NULL WHERE id = ?`
	}
	_, err := r.db.ExecContext(ctx, query, enabled, userID)
	return err
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg any) (*entity.User, error) {
	user := &entity.User{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.TwoFAEnabled,
		&user.TwoFACode,
		&user.TwoFAExpires,
		&user.ResetToken,
		&user.ResetExpires,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func affectedOne(result sql.Result) (bool, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}
