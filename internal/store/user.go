package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/secure-ingress-home/apiserver/internal/db"
	"github.com/secure-ingress-home/apiserver/types"
)

const userColumns = `
	id, username, email, name, last_name, role, password_hash, verified, last_login, created_at, updated_at`

// UserWriter persists users inside a transaction.
type UserWriter interface {
	Create(ctx context.Context, user types.User) (types.User, error)
}

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	query := `SELECT` + userColumns + `
		FROM users
		WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	query := `SELECT` + userColumns + `
		FROM users
		WHERE username = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, username))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	query := `SELECT` + userColumns + `
		FROM users
		WHERE lower(email) = lower($1)`
	return scanUser(r.db.QueryRowContext(ctx, query, email))
}

// WithinTx runs fn with a writer bound to a single transaction. Nothing fn
// writes survives unless fn returns nil.
func (r *UserRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, users UserWriter) error) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(ctx, &txUserWriter{tx: tx})
	})
}

func (r *UserRepository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	const query = `
		UPDATE users
		SET last_login = $1,
			updated_at = $1
		WHERE id = $2`
	return execAffectingOne(ctx, r.db, query, at, id)
}

func (r *UserRepository) MarkVerified(ctx context.Context, email string) error {
	const query = `
		UPDATE users
		SET verified = true,
			updated_at = $1
		WHERE lower(email) = lower($2)`
	return execAffectingOne(ctx, r.db, query, time.Now(), email)
}

type txUserWriter struct {
	tx *sql.Tx
}

func (w *txUserWriter) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (id, username, email, name, last_name, role, password_hash, verified, last_login, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := w.tx.ExecContext(
		ctx,
		query,
		user.ID,
		user.Username,
		user.Email,
		user.Name,
		user.LastName,
		user.Role,
		user.PasswordHash,
		user.Verified,
		user.LastLogin,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.User{}, fmt.Errorf("%w: username or email already registered", ErrDuplicate)
		}
		return types.User{}, err
	}
	return user, nil
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Name,
		&user.LastName,
		&user.Role,
		&user.PasswordHash,
		&user.Verified,
		&user.LastLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}

func execAffectingOne(ctx context.Context, conn *sql.DB, query string, args ...any) error {
	result, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
