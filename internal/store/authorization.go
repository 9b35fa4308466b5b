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

// accessCodeLockKey serializes access code assignment across connections.
const accessCodeLockKey int64 = 0x5148_0001

const authorizationColumns = `
	id, number, user_id, type, name, document, shipment_number, access_code,
	date_generated, expiration_time, guard_id, date_used`

// AuthorizationRepository handles persistence for authorizations.
type AuthorizationRepository struct {
	db *sql.DB
}

func NewAuthorizationRepository(db *sql.DB) *AuthorizationRepository {
	return &AuthorizationRepository{db: db}
}

// Create inserts an authorization. The access code is checked against active
// authorizations under a transaction-scoped advisory lock, so two concurrent
// creations cannot both claim the same code.
func (r *AuthorizationRepository) Create(ctx context.Context, auth types.Authorization) (types.Authorization, error) {
	err := db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, accessCodeLockKey); err != nil {
			return err
		}

		const inUseQuery = `
			SELECT EXISTS (
				SELECT 1 FROM authorizations
				WHERE access_code = $1
				  AND date_used IS NULL
				  AND expiration_time >= $2
			)`
		var inUse bool
		if err := tx.QueryRowContext(ctx, inUseQuery, auth.AccessCode, auth.DateGenerated).Scan(&inUse); err != nil {
			return err
		}
		if inUse {
			return ErrCodeInUse
		}

		const insertQuery = `
			INSERT INTO authorizations (
				id, number, user_id, type, name, document, shipment_number, access_code,
				date_generated, expiration_time, guard_id, date_used
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL, NULL)`
		_, err := tx.ExecContext(
			ctx,
			insertQuery,
			auth.ID,
			auth.Number,
			auth.UserID,
			string(auth.Type),
			auth.Name,
			nullInt64(auth.Document),
			auth.ShipmentNumber,
			auth.AccessCode,
			auth.DateGenerated,
			auth.ExpirationTime,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: authorization %s", ErrDuplicate, auth.ID)
		}
		return err
	})
	if err != nil {
		return types.Authorization{}, err
	}

	auth.GuardID = nil
	auth.DateUsed = nil
	return auth, nil
}

func (r *AuthorizationRepository) List(ctx context.Context) ([]types.Authorization, error) {
	query := `SELECT` + authorizationColumns + `
		FROM authorizations
		ORDER BY number`
	return r.queryList(ctx, query)
}

func (r *AuthorizationRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]types.Authorization, error) {
	query := `SELECT` + authorizationColumns + `
		FROM authorizations
		WHERE user_id = $1
		ORDER BY number`
	return r.queryList(ctx, query, userID)
}

func (r *AuthorizationRepository) GetByID(ctx context.Context, id uuid.UUID) (types.Authorization, error) {
	query := `SELECT` + authorizationColumns + `
		FROM authorizations
		WHERE id = $1`
	return scanAuthorization(r.db.QueryRowContext(ctx, query, id))
}

// GetByCode returns the authorization holding code. Codes are reused once an
// authorization is used or expired, so the pending row wins over historical
// ones, newest first.
func (r *AuthorizationRepository) GetByCode(ctx context.Context, code int, at time.Time) (types.Authorization, error) {
	query := `SELECT` + authorizationColumns + `
		FROM authorizations
		WHERE access_code = $1
		ORDER BY (date_used IS NULL AND expiration_time >= $2) DESC, date_generated DESC
		LIMIT 1`
	return scanAuthorization(r.db.QueryRowContext(ctx, query, code, at))
}

// ActiveCodes lists the access codes held by active authorizations at t.
func (r *AuthorizationRepository) ActiveCodes(ctx context.Context, at time.Time) ([]int, error) {
	const query = `
		SELECT access_code
		FROM authorizations
		WHERE date_used IS NULL
		  AND expiration_time >= $1`
	rows, err := r.db.QueryContext(ctx, query, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []int
	for rows.Next() {
		var code int
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

// MarkUsed validates the authorization only if it has not been validated yet.
// It returns ErrAlreadyUsed when another validation got there first and
// ErrNotFound when the row does not exist.
func (r *AuthorizationRepository) MarkUsed(ctx context.Context, id, guardID uuid.UUID, usedAt time.Time) (types.Authorization, error) {
	query := `
		UPDATE authorizations
		SET date_used = $2,
			guard_id = $3
		WHERE id = $1
		  AND date_used IS NULL
		RETURNING` + authorizationColumns
	auth, err := scanAuthorization(r.db.QueryRowContext(ctx, query, id, usedAt, guardID))
	if err == nil {
		return auth, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return types.Authorization{}, err
	}

	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return types.Authorization{}, getErr
	}
	return types.Authorization{}, ErrAlreadyUsed
}

// Delete removes the authorization and returns the deleted row.
func (r *AuthorizationRepository) Delete(ctx context.Context, id uuid.UUID) (types.Authorization, error) {
	query := `DELETE FROM authorizations WHERE id = $1 RETURNING` + authorizationColumns
	return scanAuthorization(r.db.QueryRowContext(ctx, query, id))
}

func (r *AuthorizationRepository) queryList(ctx context.Context, query string, args ...any) ([]types.Authorization, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	auths := make([]types.Authorization, 0)
	for rows.Next() {
		auth, err := scanAuthorization(rows)
		if err != nil {
			return nil, err
		}
		auths = append(auths, auth)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return auths, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuthorization(row rowScanner) (types.Authorization, error) {
	var (
		auth     types.Authorization
		kind     string
		document sql.NullInt64
		guardID  uuid.NullUUID
		dateUsed sql.NullTime
	)
	err := row.Scan(
		&auth.ID,
		&auth.Number,
		&auth.UserID,
		&kind,
		&auth.Name,
		&document,
		&auth.ShipmentNumber,
		&auth.AccessCode,
		&auth.DateGenerated,
		&auth.ExpirationTime,
		&guardID,
		&dateUsed,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Authorization{}, ErrNotFound
		}
		return types.Authorization{}, err
	}

	auth.Type = types.AuthorizationType(kind)
	if document.Valid {
		value := document.Int64
		auth.Document = &value
	}
	if guardID.Valid {
		value := guardID.UUID
		auth.GuardID = &value
	}
	if dateUsed.Valid {
		value := dateUsed.Time
		auth.DateUsed = &value
	}
	return auth, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
