package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique constraint rejects a write.
var ErrDuplicate = errors.New("duplicate record")

// ErrCodeInUse is returned when an access code is already held by an active
// authorization.
var ErrCodeInUse = errors.New("access code in use")

// ErrAlreadyUsed is returned when a conditional validation finds the
// authorization already validated.
var ErrAlreadyUsed = errors.New("authorization already used")

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
