package store

import (
	"context"
	"database/sql"
	"sync/atomic"
)

// PostgresSequence draws authorization numbers from a database sequence.
type PostgresSequence struct {
	db   *sql.DB
	name string
}

func NewPostgresSequence(db *sql.DB) *PostgresSequence {
	return &PostgresSequence{db: db, name: "authorization_number_seq"}
}

func (s *PostgresSequence) Next(ctx context.Context) (int64, error) {
	var next int64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval($1::regclass)`, s.name).Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

// MemorySequence is a process-local counter starting at 1.
type MemorySequence struct {
	last atomic.Int64
}

func NewMemorySequence() *MemorySequence {
	return &MemorySequence{}
}

func (s *MemorySequence) Next(context.Context) (int64, error) {
	return s.last.Add(1), nil
}
