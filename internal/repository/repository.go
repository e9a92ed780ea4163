// Package repository is the hand-written Postgres data-access layer for
// the auth subsystem. Column names and uniqueness constraints mirror the
// persisted schema contract; there is deliberately no ORM or reflective
// metadata tags — each query is spelled out per entity.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

var ErrNotFound = errors.New("record not found")
var ErrConflict = errors.New("unique constraint violated")

// Repository bundles a *sql.DB with the per-entity query sets. It is split
// across users.go, keys.go, otp.go, bans.go so each file stays close to a
// single table.
type Repository struct {
	db *sql.DB
}

func New(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// isUniqueViolation recognizes lib/pq's unique_violation SQLSTATE (23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func mapNoRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
