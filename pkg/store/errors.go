// Package store implements the event store and query service described in
// spec.md §4.3: idempotent batched insertion, correlation/trace/account/
// batch/search queries, and the correlation-link table.
package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when an explicit identifier lookup has no match.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a unique-constraint violation other than
	// the idempotency-key index is detected.
	ErrConflict = errors.New("unique constraint violation")
)

// postgres unique_violation SQLSTATE. Equivalent in spirit to the MSSQL
// error numbers 2601/2627 named in spec.md §4.3.
const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation, and if so, which constraint name triggered it.
func isUniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}
