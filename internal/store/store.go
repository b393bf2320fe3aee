// Package store persists the inventory, parties, sales and payments in SQLite.
// Monetary columns are TEXT holding decimal strings and are scanned straight
// into decimal.Decimal.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalid wraps input validation failures.
	ErrInvalid = errors.New("invalid input")
	// ErrDiamondUnavailable is returned when a stone is already sold.
	ErrDiamondUnavailable = errors.New("diamond is not available")
	// ErrInUse is returned when deleting a record other records still reference.
	ErrInUse = errors.New("record is in use")
)

// Store is the SQLite-backed repository.
type Store struct {
	db *sql.DB
}

// New wraps an open database. Migrations must already be applied.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func notFound(what string, id int64) error {
	return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
}

func checkAffected(result sql.Result, what string, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for %s: %w", what, err)
	}
	if affected == 0 {
		return notFound(what, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
