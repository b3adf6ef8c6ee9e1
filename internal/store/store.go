// Package store persists users, family access grants, consent records,
// and invitation codes over SQLite.
package store

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a write references a row that does
	// not exist.
	ErrNotFound = errors.New("not found")

	// Invitation redemption failures, in the order they are checked.
	ErrCodeInvalid   = errors.New("invitation code invalid")
	ErrCodeExpired   = errors.New("invitation code expired")
	ErrCodeExhausted = errors.New("invitation code exhausted")
)

// The sqlite driver reports constraint violations as plain errors with a
// stable message prefix, so classification is by substring.

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
