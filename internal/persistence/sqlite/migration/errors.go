package migration

import (
	"errors"
	"fmt"
)

var (
	ErrMigrationFailed      = errors.New("migration: execution failed")
	ErrInvalidMigrationFile = errors.New("migration: invalid file")
	ErrInvalidVersion       = errors.New("migration: invalid version")
	ErrDuplicateVersion     = errors.New("migration: duplicate version")
	// ErrChecksumMismatch means an applied migration file was edited.
	ErrChecksumMismatch = errors.New("migration: checksum mismatch")
)

// Error records which migration and step failed. Version or Source may be
// empty when the failure is not tied to a single file.
type Error struct {
	Version string
	Source  string
	Op      string
	Err     error
}

func newError(version, source, op string, err error) *Error {
	return &Error{Version: version, Source: source, Op: op, Err: err}
}

func (e *Error) Error() string {
	subject := e.Version
	if subject == "" {
		subject = "schema"
	}
	if e.Source != "" {
		subject += " (" + e.Source + ")"
	}
	return fmt.Sprintf("migration %s: %s: %v", subject, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
