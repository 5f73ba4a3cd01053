package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a unique key is already taken.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConflict is returned when a write would break a scheduling invariant,
	// such as overlapping consultations for the same doctor.
	ErrConflict = errors.New("persistence: conflicting record")
	// ErrRoomInactive is returned when a message targets a chat room that is
	// not active at the moment of the write.
	ErrRoomInactive = errors.New("persistence: chat room inactive")
	// ErrConstraintViolation is returned for check or foreign key failures.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
)
