package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnauthorized is returned when no authenticated principal is present.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrForbidden is returned when the principal lacks the role or ownership for an operation.
	ErrForbidden = errors.New("application: forbidden")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrConflict is matched by ConflictError.
	ErrConflict = errors.New("application: schedule conflict")
	// ErrInvalidTransition is returned for a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("application: invalid status transition")
)

// ConflictError reports a booking that overlaps existing consultations of the doctor.
type ConflictError struct {
	DoctorID        string
	ConsultationIDs []string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.ConsultationIDs) == 0 {
		return fmt.Sprintf("doctor %s already has a consultation in this time range", e.DoctorID)
	}
	return fmt.Sprintf("doctor %s already has a consultation in this time range: %s", e.DoctorID, strings.Join(e.ConsultationIDs, ", "))
}

// Is reports ErrConflict as a match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// TransientDeliveryError wraps a push transport failure that should be retried.
type TransientDeliveryError struct {
	Op  string
	Err error
}

func (e *TransientDeliveryError) Error() string {
	return fmt.Sprintf("%s: transient delivery failure: %v", e.Op, e.Err)
}

func (e *TransientDeliveryError) Unwrap() error { return e.Err }

// SweepItemError records a failure for one item of a sweep. The sweep continues past it.
type SweepItemError struct {
	ID  string
	Err error
}

func (e SweepItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}

func (e SweepItemError) Unwrap() error { return e.Err }

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error. The first message for a field wins.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	if _, exists := v.FieldErrors[field]; exists {
		return
	}
	v.FieldErrors[field] = message
}
