package application

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	empty := &ValidationError{}
	if got := empty.Error(); got != "validation failed" {
		t.Fatalf("expected generic message for empty error, got %q", got)
	}

	withFields := &ValidationError{FieldErrors: map[string]string{"title": "required", "endAt": "invalid"}}
	if got := withFields.Error(); got != "validation failed: endAt, title" {
		t.Fatalf("expected sorted field list, got %q", got)
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	var nilErr *ValidationError
	if nilErr.HasErrors() {
		t.Fatalf("expected nil error to report no errors")
	}
	if (&ValidationError{}).HasErrors() {
		t.Fatalf("expected HasErrors to report false for empty error")
	}
	if !(&ValidationError{FieldErrors: map[string]string{"field": "bad"}}).HasErrors() {
		t.Fatalf("expected HasErrors to report true when fields are present")
	}
}

func TestValidationError_AddKeepsFirstMessage(t *testing.T) {
	t.Parallel()

	v := &ValidationError{}
	v.add("duration", "duration must be positive")
	v.add("duration", "duration must not exceed 480 minutes")
	if got := v.FieldErrors["duration"]; got != "duration must be positive" {
		t.Fatalf("expected first message to win, got %q", got)
	}
}

func TestConflictErrorMatchesSentinel(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("book: %w", &ConflictError{DoctorID: "doctor-1", ConsultationIDs: []string{"c-1"}})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ConflictError to match ErrConflict")
	}
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.ConsultationIDs[0] != "c-1" {
		t.Fatalf("expected ConflictError details to survive wrapping")
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrUnauthorized, "unauthorized"},
		{ErrForbidden, "forbidden"},
		{fmt.Errorf("wrap: %w", ErrNotFound), "not_found"},
		{&ConflictError{DoctorID: "d"}, "conflict"},
		{ErrInvalidTransition, "invalid_transition"},
		{&ValidationError{FieldErrors: map[string]string{"a": "b"}}, "validation"},
		{&TransientDeliveryError{Op: "notification.deliver", Err: errors.New("down")}, "transient_delivery"},
		{context.Canceled, "canceled"},
		{errors.New("boom"), "unexpected"},
	}
	for _, tc := range cases {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Errorf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
