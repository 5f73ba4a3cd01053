package scheduler

import (
	"testing"
	"time"
)

func TestDetectConflicts(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, time.March, 4, 10, 0, 0, 0, time.UTC)
	existing := []Booking{
		{ID: "c-1", DoctorID: "doc-1", Start: base, End: base.Add(30 * time.Minute)},
		{ID: "c-2", DoctorID: "doc-2", Start: base, End: base.Add(time.Hour)},
	}

	t.Run("partial overlap produces conflict", func(t *testing.T) {
		t.Parallel()
		candidate := Booking{DoctorID: "doc-1", Start: base.Add(15 * time.Minute), End: base.Add(45 * time.Minute)}
		conflicts := DetectConflicts(existing, candidate)
		if len(conflicts) != 1 || conflicts[0].WithBookingID != "c-1" {
			t.Fatalf("expected conflict with c-1, got %+v", conflicts)
		}
	})

	t.Run("touching endpoints conflict", func(t *testing.T) {
		t.Parallel()
		candidate := Booking{DoctorID: "doc-1", Start: base.Add(30 * time.Minute), End: base.Add(time.Hour)}
		if conflicts := DetectConflicts(existing, candidate); len(conflicts) != 1 {
			t.Fatalf("expected back-to-back booking to conflict, got %+v", conflicts)
		}
	})

	t.Run("other doctors are ignored", func(t *testing.T) {
		t.Parallel()
		candidate := Booking{DoctorID: "doc-3", Start: base, End: base.Add(time.Hour)}
		if conflicts := DetectConflicts(existing, candidate); len(conflicts) != 0 {
			t.Fatalf("expected no conflicts, got %+v", conflicts)
		}
	})

	t.Run("non-overlapping bookings yield no conflicts", func(t *testing.T) {
		t.Parallel()
		candidate := Booking{DoctorID: "doc-1", Start: base.Add(31 * time.Minute), End: base.Add(time.Hour)}
		if conflicts := DetectConflicts(existing, candidate); len(conflicts) != 0 {
			t.Fatalf("expected no conflicts, got %+v", conflicts)
		}
	})

	t.Run("candidate does not conflict with itself", func(t *testing.T) {
		t.Parallel()
		candidate := Booking{ID: "c-1", DoctorID: "doc-1", Start: base, End: base.Add(30 * time.Minute)}
		if conflicts := DetectConflicts(existing, candidate); len(conflicts) != 0 {
			t.Fatalf("expected no conflicts, got %+v", conflicts)
		}
	})
}
