package scheduler

import "time"

// Booking is an interval a doctor is committed to.
type Booking struct {
	ID       string
	DoctorID string
	Start    time.Time
	End      time.Time
}

// Conflict details an overlapping booking that callers can present to users.
type Conflict struct {
	WithBookingID string
	DoctorID      string
	Start         time.Time
	End           time.Time
}

// Overlaps reports whether two closed intervals intersect. Touching endpoints
// count as an overlap, so back-to-back bookings conflict.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !aEnd.Before(bStart)
}

// DetectConflicts identifies bookings of the candidate's doctor whose interval
// intersects the candidate. Callers pass only bookings that still occupy the
// doctor (pending or ongoing); a booking with the candidate's ID is ignored.
func DetectConflicts(existing []Booking, candidate Booking) []Conflict {
	var conflicts []Conflict
	for _, booking := range existing {
		if booking.DoctorID != candidate.DoctorID {
			continue
		}
		if candidate.ID != "" && booking.ID == candidate.ID {
			continue
		}
		if !Overlaps(booking.Start, booking.End, candidate.Start, candidate.End) {
			continue
		}
		conflicts = append(conflicts, Conflict{
			WithBookingID: booking.ID,
			DoctorID:      booking.DoctorID,
			Start:         booking.Start,
			End:           booking.End,
		})
	}
	return conflicts
}
