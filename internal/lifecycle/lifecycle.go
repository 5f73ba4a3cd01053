// Package lifecycle holds the consultation state machine: the legal status
// edges and the decision the periodic sweep takes for a single consultation.
package lifecycle

import (
	"time"

	"github.com/example/teleconsult/internal/persistence"
)

// Action is the sweep decision for one consultation.
type Action int

const (
	// ActionNone leaves the consultation untouched.
	ActionNone Action = iota
	// ActionStart moves a pending consultation to ongoing and opens its room.
	ActionStart
	// ActionComplete moves an ongoing consultation to completed and closes its room.
	ActionComplete
	// ActionCancel moves a pending consultation whose window passed to cancelled.
	ActionCancel
)

func (a Action) String() string {
	switch a {
	case ActionStart:
		return "start"
	case ActionComplete:
		return "complete"
	case ActionCancel:
		return "cancel"
	default:
		return "none"
	}
}

var edges = map[persistence.ConsultationStatus][]persistence.ConsultationStatus{
	persistence.ConsultationPending: {persistence.ConsultationOngoing, persistence.ConsultationCancelled},
	persistence.ConsultationOngoing: {persistence.ConsultationCompleted},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to persistence.ConsultationStatus) bool {
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no edge leaves status.
func Terminal(status persistence.ConsultationStatus) bool {
	return len(edges[status]) == 0
}

// Active reports whether a consultation in status still occupies its doctor.
func Active(status persistence.ConsultationStatus) bool {
	return status == persistence.ConsultationPending || status == persistence.ConsultationOngoing
}

// EndAt computes the end of a consultation from its start and duration in minutes.
func EndAt(scheduledAt time.Time, durationMinutes int) time.Time {
	return scheduledAt.Add(time.Duration(durationMinutes) * time.Minute)
}

// Ended reports whether the consultation window has passed at now.
func Ended(c persistence.Consultation, now time.Time) bool {
	return !now.Before(c.EndAt)
}

// Plan returns the sweep action for c at now.
func Plan(c persistence.Consultation, now time.Time) Action {
	switch c.Status {
	case persistence.ConsultationPending:
		if Ended(c, now) {
			return ActionCancel
		}
		if !now.Before(c.ScheduledAt) {
			return ActionStart
		}
	case persistence.ConsultationOngoing:
		if Ended(c, now) {
			return ActionComplete
		}
	}
	return ActionNone
}

// Target returns the status an action moves a consultation to.
func Target(action Action) (from, to persistence.ConsultationStatus, ok bool) {
	switch action {
	case ActionStart:
		return persistence.ConsultationPending, persistence.ConsultationOngoing, true
	case ActionComplete:
		return persistence.ConsultationOngoing, persistence.ConsultationCompleted, true
	case ActionCancel:
		return persistence.ConsultationPending, persistence.ConsultationCancelled, true
	default:
		return "", "", false
	}
}
