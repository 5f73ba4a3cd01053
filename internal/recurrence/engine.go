package recurrence

import (
	"errors"
	"strings"
	"time"
)

// Frequency represents supported reminder repeat intervals.
type Frequency int

const (
	// FrequencyUnspecified indicates the rule frequency is not set.
	FrequencyUnspecified Frequency = iota
	// FrequencyOnce fires a single time.
	FrequencyOnce
	// FrequencyDaily fires at most once per UTC calendar date.
	FrequencyDaily
	// FrequencyWeekly fires once at least seven days have passed.
	FrequencyWeekly
	// FrequencyMonthly fires at most once per calendar month in the engine location.
	FrequencyMonthly
)

// ErrInvalidFrequency indicates the recurrence frequency is not supported.
var ErrInvalidFrequency = errors.New("recurrence: invalid frequency")

// ParseFrequency maps a stored repeat type such as "DAILY" to a Frequency.
func ParseFrequency(value string) (Frequency, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "ONCE":
		return FrequencyOnce, nil
	case "DAILY":
		return FrequencyDaily, nil
	case "WEEKLY":
		return FrequencyWeekly, nil
	case "MONTHLY":
		return FrequencyMonthly, nil
	default:
		return FrequencyUnspecified, ErrInvalidFrequency
	}
}

func (f Frequency) String() string {
	switch f {
	case FrequencyOnce:
		return "ONCE"
	case FrequencyDaily:
		return "DAILY"
	case FrequencyWeekly:
		return "WEEKLY"
	case FrequencyMonthly:
		return "MONTHLY"
	default:
		return "UNSPECIFIED"
	}
}

// Rule is the subset of a reminder the engine needs to decide whether it is due.
type Rule struct {
	Frequency Frequency
	Active    bool
	StartAt   time.Time
	EndAt     *time.Time
	LastRunAt *time.Time
}

const week = 7 * 24 * time.Hour

// Engine evaluates whether reminders are due.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that compares monthly periods in loc.
// If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// ShouldRun reports whether rule is due at now.
//
// A rule is never due while inactive, before StartAt or after EndAt. A rule
// that has never run is due. Otherwise the decision depends on the frequency:
//   - ONCE never runs again.
//   - DAILY runs when the UTC calendar date differs from the last run.
//   - WEEKLY runs when at least seven days elapsed since the last run.
//   - MONTHLY runs when the calendar month or year differs in the engine location.
func (e *Engine) ShouldRun(rule Rule, now time.Time) bool {
	if !rule.Active {
		return false
	}
	if rule.StartAt.After(now) {
		return false
	}
	if rule.EndAt != nil && rule.EndAt.Before(now) {
		return false
	}
	if rule.LastRunAt == nil {
		return true
	}

	last := *rule.LastRunAt
	switch rule.Frequency {
	case FrequencyDaily:
		return !sameDate(last.UTC(), now.UTC())
	case FrequencyWeekly:
		return now.Sub(last) >= week
	case FrequencyMonthly:
		loc := e.location
		if loc == nil {
			loc = time.UTC
		}
		l, n := last.In(loc), now.In(loc)
		return l.Year() != n.Year() || l.Month() != n.Month()
	case FrequencyOnce:
		return false
	default:
		return false
	}
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
