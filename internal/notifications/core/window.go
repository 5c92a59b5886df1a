package core

import (
	"fmt"
	"time"

	"smsrelay/internal/types"
)

// timeOfDay is a wall-clock time with minute precision.
type timeOfDay struct {
	hour   int
	minute int
}

// clockLayout is HH:MM on a 24-hour clock.
const clockLayout = "15:04"

// parseTimeOfDay parses exactly "HH:MM": two-digit hour and minute, nothing
// before or after.
func parseTimeOfDay(s string) (timeOfDay, error) {
	if len(s) != len(clockLayout) {
		return timeOfDay{}, fmt.Errorf("expected HH:MM format, got %q", s)
	}
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return timeOfDay{}, fmt.Errorf("expected HH:MM format, got %q: %w", s, err)
	}
	return timeOfDay{hour: t.Hour(), minute: t.Minute()}, nil
}

// on returns t on the calendar day of day, in day's location.
func (t timeOfDay) on(day time.Time) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d, t.hour, t.minute, 0, 0, day.Location())
}

// WindowEvaluator decides whether an instant falls inside a daily send window.
type WindowEvaluator struct {
	loc *time.Location
}

// NewWindowEvaluator evaluates windows in loc; nil means UTC.
func NewWindowEvaluator(loc *time.Location) *WindowEvaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &WindowEvaluator{loc: loc}
}

// InWindow reports whether now lies in [start, end], both bounds inclusive,
// with start and end placed on now's calendar day in the evaluator's zone.
// A window whose end is earlier than its start (crossing midnight) never
// matches. Unparseable bounds yield false and a validation error.
func (w *WindowEvaluator) InWindow(now time.Time, start, end string) (bool, error) {
	s, err := parseTimeOfDay(start)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeValidationTimeWindow, "invalid send window start", err)
	}
	e, err := parseTimeOfDay(end)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeValidationTimeWindow, "invalid send window end", err)
	}

	local := now.In(w.loc)
	return !local.Before(s.on(local)) && !local.After(e.on(local)), nil
}
