// Package dosingwindow evaluates the clinically mandated time-of-day range
// within which a dose may be verified. The window is always evaluated in the
// patient's registered timezone: evaluating in server time silently shifts the
// window for remote patients, which is a correctness bug, not a preference.
package dosingwindow

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time without a date.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Valid reports whether the value is a real wall-clock time.
func (t TimeOfDay) Valid() bool {
	return t.Hour >= 0 && t.Hour <= 23 && t.Minute >= 0 && t.Minute <= 59
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

// Window is a daily dosing window. Start == End is rejected at settings load;
// Start > End wraps midnight (e.g. 22:00-02:00).
type Window struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// IsOpen reports whether now falls inside the window, evaluated in loc.
// Both bounds are inclusive at the start and exclusive at the end.
func IsOpen(now time.Time, w Window, loc *time.Location) bool {
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()
	start, end := w.Start.minutes(), w.End.minutes()
	if start < end {
		return cur >= start && cur < end
	}
	// Overnight window.
	return cur >= start || cur < end
}

// Remaining returns the time left until the window closes, or zero when the
// window is closed.
func Remaining(now time.Time, w Window, loc *time.Location) time.Duration {
	if !IsOpen(now, w, loc) {
		return 0
	}
	local := now.In(loc)
	closeAt := time.Date(local.Year(), local.Month(), local.Day(), w.End.Hour, w.End.Minute, 0, 0, loc)
	if !closeAt.After(local) {
		// Overnight window closing tomorrow.
		closeAt = closeAt.AddDate(0, 0, 1)
	}
	return closeAt.Sub(local)
}
