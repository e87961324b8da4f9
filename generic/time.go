package generic

import (
	"time"
)

// =============================================================================
// CLOCK - Every "now" in the engine goes through this
// =============================================================================

type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Tests move it by assigning At.
type FixedClock struct {
	At time.Time
}

func (c *FixedClock) Now() time.Time { return c.At }

// Advance moves a fixed clock forward.
func (c *FixedClock) Advance(d time.Duration) { c.At = c.At.Add(d) }

// =============================================================================
// TIME UTILITIES
// =============================================================================

const day = 24 * time.Hour

// DaysOverdue returns floor((now - due) / 1 day), or 0 when not yet due.
func DaysOverdue(due, now time.Time) int {
	if !now.After(due) {
		return 0
	}
	return int(now.Sub(due) / day)
}

// IsPastDue reports whether a due date exists and lies strictly before now.
func IsPastDue(due *time.Time, now time.Time) bool {
	return due != nil && due.Before(now)
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays returns t shifted by n calendar days.
func AddDays(t time.Time, n int) time.Time { return t.AddDate(0, 0, n) }
