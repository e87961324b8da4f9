package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SETTINGS - Association-wide configuration, passed explicitly
// =============================================================================

// Settings holds the association-wide values read by entry construction.
// It is fetched once per operation from the store and threaded through as a
// value; nothing in the engine caches it.
type Settings struct {
	Currency string

	// PenaltyRates gives the default penalty amount per penalty category.
	PenaltyRates map[Category]decimal.Decimal

	// QuorumPercentage is the share of parents required for a meeting to be
	// valid. Absence penalties are only issued for quorate meetings.
	QuorumPercentage int

	// Default number of days between issuing an entry and its due date.
	// Zero leaves the due date empty.
	PenaltyDueDays      int
	ContributionDueDays int

	UpdatedBy string
	UpdatedAt time.Time
}

// PenaltyRate returns the configured rate for a penalty category.
func (s Settings) PenaltyRate(c Category) (decimal.Decimal, bool) {
	rate, ok := s.PenaltyRates[c]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, false
	}
	return rate, true
}

// DefaultDueDate derives a due date from a day offset. Returns nil for offsets <= 0.
func DefaultDueDate(now time.Time, days int) *time.Time {
	if days <= 0 {
		return nil
	}
	due := AddDays(StartOfDay(now), days)
	return &due
}
