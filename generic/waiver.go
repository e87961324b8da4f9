package generic

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WAIVER APPLIER
// =============================================================================

// Waive zeroes an open entry's balance and marks it exempt. Irreversible.
//
// AmountPaid keeps the sum of payments actually received, so the payment
// sum invariant still holds after a partial payment is waived.
func Waive(e Entry, reason, actor string, at time.Time) (Entry, error) {
	if e.IsPaid {
		return e, invalidState(e.ID, CodeCannotWaivePaid, "cannot waive a paid entity")
	}
	if e.IsWaived {
		return e, invalidState(e.ID, CodeAlreadyWaived, "entity is already waived")
	}
	if strings.TrimSpace(reason) == "" {
		return e, NewValidationError("reason", "this field is required")
	}

	waivedAt := at
	e.IsWaived = true
	e.WaivedAt = &waivedAt
	e.WaivedBy = actor
	e.WaiverReason = strings.TrimSpace(reason)
	e.Balance = decimal.Zero
	e.IsOverdue = false
	e.DaysOverdue = 0
	e.Status = StatusWaived
	e.UpdatedAt = at
	return e, nil
}
