package generic

// =============================================================================
// STATUS DERIVATION - Single source of truth for both kinds
// =============================================================================

// DeriveStatus computes the lifecycle status from an entry's flags.
//
// Precedence: WAIVED > PAID > PARTIAL > OVERDUE > PENDING.
//
// A partially paid entry that is past due stays PARTIAL; the overdue
// condition is reported through the independent IsOverdue flag so the
// partial-payment information is never lost.
//
//	PENDING --(payment, partial)--> PARTIAL
//	PENDING --(payment, full)-----> PAID
//	PENDING --(sweep)-------------> OVERDUE
//	PARTIAL --(payment, full)-----> PAID
//	PARTIAL --(sweep)-------------> PARTIAL, IsOverdue=true
//	OVERDUE --(payment, partial)--> PARTIAL
//	OVERDUE --(payment, full)-----> PAID
//	any open --(waive)------------> WAIVED
func DeriveStatus(isPaid, isWaived, isOverdue, hasPartialPayment bool) Status {
	switch {
	case isWaived:
		return StatusWaived
	case isPaid:
		return StatusPaid
	case hasPartialPayment:
		return StatusPartial
	case isOverdue:
		return StatusOverdue
	default:
		return StatusPending
	}
}

// StatusOf derives the status of an entry from its current flags.
func StatusOf(e Entry) Status {
	return DeriveStatus(e.IsPaid, e.IsWaived, e.IsOverdue, e.HasPartialPayment())
}
