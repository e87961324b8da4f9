/*
balance.go - Balance arithmetic and invariants

PURPOSE:
  Computes an entry's balance from its amounts and checks the invariants
  every mutation must preserve. This is the central calculation that
  answers "how much does this parent still owe?"

BALANCE FORMULA:
  Balance = Amount - Adjustment - AmountPaid

  Waived entries are exempt: their balance is forced to zero while
  AmountPaid keeps the sum of real payments.

INVARIANTS:
  1. Balance >= 0
  2. 0 <= Adjustment <= Amount
  3. Balance == Amount - Adjustment - AmountPaid (unless waived)
  4. IsPaid == (Balance == 0 && !IsWaived)
  5. Status == DeriveStatus(flags)

EXAMPLE:
  Contribution of 1000 with a 100 discount, 400 paid:
    Balance = 1000 - 100 - 400 = 500 -> PARTIAL

SEE ALSO:
  - payment.go: Applies payments against the balance
  - status.go: Status derivation
*/
package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ComputeBalance returns Amount - Adjustment - AmountPaid.
func ComputeBalance(amount, adjustment, paid decimal.Decimal) decimal.Decimal {
	return amount.Sub(adjustment).Sub(paid)
}

// recompute refreshes the balance and every derived flag of an open entry.
func recompute(e Entry) Entry {
	if e.IsWaived {
		e.Balance = decimal.Zero
		e.Status = StatusWaived
		return e
	}
	e.Balance = ComputeBalance(e.Amount, e.Adjustment, e.AmountPaid)
	e.IsPaid = e.Balance.IsZero()
	if e.IsPaid {
		e.IsOverdue = false
		e.DaysOverdue = 0
	}
	e.Status = StatusOf(e)
	return e
}

// CheckInvariants verifies that an entry is internally consistent.
func CheckInvariants(e Entry) error {
	if e.Balance.IsNegative() {
		return fmt.Errorf("entry %s: negative balance %s", e.ID, e.Balance)
	}
	if e.Adjustment.IsNegative() || e.Adjustment.GreaterThan(e.Amount) {
		return fmt.Errorf("entry %s: adjustment %s outside [0, %s]", e.ID, e.Adjustment, e.Amount)
	}
	if e.AmountPaid.IsNegative() {
		return fmt.Errorf("entry %s: negative amount paid %s", e.ID, e.AmountPaid)
	}
	if e.IsWaived {
		if !e.Balance.IsZero() {
			return fmt.Errorf("entry %s: waived with balance %s", e.ID, e.Balance)
		}
	} else {
		want := ComputeBalance(e.Amount, e.Adjustment, e.AmountPaid)
		if !want.Equal(e.Balance) {
			return fmt.Errorf("entry %s: balance %s, want %s", e.ID, e.Balance, want)
		}
		if e.IsPaid != e.Balance.IsZero() {
			return fmt.Errorf("entry %s: isPaid=%v with balance %s", e.ID, e.IsPaid, e.Balance)
		}
	}
	if got := StatusOf(e); got != e.Status {
		return fmt.Errorf("entry %s: status %s, derived %s", e.ID, e.Status, got)
	}
	return nil
}
