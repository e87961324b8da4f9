/*
payment.go - Payment applier

PURPOSE:
  Validates and applies a partial or full payment against an entry.

PRECONDITIONS (checked in this order):
  1. Entry is not already paid       -> InvalidState "already fully paid"
  2. Entry is not waived             -> InvalidState
  3. Amount > 0                      -> Validation error
  4. Amount <= Balance               -> InvalidState with remaining balance

EFFECT:
  AmountPaid += amount
  Balance    -= amount
  IsPaid      = Balance == 0
  IsOverdue   = false (any successful payment clears overdue, even partial)
  Status      = PAID or PARTIAL

ATOMICITY:
  ApplyPayment is pure. Ledger.ApplyPayment runs it inside Store.WithTx
  together with the payment insert and a versioned entry update.

SEE ALSO:
  - ledger.go: Ledger.ApplyPayment
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// CheckPayable returns the reason an entry cannot accept a payment of amount.
func CheckPayable(e Entry, amount decimal.Decimal) error {
	if e.IsPaid {
		return invalidState(e.ID, CodeAlreadyPaid, "already fully paid")
	}
	if e.IsWaived {
		return invalidState(e.ID, CodeWaived, "cannot pay a waived entry")
	}
	if !amount.IsPositive() {
		return invalidState(e.ID, CodeInvalidAmount, "payment amount must be greater than zero")
	}
	if amount.GreaterThan(e.Balance) {
		err := invalidState(e.ID, CodeExceedsBalance, "payment amount exceeds remaining balance")
		balance := e.Balance
		err.Balance = &balance
		return err
	}
	return nil
}

// ApplyPayment returns the entry after applying amount. The input is not modified.
func ApplyPayment(e Entry, amount decimal.Decimal, at time.Time) (Entry, error) {
	if err := CheckPayable(e, amount); err != nil {
		return e, err
	}

	e.AmountPaid = e.AmountPaid.Add(amount)
	e.Balance = e.Balance.Sub(amount)
	e.IsPaid = e.Balance.IsZero()
	e.IsOverdue = false
	e.DaysOverdue = 0
	e.Status = StatusOf(e)
	e.UpdatedAt = at
	return e, nil
}
