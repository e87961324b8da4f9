/*
Package generic provides the core dues ledger engine.

PURPOSE:
  This package contains kind-agnostic types and algorithms for tracking
  money owed by parents to the association. Whether the obligation is a
  project levy (contribution) or a meeting-absence fine (penalty), the same
  engine handles balance arithmetic, payment application, waivers, overdue
  sweeps and reporting.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: A ledger entity (contribution or penalty row) with its balance
  - Payment: An immutable record of money received against an entry
  - Status: The derived lifecycle state of an entry
  - Kind/Category: What sort of obligation an entry is

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for every amount
  2. Derived state: Status and IsPaid are never set by hand (see status.go)
  3. Append-only payments: Payments are never modified or deleted
  4. Auditability: Every mutation records an actor (see store.go)

USAGE:
  entry := generic.Entry{
      Kind:      generic.KindContribution,
      Category:  "project_levy",
      SubjectID: "parent-123",
      Amount:    decimal.NewFromInt(1000),
  }
  created, err := ledger.Create(ctx, entry)

SEE ALSO:
  - status.go: Status derivation
  - payment.go: Payment applier
  - waiver.go: Waiver applier
  - sweep.go: Overdue sweeper
  - stats.go: Statistics aggregator
  - ledger.go: Service orchestrating the store
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntryID string
type PaymentID string
type SubjectID string

// Kind separates the two obligation families sharing the engine.
type Kind string

const (
	KindContribution Kind = "contribution"
	KindPenalty      Kind = "penalty"
)

func (k Kind) Valid() bool { return k == KindContribution || k == KindPenalty }

// Category is the kind-specific classification of an entry
// (e.g. "project_levy", "meeting_absence"). Domain packages register theirs.
type Category string

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending Status = "PENDING"
	StatusPartial Status = "PARTIAL"
	StatusPaid    Status = "PAID"
	StatusOverdue Status = "OVERDUE"
	StatusWaived  Status = "WAIVED"
)

// AllStatuses lists statuses in reporting order.
var AllStatuses = []Status{StatusPending, StatusPartial, StatusOverdue, StatusPaid, StatusWaived}

func (s Status) Valid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// =============================================================================
// ENTRY - A contribution or penalty row
// =============================================================================

type Entry struct {
	ID          EntryID
	Kind        Kind
	Category    Category
	SubjectID   SubjectID
	ReferenceID string // project id (contribution) or meeting id (penalty)
	Description string

	Amount     decimal.Decimal
	Adjustment decimal.Decimal // discount for contributions, adjustment for penalties
	AmountPaid decimal.Decimal
	Balance    decimal.Decimal

	DueDate     *time.Time
	IsPaid      bool
	IsOverdue   bool
	DaysOverdue int

	IsWaived     bool
	WaivedAt     *time.Time
	WaivedBy     string
	WaiverReason string

	Status  Status
	Version int

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPartialPayment reports whether some, but not all, of the entry has been paid.
func (e Entry) HasPartialPayment() bool {
	return e.AmountPaid.IsPositive() && !e.IsPaid
}

// Terminal reports whether the entry accepts no further mutation.
func (e Entry) Terminal() bool { return e.IsPaid || e.IsWaived }

// Net is the amount actually owed before payments.
func (e Entry) Net() decimal.Decimal { return e.Amount.Sub(e.Adjustment) }

// =============================================================================
// PAYMENT - Immutable, append-only
// =============================================================================

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodMobileMoney  PaymentMethod = "mobile_money"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCheque       PaymentMethod = "cheque"
	MethodCard         PaymentMethod = "card"
	MethodOther        PaymentMethod = "other"
)

var AllPaymentMethods = []PaymentMethod{
	MethodCash, MethodMobileMoney, MethodBankTransfer, MethodCheque, MethodCard, MethodOther,
}

func (m PaymentMethod) Valid() bool {
	for _, pm := range AllPaymentMethods {
		if m == pm {
			return true
		}
	}
	return false
}

type Payment struct {
	ID         PaymentID
	EntryID    EntryID
	Amount     decimal.Decimal
	Method     PaymentMethod
	Reference  string
	Notes      string
	RecordedBy string
	PaidAt     time.Time
}

// SumPayments totals payment amounts. Used to check the payment/amountPaid invariant.
func SumPayments(payments []Payment) decimal.Decimal {
	total := decimal.Zero
	for _, p := range payments {
		total = total.Add(p.Amount)
	}
	return total
}

// =============================================================================
// ENTRY PATCH - Generic field update
// =============================================================================

// EntryPatch lists the fields an administrator may change on an open entry.
// Nil fields are left unchanged.
type EntryPatch struct {
	Amount       *decimal.Decimal
	Adjustment   *decimal.Decimal
	DueDate      *time.Time
	ClearDueDate bool
	Description  *string
	Category     *Category
	ReferenceID  *string
}
