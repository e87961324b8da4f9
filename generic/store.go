/*
store.go - Persistence interface for entries, payments and audit

PURPOSE:
  Defines the interface between the engine and the database. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:    Entry CRUD, payment append, aggregation, settings
  TxStore:  Transactional operations (atomic multi-table writes)
  AuditLog: Append-only audit trail

PAYMENTS ARE APPEND-ONLY:
  - AppendPayment(): the only payment write
  - NO update or delete of payments exists

OPTIMISTIC CONCURRENCY:
  UpdateEntry takes the version the caller read. If the stored row has a
  different version, the write is rejected with ErrConcurrentModification.
  Two payments racing against the same balance therefore cannot both
  succeed: the loser's transaction rolls back.

ATOMIC WRITES:
  WithTx() ensures all-or-nothing semantics. Recording a payment appends
  the payment, updates the entry and writes an audit row; either all three
  land or none do.

IMPLEMENTATIONS:
  - store/sqldb: SQLite/PostgreSQL via sqlx
  - generic/store: In-memory for testing

SEE ALSO:
  - ledger.go: Service using Store
*/
package generic

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE - Interface for entry persistence
// =============================================================================

type Store interface {
	AuditLog

	// CreateEntry persists a new entry. The entry must carry its ID.
	CreateEntry(ctx context.Context, e Entry) error

	// GetEntry returns the entry or an error wrapping ErrNotFound.
	GetEntry(ctx context.Context, id EntryID) (*Entry, error)

	// ListEntries returns one page of matching entries (newest first) and the total match count.
	ListEntries(ctx context.Context, f EntryFilter) ([]Entry, int, error)

	// AllEntries returns every matching entry, ignoring pagination.
	AllEntries(ctx context.Context, f EntryFilter) ([]Entry, error)

	// UpdateEntry writes e if the stored version equals expectedVersion,
	// storing e with Version = expectedVersion+1.
	UpdateEntry(ctx context.Context, e Entry, expectedVersion int) error

	// DeleteEntry removes an entry.
	DeleteEntry(ctx context.Context, id EntryID) error

	// AppendPayment persists a payment. Payments are never modified.
	AppendPayment(ctx context.Context, p Payment) error

	// ListPayments returns an entry's payments, oldest first.
	ListPayments(ctx context.Context, id EntryID) ([]Payment, error)

	// CountPayments returns how many payments an entry has.
	CountPayments(ctx context.Context, id EntryID) (int, error)

	// OverdueCandidates returns open, not yet flagged entries due before now.
	OverdueCandidates(ctx context.Context, kind *Kind, now time.Time) ([]Entry, error)

	// Summarize groups matching entries by kind and status.
	Summarize(ctx context.Context, f EntryFilter) ([]SummaryRow, error)

	// GetSettings returns the stored settings, or ok=false if none were saved.
	GetSettings(ctx context.Context) (Settings, bool, error)

	// SaveSettings replaces the stored settings.
	SaveSettings(ctx context.Context, s Settings) error
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// SummaryRow is one group of a grouped aggregation.
type SummaryRow struct {
	Kind       Kind
	Status     Status
	Count      int
	Amount     decimal.Decimal
	AmountPaid decimal.Decimal
	Balance    decimal.Decimal
}

// =============================================================================
// AUDIT LOG - Tracks who did what when
// =============================================================================

type AuditEntry struct {
	ID        string
	Timestamp time.Time
	ActorID   string
	Action    AuditAction
	EntryID   EntryID
	Kind      Kind
	Payload   map[string]any
}

type AuditAction string

const (
	AuditEntryCreated   AuditAction = "entry_created"
	AuditEntryUpdated   AuditAction = "entry_updated"
	AuditEntryDeleted   AuditAction = "entry_deleted"
	AuditPaymentRecord  AuditAction = "payment_recorded"
	AuditEntryWaived    AuditAction = "entry_waived"
	AuditFlaggedOverdue AuditAction = "entry_flagged_overdue"
	AuditSettingsSaved  AuditAction = "settings_saved"
)

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	EntryID *EntryID
	ActorID *string
	Actions []AuditAction
	From    *time.Time
	To      *time.Time
	Limit   int
}

// Matches applies the filter to a single audit entry.
func (f AuditFilter) Matches(a AuditEntry) bool {
	if f.EntryID != nil && a.EntryID != *f.EntryID {
		return false
	}
	if f.ActorID != nil && a.ActorID != *f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, act := range f.Actions {
			if act == a.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && a.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && a.Timestamp.After(*f.To) {
		return false
	}
	return true
}
