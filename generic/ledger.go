/*
ledger.go - Service orchestrating entries, payments and waivers

PURPOSE:
  The Ledger is the thin service in front of the Store. It loads rows,
  runs the pure appliers (payment.go, waiver.go, sweep.go) and writes the
  results back atomically together with an audit row.

CRITICAL INVARIANTS:
  1. Balance >= 0 after every operation
  2. Balance == Amount - Adjustment - AmountPaid (waived entries excepted)
  3. Sum of payments == AmountPaid
  4. Status is always derived, never assigned by callers
  5. Paid and waived entries are terminal

ATOMICITY:
  ApplyPayment and Waive run inside TxStore.WithTx. The entry update is
  versioned, so two payments racing on the same entry cannot both succeed:
  one of them fails with ErrConcurrentModification and rolls back.

EXAMPLE FLOW:
  1. Create contribution of 1000, discount 100    -> PENDING, balance 900
  2. Pay 400                                       -> PARTIAL, balance 500
  3. Pay 600                                       -> InvalidState, balance 500
  4. Pay 500                                       -> PAID, balance 0
  5. Waive                                         -> InvalidState

SEE ALSO:
  - store.go: Persistence interface
  - contribution/, penalty/: Build entries for each kind
*/
package generic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SystemActor is recorded as the actor of unattended operations (sweeps).
const SystemActor = "system"

// =============================================================================
// LEDGER - Service over a TxStore
// =============================================================================

type Ledger struct {
	store    TxStore
	clock    Clock
	logger   *slog.Logger
	defaults Settings
}

type Option func(*Ledger)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option { return func(l *Ledger) { l.clock = c } }

// WithLogger sets the logger used for sweep and audit failures.
func WithLogger(lg *slog.Logger) Option { return func(l *Ledger) { l.logger = lg } }

// WithDefaultSettings sets the settings returned before any are saved.
func WithDefaultSettings(s Settings) Option { return func(l *Ledger) { l.defaults = s } }

func NewLedger(store TxStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		clock:  SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) now() time.Time { return l.clock.Now() }

// Store exposes the underlying store to callers that need raw access (seeding).
func (l *Ledger) Store() TxStore { return l.store }

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time { return l.now() }

// audit appends an audit row through s, logging failures instead of returning them.
func (l *Ledger) audit(ctx context.Context, s Store, a AuditEntry) {
	if err := s.AppendAudit(ctx, l.stamp(a)); err != nil {
		l.logger.Error("audit append failed", "action", a.Action, "entry_id", a.EntryID, "error", err)
	}
}

func (l *Ledger) stamp(a AuditEntry) AuditEntry {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = l.now()
	}
	return a
}

// =============================================================================
// CREATE / READ
// =============================================================================

// Create validates and persists a new entry. Balance, IsPaid, the initial
// overdue state and Status are computed here; any values the caller put in
// those fields are ignored.
func (l *Ledger) Create(ctx context.Context, e Entry) (*Entry, error) {
	if err := validateNew(e); err != nil {
		return nil, err
	}

	now := l.now()
	if e.ID == "" {
		e.ID = EntryID(uuid.NewString())
	}
	e.AmountPaid = decimal.Zero
	e.IsWaived = false
	e.WaivedAt = nil
	e.WaivedBy = ""
	e.WaiverReason = ""
	e.IsOverdue = IsPastDue(e.DueDate, now)
	e.DaysOverdue = 0
	if e.IsOverdue {
		e.DaysOverdue = DaysOverdue(*e.DueDate, now)
	}
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	e = recompute(e)

	err := l.store.WithTx(ctx, func(tx Store) error {
		if err := tx.CreateEntry(ctx, e); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, l.stamp(AuditEntry{
			ActorID: e.CreatedBy,
			Action:  AuditEntryCreated,
			EntryID: e.ID,
			Kind:    e.Kind,
			Payload: map[string]any{"amount": e.Amount.String(), "category": string(e.Category)},
		}))
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func validateNew(e Entry) error {
	verr := &ValidationError{}
	if !e.Kind.Valid() {
		verr.Add("kind", "unknown kind")
	}
	if e.Category == "" {
		verr.Add("category", "this field is required")
	} else if e.Kind.Valid() && !CategoryBelongsTo(e.Kind, e.Category) {
		verr.Add("category", fmt.Sprintf("unknown %s category %q", e.Kind, e.Category))
	}
	if strings.TrimSpace(string(e.SubjectID)) == "" {
		verr.Add("userId", "this field is required")
	}
	if !e.Amount.IsPositive() {
		verr.Add("amount", "must be greater than zero")
	}
	if e.Adjustment.IsNegative() {
		verr.Add("adjustment", "must not be negative")
	} else if e.Adjustment.GreaterThan(e.Amount) {
		verr.Add("adjustment", "cannot exceed amount")
	}
	return verr.OrNil()
}

// Get returns one entry.
func (l *Ledger) Get(ctx context.Context, id EntryID) (*Entry, error) {
	return l.store.GetEntry(ctx, id)
}

// List returns one page of entries matching f.
func (l *Ledger) List(ctx context.Context, f EntryFilter) (*Page, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	items, total, err := l.store.ListEntries(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Entry{}
	}
	return &Page{Items: items, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

// Payments returns the payment history of an entry, oldest first.
func (l *Ledger) Payments(ctx context.Context, id EntryID) ([]Payment, error) {
	if _, err := l.store.GetEntry(ctx, id); err != nil {
		return nil, err
	}
	return l.store.ListPayments(ctx, id)
}

// =============================================================================
// UPDATE / DELETE
// =============================================================================

// Update applies an administrative patch to an open entry.
func (l *Ledger) Update(ctx context.Context, id EntryID, p EntryPatch, actor string) (*Entry, error) {
	var result Entry
	err := l.store.WithTx(ctx, func(tx Store) error {
		cur, err := tx.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		updated, err := applyPatch(*cur, p, l.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateEntry(ctx, updated, cur.Version); err != nil {
			return err
		}
		updated.Version = cur.Version + 1
		result = updated
		return tx.AppendAudit(ctx, l.stamp(AuditEntry{
			ActorID: actor,
			Action:  AuditEntryUpdated,
			EntryID: id,
			Kind:    cur.Kind,
			Payload: patchPayload(p),
		}))
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func applyPatch(e Entry, p EntryPatch, now time.Time) (Entry, error) {
	if e.IsPaid {
		return e, invalidState(e.ID, CodeTerminal, "cannot update a paid entity")
	}
	if e.IsWaived {
		return e, invalidState(e.ID, CodeTerminal, "cannot update a waived entity")
	}

	verr := &ValidationError{}
	if p.Amount != nil {
		if !p.Amount.IsPositive() {
			verr.Add("amount", "must be greater than zero")
		}
		e.Amount = *p.Amount
	}
	if p.Adjustment != nil {
		if p.Adjustment.IsNegative() {
			verr.Add("adjustment", "must not be negative")
		}
		e.Adjustment = *p.Adjustment
	}
	if p.Category != nil {
		if !CategoryBelongsTo(e.Kind, *p.Category) {
			verr.Add("category", fmt.Sprintf("unknown %s category %q", e.Kind, *p.Category))
		}
		e.Category = *p.Category
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.ReferenceID != nil {
		e.ReferenceID = *p.ReferenceID
	}
	if p.ClearDueDate {
		e.DueDate = nil
	} else if p.DueDate != nil {
		due := *p.DueDate
		e.DueDate = &due
	}
	if len(verr.Fields) == 0 && e.Adjustment.GreaterThan(e.Amount) {
		verr.Add("adjustment", "cannot exceed amount")
	}
	if err := verr.OrNil(); err != nil {
		return e, err
	}

	if ComputeBalance(e.Amount, e.Adjustment, e.AmountPaid).IsNegative() {
		return e, invalidState(e.ID, CodeNegativeBalance, "resulting balance would be negative")
	}

	// Only a moved due date re-evaluates the overdue flag; otherwise the
	// sweeper owns it.
	if p.ClearDueDate || p.DueDate != nil {
		e.IsOverdue = IsPastDue(e.DueDate, now)
		e.DaysOverdue = 0
		if e.IsOverdue {
			e.DaysOverdue = DaysOverdue(*e.DueDate, now)
		}
	}
	e.UpdatedAt = now
	return recompute(e), nil
}

func patchPayload(p EntryPatch) map[string]any {
	out := map[string]any{}
	if p.Amount != nil {
		out["amount"] = p.Amount.String()
	}
	if p.Adjustment != nil {
		out["adjustment"] = p.Adjustment.String()
	}
	if p.Category != nil {
		out["category"] = string(*p.Category)
	}
	if p.Description != nil {
		out["description"] = *p.Description
	}
	if p.ReferenceID != nil {
		out["reference_id"] = *p.ReferenceID
	}
	if p.ClearDueDate {
		out["due_date"] = nil
	} else if p.DueDate != nil {
		out["due_date"] = p.DueDate.Format(time.RFC3339)
	}
	return out
}

// Delete removes an entry that has no recorded payments.
func (l *Ledger) Delete(ctx context.Context, id EntryID, actor string) error {
	return l.store.WithTx(ctx, func(tx Store) error {
		e, err := tx.GetEntry(ctx, id)
		if err != nil {
			return err
		}
		n, err := tx.CountPayments(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return invalidState(id, CodeHasPayments, "entity has recorded payments")
		}
		if err := tx.DeleteEntry(ctx, id); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, l.stamp(AuditEntry{
			ActorID: actor,
			Action:  AuditEntryDeleted,
			EntryID: id,
			Kind:    e.Kind,
		}))
	})
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentInput struct {
	EntryID   EntryID
	Amount    decimal.Decimal
	Method    PaymentMethod
	Reference string
	Notes     string
	ActorID   string
}

type PaymentResult struct {
	Payment Payment
	Entry   Entry
}

// ApplyPayment records a payment and updates the entry in one transaction.
func (l *Ledger) ApplyPayment(ctx context.Context, in PaymentInput) (*PaymentResult, error) {
	if in.Method == "" {
		in.Method = MethodCash
	}
	if !in.Method.Valid() {
		return nil, NewValidationError("paymentMethod", fmt.Sprintf("unknown payment method %q", in.Method))
	}

	var result PaymentResult
	err := l.store.WithTx(ctx, func(tx Store) error {
		cur, err := tx.GetEntry(ctx, in.EntryID)
		if err != nil {
			return err
		}
		now := l.now()
		updated, err := ApplyPayment(*cur, in.Amount, now)
		if err != nil {
			return err
		}

		p := Payment{
			ID:         PaymentID(uuid.NewString()),
			EntryID:    cur.ID,
			Amount:     in.Amount,
			Method:     in.Method,
			Reference:  in.Reference,
			Notes:      in.Notes,
			RecordedBy: in.ActorID,
			PaidAt:     now,
		}
		if err := tx.AppendPayment(ctx, p); err != nil {
			return err
		}
		if err := tx.UpdateEntry(ctx, updated, cur.Version); err != nil {
			return err
		}
		updated.Version = cur.Version + 1

		result = PaymentResult{Payment: p, Entry: updated}
		return tx.AppendAudit(ctx, l.stamp(AuditEntry{
			ActorID: in.ActorID,
			Action:  AuditPaymentRecord,
			EntryID: cur.ID,
			Kind:    cur.Kind,
			Payload: map[string]any{
				"payment_id": string(p.ID),
				"amount":     p.Amount.String(),
				"method":     string(p.Method),
				"balance":    updated.Balance.String(),
			},
		}))
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// =============================================================================
// WAIVERS
// =============================================================================

type WaiveInput struct {
	EntryID EntryID
	Reason  string
	ActorID string
}

// Waive exempts an open entry from payment. Irreversible.
func (l *Ledger) Waive(ctx context.Context, in WaiveInput) (*Entry, error) {
	var result Entry
	err := l.store.WithTx(ctx, func(tx Store) error {
		cur, err := tx.GetEntry(ctx, in.EntryID)
		if err != nil {
			return err
		}
		updated, err := Waive(*cur, in.Reason, in.ActorID, l.now())
		if err != nil {
			return err
		}
		if err := tx.UpdateEntry(ctx, updated, cur.Version); err != nil {
			return err
		}
		updated.Version = cur.Version + 1
		result = updated
		return tx.AppendAudit(ctx, l.stamp(AuditEntry{
			ActorID: in.ActorID,
			Action:  AuditEntryWaived,
			EntryID: cur.ID,
			Kind:    cur.Kind,
			Payload: map[string]any{
				"reason":         updated.WaiverReason,
				"balance_waived": cur.Balance.String(),
			},
		}))
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// =============================================================================
// SETTINGS & AUDIT
// =============================================================================

// Settings returns the saved settings, or the ledger defaults if none were saved.
func (l *Ledger) Settings(ctx context.Context) (Settings, error) {
	s, ok, err := l.store.GetSettings(ctx)
	if err != nil {
		return Settings{}, err
	}
	if !ok {
		return l.defaults, nil
	}
	return s, nil
}

// SaveSettings persists new settings stamped with the actor.
func (l *Ledger) SaveSettings(ctx context.Context, s Settings, actor string) (Settings, error) {
	s.UpdatedBy = actor
	s.UpdatedAt = l.now()
	err := l.store.WithTx(ctx, func(tx Store) error {
		if err := tx.SaveSettings(ctx, s); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, l.stamp(AuditEntry{
			ActorID: actor,
			Action:  AuditSettingsSaved,
			Payload: map[string]any{"currency": s.Currency, "quorum": s.QuorumPercentage},
		}))
	})
	if err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Audit queries the audit trail.
func (l *Ledger) Audit(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	return l.store.QueryAudit(ctx, f)
}
