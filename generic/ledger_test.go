/*
ledger_test.go - Behaviour tests for the dues ledger

ORGANIZATION:
  1. Payment applier
  2. Waiver applier
  3. Overdue sweeper
  4. Generic entry operations (create/update/delete)
  5. Atomicity and concurrency

Each test has GIVEN/WHEN/THEN comments describing the scenario.
*/
package generic_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pta-hub/dues-engine/generic"
	"github.com/pta-hub/dues-engine/generic/store"
)

// =============================================================================
// TEST INFRASTRUCTURE
// =============================================================================

const (
	testLevy generic.Category  = "test_levy"
	testFine generic.Category  = "test_fine"
	parentID generic.SubjectID = "parent-1"
	adminID                    = "admin-1"
)

func init() {
	generic.RegisterCategory(generic.KindContribution, testLevy)
	generic.RegisterCategory(generic.KindPenalty, testFine)
}

var testNow = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestLedger() (*generic.Ledger, *generic.FixedClock, *store.TxMemory) {
	clock := &generic.FixedClock{At: testNow}
	mem := store.NewTxMemory()
	return generic.NewLedger(mem, generic.WithClock(clock)), clock, mem
}

func contributionOf(amount, discount string, due *time.Time) generic.Entry {
	return generic.Entry{
		Kind:       generic.KindContribution,
		Category:   testLevy,
		SubjectID:  parentID,
		Amount:     dec(amount),
		Adjustment: dec(discount),
		DueDate:    due,
		CreatedBy:  adminID,
	}
}

func mustCreate(t *testing.T, l *generic.Ledger, e generic.Entry) *generic.Entry {
	t.Helper()
	created, err := l.Create(context.Background(), e)
	require.NoError(t, err)
	return created
}

func pay(l *generic.Ledger, id generic.EntryID, amount string) (*generic.PaymentResult, error) {
	return l.ApplyPayment(context.Background(), generic.PaymentInput{
		EntryID: id,
		Amount:  dec(amount),
		Method:  generic.MethodMobileMoney,
		ActorID: adminID,
	})
}

func daysFromNow(n int) *time.Time {
	t := testNow.AddDate(0, 0, n)
	return &t
}

func assertConsistent(t *testing.T, l *generic.Ledger, id generic.EntryID) {
	t.Helper()
	ctx := context.Background()
	e, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.NoError(t, generic.CheckInvariants(*e))

	payments, err := l.Payments(ctx, id)
	require.NoError(t, err)
	assert.True(t, generic.SumPayments(payments).Equal(e.AmountPaid),
		"sum of payments %s should equal amountPaid %s", generic.SumPayments(payments), e.AmountPaid)
}

// =============================================================================
// 1. PAYMENT APPLIER
// =============================================================================

func TestPayment_FullPayment_MarksPaid(t *testing.T) {
	// GIVEN: An entry with amount=1000, balance=1000
	// WHEN: A payment of 1000 is applied
	// THEN: amountPaid=1000, balance=0, isPaid=true, status=PAID

	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("1000", "0", nil))
	require.True(t, e.Balance.Equal(dec("1000")))

	res, err := pay(l, e.ID, "1000")
	require.NoError(t, err)

	assert.True(t, res.Entry.AmountPaid.Equal(dec("1000")))
	assert.True(t, res.Entry.Balance.IsZero())
	assert.True(t, res.Entry.IsPaid)
	assert.Equal(t, generic.StatusPaid, res.Entry.Status)
	assert.Equal(t, e.ID, res.Payment.EntryID)
	assertConsistent(t, l, e.ID)
}

func TestPayment_ExceedsBalance_RejectedAndUnchanged(t *testing.T) {
	// GIVEN: An entry with balance=500
	// WHEN: A payment of 600 is applied
	// THEN: InvalidState carrying the remaining balance; entry still at 500

	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("1000", "0", nil))
	_, err := pay(l, e.ID, "500")
	require.NoError(t, err)

	_, err = pay(l, e.ID, "600")
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrInvalidState)

	var ise *generic.InvalidStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, generic.CodeExceedsBalance, ise.Code)
	require.NotNil(t, ise.Balance)
	assert.True(t, ise.Balance.Equal(dec("500")))
	assert.Contains(t, err.Error(), "500.00")

	got, err := l.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(dec("500")))
	assert.Equal(t, generic.StatusPartial, got.Status)

	payments, _ := l.Payments(context.Background(), e.ID)
	assert.Len(t, payments, 1, "rejected payment must not be recorded")
	assertConsistent(t, l, e.ID)
}

func TestPayment_PartialThenFull(t *testing.T) {
	// GIVEN: An entry with amount=1000
	// WHEN: 400 is paid, then 600
	// THEN: PARTIAL with balance 600, then PAID with balance 0

	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("1000", "0", nil))

	res, err := pay(l, e.ID, "400")
	require.NoError(t, err)
	assert.True(t, res.Entry.Balance.Equal(dec("600")))
	assert.Equal(t, generic.StatusPartial, res.Entry.Status)
	assert.False(t, res.Entry.IsPaid)

	res, err = pay(l, e.ID, "600")
	require.NoError(t, err)
	assert.True(t, res.Entry.Balance.IsZero())
	assert.Equal(t, generic.StatusPaid, res.Entry.Status)
	assert.True(t, res.Entry.IsPaid)

	payments, err := l.Payments(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
	assertConsistent(t, l, e.ID)
}

func TestPayment_DiscountReducesBalance(t *testing.T) {
	// GIVEN: A contribution of 1000 with discount 100
	// WHEN: 900 is paid
	// THEN: The entry is fully paid

	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("1000", "100", nil))
	assert.True(t, e.Balance.Equal(dec("900")))

	res, err := pay(l, e.ID, "900")
	require.NoError(t, err)
	assert.True(t, res.Entry.IsPaid)
	assertConsistent(t, l, e.ID)
}

func TestPayment_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(l *generic.Ledger, id generic.EntryID)
		amount  string
		wantErr error
		code    string
	}{
		{
			name:    "zero amount",
			amount:  "0",
			wantErr: generic.ErrInvalidState,
			code:    generic.CodeInvalidAmount,
		},
		{
			name:    "negative amount",
			amount:  "-5",
			wantErr: generic.ErrInvalidState,
			code:    generic.CodeInvalidAmount,
		},
		{
			name: "already paid",
			setup: func(l *generic.Ledger, id generic.EntryID) {
				_, _ = pay(l, id, "1000")
			},
			amount:  "1",
			wantErr: generic.ErrInvalidState,
			code:    generic.CodeAlreadyPaid,
		},
		{
			name: "waived",
			setup: func(l *generic.Ledger, id generic.EntryID) {
				_, _ = l.Waive(context.Background(), generic.WaiveInput{EntryID: id, Reason: "hardship", ActorID: adminID})
			},
			amount:  "1",
			wantErr: generic.ErrInvalidState,
			code:    generic.CodeWaived,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, _ := newTestLedger()
			e := mustCreate(t, l, contributionOf("1000", "0", nil))
			if tt.setup != nil {
				tt.setup(l, e.ID)
			}

			_, err := pay(l, e.ID, tt.amount)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.code != "" {
				var ise *generic.InvalidStateError
				require.True(t, errors.As(err, &ise))
				assert.Equal(t, tt.code, ise.Code)
			}
			assertConsistent(t, l, e.ID)
		})
	}
}

func TestPayment_UnknownEntry_NotFound(t *testing.T) {
	l, _, _ := newTestLedger()
	_, err := pay(l, "missing", "10")
	assert.True(t, generic.IsNotFound(err))
}

func TestPayment_UnknownMethod_Validation(t *testing.T) {
	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("1000", "0", nil))

	_, err := l.ApplyPayment(context.Background(), generic.PaymentInput{
		EntryID: e.ID, Amount: dec("10"), Method: "barter", ActorID: adminID,
	})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestPayment_ClearsOverdue(t *testing.T) {
	// GIVEN: An entry flagged overdue by the sweeper
	// WHEN: A partial payment is applied
	// THEN: isOverdue=false, daysOverdue=0, status=PARTIAL

	l, clock, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("1000", "0", daysFromNow(1)))
	clock.Advance(72 * time.Hour)
	_, err := l.SweepOverdue(context.Background(), nil)
	require.NoError(t, err)

	res, err := pay(l, e.ID, "100")
	require.NoError(t, err)
	assert.False(t, res.Entry.IsOverdue)
	assert.Zero(t, res.Entry.DaysOverdue)
	assert.Equal(t, generic.StatusPartial, res.Entry.Status)
}

// =============================================================================
// 2. WAIVER APPLIER
// =============================================================================

func TestWaiver_OpenEntry_ZeroesBalance(t *testing.T) {
	// GIVEN: An open penalty of 200 with 50 paid
	// WHEN: An admin waives it
	// THEN: balance=0, status=WAIVED, waiver fields set, amountPaid untouched

	l, _, _ := newTestLedger()
	e := mustCreate(t, l, generic.Entry{
		Kind: generic.KindPenalty, Category: testFine, SubjectID: parentID,
		Amount: dec("200"), CreatedBy: adminID,
	})
	_, err := pay(l, e.ID, "50")
	require.NoError(t, err)

	waived, err := l.Waive(context.Background(), generic.WaiveInput{EntryID: e.ID, Reason: " illness ", ActorID: adminID})
	require.NoError(t, err)

	assert.True(t, waived.IsWaived)
	assert.True(t, waived.Balance.IsZero())
	assert.False(t, waived.IsPaid)
	assert.Equal(t, generic.StatusWaived, waived.Status)
	assert.Equal(t, "illness", waived.WaiverReason)
	assert.Equal(t, adminID, waived.WaivedBy)
	require.NotNil(t, waived.WaivedAt)
	assert.True(t, waived.WaivedAt.Equal(testNow))
	assert.True(t, waived.AmountPaid.Equal(dec("50")))
	assertConsistent(t, l, e.ID)
}

func TestWaiver_PaidEntry_Rejected(t *testing.T) {
	// GIVEN: An entry with isPaid=true
	// WHEN: A waiver is attempted
	// THEN: InvalidState "cannot waive a paid entity"

	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("300", "0", nil))
	_, err := pay(l, e.ID, "300")
	require.NoError(t, err)

	_, err = l.Waive(context.Background(), generic.WaiveInput{EntryID: e.ID, Reason: "late", ActorID: adminID})
	require.Error(t, err)
	assert.ErrorIs(t, err, generic.ErrInvalidState)
	assert.Equal(t, "cannot waive a paid entity", err.Error())
}

func TestWaiver_AlreadyWaived_Rejected(t *testing.T) {
	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("300", "0", nil))
	in := generic.WaiveInput{EntryID: e.ID, Reason: "hardship", ActorID: adminID}
	_, err := l.Waive(context.Background(), in)
	require.NoError(t, err)

	_, err = l.Waive(context.Background(), in)
	assert.ErrorIs(t, err, generic.ErrInvalidState)
	assert.Equal(t, "entity is already waived", err.Error())
}

func TestWaiver_BlankReason_Validation(t *testing.T) {
	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("300", "0", nil))

	_, err := l.Waive(context.Background(), generic.WaiveInput{EntryID: e.ID, Reason: "   ", ActorID: adminID})
	assert.ErrorIs(t, err, generic.ErrValidation)

	got, _ := l.Get(context.Background(), e.ID)
	assert.False(t, got.IsWaived)
}

func TestWaiver_OverdueEntry_ClearsOverdue(t *testing.T) {
	l, clock, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("300", "0", daysFromNow(1)))
	clock.Advance(5 * 24 * time.Hour)
	_, err := l.SweepOverdue(context.Background(), nil)
	require.NoError(t, err)

	waived, err := l.Waive(context.Background(), generic.WaiveInput{EntryID: e.ID, Reason: "hardship", ActorID: adminID})
	require.NoError(t, err)
	assert.False(t, waived.IsOverdue)
	assert.Zero(t, waived.DaysOverdue)
}

// =============================================================================
// 3. OVERDUE SWEEPER
// =============================================================================

func TestSweep_PastDuePending_FlaggedOverdue(t *testing.T) {
	// GIVEN: An open entry due yesterday
	// WHEN: The sweeper runs
	// THEN: isOverdue=true, daysOverdue=1, status=OVERDUE

	l, clock, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("1000", "0", daysFromNow(0)))
	clock.Advance(24 * time.Hour)

	res, err := l.SweepOverdue(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "1 entries marked overdue", res.Message)

	got, err := l.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOverdue)
	assert.Equal(t, 1, got.DaysOverdue)
	assert.Equal(t, generic.StatusOverdue, got.Status)
	assertConsistent(t, l, e.ID)
}

func TestSweep_Idempotent(t *testing.T) {
	// GIVEN: A sweep that already flagged an entry
	// WHEN: The sweep runs again with no time elapsed
	// THEN: Count is 0

	l, clock, _ := newTestLedger()
	mustCreate(t, l, contributionOf("1000", "0", daysFromNow(0)))
	clock.Advance(48 * time.Hour)

	first, err := l.SweepOverdue(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Count)

	second, err := l.SweepOverdue(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Count)
}

func TestSweep_SkipsPaidWaivedAndFuture(t *testing.T) {
	l, clock, _ := newTestLedger()
	ctx := context.Background()

	paid := mustCreate(t, l, contributionOf("100", "0", daysFromNow(1)))
	_, err := pay(l, paid.ID, "100")
	require.NoError(t, err)

	waived := mustCreate(t, l, contributionOf("100", "0", daysFromNow(1)))
	_, err = l.Waive(ctx, generic.WaiveInput{EntryID: waived.ID, Reason: "hardship", ActorID: adminID})
	require.NoError(t, err)

	future := mustCreate(t, l, contributionOf("100", "0", daysFromNow(30)))
	noDue := mustCreate(t, l, contributionOf("100", "0", nil))
	due := mustCreate(t, l, contributionOf("100", "0", daysFromNow(1)))

	clock.Advance(3 * 24 * time.Hour)
	res, err := l.SweepOverdue(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, due.ID, res.Flagged[0].ID)

	for _, id := range []generic.EntryID{paid.ID, waived.ID, future.ID, noDue.ID} {
		got, _ := l.Get(ctx, id)
		assert.False(t, got.IsOverdue, "entry %s should not be flagged", id)
	}
}

func TestSweep_PartialEntry_KeepsPartialStatus(t *testing.T) {
	// GIVEN: A partially paid entry past due
	// WHEN: The sweeper runs
	// THEN: isOverdue=true while status stays PARTIAL

	l, clock, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("1000", "0", daysFromNow(1)))
	_, err := pay(l, e.ID, "250")
	require.NoError(t, err)
	clock.Advance(10 * 24 * time.Hour)

	res, err := l.SweepOverdue(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)

	got, _ := l.Get(context.Background(), e.ID)
	assert.True(t, got.IsOverdue)
	assert.Equal(t, 9, got.DaysOverdue)
	assert.Equal(t, generic.StatusPartial, got.Status)
}

func TestSweep_RestrictedToKind(t *testing.T) {
	l, clock, _ := newTestLedger()
	mustCreate(t, l, contributionOf("100", "0", daysFromNow(1)))
	mustCreate(t, l, generic.Entry{
		Kind: generic.KindPenalty, Category: testFine, SubjectID: parentID,
		Amount: dec("50"), DueDate: daysFromNow(1),
	})
	clock.Advance(2 * 24 * time.Hour)

	kind := generic.KindPenalty
	res, err := l.SweepOverdue(context.Background(), &kind)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	assert.Equal(t, generic.KindPenalty, res.Flagged[0].Kind)
}

func TestSweep_AuditedAsSystem(t *testing.T) {
	l, clock, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("100", "0", daysFromNow(1)))
	clock.Advance(2 * 24 * time.Hour)
	_, err := l.SweepOverdue(context.Background(), nil)
	require.NoError(t, err)

	rows, err := l.Audit(context.Background(), generic.AuditFilter{
		EntryID: &e.ID,
		Actions: []generic.AuditAction{generic.AuditFlaggedOverdue},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, generic.SystemActor, rows[0].ActorID)
}

// lockedRowStore fails entry updates for one id and lets the rest through.
type lockedRowStore struct {
	*store.TxMemory
	locked generic.EntryID
}

func (s lockedRowStore) UpdateEntry(ctx context.Context, e generic.Entry, version int) error {
	if e.ID == s.locked {
		return errors.New("row locked")
	}
	return s.TxMemory.UpdateEntry(ctx, e, version)
}

// cancellingStore cancels the sweep context after its first entry write.
type cancellingStore struct {
	*store.TxMemory
	cancel context.CancelFunc
}

func (s cancellingStore) UpdateEntry(ctx context.Context, e generic.Entry, version int) error {
	defer s.cancel()
	return s.TxMemory.UpdateEntry(ctx, e, version)
}

func TestSweep_RowFailure_SkippedOthersLand(t *testing.T) {
	// GIVEN: Three past-due entries, one of which cannot be written
	// WHEN: The sweeper runs
	// THEN: The other two are flagged, the failure is counted, the locked row is untouched

	l, clock, mem := newTestLedger()
	a := mustCreate(t, l, contributionOf("100", "0", daysFromNow(1)))
	b := mustCreate(t, l, contributionOf("200", "0", daysFromNow(1)))
	c := mustCreate(t, l, contributionOf("300", "0", daysFromNow(1)))
	clock.Advance(3 * 24 * time.Hour)

	flaky := generic.NewLedger(lockedRowStore{TxMemory: mem, locked: b.ID}, generic.WithClock(clock))
	res, err := flaky.SweepOverdue(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Message, ", 1 failed")
	assert.Equal(t, "2 entries marked overdue, 1 failed", res.Message)

	for _, id := range []generic.EntryID{a.ID, c.ID} {
		got, err := l.Get(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, got.IsOverdue)
		assert.Equal(t, generic.StatusOverdue, got.Status)
	}
	got, err := l.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.False(t, got.IsOverdue)
	assert.Equal(t, generic.StatusPending, got.Status)
	assert.Equal(t, b.Version, got.Version)
}

func TestSweep_Cancelled_ReturnsRowsAlreadyFlagged(t *testing.T) {
	// GIVEN: Two past-due entries and a context cancelled after the first write
	// WHEN: The sweeper runs
	// THEN: The error is context.Canceled and the result still lists the written row

	l, clock, mem := newTestLedger()
	mustCreate(t, l, contributionOf("100", "0", daysFromNow(1)))
	mustCreate(t, l, contributionOf("200", "0", daysFromNow(1)))
	clock.Advance(3 * 24 * time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupted := generic.NewLedger(cancellingStore{TxMemory: mem, cancel: cancel}, generic.WithClock(clock))

	res, err := interrupted.SweepOverdue(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	require.Len(t, res.Flagged, 1)
	assert.Equal(t, 1, res.Count)

	got, err := l.Get(context.Background(), res.Flagged[0].ID)
	require.NoError(t, err)
	assert.True(t, got.IsOverdue)

	// the remaining row is picked up by the next sweep
	next, err := l.SweepOverdue(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, next.Count)
}

// =============================================================================
// 4. GENERIC ENTRY OPERATIONS
// =============================================================================

func TestCreate_PastDue_StartsOverdue(t *testing.T) {
	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("100", "0", daysFromNow(-3)))

	assert.True(t, e.IsOverdue)
	assert.Equal(t, 3, e.DaysOverdue)
	assert.Equal(t, generic.StatusOverdue, e.Status)
	assert.Equal(t, 1, e.Version)
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name  string
		entry generic.Entry
		field string
	}{
		{"zero amount", contributionOf("0", "0", nil), "amount"},
		{"discount exceeds amount", contributionOf("100", "150", nil), "adjustment"},
		{"negative discount", contributionOf("100", "-1", nil), "adjustment"},
		{"missing subject", func() generic.Entry { e := contributionOf("100", "0", nil); e.SubjectID = ""; return e }(), "userId"},
		{"category of other kind", func() generic.Entry { e := contributionOf("100", "0", nil); e.Category = testFine; return e }(), "category"},
		{"unknown kind", func() generic.Entry { e := contributionOf("100", "0", nil); e.Kind = "loan"; return e }(), "kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _, _ := newTestLedger()
			_, err := l.Create(context.Background(), tt.entry)
			require.Error(t, err)

			var verr *generic.ValidationError
			require.True(t, errors.As(err, &verr))
			fields := make([]string, 0, len(verr.Fields))
			for _, f := range verr.Fields {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestUpdate_RecomputesBalance(t *testing.T) {
	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("1000", "0", nil))
	_, err := pay(l, e.ID, "200")
	require.NoError(t, err)

	amount := dec("800")
	discount := dec("100")
	updated, err := l.Update(context.Background(), e.ID, generic.EntryPatch{Amount: &amount, Adjustment: &discount}, adminID)
	require.NoError(t, err)

	assert.True(t, updated.Balance.Equal(dec("500")))
	assert.Equal(t, generic.StatusPartial, updated.Status)
	assert.Equal(t, 3, updated.Version)
	assertConsistent(t, l, e.ID)
}

func TestUpdate_NegativeBalance_Rejected(t *testing.T) {
	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("1000", "0", nil))
	_, err := pay(l, e.ID, "600")
	require.NoError(t, err)

	amount := dec("500")
	_, err = l.Update(context.Background(), e.ID, generic.EntryPatch{Amount: &amount}, adminID)
	require.Error(t, err)
	var ise *generic.InvalidStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, generic.CodeNegativeBalance, ise.Code)
	assertConsistent(t, l, e.ID)
}

func TestUpdate_ReachingZeroBalance_MarksPaid(t *testing.T) {
	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("1000", "0", nil))
	_, err := pay(l, e.ID, "600")
	require.NoError(t, err)

	discount := dec("400")
	updated, err := l.Update(context.Background(), e.ID, generic.EntryPatch{Adjustment: &discount}, adminID)
	require.NoError(t, err)
	assert.True(t, updated.IsPaid)
	assert.Equal(t, generic.StatusPaid, updated.Status)
}

func TestUpdate_TerminalEntries_Rejected(t *testing.T) {
	l, _, _ := newTestLedger()
	ctx := context.Background()
	desc := "new"

	paid := mustCreate(t, l, contributionOf("100", "0", nil))
	_, err := pay(l, paid.ID, "100")
	require.NoError(t, err)
	_, err = l.Update(ctx, paid.ID, generic.EntryPatch{Description: &desc}, adminID)
	assert.ErrorIs(t, err, generic.ErrInvalidState)

	waived := mustCreate(t, l, contributionOf("100", "0", nil))
	_, err = l.Waive(ctx, generic.WaiveInput{EntryID: waived.ID, Reason: "x", ActorID: adminID})
	require.NoError(t, err)
	_, err = l.Update(ctx, waived.ID, generic.EntryPatch{Description: &desc}, adminID)
	assert.ErrorIs(t, err, generic.ErrInvalidState)
}

func TestUpdate_MovingDueDate_ReevaluatesOverdue(t *testing.T) {
	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("100", "0", daysFromNow(-2)))
	require.True(t, e.IsOverdue)

	updated, err := l.Update(context.Background(), e.ID, generic.EntryPatch{DueDate: daysFromNow(7)}, adminID)
	require.NoError(t, err)
	assert.False(t, updated.IsOverdue)
	assert.Equal(t, generic.StatusPending, updated.Status)
}

func TestUpdate_DescriptionOnly_KeepsOverdueFlag(t *testing.T) {
	// GIVEN: A past-due entry whose overdue flag a payment cleared
	// WHEN: Only its description is updated
	// THEN: The flag stays cleared until the sweeper sets it again

	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("100", "0", daysFromNow(-2)))
	require.True(t, e.IsOverdue)
	res, err := pay(l, e.ID, "10")
	require.NoError(t, err)
	require.False(t, res.Entry.IsOverdue)

	desc := "renamed"
	updated, err := l.Update(context.Background(), e.ID, generic.EntryPatch{Description: &desc}, adminID)
	require.NoError(t, err)
	assert.False(t, updated.IsOverdue)
	assert.Equal(t, 0, updated.DaysOverdue)
	assert.Equal(t, generic.StatusPartial, updated.Status)
	assert.Equal(t, "renamed", updated.Description)
}

func TestDelete_WithPayments_Rejected(t *testing.T) {
	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("100", "0", nil))
	_, err := pay(l, e.ID, "10")
	require.NoError(t, err)

	err = l.Delete(context.Background(), e.ID, adminID)
	var ise *generic.InvalidStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, generic.CodeHasPayments, ise.Code)
}

func TestDelete_WithoutPayments(t *testing.T) {
	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("100", "0", nil))

	require.NoError(t, l.Delete(context.Background(), e.ID, adminID))
	_, err := l.Get(context.Background(), e.ID)
	assert.True(t, generic.IsNotFound(err))
}

func TestList_FiltersAndPaginates(t *testing.T) {
	l, clock, _ := newTestLedger()
	for i := 0; i < 5; i++ {
		mustCreate(t, l, contributionOf("100", "0", nil))
		clock.Advance(time.Minute)
	}
	other := contributionOf("100", "0", nil)
	other.SubjectID = "parent-2"
	mustCreate(t, l, other)

	page, err := l.List(context.Background(), generic.EntryFilter{SubjectID: parentID, Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.Page)

	_, err = l.List(context.Background(), generic.EntryFilter{Limit: 500})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestSettings_DefaultsUntilSaved(t *testing.T) {
	defaults := generic.Settings{Currency: "UGX", QuorumPercentage: 50}
	l := generic.NewLedger(store.NewTxMemory(), generic.WithDefaultSettings(defaults))
	ctx := context.Background()

	got, err := l.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "UGX", got.Currency)

	_, err = l.SaveSettings(ctx, generic.Settings{Currency: "KES", QuorumPercentage: 60}, adminID)
	require.NoError(t, err)
	got, err = l.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "KES", got.Currency)
	assert.Equal(t, adminID, got.UpdatedBy)
}

// =============================================================================
// 5. ATOMICITY AND CONCURRENCY
// =============================================================================

// failingStore rejects every entry update, simulating a crash between the
// payment insert and the entry write.
type failingStore struct {
	*store.TxMemory
}

type failingView struct {
	generic.Store
}

func (failingView) UpdateEntry(context.Context, generic.Entry, int) error {
	return errors.New("disk full")
}

func (f failingStore) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s generic.Store) error {
		return fn(failingView{s})
	})
}

func TestPayment_FailedEntryWrite_RollsBackPayment(t *testing.T) {
	// GIVEN: A store whose entry update fails inside the transaction
	// WHEN: A payment is applied
	// THEN: No payment row survives and the entry is unchanged

	mem := store.NewTxMemory()
	plain := generic.NewLedger(mem, generic.WithClock(&generic.FixedClock{At: testNow}))
	e := mustCreate(t, plain, contributionOf("100", "0", nil))

	broken := generic.NewLedger(failingStore{mem}, generic.WithClock(&generic.FixedClock{At: testNow}))
	_, err := pay(broken, e.ID, "40")
	require.Error(t, err)

	payments, err := plain.Payments(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
	assertConsistent(t, plain, e.ID)
}

func TestUpdateEntry_StaleVersion_ConcurrentModification(t *testing.T) {
	l, _, mem := newTestLedger()
	e := mustCreate(t, l, contributionOf("100", "0", nil))
	_, err := pay(l, e.ID, "10")
	require.NoError(t, err)

	stale := *e
	stale.Description = "stale write"
	err = mem.UpdateEntry(context.Background(), stale, e.Version)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.True(t, generic.IsRetryable(err))
}

func TestPayment_Concurrent_NeverOverdraws(t *testing.T) {
	// GIVEN: An entry with balance 100
	// WHEN: 20 goroutines each try to pay 10
	// THEN: Exactly 10 succeed and the balance never goes negative

	l, _, _ := newTestLedger()
	e := mustCreate(t, l, contributionOf("100", "0", nil))

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := pay(l, e.ID, "10"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	got, _ := l.Get(context.Background(), e.ID)
	assert.True(t, got.Balance.IsZero())
	assert.True(t, got.IsPaid)
	assertConsistent(t, l, e.ID)
}
