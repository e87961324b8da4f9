package penalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pta-hub/dues-engine/generic"
	"github.com/pta-hub/dues-engine/generic/store"
	"github.com/pta-hub/dues-engine/penalty"
)

var now = time.Date(2025, time.April, 2, 18, 0, 0, 0, time.UTC)

func settings() generic.Settings {
	return generic.Settings{
		Currency: "UGX",
		PenaltyRates: map[generic.Category]decimal.Decimal{
			penalty.CategoryMeetingAbsence: decimal.NewFromInt(10000),
		},
		QuorumPercentage: 50,
		PenaltyDueDays:   14,
	}
}

func TestNew_UsesConfiguredRate(t *testing.T) {
	e, err := penalty.New(penalty.Input{ParentID: "parent-1", MeetingID: "agm-2025"}, settings(), now)
	require.NoError(t, err)

	assert.Equal(t, generic.KindPenalty, e.Kind)
	assert.Equal(t, penalty.CategoryMeetingAbsence, e.Category)
	assert.True(t, e.Amount.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, "agm-2025", e.ReferenceID)
	require.NotNil(t, e.DueDate)
	assert.Equal(t, time.Date(2025, time.April, 16, 0, 0, 0, 0, time.UTC), *e.DueDate)
}

func TestNew_ExplicitAmountOverridesRate(t *testing.T) {
	amount := decimal.NewFromInt(2500)
	e, err := penalty.New(penalty.Input{
		ParentID: "parent-1",
		Category: penalty.CategoryMisconduct,
		Amount:   &amount,
	}, settings(), now)
	require.NoError(t, err)
	assert.True(t, e.Amount.Equal(amount))
}

func TestNew_NoRateNoAmount(t *testing.T) {
	_, err := penalty.New(penalty.Input{ParentID: "parent-1", Category: penalty.CategoryLateContribution}, settings(), now)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestNew_AdjustmentAboveAmount(t *testing.T) {
	_, err := penalty.New(penalty.Input{
		ParentID: "parent-1", MeetingID: "m-1",
		Adjustment: decimal.NewFromInt(20000),
	}, settings(), now)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestNew_MissingMeeting(t *testing.T) {
	_, err := penalty.New(penalty.Input{ParentID: "parent-1"}, settings(), now)
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestNew_Quorum(t *testing.T) {
	tests := []struct {
		name       string
		attendance penalty.Attendance
		wantErr    bool
	}{
		{"exactly half", penalty.Attendance{Present: 10, Total: 20}, false},
		{"below quorum", penalty.Attendance{Present: 9, Total: 20}, true},
		{"empty meeting", penalty.Attendance{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			att := tt.attendance
			_, err := penalty.New(penalty.Input{ParentID: "p", MeetingID: "m", Attendance: &att}, settings(), now)
			if tt.wantErr {
				assert.ErrorIs(t, err, generic.ErrInvalidState)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPenalty_WaiveThroughLedger(t *testing.T) {
	// GIVEN: An absence penalty at the configured rate
	// WHEN: It is waived because the parent was sick
	// THEN: Balance is zero and a payment is rejected

	l := generic.NewLedger(store.NewTxMemory(), generic.WithClock(&generic.FixedClock{At: now}))
	ctx := context.Background()

	e, err := penalty.New(penalty.Input{ParentID: "parent-1", MeetingID: "m-7"}, settings(), now)
	require.NoError(t, err)
	created, err := l.Create(ctx, e)
	require.NoError(t, err)

	waived, err := l.Waive(ctx, generic.WaiveInput{EntryID: created.ID, Reason: "sick", ActorID: "admin"})
	require.NoError(t, err)
	assert.True(t, waived.Balance.IsZero())

	_, err = l.ApplyPayment(ctx, generic.PaymentInput{EntryID: created.ID, Amount: decimal.NewFromInt(1), ActorID: "admin"})
	assert.ErrorIs(t, err, generic.ErrInvalidState)
}
