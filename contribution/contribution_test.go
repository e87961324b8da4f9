package contribution_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pta-hub/dues-engine/contribution"
	"github.com/pta-hub/dues-engine/generic"
	"github.com/pta-hub/dues-engine/generic/store"
)

var now = time.Date(2025, time.January, 15, 10, 0, 0, 0, time.UTC)

func TestNew_DefaultsDueDateFromSettings(t *testing.T) {
	e, err := contribution.New(contribution.Input{
		ParentID:  "parent-1",
		ProjectID: "library",
		Amount:    decimal.NewFromInt(50000),
		Discount:  decimal.NewFromInt(5000),
	}, generic.Settings{ContributionDueDays: 30}, now)
	require.NoError(t, err)

	assert.Equal(t, generic.KindContribution, e.Kind)
	assert.Equal(t, contribution.CategoryProjectLevy, e.Category)
	assert.Equal(t, "library", e.ReferenceID)
	require.NotNil(t, e.DueDate)
	assert.Equal(t, time.Date(2025, time.February, 14, 0, 0, 0, 0, time.UTC), *e.DueDate)
}

func TestNew_ExplicitDueDateWins(t *testing.T) {
	due := now.AddDate(0, 0, 3)
	e, err := contribution.New(contribution.Input{
		ParentID: "parent-1",
		Category: contribution.CategoryTermFee,
		Amount:   decimal.NewFromInt(100),
		DueDate:  &due,
	}, generic.Settings{ContributionDueDays: 30}, now)
	require.NoError(t, err)
	assert.Equal(t, due, *e.DueDate)
}

func TestNew_NoDueDaysLeavesDueDateEmpty(t *testing.T) {
	e, err := contribution.New(contribution.Input{
		ParentID: "parent-1",
		Category: contribution.CategoryDonation,
		Amount:   decimal.NewFromInt(100),
	}, generic.Settings{}, now)
	require.NoError(t, err)
	assert.Nil(t, e.DueDate)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name  string
		in    contribution.Input
		field string
	}{
		{"discount above amount", contribution.Input{ParentID: "p", ProjectID: "x", Amount: decimal.NewFromInt(10), Discount: decimal.NewFromInt(11)}, "discountAmount"},
		{"levy without project", contribution.Input{ParentID: "p", Amount: decimal.NewFromInt(10)}, "projectId"},
		{"zero amount", contribution.Input{ParentID: "p", Category: contribution.CategoryTermFee}, "amount"},
		{"missing parent", contribution.Input{Category: contribution.CategoryTermFee, Amount: decimal.NewFromInt(10)}, "userId"},
		{"penalty category", contribution.Input{ParentID: "p", Category: "meeting_absence", Amount: decimal.NewFromInt(10)}, "category"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := contribution.New(tt.in, generic.Settings{}, now)
			require.ErrorIs(t, err, generic.ErrValidation)
			verr := err.(*generic.ValidationError)
			assert.Equal(t, tt.field, verr.Fields[0].Field)
		})
	}
}

func TestContribution_ThroughLedger(t *testing.T) {
	// GIVEN: A 1000 levy with a 100 discount
	// WHEN: It is created and 900 is paid
	// THEN: It is PAID with balance 0

	l := generic.NewLedger(store.NewTxMemory(), generic.WithClock(&generic.FixedClock{At: now}))
	ctx := context.Background()

	e, err := contribution.New(contribution.Input{
		ParentID: "parent-1", ProjectID: "roof",
		Amount: decimal.NewFromInt(1000), Discount: decimal.NewFromInt(100),
	}, generic.Settings{}, now)
	require.NoError(t, err)

	created, err := l.Create(ctx, e)
	require.NoError(t, err)
	assert.True(t, created.Balance.Equal(decimal.NewFromInt(900)))

	res, err := l.ApplyPayment(ctx, generic.PaymentInput{EntryID: created.ID, Amount: decimal.NewFromInt(900), ActorID: "admin"})
	require.NoError(t, err)
	assert.Equal(t, generic.StatusPaid, res.Entry.Status)
	assert.Equal(t, generic.MethodCash, res.Payment.Method)
}

func TestCategories(t *testing.T) {
	assert.Contains(t, contribution.Categories(), contribution.CategoryEventFee)
	assert.NotContains(t, contribution.Categories(), generic.Category("meeting_absence"))
}
