// Package contribution implements the contribution kind: money parents owe
// the association for projects, term fees, funds and events.
// It builds generic entries; the generic engine does the rest.
package contribution

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pta-hub/dues-engine/generic"
)

// =============================================================================
// CONTRIBUTION CATEGORIES
// =============================================================================

const (
	CategoryProjectLevy     generic.Category = "project_levy"
	CategoryTermFee         generic.Category = "term_fee"
	CategoryDevelopmentFund generic.Category = "development_fund"
	CategoryEventFee        generic.Category = "event_fee"
	CategoryDonation        generic.Category = "donation"
)

// Register all contribution categories with the generic registry
func init() {
	for _, c := range []generic.Category{
		CategoryProjectLevy,
		CategoryTermFee,
		CategoryDevelopmentFund,
		CategoryEventFee,
		CategoryDonation,
	} {
		generic.RegisterCategory(generic.KindContribution, c)
	}
}

// Input is what an administrator supplies to raise a contribution.
type Input struct {
	ParentID    generic.SubjectID
	ProjectID   string
	Category    generic.Category
	Amount      decimal.Decimal
	Discount    decimal.Decimal
	DueDate     *time.Time
	Description string
	CreatedBy   string
}

// New builds an unsaved contribution entry. Settings supply the default due
// date when none is given.
func New(in Input, s generic.Settings, now time.Time) (generic.Entry, error) {
	if in.Category == "" {
		in.Category = CategoryProjectLevy
	}

	verr := &generic.ValidationError{}
	if strings.TrimSpace(string(in.ParentID)) == "" {
		verr.Add("userId", "this field is required")
	}
	if !generic.CategoryBelongsTo(generic.KindContribution, in.Category) {
		verr.Add("category", "unknown contribution category")
	}
	if in.Category == CategoryProjectLevy && strings.TrimSpace(in.ProjectID) == "" {
		verr.Add("projectId", "required for project levies")
	}
	if !in.Amount.IsPositive() {
		verr.Add("amount", "must be greater than zero")
	}
	if in.Discount.IsNegative() {
		verr.Add("discountAmount", "must not be negative")
	} else if in.Discount.GreaterThan(in.Amount) {
		verr.Add("discountAmount", "cannot exceed amount")
	}
	if err := verr.OrNil(); err != nil {
		return generic.Entry{}, err
	}

	due := in.DueDate
	if due == nil {
		due = generic.DefaultDueDate(now, s.ContributionDueDays)
	}

	return generic.Entry{
		Kind:        generic.KindContribution,
		Category:    in.Category,
		SubjectID:   in.ParentID,
		ReferenceID: strings.TrimSpace(in.ProjectID),
		Description: strings.TrimSpace(in.Description),
		Amount:      in.Amount,
		Adjustment:  in.Discount,
		DueDate:     due,
		CreatedBy:   in.CreatedBy,
	}, nil
}

// Categories lists the registered contribution categories.
func Categories() []generic.Category {
	return generic.ListCategories(generic.KindContribution)
}
