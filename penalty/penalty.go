// Package penalty implements the penalty kind: fines issued to parents for
// missed meetings, late contributions and misconduct.
package penalty

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pta-hub/dues-engine/generic"
)

// =============================================================================
// PENALTY CATEGORIES
// =============================================================================

const (
	CategoryMeetingAbsence   generic.Category = "meeting_absence"
	CategoryLateContribution generic.Category = "late_contribution"
	CategoryMisconduct       generic.Category = "misconduct"
	CategoryOther            generic.Category = "other"
)

func init() {
	for _, c := range []generic.Category{
		CategoryMeetingAbsence,
		CategoryLateContribution,
		CategoryMisconduct,
		CategoryOther,
	} {
		generic.RegisterCategory(generic.KindPenalty, c)
	}
}

// Attendance describes the meeting an absence penalty refers to.
type Attendance struct {
	Present int
	Total   int
}

// Quorate reports whether attendance met the quorum percentage.
// A meeting with no expected attendees is never quorate.
func (a Attendance) Quorate(quorumPercentage int) bool {
	if a.Total <= 0 {
		return false
	}
	return a.Present*100 >= quorumPercentage*a.Total
}

// Input is what an administrator supplies to issue a penalty.
type Input struct {
	ParentID    generic.SubjectID
	MeetingID   string
	Category    generic.Category
	Amount      *decimal.Decimal // nil takes the configured rate for the category
	Adjustment  decimal.Decimal
	DueDate     *time.Time
	Description string
	CreatedBy   string

	// Attendance, when known, must show a quorate meeting for absence penalties.
	Attendance *Attendance
}

// New builds an unsaved penalty entry using the rates and due-day offset in s.
func New(in Input, s generic.Settings, now time.Time) (generic.Entry, error) {
	if in.Category == "" {
		in.Category = CategoryMeetingAbsence
	}

	verr := &generic.ValidationError{}
	if strings.TrimSpace(string(in.ParentID)) == "" {
		verr.Add("userId", "this field is required")
	}
	if !generic.CategoryBelongsTo(generic.KindPenalty, in.Category) {
		verr.Add("category", "unknown penalty category")
	}
	if in.Category == CategoryMeetingAbsence && strings.TrimSpace(in.MeetingID) == "" {
		verr.Add("meetingId", "required for meeting absence penalties")
	}

	var amount decimal.Decimal
	switch {
	case in.Amount != nil:
		amount = *in.Amount
		if !amount.IsPositive() {
			verr.Add("amount", "must be greater than zero")
		}
	default:
		rate, ok := s.PenaltyRate(in.Category)
		if !ok {
			verr.Add("amount", "no amount given and no rate configured for "+string(in.Category))
		}
		amount = rate
	}

	if in.Adjustment.IsNegative() {
		verr.Add("adjustmentAmount", "must not be negative")
	} else if amount.IsPositive() && in.Adjustment.GreaterThan(amount) {
		verr.Add("adjustmentAmount", "cannot exceed amount")
	}
	if err := verr.OrNil(); err != nil {
		return generic.Entry{}, err
	}

	if in.Category == CategoryMeetingAbsence && in.Attendance != nil && !in.Attendance.Quorate(s.QuorumPercentage) {
		return generic.Entry{}, &generic.InvalidStateError{
			Code:    generic.CodeNotQuorate,
			Message: "meeting did not reach quorum; absence penalties cannot be issued",
		}
	}

	due := in.DueDate
	if due == nil {
		due = generic.DefaultDueDate(now, s.PenaltyDueDays)
	}

	return generic.Entry{
		Kind:        generic.KindPenalty,
		Category:    in.Category,
		SubjectID:   in.ParentID,
		ReferenceID: strings.TrimSpace(in.MeetingID),
		Description: strings.TrimSpace(in.Description),
		Amount:      amount,
		Adjustment:  in.Adjustment,
		DueDate:     due,
		CreatedBy:   in.CreatedBy,
	}, nil
}

// Categories lists the registered penalty categories.
func Categories() []generic.Category {
	return generic.ListCategories(generic.KindPenalty)
}
