/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract: contributions expose
  "discountAmount" and "projectId", penalties "adjustmentAmount" and
  "meetingId", though both are the same generic.Entry underneath.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry validator tags (see validate.go). Structural checks
  happen there; business rules (adjustment <= amount, known categories)
  are enforced by the contribution/penalty constructors and the ledger.

SEE ALSO:
  - entries.go, handlers.go: Use these types
  - factory/settings.go: SettingsJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/pta-hub/dues-engine/auth"
	"github.com/pta-hub/dues-engine/factory"
	"github.com/pta-hub/dues-engine/generic"
)

// =============================================================================
// ENTRY TYPES
// =============================================================================

// EntryDTO represents a contribution or penalty in API responses.
type EntryDTO struct {
	ID               string           `json:"id"`
	Kind             generic.Kind     `json:"kind"`
	Category         generic.Category `json:"category"`
	UserID           string           `json:"userId"`
	ProjectID        string           `json:"projectId,omitempty"`
	MeetingID        string           `json:"meetingId,omitempty"`
	Description      string           `json:"description,omitempty"`
	Amount           decimal.Decimal  `json:"amount"`
	DiscountAmount   *decimal.Decimal `json:"discountAmount,omitempty"`
	AdjustmentAmount *decimal.Decimal `json:"adjustmentAmount,omitempty"`
	AmountPaid       decimal.Decimal  `json:"amountPaid"`
	Balance          decimal.Decimal  `json:"balance"`
	DueDate          *time.Time       `json:"dueDate"`
	IsPaid           bool             `json:"isPaid"`
	IsOverdue        bool             `json:"isOverdue"`
	DaysOverdue      int              `json:"daysOverdue"`
	IsWaived         bool             `json:"isWaived"`
	WaivedAt         *time.Time       `json:"waivedAt,omitempty"`
	WaivedBy         string           `json:"waivedBy,omitempty"`
	WaiverReason     string           `json:"waiverReason,omitempty"`
	Status           generic.Status   `json:"status"`
	Version          int              `json:"version"`
	CreatedBy        string           `json:"createdBy,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

func toEntryDTO(e generic.Entry) EntryDTO {
	dto := EntryDTO{
		ID:           string(e.ID),
		Kind:         e.Kind,
		Category:     e.Category,
		UserID:       string(e.SubjectID),
		Description:  e.Description,
		Amount:       e.Amount,
		AmountPaid:   e.AmountPaid,
		Balance:      e.Balance,
		DueDate:      e.DueDate,
		IsPaid:       e.IsPaid,
		IsOverdue:    e.IsOverdue,
		DaysOverdue:  e.DaysOverdue,
		IsWaived:     e.IsWaived,
		WaivedAt:     e.WaivedAt,
		WaivedBy:     e.WaivedBy,
		WaiverReason: e.WaiverReason,
		Status:       e.Status,
		Version:      e.Version,
		CreatedBy:    e.CreatedBy,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	adj := e.Adjustment
	if e.Kind == generic.KindPenalty {
		dto.MeetingID = e.ReferenceID
		dto.AdjustmentAmount = &adj
	} else {
		dto.ProjectID = e.ReferenceID
		dto.DiscountAmount = &adj
	}
	return dto
}

func toEntryDTOs(entries []generic.Entry) []EntryDTO {
	out := make([]EntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toEntryDTO(e)
	}
	return out
}

// PageDTO is a paginated listing.
type PageDTO struct {
	Items      []EntryDTO `json:"items"`
	Total      int        `json:"total"`
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	TotalPages int        `json:"totalPages"`
}

func toPageDTO(p *generic.Page) PageDTO {
	pages := 0
	if p.Limit > 0 {
		pages = (p.Total + p.Limit - 1) / p.Limit
	}
	return PageDTO{Items: toEntryDTOs(p.Items), Total: p.Total, Page: p.Page, Limit: p.Limit, TotalPages: pages}
}

// CreateContributionRequest raises a contribution against a parent.
type CreateContributionRequest struct {
	UserID         string          `json:"userId" validate:"notblank"`
	ProjectID      string          `json:"projectId" validate:"max=64"`
	Category       string          `json:"category" validate:"max=64"`
	Amount         decimal.Decimal `json:"amount" validate:"decimal_gt0"`
	DiscountAmount decimal.Decimal `json:"discountAmount" validate:"decimal_gte0"`
	DueDate        string          `json:"dueDate" validate:"omitempty,isodate"`
	Description    string          `json:"description" validate:"max=500"`
}

// AttendanceDTO describes the meeting behind an absence penalty.
type AttendanceDTO struct {
	Present int `json:"present" validate:"gte=0,ltefield=Total"`
	Total   int `json:"total" validate:"gt=0"`
}

// CreatePenaltyRequest issues a penalty. Amount may be omitted to use the
// configured rate for the category.
type CreatePenaltyRequest struct {
	UserID           string           `json:"userId" validate:"notblank"`
	MeetingID        string           `json:"meetingId" validate:"max=64"`
	Category         string           `json:"category" validate:"max=64"`
	Amount           *decimal.Decimal `json:"amount" validate:"omitempty,decimal_gt0"`
	AdjustmentAmount decimal.Decimal  `json:"adjustmentAmount" validate:"decimal_gte0"`
	DueDate          string           `json:"dueDate" validate:"omitempty,isodate"`
	Description      string           `json:"description" validate:"max=500"`
	Attendance       *AttendanceDTO   `json:"attendance"`
}

// UpdateEntryRequest patches an open entry. Absent fields are unchanged; an
// empty dueDate clears the due date.
type UpdateEntryRequest struct {
	Amount           *decimal.Decimal `json:"amount" validate:"omitempty,decimal_gt0"`
	DiscountAmount   *decimal.Decimal `json:"discountAmount" validate:"omitempty,decimal_gte0"`
	AdjustmentAmount *decimal.Decimal `json:"adjustmentAmount" validate:"omitempty,decimal_gte0"`
	DueDate          *string          `json:"dueDate"`
	Description      *string          `json:"description" validate:"omitempty,max=500"`
	Category         *string          `json:"category" validate:"omitempty,max=64"`
	ProjectID        *string          `json:"projectId" validate:"omitempty,max=64"`
	MeetingID        *string          `json:"meetingId" validate:"omitempty,max=64"`
}

// RecordPaymentRequest records money received against an entry.
type RecordPaymentRequest struct {
	Amount        decimal.Decimal `json:"amount" validate:"decimal_gt0"`
	PaymentMethod string          `json:"paymentMethod" validate:"omitempty,oneof=cash mobile_money bank_transfer cheque card other"`
	Reference     string          `json:"reference" validate:"max=100"`
	Notes         string          `json:"notes" validate:"max=500"`
}

// WaiveRequest exempts a parent from an entry.
type WaiveRequest struct {
	Reason string `json:"reason" validate:"notblank,max=500"`
}

// PaymentDTO represents a recorded payment.
type PaymentDTO struct {
	ID            string                `json:"id"`
	EntryID       string                `json:"entryId"`
	Amount        decimal.Decimal       `json:"amount"`
	PaymentMethod generic.PaymentMethod `json:"paymentMethod"`
	Reference     string                `json:"reference,omitempty"`
	Notes         string                `json:"notes,omitempty"`
	RecordedBy    string                `json:"recordedBy"`
	PaidAt        time.Time             `json:"paidAt"`
}

func toPaymentDTO(p generic.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            string(p.ID),
		EntryID:       string(p.EntryID),
		Amount:        p.Amount,
		PaymentMethod: p.Method,
		Reference:     p.Reference,
		Notes:         p.Notes,
		RecordedBy:    p.RecordedBy,
		PaidAt:        p.PaidAt,
	}
}

// PaymentResultDTO is returned after recording a payment.
type PaymentResultDTO struct {
	Payment PaymentDTO `json:"payment"`
	Entry   EntryDTO   `json:"entry"`
}

// SweepResultDTO reports an overdue sweep.
type SweepResultDTO struct {
	Count   int    `json:"count"`
	Failed  int    `json:"failed"`
	Message string `json:"message"`
}

// =============================================================================
// STATISTICS
// =============================================================================

type StatusBucketDTO struct {
	Count   int             `json:"count"`
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
}

type StatsDTO struct {
	TotalCount      int                                `json:"totalCount"`
	TotalAmount     decimal.Decimal                    `json:"totalAmount"`
	TotalAdjustment decimal.Decimal                    `json:"totalAdjustment"`
	TotalPaid       decimal.Decimal                    `json:"totalPaid"`
	TotalBalance    decimal.Decimal                    `json:"totalBalance"`
	CollectionRate  string                             `json:"collectionRate"`
	StatusBreakdown map[generic.Status]StatusBucketDTO `json:"statusBreakdown"`
	OverdueCount    int                                `json:"overdueCount"`
	WaivedCount     int                                `json:"waivedCount"`
	Averages        struct {
		Amount  decimal.Decimal `json:"amount"`
		Paid    decimal.Decimal `json:"paid"`
		Balance decimal.Decimal `json:"balance"`
	} `json:"averages"`
}

func toStatsDTO(s generic.Stats) StatsDTO {
	dto := StatsDTO{
		TotalCount:      s.TotalCount,
		TotalAmount:     s.TotalAmount,
		TotalAdjustment: s.TotalAdjustment,
		TotalPaid:       s.TotalPaid,
		TotalBalance:    s.TotalBalance,
		CollectionRate:  s.CollectionRate,
		StatusBreakdown: make(map[generic.Status]StatusBucketDTO, len(s.StatusBreakdown)),
		OverdueCount:    s.OverdueCount,
		WaivedCount:     s.WaivedCount,
	}
	for st, b := range s.StatusBreakdown {
		dto.StatusBreakdown[st] = StatusBucketDTO{Count: b.Count, Amount: b.Amount, Balance: b.Balance}
	}
	dto.Averages.Amount = s.Averages.Amount
	dto.Averages.Paid = s.Averages.Paid
	dto.Averages.Balance = s.Averages.Balance
	return dto
}

// SummaryRowDTO is one kind/status group of the ledger summary.
type SummaryRowDTO struct {
	Kind       generic.Kind    `json:"kind"`
	Status     generic.Status  `json:"status"`
	Count      int             `json:"count"`
	Amount     decimal.Decimal `json:"amount"`
	AmountPaid decimal.Decimal `json:"amountPaid"`
	Balance    decimal.Decimal `json:"balance"`
}

// =============================================================================
// AUTH, SETTINGS, AUDIT
// =============================================================================

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name" validate:"notblank,max=100"`
	Phone    string `json:"phone" validate:"max=32"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=ADMIN PARENT"`
}

type AuthResponse struct {
	Token string    `json:"token"`
	User  auth.User `json:"user"`
}

// SettingsDTO is the settings document plus who last changed it.
type SettingsDTO struct {
	factory.SettingsJSON
	UpdatedBy string     `json:"updatedBy,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

type AuditEntryDTO struct {
	ID        string              `json:"id"`
	Timestamp time.Time           `json:"timestamp"`
	ActorID   string              `json:"actorId"`
	Action    generic.AuditAction `json:"action"`
	EntryID   string              `json:"entryId,omitempty"`
	Kind      generic.Kind        `json:"kind,omitempty"`
	Payload   map[string]any      `json:"payload,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId" validate:"required"`
}
