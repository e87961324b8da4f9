/*
entries.go - Contribution and penalty handlers

PURPOSE:
  Both kinds share one set of handlers parameterised by generic.Kind. Only
  creation differs, because contributions and penalties take different
  inputs (discount and project vs adjustment, meeting and default rate).

ENDPOINTS (per kind, under /api/contributions and /api/penalties):
  GET    /                 List (parents see only their own)
  POST   /                 Create (ADMIN)
  GET    /stats            Statistics over the filtered set
  GET    /categories       Registered categories
  POST   /sweep            Flag overdue entries (ADMIN)
  GET    /{id}             One entry
  PUT    /{id}             Update an open entry (ADMIN)
  DELETE /{id}             Delete an entry without payments (ADMIN)
  GET    /{id}/payments    Payment history
  POST   /{id}/payments    Record a payment (ADMIN)
  POST   /{id}/waive       Waive (ADMIN)

QUERY PARAMETERS (list, stats):
  userId, projectId | meetingId, category, status, overdue,
  dueFrom, dueTo, createdFrom, createdTo, page, limit
*/
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pta-hub/dues-engine/auth"
	"github.com/pta-hub/dues-engine/contribution"
	"github.com/pta-hub/dues-engine/generic"
	"github.com/pta-hub/dues-engine/notify"
	"github.com/pta-hub/dues-engine/penalty"
)

// kindHandlers serves the shared routes of one entry kind.
type kindHandlers struct {
	h    *Handler
	kind generic.Kind
}

// mountEntries registers the routes of one kind on r. r must already
// require authentication.
func (h *Handler) mountEntries(r chi.Router, kind generic.Kind, create http.HandlerFunc) {
	k := &kindHandlers{h: h, kind: kind}

	r.Get("/", k.List)
	r.Get("/stats", k.Stats)
	r.Get("/categories", k.Categories)
	r.With(h.RequireAdmin).Post("/", create)
	r.With(h.RequireAdmin).Post("/sweep", k.Sweep)

	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", k.Get)
		r.Get("/payments", k.Payments)
		r.Group(func(r chi.Router) {
			r.Use(h.RequireAdmin)
			r.Put("/", k.Update)
			r.Delete("/", k.Delete)
			r.Post("/payments", k.RecordPayment)
			r.Post("/waive", k.Waive)
		})
	})
}

// load fetches the entry named in the URL, hiding entries of the other
// kind and refusing parents access to other parents' entries.
func (k *kindHandlers) load(r *http.Request) (*generic.Entry, error) {
	id := generic.EntryID(chi.URLParam(r, "id"))
	e, err := k.h.ledger.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if e.Kind != k.kind {
		return nil, generic.EntryNotFound(id)
	}
	if caller, _ := IdentityFrom(r.Context()); !caller.IsAdmin() && string(e.SubjectID) != caller.UserID {
		return nil, generic.ErrForbidden
	}
	return e, nil
}

// scopeToCaller restricts a parent's queries to their own entries.
func scopeToCaller(ctx context.Context, f *generic.EntryFilter) {
	if caller, ok := IdentityFrom(ctx); ok && !caller.IsAdmin() {
		f.SubjectID = generic.SubjectID(caller.UserID)
	}
}

// =============================================================================
// READ HANDLERS
// =============================================================================

// List returns one page of entries.
func (k *kindHandlers) List(w http.ResponseWriter, r *http.Request) {
	f, err := parseEntryFilter(r, &k.kind)
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}
	scopeToCaller(r.Context(), &f)

	page, err := k.h.ledger.List(r.Context(), f)
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toPageDTO(page), "")
}

// Stats aggregates the filtered set, ignoring pagination.
func (k *kindHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	f, err := parseEntryFilter(r, &k.kind)
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}
	scopeToCaller(r.Context(), &f)
	f.Page, f.Limit = 0, 0

	stats, err := k.h.ledger.Stats(r.Context(), f)
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toStatsDTO(stats), "")
}

func (k *kindHandlers) Categories(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, generic.ListCategories(k.kind), "")
}

func (k *kindHandlers) Get(w http.ResponseWriter, r *http.Request) {
	e, err := k.load(r)
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toEntryDTO(*e), "")
}

func (k *kindHandlers) Payments(w http.ResponseWriter, r *http.Request) {
	e, err := k.load(r)
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}
	payments, err := k.h.ledger.Payments(r.Context(), e.ID)
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}
	out := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		out[i] = toPaymentDTO(p)
	}
	respond(w, http.StatusOK, out, "")
}

// =============================================================================
// CREATE HANDLERS
// =============================================================================

// checkParent confirms the subject of a new entry is a registered user.
func (h *Handler) checkParent(ctx context.Context, userID string) error {
	if _, err := h.users.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return generic.NewValidationError("userId", "unknown user")
		}
		return err
	}
	return nil
}

// CreateContribution raises a contribution.
func (h *Handler) CreateContribution(w http.ResponseWriter, r *http.Request) {
	var req CreateContributionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	due, err := optionalDate(req.DueDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.checkParent(r.Context(), req.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	settings, err := h.ledger.Settings(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	caller, _ := IdentityFrom(r.Context())
	entry, err := contribution.New(contribution.Input{
		ParentID:    generic.SubjectID(req.UserID),
		ProjectID:   req.ProjectID,
		Category:    generic.Category(req.Category),
		Amount:      req.Amount,
		Discount:    req.DiscountAmount,
		DueDate:     due,
		Description: req.Description,
		CreatedBy:   caller.UserID,
	}, settings, h.ledger.Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.create(w, r, entry)
}

// CreatePenalty issues a penalty.
func (h *Handler) CreatePenalty(w http.ResponseWriter, r *http.Request) {
	var req CreatePenaltyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	due, err := optionalDate(req.DueDate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.checkParent(r.Context(), req.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}
	settings, err := h.ledger.Settings(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	caller, _ := IdentityFrom(r.Context())
	in := penalty.Input{
		ParentID:    generic.SubjectID(req.UserID),
		MeetingID:   req.MeetingID,
		Category:    generic.Category(req.Category),
		Amount:      req.Amount,
		Adjustment:  req.AdjustmentAmount,
		DueDate:     due,
		Description: req.Description,
		CreatedBy:   caller.UserID,
	}
	if req.Attendance != nil {
		in.Attendance = &penalty.Attendance{Present: req.Attendance.Present, Total: req.Attendance.Total}
	}
	entry, err := penalty.New(in, settings, h.ledger.Now())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.create(w, r, entry)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, entry generic.Entry) {
	created, err := h.ledger.Create(r.Context(), entry)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, toEntryDTO(*created), string(created.Kind)+" created")
}

// =============================================================================
// MUTATION HANDLERS
// =============================================================================

// Update patches an open entry.
func (k *kindHandlers) Update(w http.ResponseWriter, r *http.Request) {
	e, err := k.load(r)
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}
	var req UpdateEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		k.h.writeError(w, r, err)
		return
	}
	patch, err := req.toPatch(k.kind)
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}

	caller, _ := IdentityFrom(r.Context())
	updated, err := k.h.ledger.Update(r.Context(), e.ID, patch, caller.UserID)
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, toEntryDTO(*updated), string(k.kind)+" updated")
}

func (req UpdateEntryRequest) toPatch(kind generic.Kind) (generic.EntryPatch, error) {
	p := generic.EntryPatch{Amount: req.Amount, Description: req.Description}

	adjustment, adjField := req.DiscountAmount, "discountAmount"
	reference, refField := req.ProjectID, "projectId"
	wrongAdj, wrongRef := req.AdjustmentAmount, req.MeetingID
	if kind == generic.KindPenalty {
		adjustment, adjField = req.AdjustmentAmount, "adjustmentAmount"
		reference, refField = req.MeetingID, "meetingId"
		wrongAdj, wrongRef = req.DiscountAmount, req.ProjectID
	}
	verr := &generic.ValidationError{}
	if wrongAdj != nil {
		verr.Add("body", "use "+adjField+" for "+string(kind)+"s")
	}
	if wrongRef != nil {
		verr.Add("body", "use "+refField+" for "+string(kind)+"s")
	}
	p.Adjustment = adjustment
	p.ReferenceID = reference

	if req.Category != nil {
		c := generic.Category(*req.Category)
		if !generic.CategoryBelongsTo(kind, c) {
			verr.Add("category", "unknown "+string(kind)+" category")
		}
		p.Category = &c
	}
	if req.DueDate != nil {
		if strings.TrimSpace(*req.DueDate) == "" {
			p.ClearDueDate = true
		} else {
			due, err := parseDate(*req.DueDate)
			if err != nil {
				verr.Add("dueDate", "invalid date")
			}
			p.DueDate = &due
		}
	}
	return p, verr.OrNil()
}

// Delete removes an entry that has no payments.
func (k *kindHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	e, err := k.load(r)
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}
	caller, _ := IdentityFrom(r.Context())
	if err := k.h.ledger.Delete(r.Context(), e.ID, caller.UserID); err != nil {
		k.h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, nil, string(k.kind)+" deleted")
}

// RecordPayment applies a payment and sends a receipt.
func (k *kindHandlers) RecordPayment(w http.ResponseWriter, r *http.Request) {
	e, err := k.load(r)
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}
	var req RecordPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		k.h.writeError(w, r, err)
		return
	}

	caller, _ := IdentityFrom(r.Context())
	res, err := k.h.ledger.ApplyPayment(r.Context(), generic.PaymentInput{
		EntryID:   e.ID,
		Amount:    req.Amount,
		Method:    generic.PaymentMethod(req.PaymentMethod),
		Reference: req.Reference,
		Notes:     req.Notes,
		ActorID:   caller.UserID,
	})
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}

	k.h.metrics.PaymentRecorded(res.Entry, res.Payment)
	now := k.h.ledger.Now()
	k.h.sendNotices(r.Context(), []generic.Entry{res.Entry}, func(to notify.Recipient, e generic.Entry, currency string) notify.Message {
		return notify.PaymentReceipt(to, e, res.Payment, currency, now)
	})

	msg := "payment recorded"
	if res.Entry.IsPaid {
		msg = "payment recorded; fully paid"
	}
	respond(w, http.StatusCreated, PaymentResultDTO{
		Payment: toPaymentDTO(res.Payment),
		Entry:   toEntryDTO(res.Entry),
	}, msg)
}

// Waive exempts the parent from the entry.
func (k *kindHandlers) Waive(w http.ResponseWriter, r *http.Request) {
	e, err := k.load(r)
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}
	var req WaiveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		k.h.writeError(w, r, err)
		return
	}

	caller, _ := IdentityFrom(r.Context())
	waived, err := k.h.ledger.Waive(r.Context(), generic.WaiveInput{
		EntryID: e.ID,
		Reason:  req.Reason,
		ActorID: caller.UserID,
	})
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}

	k.h.metrics.Waived(*waived)
	now := k.h.ledger.Now()
	k.h.sendNotices(r.Context(), []generic.Entry{*waived}, func(to notify.Recipient, e generic.Entry, currency string) notify.Message {
		return notify.WaiverNotice(to, e, currency, now)
	})
	respond(w, http.StatusOK, toEntryDTO(*waived), string(k.kind)+" waived")
}

// Sweep flags overdue entries of this kind and sends reminders.
func (k *kindHandlers) Sweep(w http.ResponseWriter, r *http.Request) {
	res, err := k.h.sweep(r.Context(), &k.kind)
	if err != nil {
		k.h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, SweepResultDTO{Count: res.Count, Failed: res.Failed, Message: res.Message}, res.Message)
}

// sweep runs the overdue sweeper and handles its side effects. Shared by
// the sweep endpoint and OverdueScheduler. Rows flagged before an
// interrupted sweep still get their metric and reminder: later sweeps skip
// them.
func (h *Handler) sweep(ctx context.Context, kind *generic.Kind) (*generic.SweepResult, error) {
	res, err := h.ledger.SweepOverdue(ctx, kind)
	if res != nil {
		h.metrics.OverdueFlagged(res.Flagged)
		now := h.ledger.Now()
		h.sendNotices(context.WithoutCancel(ctx), res.Flagged, func(to notify.Recipient, e generic.Entry, currency string) notify.Message {
			return notify.OverdueReminder(to, e, currency, now)
		})
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// =============================================================================
// QUERY PARSING
// =============================================================================

// parseEntryFilter maps query parameters onto an explicit filter. When kind
// is nil the "kind" parameter is honoured.
func parseEntryFilter(r *http.Request, kind *generic.Kind) (generic.EntryFilter, error) {
	q := r.URL.Query()
	verr := &generic.ValidationError{}
	f := generic.EntryFilter{Kind: kind}

	if kind == nil {
		if v := q.Get("kind"); v != "" {
			k := generic.Kind(v)
			f.Kind = &k
		}
	}
	f.SubjectID = generic.SubjectID(q.Get("userId"))
	for _, name := range []string{"projectId", "meetingId", "referenceId"} {
		if v := q.Get(name); v != "" {
			f.ReferenceID = v
		}
	}
	if v := q.Get("category"); v != "" {
		c := generic.Category(v)
		f.Category = &c
	}
	if v := q.Get("status"); v != "" {
		s := generic.Status(strings.ToUpper(v))
		f.Status = &s
	}
	if v := q.Get("overdue"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			verr.Add("overdue", "must be true or false")
		} else {
			f.Overdue = &b
		}
	}

	dates := []struct {
		name string
		dst  **time.Time
	}{
		{"dueFrom", &f.DueFrom},
		{"dueTo", &f.DueTo},
		{"createdFrom", &f.CreatedFrom},
		{"createdTo", &f.CreatedTo},
	}
	for _, d := range dates {
		if v := q.Get(d.name); v != "" {
			t, err := parseDate(v)
			if err != nil {
				verr.Add(d.name, "must be a date (YYYY-MM-DD) or RFC 3339 timestamp")
				continue
			}
			*d.dst = &t
		}
	}

	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &f.Page}, {"limit", &f.Limit}} {
		if v := q.Get(p.name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				verr.Add(p.name, "must be a positive integer")
				continue
			}
			*p.dst = n
		}
	}
	return f, verr.OrNil()
}

func optionalDate(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := parseDate(s)
	if err != nil {
		return nil, generic.NewValidationError("dueDate", "invalid date")
	}
	return &t, nil
}
