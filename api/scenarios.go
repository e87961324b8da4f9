/*
scenarios.go - Demo data sets for testing and demonstrations

PURPOSE:
  Populates the ledger with realistic data so the frontend and reports
  have something to show. Each scenario registers demo parents and raises
  contributions or penalties against them, then records payments, waivers
  and a sweep to show every status.

AVAILABLE SCENARIOS:
  term-levies:       Project levies and term fees in every payment state
  meeting-absences:  Absence penalties from a quorate meeting, one waived
  overdue-backlog:   Contributions well past due, flagged by a sweep

HOW SCENARIOS WORK:
  1. Register demo parents (existing accounts with the same email are reused)
  2. Build entries through the contribution/penalty constructors
  3. Create them through the ledger (audited as the loading admin)
  4. Apply payments and waivers

USAGE VIA API:
  POST /api/scenarios/load
  {"scenarioId": "term-levies"}

NOTE:
  Scenarios add data; they never delete. Only enable in development.

SEE ALSO:
  - handlers.go: Handler
  - contribution/, penalty/: Entry constructors
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/pta-hub/dues-engine/auth"
	"github.com/pta-hub/dues-engine/contribution"
	"github.com/pta-hub/dues-engine/generic"
	"github.com/pta-hub/dues-engine/penalty"
)

// DemoPassword is the password of every parent created by a scenario.
const DemoPassword = "demo-password"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "term-levies",
		Name:        "Term Levies",
		Description: "Classroom project levies and term fees: paid, partial, unpaid and overdue",
	},
	{
		ID:          "meeting-absences",
		Name:        "Meeting Absences",
		Description: "Absence penalties from a quorate general meeting, one partially paid and one waived",
	},
	{
		ID:          "overdue-backlog",
		Name:        "Overdue Backlog",
		Description: "Contributions 5 to 60 days past due, swept and reminded",
	},
}

type demoParent struct {
	email, name, phone string
}

var demoParents = []demoParent{
	{"grace.namusoke@example.org", "Grace Namusoke", "+256700100001"},
	{"peter.okello@example.org", "Peter Okello", "+256700100002"},
	{"sarah.achieng@example.org", "Sarah Achieng", "+256700100003"},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, scenarios, "")
}

// GetCurrentScenario returns the most recently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			respond(w, http.StatusOK, s, "")
			return
		}
	}
	respond(w, http.StatusOK, nil, "no scenario loaded")
}

// LoadScenario loads a scenario by ID.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	caller, _ := IdentityFrom(r.Context())
	if err := h.loadScenario(r.Context(), req.ScenarioID, caller.UserID); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	respond(w, http.StatusOK, map[string]string{"scenarioId": req.ScenarioID}, "scenario loaded")
}

func (h *Handler) loadScenario(ctx context.Context, id, actor string) error {
	switch id {
	case "term-levies":
		return h.loadTermLevies(ctx, actor)
	case "meeting-absences":
		return h.loadMeetingAbsences(ctx, actor)
	case "overdue-backlog":
		return h.loadOverdueBacklog(ctx, actor)
	default:
		return generic.NewValidationError("scenarioId", fmt.Sprintf("unknown scenario %q", id))
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadTermLevies(ctx context.Context, actor string) error {
	parents, err := h.ensureParents(ctx)
	if err != nil {
		return err
	}
	settings, err := h.ledger.Settings(ctx)
	if err != nil {
		return err
	}
	now := h.ledger.Now()
	pastDue := generic.AddDays(generic.StartOfDay(now), -10)

	levy := func(p *auth.User, discount int64) (*generic.Entry, error) {
		e, err := contribution.New(contribution.Input{
			ParentID:    generic.SubjectID(p.ID),
			ProjectID:   "classroom-block-2025",
			Category:    contribution.CategoryProjectLevy,
			Amount:      decimal.NewFromInt(150000),
			Discount:    decimal.NewFromInt(discount),
			Description: "New classroom block",
			CreatedBy:   actor,
		}, settings, now)
		if err != nil {
			return nil, err
		}
		return h.ledger.Create(ctx, e)
	}

	// Grace pays in full, Peter pays part, Sarah gets a discount and pays nothing.
	paid, err := levy(parents[0], 0)
	if err != nil {
		return err
	}
	if err := h.scenarioPayment(ctx, paid.ID, 150000, generic.MethodMobileMoney, actor); err != nil {
		return err
	}
	partial, err := levy(parents[1], 0)
	if err != nil {
		return err
	}
	if err := h.scenarioPayment(ctx, partial.ID, 60000, generic.MethodCash, actor); err != nil {
		return err
	}
	if _, err := levy(parents[2], 30000); err != nil {
		return err
	}

	// Term fees fell due ten days ago.
	for _, p := range parents {
		e, err := contribution.New(contribution.Input{
			ParentID:    generic.SubjectID(p.ID),
			Category:    contribution.CategoryTermFee,
			Amount:      decimal.NewFromInt(50000),
			DueDate:     &pastDue,
			Description: "Term 1 PTA fee",
			CreatedBy:   actor,
		}, settings, now)
		if err != nil {
			return err
		}
		if _, err := h.ledger.Create(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadMeetingAbsences(ctx context.Context, actor string) error {
	parents, err := h.ensureParents(ctx)
	if err != nil {
		return err
	}
	settings, err := h.ledger.Settings(ctx)
	if err != nil {
		return err
	}
	now := h.ledger.Now()
	attendance := &penalty.Attendance{Present: 42, Total: 60}

	var issued []*generic.Entry
	for _, p := range parents {
		e, err := penalty.New(penalty.Input{
			ParentID:    generic.SubjectID(p.ID),
			MeetingID:   "agm-2025",
			Category:    penalty.CategoryMeetingAbsence,
			Description: "Absent from the annual general meeting",
			CreatedBy:   actor,
			Attendance:  attendance,
		}, settings, now)
		if err != nil {
			return err
		}
		created, err := h.ledger.Create(ctx, e)
		if err != nil {
			return err
		}
		issued = append(issued, created)
	}

	half := issued[0].Balance.Div(decimal.NewFromInt(2)).Round(0)
	if err := h.scenarioPayment(ctx, issued[0].ID, half.IntPart(), generic.MethodCash, actor); err != nil {
		return err
	}
	_, err = h.ledger.Waive(ctx, generic.WaiveInput{
		EntryID: issued[1].ID,
		Reason:  "Medical emergency, note from clinic",
		ActorID: actor,
	})
	return err
}

func (h *Handler) loadOverdueBacklog(ctx context.Context, actor string) error {
	parents, err := h.ensureParents(ctx)
	if err != nil {
		return err
	}
	settings, err := h.ledger.Settings(ctx)
	if err != nil {
		return err
	}
	now := h.ledger.Now()

	for i, daysAgo := range []int{60, 30, 5} {
		due := generic.AddDays(generic.StartOfDay(now), -daysAgo)
		e, err := contribution.New(contribution.Input{
			ParentID:    generic.SubjectID(parents[i].ID),
			Category:    contribution.CategoryDevelopmentFund,
			Amount:      decimal.NewFromInt(80000),
			DueDate:     &due,
			Description: fmt.Sprintf("Development fund (due %d days ago)", daysAgo),
			CreatedBy:   actor,
		}, settings, now)
		if err != nil {
			return err
		}
		created, err := h.ledger.Create(ctx, e)
		if err != nil {
			return err
		}
		if i == 1 {
			if err := h.scenarioPayment(ctx, created.ID, 20000, generic.MethodBankTransfer, actor); err != nil {
				return err
			}
		}
	}

	_, err = h.sweep(ctx, nil)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// ensureParents registers the demo parents, reusing existing accounts.
func (h *Handler) ensureParents(ctx context.Context) ([]*auth.User, error) {
	out := make([]*auth.User, 0, len(demoParents))
	for _, p := range demoParents {
		u, err := h.users.GetUserByEmail(ctx, p.email)
		if errors.Is(err, auth.ErrUserNotFound) {
			u, err = h.passwords.Register(ctx, auth.RegisterInput{
				Email:    p.email,
				Name:     p.name,
				Phone:    p.phone,
				Password: DemoPassword,
				Role:     auth.RoleParent,
			})
		}
		if err != nil {
			return nil, fmt.Errorf("demo parent %s: %w", p.email, err)
		}
		out = append(out, u)
	}
	return out, nil
}

func (h *Handler) scenarioPayment(ctx context.Context, id generic.EntryID, amount int64, method generic.PaymentMethod, actor string) error {
	res, err := h.ledger.ApplyPayment(ctx, generic.PaymentInput{
		EntryID:   id,
		Amount:    decimal.NewFromInt(amount),
		Method:    method,
		Reference: "DEMO",
		ActorID:   actor,
	})
	if err != nil {
		return err
	}
	h.metrics.PaymentRecorded(res.Entry, res.Payment)
	return nil
}
