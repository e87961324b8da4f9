/*
handlers.go - HTTP API handlers for the dues ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, role checks and notifications, and delegates all
  balance logic to generic.Ledger.

ENDPOINTS:
  Auth:
    POST   /api/auth/login             Exchange credentials for a token
    POST   /api/auth/register          Create an account (ADMIN may set role)
    GET    /api/auth/me                Current user

  Contributions / Penalties (see entries.go):
    /api/contributions/*, /api/penalties/*

  Admin:
    GET    /api/settings               Association settings
    PUT    /api/settings               Update settings (ADMIN)
    GET    /api/ledger/summary         Totals grouped by kind and status
    GET    /api/audit                  Audit trail (ADMIN)
    GET    /api/users                  Registered users (ADMIN)

  Scenarios:
    GET    /api/scenarios              List demo data sets
    POST   /api/scenarios/load         Load a demo data set (ADMIN)

REQUEST FLOW:
  1. Authenticate (middleware.go) and check role
  2. Decode and validate input (validate.go)
  3. Call the ledger
  4. Record metrics and queue notifications
  5. Serialize response in the envelope (respond.go)

SEE ALSO:
  - dto.go: Request/response data structures
  - entries.go: Contribution and penalty handlers
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pta-hub/dues-engine/auth"
	"github.com/pta-hub/dues-engine/factory"
	"github.com/pta-hub/dues-engine/generic"
	"github.com/pta-hub/dues-engine/notify"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Deps are the collaborators a Handler needs. Notifier and Metrics are
// optional.
type Deps struct {
	Ledger   *generic.Ledger
	Users    auth.UserStore
	Tokens   *auth.JWTManager
	Notifier *notify.Dispatcher
	Metrics  *Metrics
	Logger   *slog.Logger

	// Ping checks the store for /healthz.
	Ping func(ctx context.Context) error

	// PasswordCost overrides the bcrypt cost (tests use bcrypt.MinCost).
	PasswordCost int
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	ledger    *generic.Ledger
	users     auth.UserStore
	passwords *auth.PasswordAuthenticator
	tokens    *auth.JWTManager
	settings  *factory.SettingsFactory
	notifier  *notify.Dispatcher
	metrics   *Metrics
	logger    *slog.Logger
	ping      func(ctx context.Context) error

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler from its dependencies.
func NewHandler(d Deps) *Handler {
	h := &Handler{
		ledger:    d.Ledger,
		users:     d.Users,
		passwords: auth.NewPasswordAuthenticator(d.Users),
		tokens:    d.Tokens,
		settings:  factory.NewSettingsFactory(),
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		logger:    d.Logger,
		ping:      d.Ping,
	}
	if d.PasswordCost > 0 {
		h.passwords = h.passwords.WithCost(d.PasswordCost)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.metrics == nil {
		h.metrics = NewMetrics()
	}
	return h
}

// Metrics returns the handler's collectors.
func (h *Handler) Metrics() *Metrics { return h.metrics }

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// Login exchanges email and password for a bearer token.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	user, err := h.passwords.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.issueToken(w, r, http.StatusOK, user, "login successful")
}

// Register creates an account. Anonymous callers always get PARENT; an
// authenticated admin may create other admins.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	role := auth.RoleParent
	if req.Role != "" && auth.Role(req.Role) != auth.RoleParent {
		id, ok := IdentityFrom(r.Context())
		if !ok || !id.IsAdmin() {
			h.writeError(w, r, generic.ErrForbidden)
			return
		}
		role = auth.Role(req.Role)
	}

	user, err := h.passwords.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Name:     req.Name,
		Phone:    req.Phone,
		Password: req.Password,
		Role:     role,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.issueToken(w, r, http.StatusCreated, user, "account created")
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request, status int, user *auth.User, msg string) {
	token, err := h.tokens.Generate(user)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, status, AuthResponse{Token: token, User: *user}, msg)
}

// Me returns the authenticated user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := IdentityFrom(r.Context())
	user, err := h.users.GetUserByID(r.Context(), id.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, user, "")
}

// ListUsers returns registered users, optionally filtered by ?role=.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	var role *auth.Role
	if v := r.URL.Query().Get("role"); v != "" {
		rl := auth.Role(v)
		if !rl.Valid() {
			h.writeError(w, r, generic.NewValidationError("role", "must be one of [ADMIN PARENT]"))
			return
		}
		role = &rl
	}
	users, err := h.users.ListUsers(r.Context(), role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if users == nil {
		users = []auth.User{}
	}
	respond(w, http.StatusOK, users, "")
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

func (h *Handler) toSettingsDTO(s generic.Settings) SettingsDTO {
	dto := SettingsDTO{SettingsJSON: h.settings.ToJSON(s), UpdatedBy: s.UpdatedBy}
	if !s.UpdatedAt.IsZero() {
		at := s.UpdatedAt
		dto.UpdatedAt = &at
	}
	return dto
}

// GetSettings returns the current settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.ledger.Settings(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, h.toSettingsDTO(s), "")
}

// UpdateSettings overlays the fields present in the body onto the current
// settings.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var doc factory.SettingsJSON
	if err := decodeJSON(w, r, &doc); err != nil {
		h.writeError(w, r, err)
		return
	}
	current, err := h.ledger.Settings(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	next, err := h.settings.Apply(current, doc)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	id, _ := IdentityFrom(r.Context())
	saved, err := h.ledger.SaveSettings(r.Context(), next, id.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respond(w, http.StatusOK, h.toSettingsDTO(saved), "settings updated")
}

// =============================================================================
// REPORTING HANDLERS
// =============================================================================

// LedgerSummary groups entries by kind and status. Parents only see their
// own entries.
func (h *Handler) LedgerSummary(w http.ResponseWriter, r *http.Request) {
	f, err := parseEntryFilter(r, nil)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	scopeToCaller(r.Context(), &f)

	rows, err := h.ledger.Summary(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]SummaryRowDTO, len(rows))
	for i, row := range rows {
		out[i] = SummaryRowDTO(row)
	}
	respond(w, http.StatusOK, out, "")
}

// ListAudit returns audit rows, newest first.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := generic.AuditFilter{Limit: 100}
	if v := q.Get("entryId"); v != "" {
		id := generic.EntryID(v)
		f.EntryID = &id
	}
	if v := q.Get("actorId"); v != "" {
		f.ActorID = &v
	}
	for _, a := range q["action"] {
		f.Actions = append(f.Actions, generic.AuditAction(a))
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			h.writeError(w, r, generic.NewValidationError("limit", "must be between 1 and 1000"))
			return
		}
		f.Limit = n
	}

	rows, err := h.ledger.Audit(r.Context(), f)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]AuditEntryDTO, len(rows))
	for i, a := range rows {
		out[i] = AuditEntryDTO{
			ID:        a.ID,
			Timestamp: a.Timestamp,
			ActorID:   a.ActorID,
			Action:    a.Action,
			EntryID:   string(a.EntryID),
			Kind:      a.Kind,
			Payload:   a.Payload,
		}
	}
	respond(w, http.StatusOK, out, "")
}

// Health reports whether the store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			respond(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}, err.Error())
			return
		}
	}
	respond(w, http.StatusOK, map[string]string{"status": "ok"}, "")
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// recipientFor resolves the parent behind an entry. Unknown parents still
// get a recipient carrying their id so log and event senders work.
func (h *Handler) recipientFor(ctx context.Context, subject generic.SubjectID) notify.Recipient {
	to := notify.Recipient{UserID: string(subject)}
	u, err := h.users.GetUserByID(ctx, string(subject))
	if err != nil {
		return to
	}
	to.Name = u.Name
	to.Email = u.Email
	to.Phone = u.Phone
	return to
}

// sendNotices builds one message per entry and hands them to the dispatcher in
// the background.
func (h *Handler) sendNotices(ctx context.Context, entries []generic.Entry, build func(notify.Recipient, generic.Entry, string) notify.Message) {
	if h.notifier == nil || len(entries) == 0 {
		return
	}
	currency := factory.DefaultCurrency
	if s, err := h.ledger.Settings(ctx); err == nil && s.Currency != "" {
		currency = s.Currency
	}
	msgs := make([]notify.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, build(h.recipientFor(ctx, e.SubjectID), e, currency))
	}
	h.notifier.Go(msgs...)
}
