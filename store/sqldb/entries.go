package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/pta-hub/dues-engine/generic"
)

// querier runs the generic.Store queries against a *sqlx.DB or a *sqlx.Tx.
type querier struct {
	x sqlx.ExtContext
}

// =============================================================================
// ROW MAPPING
// =============================================================================

type entryRow struct {
	ID           string  `db:"id"`
	Kind         string  `db:"kind"`
	Category     string  `db:"category"`
	SubjectID    string  `db:"subject_id"`
	ReferenceID  string  `db:"reference_id"`
	Description  string  `db:"description"`
	Amount       string  `db:"amount"`
	Adjustment   string  `db:"adjustment"`
	AmountPaid   string  `db:"amount_paid"`
	Balance      string  `db:"balance"`
	DueDate      *string `db:"due_date"`
	IsPaid       bool    `db:"is_paid"`
	IsOverdue    bool    `db:"is_overdue"`
	DaysOverdue  int     `db:"days_overdue"`
	IsWaived     bool    `db:"is_waived"`
	WaivedAt     *string `db:"waived_at"`
	WaivedBy     string  `db:"waived_by"`
	WaiverReason string  `db:"waiver_reason"`
	Status       string  `db:"status"`
	Version      int     `db:"version"`
	CreatedBy    string  `db:"created_by"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
}

const entryColumns = `id, kind, category, subject_id, reference_id, description,
	amount, adjustment, amount_paid, balance, due_date, is_paid, is_overdue,
	days_overdue, is_waived, waived_at, waived_by, waiver_reason, status,
	version, created_by, created_at, updated_at`

func toEntryRow(e generic.Entry) entryRow {
	return entryRow{
		ID:           string(e.ID),
		Kind:         string(e.Kind),
		Category:     string(e.Category),
		SubjectID:    string(e.SubjectID),
		ReferenceID:  e.ReferenceID,
		Description:  e.Description,
		Amount:       e.Amount.String(),
		Adjustment:   e.Adjustment.String(),
		AmountPaid:   e.AmountPaid.String(),
		Balance:      e.Balance.String(),
		DueDate:      formatTimePtr(e.DueDate),
		IsPaid:       e.IsPaid,
		IsOverdue:    e.IsOverdue,
		DaysOverdue:  e.DaysOverdue,
		IsWaived:     e.IsWaived,
		WaivedAt:     formatTimePtr(e.WaivedAt),
		WaivedBy:     e.WaivedBy,
		WaiverReason: e.WaiverReason,
		Status:       string(e.Status),
		Version:      e.Version,
		CreatedBy:    e.CreatedBy,
		CreatedAt:    formatTime(e.CreatedAt),
		UpdatedAt:    formatTime(e.UpdatedAt),
	}
}

func (r entryRow) toEntry() (generic.Entry, error) {
	e := generic.Entry{
		ID:           generic.EntryID(r.ID),
		Kind:         generic.Kind(r.Kind),
		Category:     generic.Category(r.Category),
		SubjectID:    generic.SubjectID(r.SubjectID),
		ReferenceID:  r.ReferenceID,
		Description:  r.Description,
		IsPaid:       r.IsPaid,
		IsOverdue:    r.IsOverdue,
		DaysOverdue:  r.DaysOverdue,
		IsWaived:     r.IsWaived,
		WaivedBy:     r.WaivedBy,
		WaiverReason: r.WaiverReason,
		Status:       generic.Status(r.Status),
		Version:      r.Version,
		CreatedBy:    r.CreatedBy,
	}

	var err error
	amounts := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&e.Amount, r.Amount},
		{&e.Adjustment, r.Adjustment},
		{&e.AmountPaid, r.AmountPaid},
		{&e.Balance, r.Balance},
	}
	for _, a := range amounts {
		if *a.dst, err = decimal.NewFromString(a.src); err != nil {
			return e, fmt.Errorf("entry %s: bad amount %q: %w", r.ID, a.src, err)
		}
	}
	if e.DueDate, err = parseTimePtr(r.DueDate); err != nil {
		return e, fmt.Errorf("entry %s: bad due date: %w", r.ID, err)
	}
	if e.WaivedAt, err = parseTimePtr(r.WaivedAt); err != nil {
		return e, fmt.Errorf("entry %s: bad waived_at: %w", r.ID, err)
	}
	if e.CreatedAt, err = parseTime(r.CreatedAt); err != nil {
		return e, fmt.Errorf("entry %s: bad created_at: %w", r.ID, err)
	}
	if e.UpdatedAt, err = parseTime(r.UpdatedAt); err != nil {
		return e, fmt.Errorf("entry %s: bad updated_at: %w", r.ID, err)
	}
	return e, nil
}

func toEntries(rows []entryRow) ([]generic.Entry, error) {
	out := make([]generic.Entry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// =============================================================================
// FILTERS
// =============================================================================

// whereClause turns an EntryFilter into a WHERE clause with ? placeholders.
func whereClause(f generic.EntryFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if f.Kind != nil {
		add("kind = ?", string(*f.Kind))
	}
	if f.SubjectID != "" {
		add("subject_id = ?", string(f.SubjectID))
	}
	if f.ReferenceID != "" {
		add("reference_id = ?", f.ReferenceID)
	}
	if f.Category != nil {
		add("category = ?", string(*f.Category))
	}
	if f.Status != nil {
		add("status = ?", string(*f.Status))
	}
	if f.Overdue != nil {
		add("is_overdue = ?", *f.Overdue)
	}
	if f.DueFrom != nil {
		add("due_date >= ?", formatTime(*f.DueFrom))
	}
	if f.DueTo != nil {
		add("due_date <= ?", formatTime(*f.DueTo))
	}
	if f.CreatedFrom != nil {
		add("created_at >= ?", formatTime(*f.CreatedFrom))
	}
	if f.CreatedTo != nil {
		add("created_at <= ?", formatTime(*f.CreatedTo))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// =============================================================================
// ENTRIES
// =============================================================================

func (q *querier) CreateEntry(ctx context.Context, e generic.Entry) error {
	_, err := sqlx.NamedExecContext(ctx, q.x, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (:id, :kind, :category, :subject_id, :reference_id, :description,
			:amount, :adjustment, :amount_paid, :balance, :due_date, :is_paid, :is_overdue,
			:days_overdue, :is_waived, :waived_at, :waived_by, :waiver_reason, :status,
			:version, :created_by, :created_at, :updated_at)`, toEntryRow(e))
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.NewValidationError("id", "entry already exists")
		}
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

func (q *querier) GetEntry(ctx context.Context, id generic.EntryID) (*generic.Entry, error) {
	var row entryRow
	err := sqlx.GetContext(ctx, q.x, &row,
		q.x.Rebind(`SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.EntryNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entry: %w", err)
	}
	e, err := row.toEntry()
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (q *querier) ListEntries(ctx context.Context, f generic.EntryFilter) ([]generic.Entry, int, error) {
	where, args := whereClause(f)

	var total int
	if err := sqlx.GetContext(ctx, q.x, &total,
		q.x.Rebind(`SELECT COUNT(*) FROM ledger_entries`+where), args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count entries: %w", err)
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries` + where +
		` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
	var rows []entryRow
	if err := sqlx.SelectContext(ctx, q.x, &rows, q.x.Rebind(query),
		append(args, f.Limit, f.Offset())...); err != nil {
		return nil, 0, fmt.Errorf("failed to list entries: %w", err)
	}
	entries, err := toEntries(rows)
	return entries, total, err
}

func (q *querier) AllEntries(ctx context.Context, f generic.EntryFilter) ([]generic.Entry, error) {
	where, args := whereClause(f)
	var rows []entryRow
	query := `SELECT ` + entryColumns + ` FROM ledger_entries` + where + ` ORDER BY created_at DESC, id ASC`
	if err := sqlx.SelectContext(ctx, q.x, &rows, q.x.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load entries: %w", err)
	}
	return toEntries(rows)
}

func (q *querier) UpdateEntry(ctx context.Context, e generic.Entry, expectedVersion int) error {
	row := toEntryRow(e)
	res, err := q.x.ExecContext(ctx, q.x.Rebind(`
		UPDATE ledger_entries SET
			category = ?, reference_id = ?, description = ?,
			amount = ?, adjustment = ?, amount_paid = ?, balance = ?,
			due_date = ?, is_paid = ?, is_overdue = ?, days_overdue = ?,
			is_waived = ?, waived_at = ?, waived_by = ?, waiver_reason = ?,
			status = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`),
		row.Category, row.ReferenceID, row.Description,
		row.Amount, row.Adjustment, row.AmountPaid, row.Balance,
		row.DueDate, row.IsPaid, row.IsOverdue, row.DaysOverdue,
		row.IsWaived, row.WaivedAt, row.WaivedBy, row.WaiverReason,
		row.Status, expectedVersion+1, row.UpdatedAt,
		row.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := q.GetEntry(ctx, e.ID); err != nil {
		return err
	}
	return generic.ErrConcurrentModification
}

func (q *querier) DeleteEntry(ctx context.Context, id generic.EntryID) error {
	res, err := q.x.ExecContext(ctx, q.x.Rebind(`DELETE FROM ledger_entries WHERE id = ?`), string(id))
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.EntryNotFound(id)
	}
	return nil
}

func (q *querier) OverdueCandidates(ctx context.Context, kind *generic.Kind, now time.Time) ([]generic.Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE due_date IS NOT NULL AND due_date < ?
		AND is_paid = ? AND is_waived = ? AND is_overdue = ?`
	args := []any{formatTime(now), false, false, false}
	if kind != nil {
		query += ` AND kind = ?`
		args = append(args, string(*kind))
	}
	query += ` ORDER BY due_date ASC, id ASC`

	var rows []entryRow
	if err := sqlx.SelectContext(ctx, q.x, &rows, q.x.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load overdue candidates: %w", err)
	}
	return toEntries(rows)
}

// Summarize groups entries by kind and status. TEXT amounts are summed in Go
// with decimal arithmetic so the totals stay exact on both drivers.
func (q *querier) Summarize(ctx context.Context, f generic.EntryFilter) ([]generic.SummaryRow, error) {
	where, args := whereClause(f)
	var rows []struct {
		Kind       string `db:"kind"`
		Status     string `db:"status"`
		Amount     string `db:"amount"`
		AmountPaid string `db:"amount_paid"`
		Balance    string `db:"balance"`
	}
	query := `SELECT kind, status, amount, amount_paid, balance FROM ledger_entries` + where +
		` ORDER BY kind, status`
	if err := sqlx.SelectContext(ctx, q.x, &rows, q.x.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to summarize entries: %w", err)
	}

	type group struct{ kind, status string }
	index := make(map[group]int)
	var out []generic.SummaryRow
	for _, r := range rows {
		g := group{r.Kind, r.Status}
		i, ok := index[g]
		if !ok {
			i = len(out)
			index[g] = i
			out = append(out, generic.SummaryRow{
				Kind:       generic.Kind(r.Kind),
				Status:     generic.Status(r.Status),
				Amount:     decimal.Zero,
				AmountPaid: decimal.Zero,
				Balance:    decimal.Zero,
			})
		}
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("failed to summarize entries: bad amount %q: %w", r.Amount, err)
		}
		paid, err := decimal.NewFromString(r.AmountPaid)
		if err != nil {
			return nil, fmt.Errorf("failed to summarize entries: bad amount_paid %q: %w", r.AmountPaid, err)
		}
		balance, err := decimal.NewFromString(r.Balance)
		if err != nil {
			return nil, fmt.Errorf("failed to summarize entries: bad balance %q: %w", r.Balance, err)
		}
		out[i].Count++
		out[i].Amount = out[i].Amount.Add(amount)
		out[i].AmountPaid = out[i].AmountPaid.Add(paid)
		out[i].Balance = out[i].Balance.Add(balance)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Status < out[j].Status
	})
	return out, nil
}

// =============================================================================
// PAYMENTS - Append-only
// =============================================================================

type paymentRow struct {
	ID         string `db:"id"`
	EntryID    string `db:"entry_id"`
	Amount     string `db:"amount"`
	Method     string `db:"method"`
	Reference  string `db:"reference"`
	Notes      string `db:"notes"`
	RecordedBy string `db:"recorded_by"`
	PaidAt     string `db:"paid_at"`
}

func (q *querier) AppendPayment(ctx context.Context, p generic.Payment) error {
	_, err := sqlx.NamedExecContext(ctx, q.x, `
		INSERT INTO payments (id, entry_id, amount, method, reference, notes, recorded_by, paid_at)
		VALUES (:id, :entry_id, :amount, :method, :reference, :notes, :recorded_by, :paid_at)`,
		paymentRow{
			ID:         string(p.ID),
			EntryID:    string(p.EntryID),
			Amount:     p.Amount.String(),
			Method:     string(p.Method),
			Reference:  p.Reference,
			Notes:      p.Notes,
			RecordedBy: p.RecordedBy,
			PaidAt:     formatTime(p.PaidAt),
		})
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (q *querier) ListPayments(ctx context.Context, id generic.EntryID) ([]generic.Payment, error) {
	var rows []paymentRow
	if err := sqlx.SelectContext(ctx, q.x, &rows, q.x.Rebind(`
		SELECT id, entry_id, amount, method, reference, notes, recorded_by, paid_at
		FROM payments WHERE entry_id = ? ORDER BY paid_at ASC, id ASC`), string(id)); err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}

	out := make([]generic.Payment, 0, len(rows))
	for _, r := range rows {
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("payment %s: bad amount %q: %w", r.ID, r.Amount, err)
		}
		paidAt, err := parseTime(r.PaidAt)
		if err != nil {
			return nil, fmt.Errorf("payment %s: bad paid_at: %w", r.ID, err)
		}
		out = append(out, generic.Payment{
			ID:         generic.PaymentID(r.ID),
			EntryID:    generic.EntryID(r.EntryID),
			Amount:     amount,
			Method:     generic.PaymentMethod(r.Method),
			Reference:  r.Reference,
			Notes:      r.Notes,
			RecordedBy: r.RecordedBy,
			PaidAt:     paidAt,
		})
	}
	return out, nil
}

func (q *querier) CountPayments(ctx context.Context, id generic.EntryID) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, q.x, &n,
		q.x.Rebind(`SELECT COUNT(*) FROM payments WHERE entry_id = ?`), string(id)); err != nil {
		return 0, fmt.Errorf("failed to count payments: %w", err)
	}
	return n, nil
}

// =============================================================================
// SETTINGS - Single JSON document
// =============================================================================

type settingsDoc struct {
	Currency            string            `json:"currency"`
	PenaltyRates        map[string]string `json:"penaltyRates"`
	QuorumPercentage    int               `json:"quorumPercentage"`
	PenaltyDueDays      int               `json:"penaltyDueDays"`
	ContributionDueDays int               `json:"contributionDueDays"`
}

func (q *querier) GetSettings(ctx context.Context) (generic.Settings, bool, error) {
	var row struct {
		Doc       string `db:"doc_json"`
		UpdatedBy string `db:"updated_by"`
		UpdatedAt string `db:"updated_at"`
	}
	err := sqlx.GetContext(ctx, q.x, &row, `SELECT doc_json, updated_by, updated_at FROM settings WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Settings{}, false, nil
	}
	if err != nil {
		return generic.Settings{}, false, fmt.Errorf("failed to load settings: %w", err)
	}

	var doc settingsDoc
	if err := json.Unmarshal([]byte(row.Doc), &doc); err != nil {
		return generic.Settings{}, false, fmt.Errorf("failed to decode settings: %w", err)
	}
	s := generic.Settings{
		Currency:            doc.Currency,
		PenaltyRates:        make(map[generic.Category]decimal.Decimal, len(doc.PenaltyRates)),
		QuorumPercentage:    doc.QuorumPercentage,
		PenaltyDueDays:      doc.PenaltyDueDays,
		ContributionDueDays: doc.ContributionDueDays,
		UpdatedBy:           row.UpdatedBy,
	}
	for c, v := range doc.PenaltyRates {
		rate, err := decimal.NewFromString(v)
		if err != nil {
			return generic.Settings{}, false, fmt.Errorf("settings: bad rate for %s: %w", c, err)
		}
		s.PenaltyRates[generic.Category(c)] = rate
	}
	if s.UpdatedAt, err = parseTime(row.UpdatedAt); err != nil {
		return generic.Settings{}, false, fmt.Errorf("settings: bad updated_at: %w", err)
	}
	return s, true, nil
}

func (q *querier) SaveSettings(ctx context.Context, s generic.Settings) error {
	doc := settingsDoc{
		Currency:            s.Currency,
		PenaltyRates:        make(map[string]string, len(s.PenaltyRates)),
		QuorumPercentage:    s.QuorumPercentage,
		PenaltyDueDays:      s.PenaltyDueDays,
		ContributionDueDays: s.ContributionDueDays,
	}
	for c, v := range s.PenaltyRates {
		doc.PenaltyRates[string(c)] = v.String()
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	_, err = q.x.ExecContext(ctx, q.x.Rebind(`
		INSERT INTO settings (id, doc_json, updated_by, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET doc_json = excluded.doc_json,
			updated_by = excluded.updated_by, updated_at = excluded.updated_at`),
		string(raw), s.UpdatedBy, formatTime(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

type auditRow struct {
	ID      string `db:"id"`
	TS      string `db:"ts"`
	ActorID string `db:"actor_id"`
	Action  string `db:"action"`
	EntryID string `db:"entry_id"`
	Kind    string `db:"kind"`
	Payload string `db:"payload_json"`
}

func (q *querier) AppendAudit(ctx context.Context, a generic.AuditEntry) error {
	payload := []byte("{}")
	if len(a.Payload) > 0 {
		var err error
		if payload, err = json.Marshal(a.Payload); err != nil {
			return fmt.Errorf("failed to encode audit payload: %w", err)
		}
	}
	_, err := sqlx.NamedExecContext(ctx, q.x, `
		INSERT INTO audit_log (id, ts, actor_id, action, entry_id, kind, payload_json)
		VALUES (:id, :ts, :actor_id, :action, :entry_id, :kind, :payload_json)`,
		auditRow{
			ID:      a.ID,
			TS:      formatTime(a.Timestamp),
			ActorID: a.ActorID,
			Action:  string(a.Action),
			EntryID: string(a.EntryID),
			Kind:    string(a.Kind),
			Payload: string(payload),
		})
	if err != nil {
		return fmt.Errorf("failed to append audit: %w", err)
	}
	return nil
}

// QueryAudit returns matching audit rows, newest first.
func (q *querier) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	var (
		conds []string
		args  []any
	)
	if f.EntryID != nil {
		conds = append(conds, "entry_id = ?")
		args = append(args, string(*f.EntryID))
	}
	if f.ActorID != nil {
		conds = append(conds, "actor_id = ?")
		args = append(args, *f.ActorID)
	}
	if len(f.Actions) > 0 {
		marks := make([]string, len(f.Actions))
		for i, a := range f.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		conds = append(conds, "action IN ("+strings.Join(marks, ", ")+")")
	}
	if f.From != nil {
		conds = append(conds, "ts >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "ts <= ?")
		args = append(args, formatTime(*f.To))
	}

	query := `SELECT id, ts, actor_id, action, entry_id, kind, payload_json FROM audit_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY ts DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var rows []auditRow
	if err := sqlx.SelectContext(ctx, q.x, &rows, q.x.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query audit: %w", err)
	}

	out := make([]generic.AuditEntry, 0, len(rows))
	for _, r := range rows {
		ts, err := parseTime(r.TS)
		if err != nil {
			return nil, fmt.Errorf("audit %s: bad timestamp: %w", r.ID, err)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(r.Payload), &payload); err != nil {
			return nil, fmt.Errorf("audit %s: bad payload: %w", r.ID, err)
		}
		out = append(out, generic.AuditEntry{
			ID:        r.ID,
			Timestamp: ts,
			ActorID:   r.ActorID,
			Action:    generic.AuditAction(r.Action),
			EntryID:   generic.EntryID(r.EntryID),
			Kind:      generic.Kind(r.Kind),
			Payload:   payload,
		})
	}
	return out, nil
}
