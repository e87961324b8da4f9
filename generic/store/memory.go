// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pta-hub/dues-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state
}

// state holds the maps. Its methods assume the caller holds the lock.
type state struct {
	entries  map[generic.EntryID]generic.Entry
	payments map[generic.EntryID][]generic.Payment
	audit    []generic.AuditEntry
	settings *generic.Settings
}

func newState() *state {
	return &state{
		entries:  make(map[generic.EntryID]generic.Entry),
		payments: make(map[generic.EntryID][]generic.Payment),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func (m *Memory) CreateEntry(ctx context.Context, e generic.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CreateEntry(ctx, e)
}

func (m *Memory) GetEntry(ctx context.Context, id generic.EntryID) (*generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetEntry(ctx, id)
}

func (m *Memory) ListEntries(ctx context.Context, f generic.EntryFilter) ([]generic.Entry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListEntries(ctx, f)
}

func (m *Memory) AllEntries(ctx context.Context, f generic.EntryFilter) ([]generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.AllEntries(ctx, f)
}

func (m *Memory) UpdateEntry(ctx context.Context, e generic.Entry, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.UpdateEntry(ctx, e, expectedVersion)
}

func (m *Memory) DeleteEntry(ctx context.Context, id generic.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeleteEntry(ctx, id)
}

func (m *Memory) AppendPayment(ctx context.Context, p generic.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendPayment(ctx, p)
}

func (m *Memory) ListPayments(ctx context.Context, id generic.EntryID) ([]generic.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPayments(ctx, id)
}

func (m *Memory) CountPayments(ctx context.Context, id generic.EntryID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.CountPayments(ctx, id)
}

func (m *Memory) OverdueCandidates(ctx context.Context, kind *generic.Kind, now time.Time) ([]generic.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.OverdueCandidates(ctx, kind, now)
}

func (m *Memory) Summarize(ctx context.Context, f generic.EntryFilter) ([]generic.SummaryRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.Summarize(ctx, f)
}

func (m *Memory) GetSettings(ctx context.Context) (generic.Settings, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetSettings(ctx)
}

func (m *Memory) SaveSettings(ctx context.Context, s generic.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveSettings(ctx, s)
}

func (m *Memory) AppendAudit(ctx context.Context, a generic.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendAudit(ctx, a)
}

func (m *Memory) QueryAudit(ctx context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.QueryAudit(ctx, f)
}

// =============================================================================
// STATE - Lock-free operations shared by Memory and transactional views
// =============================================================================

func (s *state) CreateEntry(_ context.Context, e generic.Entry) error {
	if e.ID == "" {
		return generic.NewValidationError("id", "entry id is required")
	}
	if _, exists := s.entries[e.ID]; exists {
		return generic.NewValidationError("id", "entry already exists")
	}
	s.entries[e.ID] = e
	return nil
}

func (s *state) GetEntry(_ context.Context, id generic.EntryID) (*generic.Entry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, generic.EntryNotFound(id)
	}
	return &e, nil
}

func (s *state) AllEntries(_ context.Context, f generic.EntryFilter) ([]generic.Entry, error) {
	var result []generic.Entry
	for _, e := range s.entries {
		if f.Matches(e) {
			result = append(result, e)
		}
	}
	// Newest first, id as tie-break so pagination is stable.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *state) ListEntries(ctx context.Context, f generic.EntryFilter) ([]generic.Entry, int, error) {
	all, _ := s.AllEntries(ctx, f)
	total := len(all)
	start := f.Offset()
	if start >= total {
		return []generic.Entry{}, total, nil
	}
	end := total
	if f.Limit > 0 && start+f.Limit < total {
		end = start + f.Limit
	}
	return append([]generic.Entry{}, all[start:end]...), total, nil
}

func (s *state) UpdateEntry(_ context.Context, e generic.Entry, expectedVersion int) error {
	cur, ok := s.entries[e.ID]
	if !ok {
		return generic.EntryNotFound(e.ID)
	}
	if cur.Version != expectedVersion {
		return generic.ErrConcurrentModification
	}
	e.Version = expectedVersion + 1
	e.CreatedAt = cur.CreatedAt
	e.CreatedBy = cur.CreatedBy
	s.entries[e.ID] = e
	return nil
}

func (s *state) DeleteEntry(_ context.Context, id generic.EntryID) error {
	if _, ok := s.entries[id]; !ok {
		return generic.EntryNotFound(id)
	}
	delete(s.entries, id)
	delete(s.payments, id)
	return nil
}

func (s *state) AppendPayment(_ context.Context, p generic.Payment) error {
	if _, ok := s.entries[p.EntryID]; !ok {
		return generic.EntryNotFound(p.EntryID)
	}
	s.payments[p.EntryID] = append(s.payments[p.EntryID], p)
	return nil
}

func (s *state) ListPayments(_ context.Context, id generic.EntryID) ([]generic.Payment, error) {
	result := make([]generic.Payment, len(s.payments[id]))
	copy(result, s.payments[id])
	return result, nil
}

func (s *state) CountPayments(_ context.Context, id generic.EntryID) (int, error) {
	return len(s.payments[id]), nil
}

func (s *state) OverdueCandidates(_ context.Context, kind *generic.Kind, now time.Time) ([]generic.Entry, error) {
	var result []generic.Entry
	for _, e := range s.entries {
		if kind != nil && e.Kind != *kind {
			continue
		}
		if e.IsPaid || e.IsWaived || e.IsOverdue || !generic.IsPastDue(e.DueDate, now) {
			continue
		}
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].DueDate.Equal(*result[j].DueDate) {
			return result[i].DueDate.Before(*result[j].DueDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (s *state) Summarize(ctx context.Context, f generic.EntryFilter) ([]generic.SummaryRow, error) {
	type group struct {
		kind   generic.Kind
		status generic.Status
	}
	all, _ := s.AllEntries(ctx, f)
	rows := make(map[group]*generic.SummaryRow)
	for _, e := range all {
		g := group{e.Kind, e.Status}
		r, ok := rows[g]
		if !ok {
			r = &generic.SummaryRow{
				Kind:       e.Kind,
				Status:     e.Status,
				Amount:     decimal.Zero,
				AmountPaid: decimal.Zero,
				Balance:    decimal.Zero,
			}
			rows[g] = r
		}
		r.Count++
		r.Amount = r.Amount.Add(e.Amount)
		r.AmountPaid = r.AmountPaid.Add(e.AmountPaid)
		r.Balance = r.Balance.Add(e.Balance)
	}

	result := make([]generic.SummaryRow, 0, len(rows))
	for _, r := range rows {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Kind != result[j].Kind {
			return result[i].Kind < result[j].Kind
		}
		return result[i].Status < result[j].Status
	})
	return result, nil
}

func (s *state) GetSettings(_ context.Context) (generic.Settings, bool, error) {
	if s.settings == nil {
		return generic.Settings{}, false, nil
	}
	return copySettings(*s.settings), true, nil
}

func (s *state) SaveSettings(_ context.Context, set generic.Settings) error {
	c := copySettings(set)
	s.settings = &c
	return nil
}

func copySettings(s generic.Settings) generic.Settings {
	rates := make(map[generic.Category]decimal.Decimal, len(s.PenaltyRates))
	for k, v := range s.PenaltyRates {
		rates[k] = v
	}
	s.PenaltyRates = rates
	return s
}

func (s *state) AppendAudit(_ context.Context, a generic.AuditEntry) error {
	s.audit = append(s.audit, a)
	return nil
}

// QueryAudit returns matching audit rows, newest first.
func (s *state) QueryAudit(_ context.Context, f generic.AuditFilter) ([]generic.AuditEntry, error) {
	var result []generic.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		if f.Matches(s.audit[i]) {
			result = append(result, s.audit[i])
			if f.Limit > 0 && len(result) >= f.Limit {
				break
			}
		}
	}
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.st.clone()

	// The view writes straight into the live state; the lock keeps other
	// callers out until fn returns.
	if err := fn(tm.st); err != nil {
		tm.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = append([]generic.Payment{}, v...)
	}
	c.audit = append([]generic.AuditEntry{}, s.audit...)
	if s.settings != nil {
		set := copySettings(*s.settings)
		c.settings = &set
	}
	return c
}
