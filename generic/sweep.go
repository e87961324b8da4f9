package generic

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// OVERDUE SWEEPER
// =============================================================================

// MarkOverdue flags an open entry whose due date has passed. It returns the
// updated entry and whether anything changed. Entries already flagged, paid,
// waived or without a due date are returned unchanged.
func MarkOverdue(e Entry, now time.Time) (Entry, bool) {
	if e.IsPaid || e.IsWaived || e.IsOverdue || !IsPastDue(e.DueDate, now) {
		return e, false
	}
	e.IsOverdue = true
	e.DaysOverdue = DaysOverdue(*e.DueDate, now)
	e.Status = StatusOf(e)
	e.UpdatedAt = now
	return e, true
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Count   int
	Failed  int
	Message string
	Flagged []Entry
}

// SweepOverdue flags every open entry past its due date. Rows are updated
// independently: a failing row is logged and skipped, the rest still land.
// Passing a nil kind sweeps both kinds.
//
// If ctx is cancelled mid-sweep the loop stops and the rows flagged so far
// are returned alongside ctx.Err(), so callers can still act on them.
func (l *Ledger) SweepOverdue(ctx context.Context, kind *Kind) (*SweepResult, error) {
	now := l.now()
	candidates, err := l.store.OverdueCandidates(ctx, kind, now)
	if err != nil {
		return nil, fmt.Errorf("loading overdue candidates: %w", err)
	}

	result := &SweepResult{}
	var cancelled error
	for _, e := range candidates {
		if cancelled = ctx.Err(); cancelled != nil {
			break
		}

		updated, changed := MarkOverdue(e, now)
		if !changed {
			continue
		}
		if err := l.store.UpdateEntry(ctx, updated, e.Version); err != nil {
			result.Failed++
			l.logger.Warn("overdue sweep: skipping entry", "entry_id", e.ID, "kind", e.Kind, "error", err)
			continue
		}
		updated.Version = e.Version + 1

		l.audit(ctx, l.store, AuditEntry{
			ActorID: SystemActor,
			Action:  AuditFlaggedOverdue,
			EntryID: e.ID,
			Kind:    e.Kind,
			Payload: map[string]any{"days_overdue": updated.DaysOverdue},
		})
		result.Count++
		result.Flagged = append(result.Flagged, updated)
	}

	result.Message = fmt.Sprintf("%d entries marked overdue", result.Count)
	if result.Failed > 0 {
		result.Message += fmt.Sprintf(", %d failed", result.Failed)
	}
	if cancelled != nil {
		l.logger.Warn("overdue sweep interrupted", "count", result.Count, "failed", result.Failed, "error", cancelled)
		return result, cancelled
	}
	l.logger.Info("overdue sweep complete", "count", result.Count, "failed", result.Failed)
	return result, nil
}
