package generic

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATISTICS AGGREGATOR - Pure reduction over a filtered set
// =============================================================================

var hundred = decimal.NewFromInt(100)

type StatusBucket struct {
	Count   int
	Amount  decimal.Decimal
	Balance decimal.Decimal
}

type Averages struct {
	Amount  decimal.Decimal
	Paid    decimal.Decimal
	Balance decimal.Decimal
}

type Stats struct {
	TotalCount      int
	TotalAmount     decimal.Decimal
	TotalAdjustment decimal.Decimal
	TotalPaid       decimal.Decimal
	TotalBalance    decimal.Decimal

	// CollectionRate is TotalPaid / TotalAmount * 100 fixed to two decimals,
	// "0.00" when TotalAmount is zero.
	CollectionRate string

	StatusBreakdown map[Status]StatusBucket
	OverdueCount    int
	WaivedCount     int
	Averages        Averages
}

// ComputeStats reduces entries to report totals. It never mutates its input.
func ComputeStats(entries []Entry) Stats {
	s := Stats{
		TotalAmount:     decimal.Zero,
		TotalAdjustment: decimal.Zero,
		TotalPaid:       decimal.Zero,
		TotalBalance:    decimal.Zero,
		StatusBreakdown: make(map[Status]StatusBucket, len(AllStatuses)),
	}
	for _, st := range AllStatuses {
		s.StatusBreakdown[st] = StatusBucket{Amount: decimal.Zero, Balance: decimal.Zero}
	}

	for _, e := range entries {
		s.TotalCount++
		s.TotalAmount = s.TotalAmount.Add(e.Amount)
		s.TotalAdjustment = s.TotalAdjustment.Add(e.Adjustment)
		s.TotalPaid = s.TotalPaid.Add(e.AmountPaid)
		s.TotalBalance = s.TotalBalance.Add(e.Balance)
		if e.IsOverdue {
			s.OverdueCount++
		}
		if e.IsWaived {
			s.WaivedCount++
		}

		b := s.StatusBreakdown[e.Status]
		b.Count++
		b.Amount = b.Amount.Add(e.Amount)
		b.Balance = b.Balance.Add(e.Balance)
		s.StatusBreakdown[e.Status] = b
	}

	s.CollectionRate = CollectionRate(s.TotalPaid, s.TotalAmount)
	s.Averages = Averages{Amount: decimal.Zero, Paid: decimal.Zero, Balance: decimal.Zero}
	if s.TotalCount > 0 {
		n := decimal.NewFromInt(int64(s.TotalCount))
		s.Averages = Averages{
			Amount:  s.TotalAmount.Div(n).Round(2),
			Paid:    s.TotalPaid.Div(n).Round(2),
			Balance: s.TotalBalance.Div(n).Round(2),
		}
	}
	return s
}

// CollectionRate returns paid/total*100 as a 2-decimal string, guarding zero totals.
func CollectionRate(paid, total decimal.Decimal) string {
	if total.IsZero() {
		return "0.00"
	}
	return paid.Div(total).Mul(hundred).StringFixed(2)
}

// Stats loads every entry matching f (pagination ignored) and reduces it.
func (l *Ledger) Stats(ctx context.Context, f EntryFilter) (Stats, error) {
	if err := f.Validate(); err != nil {
		return Stats{}, err
	}
	entries, err := l.store.AllEntries(ctx, f)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(entries), nil
}

// Summary returns the store's grouped aggregation by kind and status.
func (l *Ledger) Summary(ctx context.Context, f EntryFilter) ([]SummaryRow, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return l.store.Summarize(ctx, f)
}
