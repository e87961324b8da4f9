package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pta-hub/dues-engine/generic"
)

// =============================================================================
// MESSAGE BUILDERS
// =============================================================================

func describe(e generic.Entry) string {
	label := strings.ReplaceAll(string(e.Category), "_", " ")
	if e.Description != "" {
		return fmt.Sprintf("%s (%s)", label, e.Description)
	}
	return label
}

func money(currency string, d decimal.Decimal) string {
	return currency + " " + d.StringFixed(2)
}

// PaymentReceipt confirms a recorded payment.
func PaymentReceipt(to Recipient, e generic.Entry, p generic.Payment, currency string, now time.Time) Message {
	body := fmt.Sprintf("Dear %s,\n\nWe received %s by %s towards your %s %s.\n",
		to.Name, money(currency, p.Amount), p.Method, e.Kind, describe(e))
	if e.IsPaid {
		body += "This item is now fully paid. Thank you.\n"
	} else {
		body += fmt.Sprintf("Remaining balance: %s.\n", money(currency, e.Balance))
	}
	return Message{
		Kind:      KindPaymentReceipt,
		To:        to,
		Subject:   fmt.Sprintf("Payment received: %s", money(currency, p.Amount)),
		Body:      body,
		EntryID:   e.ID,
		EntryKind: e.Kind,
		Data: map[string]any{
			"paymentId": string(p.ID),
			"amount":    p.Amount.StringFixed(2),
			"balance":   e.Balance.StringFixed(2),
			"status":    string(e.Status),
			"reference": p.Reference,
		},
		CreatedAt: now,
	}
}

// WaiverNotice tells a parent an entry was waived.
func WaiverNotice(to Recipient, e generic.Entry, currency string, now time.Time) Message {
	return Message{
		Kind:    KindWaiverNotice,
		To:      to,
		Subject: fmt.Sprintf("Your %s has been waived", e.Kind),
		Body: fmt.Sprintf("Dear %s,\n\nYour %s %s of %s has been waived.\nReason: %s\n",
			to.Name, e.Kind, describe(e), money(currency, e.Net()), e.WaiverReason),
		EntryID:   e.ID,
		EntryKind: e.Kind,
		Data: map[string]any{
			"reason":   e.WaiverReason,
			"waivedBy": e.WaivedBy,
		},
		CreatedAt: now,
	}
}

// OverdueReminder asks a parent to settle an overdue entry.
func OverdueReminder(to Recipient, e generic.Entry, currency string, now time.Time) Message {
	due := ""
	if e.DueDate != nil {
		due = e.DueDate.Format("2 Jan 2006")
	}
	return Message{
		Kind:    KindOverdueReminder,
		To:      to,
		Subject: fmt.Sprintf("Overdue %s: %s outstanding", e.Kind, money(currency, e.Balance)),
		Body: fmt.Sprintf("Dear %s,\n\nYour %s %s was due on %s and is %d day(s) overdue.\nOutstanding balance: %s.\n",
			to.Name, e.Kind, describe(e), due, e.DaysOverdue, money(currency, e.Balance)),
		EntryID:   e.ID,
		EntryKind: e.Kind,
		Data: map[string]any{
			"balance":     e.Balance.StringFixed(2),
			"daysOverdue": e.DaysOverdue,
		},
		CreatedAt: now,
	}
}
