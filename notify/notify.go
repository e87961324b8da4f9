/*
Package notify delivers payment receipts, waiver notices and overdue
reminders to parents.

PURPOSE:
  The ledger engine never talks to the outside world. After a payment,
  waiver or sweep the HTTP layer builds Messages and hands them to a
  Dispatcher, which pushes them through a Sender in paced batches.

SENDERS:
  LogSender:      Writes messages to the structured log (development)
  KafkaSender:    Publishes JSON events to a Kafka topic for other services
  SendGridSender: Emails the parent through the SendGrid v3 mail API

DELIVERY:
  Best effort. A failed send is logged and counted; the next message is
  still attempted and nothing is retried.

SEE ALSO:
  - dispatcher.go: Batching and pacing
  - messages.go: Message builders
*/
package notify

import (
	"context"
	"time"

	"github.com/pta-hub/dues-engine/generic"
)

type MessageKind string

const (
	KindPaymentReceipt  MessageKind = "payment_receipt"
	KindWaiverNotice    MessageKind = "waiver_notice"
	KindOverdueReminder MessageKind = "overdue_reminder"
)

// Recipient is the parent a message is addressed to.
type Recipient struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone,omitempty"`
}

// Message is one notification, independent of how it is delivered.
type Message struct {
	Kind      MessageKind     `json:"type"`
	To        Recipient       `json:"recipient"`
	Subject   string          `json:"subject"`
	Body      string          `json:"body"`
	EntryID   generic.EntryID `json:"entryId"`
	EntryKind generic.Kind    `json:"entryKind"`
	Data      map[string]any  `json:"data,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Sender delivers a single message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}
