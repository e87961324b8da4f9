package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/segmentio/kafka-go"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// ErrNoAddress is returned by senders that need a contact detail the
// recipient does not have.
var ErrNoAddress = errors.New("recipient has no address")

// =============================================================================
// LOG SENDER
// =============================================================================

type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.InfoContext(ctx, "notification",
		"kind", msg.Kind,
		"to", msg.To.Email,
		"entry_id", msg.EntryID,
		"subject", msg.Subject)
	return nil
}

// =============================================================================
// KAFKA SENDER
// =============================================================================

// messageWriter is the part of *kafka.Writer the sender uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes each message as a JSON event keyed by entry id, so
// all events for one entry land on the same partition.
type KafkaSender struct {
	writer messageWriter
	topic  string
}

func NewKafkaSender(brokers []string, topic string) *KafkaSender {
	return &KafkaSender{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

func (s *KafkaSender) Name() string { return "kafka" }

func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.EntryID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(msg.Kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSender) Close() error { return s.writer.Close() }

// =============================================================================
// SENDGRID SENDER
// =============================================================================

const (
	sendgridHost     = "https://api.sendgrid.com"
	sendgridEndpoint = "/v3/mail/send"
)

type SendGridSender struct {
	key        string
	from       *sgmail.Email
	subjPrefix string

	// post delivers the prepared mail and returns the HTTP status and body.
	post func(ctx context.Context, m *sgmail.SGMailV3) (int, string, error)
}

func NewSendGridSender(key, fromName, fromEmail string) *SendGridSender {
	s := &SendGridSender{
		key:        key,
		from:       sgmail.NewEmail(fromName, fromEmail),
		subjPrefix: "[" + fromName + "] ",
	}
	s.post = s.postAPI
	return s
}

func (s *SendGridSender) Name() string { return "sendgrid" }

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.To.Email) == "" {
		return ErrNoAddress
	}
	status, body, err := s.post(ctx, s.prepare(msg))
	if err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("sending email: status %d: %s", status, body)
	}
	return nil
}

func (s *SendGridSender) prepare(msg Message) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = s.subjPrefix + msg.Subject
	p.AddTos(sgmail.NewEmail(msg.To.Name, msg.To.Email))

	m := sgmail.NewV3Mail()
	m.SetFrom(s.from)
	m.AddPersonalizations(p)
	m.AddContent(sgmail.NewContent("text/plain", msg.Body))
	m.AddCategories(string(msg.Kind))
	return m
}

func (s *SendGridSender) postAPI(ctx context.Context, m *sgmail.SGMailV3) (int, string, error) {
	req := sendgrid.GetRequest(s.key, sendgridEndpoint, sendgridHost)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(m)

	res, err := sendgrid.MakeRequestWithContext(ctx, req)
	if err != nil {
		return 0, "", err
	}
	return res.StatusCode, res.Body, nil
}
