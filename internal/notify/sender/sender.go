// Package sender delivers notification payloads to email and SMS providers.
package sender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"lifetag/internal/notify/models"
	"lifetag/internal/platform/kafka"
	"lifetag/pkg/platform/circuit"
)

// ErrCircuitOpen is returned without contacting the provider while the
// breaker is open.
var ErrCircuitOpen = errors.New("sender circuit open")

// Sender delivers one payload to one channel. A nil error means the provider
// accepted the message.
type Sender interface {
	Send(ctx context.Context, ch models.Channel, templateID string, payload models.Payload) error
}

// LogSender writes deliveries to the log. Used in development.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, ch models.Channel, templateID string, payload models.Payload) error {
	s.logger.InfoContext(ctx, "notification delivered",
		"channel", ch.Kind,
		"template", templateID,
		"event_id", payload.EventID,
		"tag_id", payload.TagID,
	)
	return nil
}

// Publisher is the subset of kafka.Producer used by KafkaSender.
type Publisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// deliveryRequest is the record consumed by the email/SMS gateway.
type deliveryRequest struct {
	Channel    string         `json:"channel"`
	Address    string         `json:"address"`
	TemplateID string         `json:"template_id"`
	Payload    models.Payload `json:"payload"`
}

// KafkaSender hands deliveries to the gateway topic. The broker ack counts as
// delivered; the gateway owns provider retries from there.
type KafkaSender struct {
	publisher Publisher
	topic     string
}

func NewKafkaSender(publisher Publisher, topic string) *KafkaSender {
	return &KafkaSender{publisher: publisher, topic: topic}
}

func (s *KafkaSender) Send(ctx context.Context, ch models.Channel, templateID string, payload models.Payload) error {
	body, err := json.Marshal(deliveryRequest{
		Channel:    string(ch.Kind),
		Address:    ch.Address,
		TemplateID: templateID,
		Payload:    payload,
	})
	if err != nil {
		return fmt.Errorf("marshal delivery request: %w", err)
	}
	return s.publisher.Publish(ctx, kafka.Message{
		Topic: s.topic,
		// Keyed by event so every channel of one event lands on one partition.
		Key:   []byte(payload.EventID),
		Value: body,
		Headers: map[string]string{
			"channel":  string(ch.Kind),
			"template": templateID,
		},
	})
}

// CircuitSender stops calling a failing provider until the breaker cools
// down. Failures while open count as delivery failures and are retried by the
// dispatcher's backoff.
type CircuitSender struct {
	next    Sender
	breaker *circuit.Breaker
	logger  *slog.Logger
}

func NewCircuitSender(next Sender, breaker *circuit.Breaker, logger *slog.Logger) *CircuitSender {
	return &CircuitSender{next: next, breaker: breaker, logger: logger}
}

func (s *CircuitSender) Send(ctx context.Context, ch models.Channel, templateID string, payload models.Payload) error {
	if !s.breaker.Allow() {
		return ErrCircuitOpen
	}
	if err := s.next.Send(ctx, ch, templateID, payload); err != nil {
		if _, change := s.breaker.RecordFailure(); change.Opened {
			s.logger.WarnContext(ctx, "notification sender circuit opened",
				"breaker", s.breaker.Name(),
				"error", err,
			)
		}
		return err
	}
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.InfoContext(ctx, "notification sender circuit closed", "breaker", s.breaker.Name())
	}
	return nil
}
