package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/infra/config"
)

const schemaVersion = "1.0"

var _ port.Notifier = (*Notifier)(nil)

// Notifier hands account notifications to the mail worker through Kafka.
type Notifier struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
	now      func() time.Time
}

// NewNotifier constructs a Kafka-backed notifier.
func NewNotifier(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *Notifier {
	return &Notifier{producer: producer, appCfg: appCfg, logger: logger, now: time.Now}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

type notificationPayload struct {
	Kind     domain.NotificationKind `json:"kind"`
	Email    string                  `json:"email"`
	Username string                  `json:"username"`
	Token    string                  `json:"token,omitempty"`
}

// SendVerification publishes a verification request carrying the raw token.
func (n *Notifier) SendVerification(ctx context.Context, email, token, username string) error {
	return n.publish(ctx, domain.NotificationEvent{Kind: domain.NotificationVerification, Email: email, Username: username, Token: token})
}

// SendPasswordReset publishes a reset request carrying the raw reset code.
func (n *Notifier) SendPasswordReset(ctx context.Context, email, token, username string) error {
	return n.publish(ctx, domain.NotificationEvent{Kind: domain.NotificationPasswordReset, Email: email, Username: username, Token: token})
}

// SendWelcome publishes a welcome notification.
func (n *Notifier) SendWelcome(ctx context.Context, email, username string) error {
	return n.publish(ctx, domain.NotificationEvent{Kind: domain.NotificationWelcome, Email: email, Username: username})
}

func (n *Notifier) publish(ctx context.Context, event domain.NotificationEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = n.now().UTC()
	}

	metadata := envelopeMetadata{
		"service":     n.appCfg.Name,
		"environment": n.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:   event.EventID,
		EventType: event.Kind.Topic(),
		Timestamp: event.CreatedAt.UTC(),
		Version:   schemaVersion,
		Payload: notificationPayload{
			Kind:     event.Kind,
			Email:    event.Email,
			Username: event.Username,
			Token:    event.Token,
		},
		Metadata: metadata,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal notification envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: n.producer.TopicName(envelope.EventType),
		Key:   sarama.StringEncoder(event.Email),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(envelope.EventType)},
			{Key: []byte("event_id"), Value: []byte(envelope.EventID)},
		},
	}

	select {
	case n.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s notification: %w", event.Kind, ctx.Err())
	}
}
