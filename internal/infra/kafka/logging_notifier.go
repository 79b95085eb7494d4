package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/infra/logger"
)

var _ port.Notifier = (*LoggingNotifier)(nil)

// LoggingNotifier logs notifications instead of publishing them. Used when Kafka is disabled.
type LoggingNotifier struct {
	logger       *zap.Logger
	revealTokens bool
}

// NewLoggingNotifier constructs a development notifier. Tokens are only written
// to the log when revealTokens is set.
func NewLoggingNotifier(log *zap.Logger, revealTokens bool) *LoggingNotifier {
	return &LoggingNotifier{logger: log, revealTokens: revealTokens}
}

func (n *LoggingNotifier) SendVerification(ctx context.Context, email, token, username string) error {
	n.log(ctx, domain.NotificationVerification, email, username, token)
	return nil
}

func (n *LoggingNotifier) SendPasswordReset(ctx context.Context, email, token, username string) error {
	n.log(ctx, domain.NotificationPasswordReset, email, username, token)
	return nil
}

func (n *LoggingNotifier) SendWelcome(ctx context.Context, email, username string) error {
	n.log(ctx, domain.NotificationWelcome, email, username, "")
	return nil
}

func (n *LoggingNotifier) log(ctx context.Context, kind domain.NotificationKind, email, username, token string) {
	fields := []zap.Field{
		zap.String("event_type", kind.Topic()),
		zap.String("email", logger.MaskEmail(email)),
		zap.String("username", username),
	}
	if token != "" {
		if n.revealTokens {
			fields = append(fields, zap.String("token", token))
		} else {
			fields = append(fields, zap.String("token", logger.MaskString(token)))
		}
	}
	logger.WithContext(ctx, n.logger).Info("notification logged", fields...)
}
