package domain

import "time"

// NotificationKind enumerates outbound account notifications.
type NotificationKind string

const (
	NotificationVerification  NotificationKind = "verification"
	NotificationPasswordReset NotificationKind = "password_reset"
	NotificationWelcome       NotificationKind = "welcome"
)

// NotificationEvent is the payload handed to the notification transport.
type NotificationEvent struct {
	EventID   string
	Kind      NotificationKind
	Email     string
	Username  string
	Token     string
	CreatedAt time.Time
}

// Topic returns the event type name used for routing.
func (k NotificationKind) Topic() string {
	return "identity.notification." + string(k)
}
