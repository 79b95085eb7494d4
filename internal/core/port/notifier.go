package port

import "context"

// Notifier delivers account notifications. Implementations may fail independently of the caller.
type Notifier interface {
	SendVerification(ctx context.Context, email, token, username string) error
	SendPasswordReset(ctx context.Context, email, token, username string) error
	SendWelcome(ctx context.Context, email, username string) error
}
