package port

import (
	"context"
	"time"

	"github.com/arklim/identity-service/internal/core/domain"
)

// AccountRepository exposes persistence behavior for accounts.
//
// Token consumption methods are compare-and-swap operations: they match on the
// stored token hash and an unexpired deadline, apply the state change and clear
// the token in one atomic step, and return repository.ErrNotFound otherwise.
type AccountRepository interface {
	Create(ctx context.Context, account domain.NewAccount) (*domain.Account, error)
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetByUsername(ctx context.Context, username string) (*domain.Account, error)
	GetByProvider(ctx context.Context, provider domain.Provider, providerID string) (*domain.Account, error)
	GetByVerificationToken(ctx context.Context, tokenHash string, now time.Time) (*domain.Account, error)
	GetByResetToken(ctx context.Context, tokenHash string, now time.Time) (*domain.Account, error)

	LinkProvider(ctx context.Context, id string, provider domain.Provider, providerID string) (*domain.Account, error)
	SetVerificationToken(ctx context.Context, id string, tokenHash string, expiresAt time.Time) error
	SetResetToken(ctx context.Context, id string, tokenHash string, expiresAt time.Time) error
	ConsumeVerificationToken(ctx context.Context, tokenHash string, now time.Time) (*domain.Account, error)
	ConsumeResetToken(ctx context.Context, tokenHash string, passwordHash string, now time.Time) (*domain.Account, error)
	UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error
}
