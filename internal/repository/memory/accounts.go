// Package memory provides an in-process account store with the same uniqueness
// and compare-and-swap guarantees as the PostgreSQL repository.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/repository"
)

var _ port.AccountRepository = (*AccountRepository)(nil)

// AccountRepository keeps accounts in a map guarded by a single mutex.
type AccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	now      func() time.Time
}

// NewAccountRepository returns an empty store.
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		accounts: make(map[string]*domain.Account),
		now:      time.Now,
	}
}

// Len returns the number of stored accounts.
func (r *AccountRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

// Create stores a new account, rejecting duplicates the way the unique indexes do.
func (r *AccountRepository) Create(_ context.Context, in domain.NewAccount) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := domain.NormalizeEmail(in.Email)
	for _, existing := range r.accounts {
		switch {
		case existing.Email == email:
			return nil, fmt.Errorf("insert account: %w", repository.ErrDuplicateEmail)
		case strings.EqualFold(existing.Username, in.Username):
			return nil, fmt.Errorf("insert account: %w", repository.ErrDuplicateUsername)
		case in.ProviderID != nil && boundTo(existing, in.Provider, *in.ProviderID):
			return nil, fmt.Errorf("insert account: %w", repository.ErrDuplicateProvider)
		case in.VerificationTokenHash != nil && equalPtr(existing.VerificationTokenHash, *in.VerificationTokenHash):
			return nil, fmt.Errorf("insert account: %w", repository.ErrDuplicateToken)
		}
	}

	account := &domain.Account{
		ID:                    in.ID,
		Email:                 email,
		Username:              in.Username,
		PasswordHash:          in.PasswordHash,
		FirstName:             in.FirstName,
		LastName:              in.LastName,
		AvatarURL:             in.AvatarURL,
		Provider:              in.Provider,
		IsVerified:            in.IsVerified,
		VerificationTokenHash: in.VerificationTokenHash,
		VerificationExpiresAt: in.VerificationExpiresAt,
		CreatedAt:             in.CreatedAt,
		UpdatedAt:             in.CreatedAt,
	}
	switch in.Provider {
	case domain.ProviderGoogle:
		account.GoogleID = in.ProviderID
	case domain.ProviderGitHub:
		account.GitHubID = in.ProviderID
	}

	r.accounts[account.ID] = account
	return clone(account), nil
}

// GetByID retrieves an account by identifier.
func (r *AccountRepository) GetByID(_ context.Context, id string) (*domain.Account, error) {
	return r.find(func(a *domain.Account) bool { return a.ID == id })
}

// GetByEmail retrieves an account by case-insensitive email.
func (r *AccountRepository) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	email = domain.NormalizeEmail(email)
	return r.find(func(a *domain.Account) bool { return a.Email == email })
}

// GetByUsername retrieves an account by case-insensitive username.
func (r *AccountRepository) GetByUsername(_ context.Context, username string) (*domain.Account, error) {
	return r.find(func(a *domain.Account) bool { return strings.EqualFold(a.Username, username) })
}

// GetByProvider retrieves the account bound to the provider subject.
func (r *AccountRepository) GetByProvider(_ context.Context, provider domain.Provider, providerID string) (*domain.Account, error) {
	if provider != domain.ProviderGoogle && provider != domain.ProviderGitHub {
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
	return r.find(func(a *domain.Account) bool { return boundTo(a, provider, providerID) })
}

// GetByVerificationToken retrieves the holder of an unexpired verification token.
func (r *AccountRepository) GetByVerificationToken(_ context.Context, tokenHash string, now time.Time) (*domain.Account, error) {
	return r.find(func(a *domain.Account) bool {
		return equalPtr(a.VerificationTokenHash, tokenHash) && unexpired(a.VerificationExpiresAt, now)
	})
}

// GetByResetToken retrieves the holder of an unexpired reset token.
func (r *AccountRepository) GetByResetToken(_ context.Context, tokenHash string, now time.Time) (*domain.Account, error) {
	return r.find(func(a *domain.Account) bool {
		return equalPtr(a.ResetTokenHash, tokenHash) && unexpired(a.ResetExpiresAt, now)
	})
}

// LinkProvider binds the provider subject, marks the account verified and
// drops any pending verification token.
func (r *AccountRepository) LinkProvider(_ context.Context, id string, provider domain.Provider, providerID string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	for _, other := range r.accounts {
		if other.ID != id && boundTo(other, provider, providerID) {
			return nil, fmt.Errorf("link provider: %w", repository.ErrDuplicateProvider)
		}
	}

	value := providerID
	switch provider {
	case domain.ProviderGoogle:
		if account.GoogleID != nil && *account.GoogleID != providerID {
			return nil, repository.ErrProviderAlreadyLinked
		}
		account.GoogleID = &value
	case domain.ProviderGitHub:
		if account.GitHubID != nil && *account.GitHubID != providerID {
			return nil, repository.ErrProviderAlreadyLinked
		}
		account.GitHubID = &value
	default:
		return nil, fmt.Errorf("unsupported provider %q", provider)
	}
	account.IsVerified = true
	account.VerificationTokenHash, account.VerificationExpiresAt = nil, nil
	account.UpdatedAt = r.now().UTC()
	return clone(account), nil
}

// SetVerificationToken replaces any pending verification token for the account.
func (r *AccountRepository) SetVerificationToken(_ context.Context, id string, tokenHash string, expiresAt time.Time) error {
	return r.update(id, func(a *domain.Account) error {
		if r.tokenTaken(id, tokenHash, func(o *domain.Account) *string { return o.VerificationTokenHash }) {
			return fmt.Errorf("update account: %w", repository.ErrDuplicateToken)
		}
		hash, exp := tokenHash, expiresAt
		a.VerificationTokenHash, a.VerificationExpiresAt = &hash, &exp
		return nil
	})
}

// SetResetToken replaces any pending reset token for the account.
func (r *AccountRepository) SetResetToken(_ context.Context, id string, tokenHash string, expiresAt time.Time) error {
	return r.update(id, func(a *domain.Account) error {
		if r.tokenTaken(id, tokenHash, func(o *domain.Account) *string { return o.ResetTokenHash }) {
			return fmt.Errorf("update account: %w", repository.ErrDuplicateToken)
		}
		hash, exp := tokenHash, expiresAt
		a.ResetTokenHash, a.ResetExpiresAt = &hash, &exp
		return nil
	})
}

// UpdatePasswordHash replaces the stored password digest.
func (r *AccountRepository) UpdatePasswordHash(_ context.Context, id string, passwordHash string) error {
	return r.update(id, func(a *domain.Account) error {
		hash := passwordHash
		a.PasswordHash = &hash
		return nil
	})
}

// ConsumeVerificationToken marks the holder of an unexpired token verified and clears the token.
func (r *AccountRepository) ConsumeVerificationToken(_ context.Context, tokenHash string, now time.Time) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if equalPtr(a.VerificationTokenHash, tokenHash) && unexpired(a.VerificationExpiresAt, now) {
			a.IsVerified = true
			a.VerificationTokenHash, a.VerificationExpiresAt = nil, nil
			a.UpdatedAt = now.UTC()
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

// ConsumeResetToken swaps in passwordHash for the holder of an unexpired reset token and clears the token.
func (r *AccountRepository) ConsumeResetToken(_ context.Context, tokenHash string, passwordHash string, now time.Time) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.accounts {
		if equalPtr(a.ResetTokenHash, tokenHash) && unexpired(a.ResetExpiresAt, now) {
			hash := passwordHash
			a.PasswordHash = &hash
			a.ResetTokenHash, a.ResetExpiresAt = nil, nil
			a.UpdatedAt = now.UTC()
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

// SetPro flips the entitlement flag; entitlement changes are owned by billing, not by this service.
func (r *AccountRepository) SetPro(id string, isPro bool) error {
	return r.update(id, func(a *domain.Account) error {
		a.IsPro = isPro
		return nil
	})
}

func (r *AccountRepository) find(match func(*domain.Account) bool) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if match(a) {
			return clone(a), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *AccountRepository) update(id string, apply func(*domain.Account) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return repository.ErrNotFound
	}
	if err := apply(a); err != nil {
		return err
	}
	a.UpdatedAt = r.now().UTC()
	return nil
}

// tokenTaken must be called with r.mu held.
func (r *AccountRepository) tokenTaken(id, tokenHash string, field func(*domain.Account) *string) bool {
	for _, o := range r.accounts {
		if o.ID != id && equalPtr(field(o), tokenHash) {
			return true
		}
	}
	return false
}

func boundTo(a *domain.Account, provider domain.Provider, providerID string) bool {
	switch provider {
	case domain.ProviderGoogle:
		return equalPtr(a.GoogleID, providerID)
	case domain.ProviderGitHub:
		return equalPtr(a.GitHubID, providerID)
	}
	return false
}

func equalPtr(p *string, v string) bool {
	return p != nil && *p == v
}

func unexpired(expiresAt *time.Time, now time.Time) bool {
	return expiresAt != nil && now.Before(*expiresAt)
}

func clone(a *domain.Account) *domain.Account {
	c := *a
	return &c
}
