package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/infra/logger"
	"github.com/arklim/identity-service/internal/infra/security"
	"github.com/arklim/identity-service/internal/repository"
)

const (
	maxResolveAttempts  = 3
	maxUsernameAttempts = 10
	usernameSuffixLen   = 4
	usernameMinLen      = 3
	usernameMaxLen      = 30
	fallbackUsername    = "user"
)

// AccountResolver maps an authenticated external identity onto exactly one local account.
type AccountResolver struct {
	accounts port.AccountRepository
	logger   *zap.Logger
	now      func() time.Time
	suffix   func() (string, error)
}

// NewAccountResolver constructs an AccountResolver.
func NewAccountResolver(accounts port.AccountRepository, log *zap.Logger) *AccountResolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &AccountResolver{
		accounts: accounts,
		logger:   log,
		now:      time.Now,
		suffix:   func() (string, error) { return security.GenerateNumericCode(usernameSuffixLen) },
	}
}

// WithSuffixSource overrides how username disambiguation suffixes are drawn.
func (r *AccountResolver) WithSuffixSource(next func() (string, error)) *AccountResolver {
	if next != nil {
		r.suffix = next
	}
	return r
}

// Resolve returns the account bound to profile, linking it to an account with
// the same email or creating a new verified account when no binding exists.
//
// A uniqueness violation while linking or creating means a concurrent callback
// won the race; the lookup is repeated so both callers end on the same account.
func (r *AccountResolver) Resolve(ctx context.Context, profile domain.ExternalProfile) (*domain.Account, error) {
	provider, ok := domain.ParseProvider(string(profile.Provider))
	if !ok {
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrLinkFailed, profile.Provider)
	}
	profile.Provider = provider
	profile.ProviderID = strings.TrimSpace(profile.ProviderID)
	if profile.ProviderID == "" {
		return nil, fmt.Errorf("%w: provider profile has no subject id", ErrLinkFailed)
	}
	profile.Email = domain.NormalizeEmail(profile.Email)
	if profile.Email == "" {
		return nil, fmt.Errorf("%w: provider profile has no email address", ErrLinkFailed)
	}

	log := logger.WithContext(ctx, r.logger).With(
		zap.String("provider", string(provider)),
		zap.String("email", logger.MaskEmail(profile.Email)),
	)

	var account *domain.Account
	backoff := retry.WithMaxRetries(maxResolveAttempts-1, retry.NewConstant(5*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		account, err = r.resolveOnce(ctx, profile, log)
		if errors.Is(err, repository.ErrDuplicateProvider) || errors.Is(err, repository.ErrDuplicateEmail) {
			log.Debug("concurrent account resolution detected, retrying lookup", zap.Error(err))
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrLinkFailed) {
			return nil, err
		}
		log.Error("resolve external account failed", zap.Error(err))
		return nil, internal("resolve external account", err)
	}
	return account, nil
}

func (r *AccountResolver) resolveOnce(ctx context.Context, profile domain.ExternalProfile, log *zap.Logger) (*domain.Account, error) {
	account, err := r.accounts.GetByProvider(ctx, profile.Provider, profile.ProviderID)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup provider binding: %w", err)
	}

	existing, err := r.accounts.GetByEmail(ctx, profile.Email)
	switch {
	case err == nil:
		linked, linkErr := r.accounts.LinkProvider(ctx, existing.ID, profile.Provider, profile.ProviderID)
		if errors.Is(linkErr, repository.ErrProviderAlreadyLinked) {
			return nil, fmt.Errorf("%w: account is bound to a different %s identity", ErrLinkFailed, profile.Provider)
		}
		if linkErr != nil {
			return nil, fmt.Errorf("link provider: %w", linkErr)
		}
		log.Info("provider linked to existing account", zap.String("account_id", linked.ID))
		return linked, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("lookup email: %w", err)
	}

	return r.create(ctx, profile, log)
}

func (r *AccountResolver) create(ctx context.Context, profile domain.ExternalProfile, log *zap.Logger) (*domain.Account, error) {
	base := usernameBase(profile)
	providerID := profile.ProviderID

	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		suffix, err := r.suffix()
		if err != nil {
			return nil, fmt.Errorf("generate username suffix: %w", err)
		}

		account, err := r.accounts.Create(ctx, domain.NewAccount{
			ID:         uuid.NewString(),
			Email:      profile.Email,
			Username:   base + suffix,
			FirstName:  trimmed(profile.FirstName),
			LastName:   trimmed(profile.LastName),
			AvatarURL:  trimmed(profile.AvatarURL),
			Provider:   profile.Provider,
			ProviderID: &providerID,
			IsVerified: true,
			CreatedAt:  r.now().UTC(),
		})
		if errors.Is(err, repository.ErrDuplicateUsername) {
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Info("account created from provider profile", zap.String("account_id", account.ID))
		return account, nil
	}
	return nil, fmt.Errorf("no free username for %q after %d attempts", base, maxUsernameAttempts)
}

// usernameBase derives a username stem from the provider login or the email
// local part, leaving room for the disambiguating suffix.
func usernameBase(profile domain.ExternalProfile) string {
	source := profile.Username
	if strings.TrimSpace(source) == "" {
		source, _, _ = strings.Cut(profile.Email, "@")
	}

	var b strings.Builder
	for _, c := range strings.ToLower(source) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		case c == '.', c == '-', c == '+':
			b.WriteByte('_')
		}
	}

	base := strings.Trim(b.String(), "_")
	if len(base) > usernameMaxLen-usernameSuffixLen {
		base = base[:usernameMaxLen-usernameSuffixLen]
	}
	if len(base)+usernameSuffixLen < usernameMinLen || base == "" {
		base = fallbackUsername
	}
	return base
}
