package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	uuid "github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/infra/logger"
	"github.com/arklim/identity-service/internal/repository"
)

const (
	flowRegister           = "register"
	flowLogin              = "login"
	flowVerifyEmail        = "verify_email"
	flowForgotPassword     = "forgot_password"
	flowResetPassword      = "reset_password"
	flowResendVerification = "resend_verification"
	flowOAuthCallback      = "oauth_callback"

	outcomeSuccess = "success"
	outcomeFailure = "failure"

	defaultVerificationTTL = 24 * time.Hour
	defaultResetTTL        = time.Hour

	maxTokenMintAttempts = 5
	dummyPassword        = "dummy-password-for-timing"
)

// FlowObserver records the outcome of credential flows.
type FlowObserver interface {
	ObserveFlow(flow, outcome string)
}

// CredentialSettings holds the immutable knobs of the credential flows.
type CredentialSettings struct {
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	ResetTokenKind  port.TokenKind
	// ResetDeliveryRequired makes ForgotPassword fail with ErrInternal when the
	// reset notification cannot be delivered.
	ResetDeliveryRequired bool
}

// CredentialDependencies groups the collaborators of CredentialService.
type CredentialDependencies struct {
	Accounts      port.AccountRepository
	Hasher        port.PasswordHasher
	Minter        port.TokenMinter
	Sessions      port.SessionCodec
	Policy        port.PasswordPolicyValidator
	Notifications *AsyncDispatcher
	Metrics       FlowObserver
	Logger        *zap.Logger
}

// RegisterInput carries a local sign-up request.
type RegisterInput struct {
	Email    string
	Username string
	Password string
}

// LoginInput carries a password login request.
type LoginInput struct {
	Email    string
	Password string
}

// AuthResult is returned by every flow that establishes a session.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      domain.PublicUser
}

// CredentialService orchestrates registration, login, verification and password recovery.
type CredentialService struct {
	accounts      port.AccountRepository
	hasher        port.PasswordHasher
	minter        port.TokenMinter
	sessions      port.SessionCodec
	policy        port.PasswordPolicyValidator
	notifications *AsyncDispatcher
	metrics       FlowObserver
	logger        *zap.Logger
	settings      CredentialSettings
	now           func() time.Time

	dummyMu   sync.Mutex
	dummyHash string
}

// NewCredentialService constructs a CredentialService.
func NewCredentialService(deps CredentialDependencies, settings CredentialSettings) *CredentialService {
	if settings.VerificationTTL <= 0 {
		settings.VerificationTTL = defaultVerificationTTL
	}
	if settings.ResetTTL <= 0 {
		settings.ResetTTL = defaultResetTTL
	}
	if settings.ResetTokenKind == "" {
		settings.ResetTokenKind = port.TokenNumeric
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &CredentialService{
		accounts:      deps.Accounts,
		hasher:        deps.Hasher,
		minter:        deps.Minter,
		sessions:      deps.Sessions,
		policy:        deps.Policy,
		notifications: deps.Notifications,
		metrics:       deps.Metrics,
		logger:        log,
		settings:      settings,
		now:           time.Now,
	}
}

// WithClock overrides the time source used for token expiry checks.
func (s *CredentialService) WithClock(now func() time.Time) *CredentialService {
	if now != nil {
		s.now = now
	}
	return s
}

// Register creates an unverified local account, mints its verification token and opens a session.
func (s *CredentialService) Register(ctx context.Context, in RegisterInput) (result AuthResult, err error) {
	defer func() { s.observe(flowRegister, err) }()

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return AuthResult{}, err
	}
	username, err := validateUsername(in.Username)
	if err != nil {
		return AuthResult{}, err
	}
	if err := s.validatePassword(in.Password, username, email); err != nil {
		return AuthResult{}, err
	}

	if err := s.ensureAvailable(ctx, email, username); err != nil {
		return AuthResult{}, err
	}

	passwordHash, err := s.hasher.Hash(ctx, in.Password)
	if err != nil {
		return AuthResult{}, s.fail(ctx, "hash password", err)
	}

	var (
		account *domain.Account
		token   port.IssuedToken
	)
	err = withFreshToken(ctx, func(ctx context.Context) error {
		token, err = s.minter.Issue(port.TokenOpaque, s.settings.VerificationTTL)
		if err != nil {
			return err
		}
		account, err = s.accounts.Create(ctx, domain.NewAccount{
			ID:                    uuid.NewString(),
			Email:                 email,
			Username:              username,
			PasswordHash:          &passwordHash,
			Provider:              domain.ProviderLocal,
			VerificationTokenHash: &token.Hash,
			VerificationExpiresAt: &token.ExpiresAt,
			CreatedAt:             s.now().UTC(),
		})
		return err
	})
	switch {
	case errors.Is(err, repository.ErrDuplicateEmail), errors.Is(err, repository.ErrDuplicateUsername):
		return AuthResult{}, ErrConflict
	case err != nil:
		return AuthResult{}, s.fail(ctx, "create account", err)
	}

	result, err = s.establish(ctx, account)
	if err != nil {
		return AuthResult{}, err
	}

	s.notifications.SendVerification(ctx, account.Email, token.Value, account.Username)

	logger.WithContext(ctx, s.logger).Info("account registered",
		zap.String("account_id", account.ID),
		zap.String("email", logger.MaskEmail(account.Email)),
	)
	return result, nil
}

// Login verifies a password and opens a session. Unknown accounts, accounts
// without a password and wrong passwords all yield ErrUnauthorized.
func (s *CredentialService) Login(ctx context.Context, in LoginInput) (result AuthResult, err error) {
	defer func() { s.observe(flowLogin, err) }()

	email := domain.NormalizeEmail(in.Email)
	if email == "" {
		return AuthResult{}, invalid("email", "email is required")
	}
	if in.Password == "" {
		return AuthResult{}, invalid("password", "password is required")
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.burnVerification(ctx, in.Password)
			return AuthResult{}, ErrUnauthorized
		}
		return AuthResult{}, s.fail(ctx, "lookup account", err)
	}
	if !account.HasPassword() {
		s.burnVerification(ctx, in.Password)
		return AuthResult{}, ErrUnauthorized
	}

	ok, err := s.hasher.Verify(ctx, in.Password, *account.PasswordHash)
	if err != nil {
		return AuthResult{}, s.fail(ctx, "verify password", err)
	}
	if !ok {
		return AuthResult{}, ErrUnauthorized
	}

	if s.hasher.NeedsRehash(*account.PasswordHash) {
		s.upgradeHash(ctx, account.ID, in.Password)
	}

	return s.establish(ctx, account)
}

// GetMe resolves a session token to the current public projection of its account.
func (s *CredentialService) GetMe(ctx context.Context, sessionToken string) (domain.PublicUser, error) {
	claims, err := s.sessions.Parse(sessionToken)
	if err != nil {
		return domain.PublicUser{}, ErrInvalidSession
	}

	account, err := s.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.PublicUser{}, ErrInvalidSession
		}
		return domain.PublicUser{}, s.fail(ctx, "lookup account", err)
	}
	return account.Public(), nil
}

// VerifyEmail consumes a verification token and marks its account verified.
func (s *CredentialService) VerifyEmail(ctx context.Context, rawToken string) (err error) {
	defer func() { s.observe(flowVerifyEmail, err) }()

	token, err := requireToken(rawToken)
	if err != nil {
		return err
	}

	account, err := s.accounts.ConsumeVerificationToken(ctx, s.minter.Hash(token), s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidOrExpired
		}
		return s.fail(ctx, "consume verification token", err)
	}

	s.notifications.SendWelcome(ctx, account.Email, account.Username)
	logger.WithContext(ctx, s.logger).Info("email verified", zap.String("account_id", account.ID))
	return nil
}

// ForgotPassword mints a reset token for password-backed accounts and mails it.
// The result is the same whether or not the account exists.
func (s *CredentialService) ForgotPassword(ctx context.Context, rawEmail string) (err error) {
	defer func() { s.observe(flowForgotPassword, err) }()

	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	log := logger.WithContext(ctx, s.logger).With(zap.String("email", logger.MaskEmail(email)))

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Debug("password reset requested for unknown account")
			return nil
		}
		return s.fail(ctx, "lookup account", err)
	}
	if !account.HasPassword() {
		log.Debug("password reset requested for provider-only account", zap.String("account_id", account.ID))
		return nil
	}

	var token port.IssuedToken
	err = withFreshToken(ctx, func(ctx context.Context) error {
		token, err = s.minter.Issue(s.settings.ResetTokenKind, s.settings.ResetTTL)
		if err != nil {
			return err
		}
		return s.accounts.SetResetToken(ctx, account.ID, token.Hash, token.ExpiresAt)
	})
	if err != nil {
		return s.fail(ctx, "store reset token", err)
	}

	delivered := s.notifications.SendPasswordReset(ctx, account.Email, token.Value, account.Username)
	if s.settings.ResetDeliveryRequired {
		select {
		case sendErr := <-delivered:
			if sendErr != nil {
				return s.fail(ctx, "deliver reset notification", sendErr)
			}
		case <-ctx.Done():
			return s.fail(ctx, "deliver reset notification", ctx.Err())
		}
	}

	log.Info("password reset issued", zap.String("account_id", account.ID), zap.Time("expires_at", token.ExpiresAt))
	return nil
}

// ResetPassword consumes a reset token and replaces the account's password.
func (s *CredentialService) ResetPassword(ctx context.Context, rawToken, newPassword string) (err error) {
	defer func() { s.observe(flowResetPassword, err) }()

	token, err := requireToken(rawToken)
	if err != nil {
		return err
	}
	if err := s.validatePassword(newPassword); err != nil {
		return err
	}

	tokenHash := s.minter.Hash(token)
	if _, err := s.accounts.GetByResetToken(ctx, tokenHash, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidOrExpired
		}
		return s.fail(ctx, "lookup reset token", err)
	}

	passwordHash, err := s.hasher.Hash(ctx, newPassword)
	if err != nil {
		return s.fail(ctx, "hash password", err)
	}

	account, err := s.accounts.ConsumeResetToken(ctx, tokenHash, passwordHash, s.now().UTC())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidOrExpired
		}
		return s.fail(ctx, "consume reset token", err)
	}

	logger.WithContext(ctx, s.logger).Info("password reset completed", zap.String("account_id", account.ID))
	return nil
}

// ResendVerification rotates the verification token of an unverified account and mails it again.
func (s *CredentialService) ResendVerification(ctx context.Context, rawEmail string) (err error) {
	defer func() { s.observe(flowResendVerification, err) }()

	email, err := normalizeEmail(rawEmail)
	if err != nil {
		return err
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return s.fail(ctx, "lookup account", err)
	}
	if account.IsVerified {
		return ErrAlreadyVerified
	}

	var token port.IssuedToken
	err = withFreshToken(ctx, func(ctx context.Context) error {
		token, err = s.minter.Issue(port.TokenOpaque, s.settings.VerificationTTL)
		if err != nil {
			return err
		}
		return s.accounts.SetVerificationToken(ctx, account.ID, token.Hash, token.ExpiresAt)
	})
	if err != nil {
		return s.fail(ctx, "store verification token", err)
	}

	s.notifications.SendVerification(ctx, account.Email, token.Value, account.Username)
	return nil
}

func (s *CredentialService) validatePassword(password string, userInputs ...string) error {
	if password == "" {
		return invalid("password", "password is required")
	}
	if s.policy == nil {
		return nil
	}
	if err := s.policy.Validate(password, userInputs...); err != nil {
		return invalid("password", err.Error())
	}
	return nil
}

func (s *CredentialService) ensureAvailable(ctx context.Context, email, username string) error {
	if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
		return ErrConflict
	} else if !errors.Is(err, repository.ErrNotFound) {
		return s.fail(ctx, "lookup email", err)
	}
	if _, err := s.accounts.GetByUsername(ctx, username); err == nil {
		return ErrConflict
	} else if !errors.Is(err, repository.ErrNotFound) {
		return s.fail(ctx, "lookup username", err)
	}
	return nil
}

func (s *CredentialService) establish(ctx context.Context, account *domain.Account) (AuthResult, error) {
	token, expiresAt, err := s.sessions.Issue(account.Claims())
	if err != nil {
		return AuthResult{}, s.fail(ctx, "issue session", err)
	}
	return AuthResult{Token: token, ExpiresAt: expiresAt, User: account.Public()}, nil
}

// burnVerification spends the same hashing work as a real login so that
// unknown accounts are not distinguishable by response time.
func (s *CredentialService) burnVerification(ctx context.Context, password string) {
	if digest := s.dummyDigest(ctx); digest != "" {
		_, _ = s.hasher.Verify(ctx, password, digest)
	}
}

// dummyDigest computes the reference digest on first use. The hash is
// detached from ctx cancellation and retried on later calls until it succeeds.
func (s *CredentialService) dummyDigest(ctx context.Context) string {
	s.dummyMu.Lock()
	defer s.dummyMu.Unlock()

	if s.dummyHash == "" {
		hash, err := s.hasher.Hash(context.WithoutCancel(ctx), dummyPassword)
		if err != nil {
			logger.WithContext(ctx, s.logger).Warn("compute dummy password digest", zap.Error(err))
			return ""
		}
		s.dummyHash = hash
	}
	return s.dummyHash
}

func (s *CredentialService) upgradeHash(ctx context.Context, accountID, password string) {
	log := logger.WithContext(ctx, s.logger).With(zap.String("account_id", accountID))
	upgraded, err := s.hasher.Hash(ctx, password)
	if err != nil {
		log.Warn("rehash password failed", zap.Error(err))
		return
	}
	if err := s.accounts.UpdatePasswordHash(ctx, accountID, upgraded); err != nil {
		log.Warn("store rehashed password failed", zap.Error(err))
		return
	}
	log.Info("password hash upgraded")
}

func (s *CredentialService) fail(ctx context.Context, op string, err error) error {
	logger.WithContext(ctx, s.logger).Error(op+" failed", zap.Error(err))
	return internal(op, err)
}

func (s *CredentialService) observe(flow string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeFailure
		for _, known := range flowErrors {
			if errors.Is(err, known) {
				outcome = outcomeLabel(known)
				break
			}
		}
	}
	s.metrics.ObserveFlow(flow, outcome)
}

var flowErrors = []error{
	ErrValidation,
	ErrConflict,
	ErrUnauthorized,
	ErrInvalidOrExpired,
	ErrNotFound,
	ErrAlreadyVerified,
	ErrLinkFailed,
	ErrProviderDisabled,
	ErrInvalidSession,
	ErrInternal,
}

func outcomeLabel(err error) string {
	switch err {
	case ErrValidation:
		return "validation_failed"
	case ErrConflict:
		return "conflict"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrInvalidOrExpired:
		return "invalid_or_expired"
	case ErrNotFound:
		return "not_found"
	case ErrAlreadyVerified:
		return "already_verified"
	case ErrInternal:
		return "internal"
	case ErrLinkFailed:
		return "link_failed"
	case ErrProviderDisabled:
		return "provider_disabled"
	case ErrInvalidSession:
		return "invalid_session"
	default:
		return outcomeFailure
	}
}

// withFreshToken re-runs mint-and-store when the minted token collides with one held by another account.
func withFreshToken(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(maxTokenMintAttempts-1, retry.NewConstant(time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, repository.ErrDuplicateToken) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func trimmed(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
