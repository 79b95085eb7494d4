package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/infra/logger"
	"github.com/arklim/identity-service/internal/infra/security"
)

const (
	defaultStateTTL = 10 * time.Minute
	stateBytes      = 32
)

// OAuthDependencies groups the collaborators of OAuthService.
type OAuthDependencies struct {
	Resolver  *AccountResolver
	Sessions  port.SessionCodec
	Providers port.OAuthProviderSet
	States    port.OAuthStateStore
	Metrics   FlowObserver
	Logger    *zap.Logger
}

// OAuthService turns an authenticated external identity into a session.
type OAuthService struct {
	resolver  *AccountResolver
	sessions  port.SessionCodec
	providers port.OAuthProviderSet
	states    port.OAuthStateStore
	metrics   FlowObserver
	logger    *zap.Logger
	stateTTL  time.Duration
}

// NewOAuthService constructs an OAuthService; stateTTL <= 0 uses ten minutes.
func NewOAuthService(deps OAuthDependencies, stateTTL time.Duration) *OAuthService {
	if stateTTL <= 0 {
		stateTTL = defaultStateTTL
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &OAuthService{
		resolver:  deps.Resolver,
		sessions:  deps.Sessions,
		providers: deps.Providers,
		states:    deps.States,
		metrics:   deps.Metrics,
		logger:    log,
		stateTTL:  stateTTL,
	}
}

// Begin stores a fresh CSRF state for provider and returns the provider's consent URL.
func (s *OAuthService) Begin(ctx context.Context, provider domain.Provider) (string, error) {
	p, err := s.provider(provider)
	if err != nil {
		return "", err
	}

	state, err := security.GenerateSecureToken(stateBytes)
	if err != nil {
		return "", internal("generate oauth state", err)
	}
	if err := s.states.Save(ctx, state, provider, s.stateTTL); err != nil {
		logger.WithContext(ctx, s.logger).Error("store oauth state failed", zap.Error(err))
		return "", internal("store oauth state", err)
	}
	return p.AuthCodeURL(state), nil
}

// Complete checks the returned state, exchanges the code and signs the user in.
func (s *OAuthService) Complete(ctx context.Context, provider domain.Provider, state, code string) (AuthResult, error) {
	p, err := s.provider(provider)
	if err != nil {
		return AuthResult{}, err
	}
	log := logger.WithContext(ctx, s.logger).With(zap.String("provider", string(provider)))

	if state == "" || code == "" {
		s.observe(ErrLinkFailed)
		return AuthResult{}, fmt.Errorf("%w: missing state or code", ErrLinkFailed)
	}
	issuedFor, err := s.states.Consume(ctx, state)
	if err != nil || issuedFor != provider {
		log.Warn("oauth state rejected", zap.Error(err))
		s.observe(ErrLinkFailed)
		return AuthResult{}, fmt.Errorf("%w: unknown or expired state", ErrLinkFailed)
	}

	profile, err := p.Exchange(ctx, code)
	if err != nil {
		log.Warn("oauth code exchange failed", zap.Error(err))
		s.observe(ErrLinkFailed)
		return AuthResult{}, fmt.Errorf("%w: %w", ErrLinkFailed, err)
	}
	profile.Provider = provider

	return s.Callback(ctx, profile)
}

// Callback resolves profile to an account and issues a session for it.
// No session is issued when resolution fails.
func (s *OAuthService) Callback(ctx context.Context, profile domain.ExternalProfile) (result AuthResult, err error) {
	defer func() { s.observe(err) }()

	log := logger.WithContext(ctx, s.logger).With(zap.String("provider", string(profile.Provider)))

	account, err := s.resolver.Resolve(ctx, profile)
	if err != nil {
		log.Warn("oauth account resolution failed", zap.Error(err))
		if errors.Is(err, ErrLinkFailed) {
			return AuthResult{}, err
		}
		return AuthResult{}, fmt.Errorf("%w: %w", ErrLinkFailed, err)
	}

	token, expiresAt, err := s.sessions.Issue(account.Claims())
	if err != nil {
		log.Error("issue session failed", zap.Error(err))
		return AuthResult{}, fmt.Errorf("%w: %w", ErrLinkFailed, internal("issue session", err))
	}

	log.Info("oauth login", zap.String("account_id", account.ID))
	return AuthResult{Token: token, ExpiresAt: expiresAt, User: account.Public()}, nil
}

func (s *OAuthService) provider(provider domain.Provider) (port.OAuthProvider, error) {
	if s.providers == nil {
		return nil, ErrProviderDisabled
	}
	p, ok := s.providers.Get(provider)
	if !ok {
		return nil, ErrProviderDisabled
	}
	return p, nil
}

func (s *OAuthService) observe(err error) {
	if s.metrics == nil {
		return
	}
	outcome := outcomeSuccess
	if err != nil {
		outcome = outcomeLabel(ErrLinkFailed)
	}
	s.metrics.ObserveFlow(flowOAuthCallback, outcome)
}
