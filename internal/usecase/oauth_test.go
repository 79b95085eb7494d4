package usecase

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/repository"
)

type fakeProvider struct {
	name    domain.Provider
	profile domain.ExternalProfile
	err     error
	codes   []string
}

func (p *fakeProvider) Name() domain.Provider { return p.name }

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state)
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (domain.ExternalProfile, error) {
	p.codes = append(p.codes, code)
	return p.profile, p.err
}

type fakeProviderSet map[domain.Provider]port.OAuthProvider

func (s fakeProviderSet) Get(provider domain.Provider) (port.OAuthProvider, bool) {
	p, ok := s[provider]
	return p, ok
}

type memoryStateStore struct {
	mu     sync.Mutex
	states map[string]domain.Provider
	ttls   map[string]time.Duration
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{states: map[string]domain.Provider{}, ttls: map[string]time.Duration{}}
}

func (s *memoryStateStore) Save(_ context.Context, state string, provider domain.Provider, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state] = provider
	s.ttls[state] = ttl
	return nil
}

func (s *memoryStateStore) Consume(_ context.Context, state string) (domain.Provider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	provider, ok := s.states[state]
	if !ok {
		return "", repository.ErrNotFound
	}
	delete(s.states, state)
	return provider, nil
}

func newOAuthFixture(t *testing.T, providers fakeProviderSet) (*OAuthService, *testEnv, *memoryStateStore) {
	t.Helper()
	env := newTestEnv(t, CredentialSettings{})
	log := zaptest.NewLogger(t)
	states := newMemoryStateStore()
	service := NewOAuthService(OAuthDependencies{
		Resolver:  NewAccountResolver(env.accounts, log),
		Sessions:  env.sessions,
		Providers: providers,
		States:    states,
		Metrics:   env.metrics,
		Logger:    log,
	}, 5*time.Minute)
	return service, env, states
}

func TestOAuthCallbackIssuesSession(t *testing.T) {
	service, env, _ := newOAuthFixture(t, fakeProviderSet{})

	result, err := service.Callback(context.Background(), googleProfile("g-55", "alice@example.com"))
	require.NoError(t, err)

	claims, err := env.sessions.Parse(result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, claims.AccountID)
	assert.Equal(t, "Alice Liddell", result.User.DisplayName)
	assert.Equal(t, "https://example.com/a.png", result.User.AvatarURL)
	assert.True(t, result.User.IsVerified)
	assert.Equal(t, domain.ProviderGoogle, result.User.Provider)
	assert.Equal(t, 1, env.metrics.count(flowOAuthCallback, outcomeSuccess))
}

func TestOAuthCallbackWithoutEmailIssuesNoSession(t *testing.T) {
	service, env, _ := newOAuthFixture(t, fakeProviderSet{})

	result, err := service.Callback(context.Background(), googleProfile("g-56", ""))
	require.ErrorIs(t, err, ErrLinkFailed)
	assert.Empty(t, result.Token)
	assert.Zero(t, env.accounts.Len())
	assert.Equal(t, 1, env.metrics.count(flowOAuthCallback, "link_failed"))
}

func TestOAuthBeginAndComplete(t *testing.T) {
	provider := &fakeProvider{name: domain.ProviderGitHub, profile: domain.ExternalProfile{
		ProviderID: "4242",
		Email:      "dev@example.com",
		Username:   "devhub",
	}}
	service, _, states := newOAuthFixture(t, fakeProviderSet{domain.ProviderGitHub: provider})
	ctx := context.Background()

	redirect, err := service.Begin(ctx, domain.ProviderGitHub)
	require.NoError(t, err)
	parsed, err := url.Parse(redirect)
	require.NoError(t, err)
	state := parsed.Query().Get("state")
	require.Len(t, state, 64)
	assert.Equal(t, 5*time.Minute, states.ttls[state])

	result, err := service.Complete(ctx, domain.ProviderGitHub, state, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", result.User.Email)
	assert.Equal(t, domain.ProviderGitHub, result.User.Provider)
	assert.Equal(t, []string{"code-1"}, provider.codes)

	_, err = service.Complete(ctx, domain.ProviderGitHub, state, "code-2")
	require.ErrorIs(t, err, ErrLinkFailed, "state is single use")
	assert.Len(t, provider.codes, 1)
}

func TestOAuthCompleteRejectsStateFromOtherProvider(t *testing.T) {
	github := &fakeProvider{name: domain.ProviderGitHub}
	google := &fakeProvider{name: domain.ProviderGoogle}
	service, _, _ := newOAuthFixture(t, fakeProviderSet{domain.ProviderGitHub: github, domain.ProviderGoogle: google})
	ctx := context.Background()

	redirect, err := service.Begin(ctx, domain.ProviderGoogle)
	require.NoError(t, err)
	parsed, _ := url.Parse(redirect)

	_, err = service.Complete(ctx, domain.ProviderGitHub, parsed.Query().Get("state"), "code")
	require.ErrorIs(t, err, ErrLinkFailed)
	assert.Empty(t, github.codes)
}

func TestOAuthCompleteExchangeFailure(t *testing.T) {
	provider := &fakeProvider{name: domain.ProviderGoogle, err: errors.New("invalid_grant")}
	service, env, _ := newOAuthFixture(t, fakeProviderSet{domain.ProviderGoogle: provider})
	ctx := context.Background()

	redirect, err := service.Begin(ctx, domain.ProviderGoogle)
	require.NoError(t, err)
	parsed, _ := url.Parse(redirect)

	_, err = service.Complete(ctx, domain.ProviderGoogle, parsed.Query().Get("state"), "bad")
	require.ErrorIs(t, err, ErrLinkFailed)
	assert.Zero(t, env.accounts.Len())

	_, err = service.Complete(ctx, domain.ProviderGoogle, "", "")
	require.ErrorIs(t, err, ErrLinkFailed)
}

func TestOAuthDisabledProvider(t *testing.T) {
	service, _, _ := newOAuthFixture(t, fakeProviderSet{})

	_, err := service.Begin(context.Background(), domain.ProviderGoogle)
	require.ErrorIs(t, err, ErrProviderDisabled)

	_, err = service.Complete(context.Background(), domain.ProviderGitHub, "state", "code")
	require.ErrorIs(t, err, ErrProviderDisabled)
}
