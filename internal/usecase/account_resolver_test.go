package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/repository/memory"
)

func googleProfile(id, email string) domain.ExternalProfile {
	return domain.ExternalProfile{
		Provider:    domain.ProviderGoogle,
		ProviderID:  id,
		Email:       email,
		DisplayName: "Alice Liddell",
		FirstName:   "Alice",
		LastName:    "Liddell",
		AvatarURL:   "https://example.com/a.png",
	}
}

func TestResolverLinksExistingLocalAccount(t *testing.T) {
	env := newTestEnv(t, CredentialSettings{})
	ctx := context.Background()
	registered := env.register(t, "a@x.com", "alice", testPassword)
	resolver := NewAccountResolver(env.accounts, zaptest.NewLogger(t))

	linked, err := resolver.Resolve(ctx, googleProfile("g-100", "A@X.com"))
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, linked.ID)
	assert.True(t, linked.IsVerified)
	id, ok := linked.ProviderID(domain.ProviderGoogle)
	require.True(t, ok)
	assert.Equal(t, "g-100", id)
	assert.True(t, linked.HasPassword(), "linking keeps the local password")

	again, err := resolver.Resolve(ctx, googleProfile("g-100", "a@x.com"))
	require.NoError(t, err)
	assert.Equal(t, linked.ID, again.ID)
	assert.Equal(t, 1, env.accounts.Len())

	_, err = env.service.Login(ctx, LoginInput{Email: "a@x.com", Password: testPassword})
	require.NoError(t, err)
}

func TestResolverBindingWinsOverEmail(t *testing.T) {
	ctx := context.Background()
	accounts := memory.NewAccountRepository()
	resolver := NewAccountResolver(accounts, zaptest.NewLogger(t))

	first, err := resolver.Resolve(ctx, googleProfile("g-1", "old@x.com"))
	require.NoError(t, err)

	moved, err := resolver.Resolve(ctx, googleProfile("g-1", "new@x.com"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, moved.ID)
	assert.Equal(t, "old@x.com", moved.Email, "an existing binding is returned unchanged")
	assert.Equal(t, 1, accounts.Len())
}

func TestResolverCreatesVerifiedAccountWithoutPassword(t *testing.T) {
	ctx := context.Background()
	accounts := memory.NewAccountRepository()
	resolver := NewAccountResolver(accounts, zaptest.NewLogger(t)).
		WithSuffixSource(func() (string, error) { return "0042", nil })

	created, err := resolver.Resolve(ctx, domain.ExternalProfile{
		Provider:   domain.ProviderGitHub,
		ProviderID: "9001",
		Email:      "Mary.Jane+dev@Example.com",
		AvatarURL:  "https://avatars.example.com/9001",
	})
	require.NoError(t, err)

	assert.Equal(t, "mary_jane_dev0042", created.Username)
	assert.Equal(t, "mary.jane+dev@example.com", created.Email)
	assert.Equal(t, domain.ProviderGitHub, created.Provider)
	assert.True(t, created.IsVerified)
	assert.False(t, created.HasPassword())
	id, ok := created.ProviderID(domain.ProviderGitHub)
	require.True(t, ok)
	assert.Equal(t, "9001", id)
	_, ok = created.ProviderID(domain.ProviderGoogle)
	assert.False(t, ok)
}

func TestResolverPrefersProviderLogin(t *testing.T) {
	accounts := memory.NewAccountRepository()
	resolver := NewAccountResolver(accounts, nil).
		WithSuffixSource(func() (string, error) { return "0001", nil })

	created, err := resolver.Resolve(context.Background(), domain.ExternalProfile{
		Provider:   domain.ProviderGitHub,
		ProviderID: "77",
		Email:      "someone@example.com",
		Username:   "Octo-Cat",
	})
	require.NoError(t, err)
	assert.Equal(t, "octo_cat0001", created.Username)
}

func TestResolverRetriesUsernameCollisions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, CredentialSettings{})
	env.register(t, "bob@other.com", "bob0001", testPassword)

	suffixes := []string{"0001", "0001", "0002"}
	var calls int
	resolver := NewAccountResolver(env.accounts, zaptest.NewLogger(t)).
		WithSuffixSource(func() (string, error) {
			s := suffixes[calls]
			calls++
			return s, nil
		})

	created, err := resolver.Resolve(ctx, googleProfile("g-bob", "bob@x.com"))
	require.NoError(t, err)
	assert.Equal(t, "bob0002", created.Username)
	assert.Equal(t, 3, calls)
}

func TestResolverRequiresEmail(t *testing.T) {
	accounts := memory.NewAccountRepository()
	resolver := NewAccountResolver(accounts, zaptest.NewLogger(t))

	_, err := resolver.Resolve(context.Background(), googleProfile("g-2", "   "))
	require.ErrorIs(t, err, ErrLinkFailed)
	assert.NotErrorIs(t, err, ErrInternal)
	assert.Zero(t, accounts.Len())
}

func TestResolverRejectsUnknownProvider(t *testing.T) {
	resolver := NewAccountResolver(memory.NewAccountRepository(), nil)

	profile := googleProfile("x", "a@x.com")
	profile.Provider = domain.Provider("myspace")
	_, err := resolver.Resolve(context.Background(), profile)
	require.ErrorIs(t, err, ErrLinkFailed)
}

func TestResolverRefusesSecondBindingForSameProvider(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, CredentialSettings{})
	env.createOAuthAccount(t, "a@x.com", "alice", domain.ProviderGoogle, "g-original")
	resolver := NewAccountResolver(env.accounts, zaptest.NewLogger(t))

	_, err := resolver.Resolve(ctx, googleProfile("g-other", "a@x.com"))
	require.ErrorIs(t, err, ErrLinkFailed)
	assert.Equal(t, 1, env.accounts.Len())
}

func TestResolverConcurrentFirstLogin(t *testing.T) {
	ctx := context.Background()
	accounts := memory.NewAccountRepository()
	resolver := NewAccountResolver(accounts, zaptest.NewLogger(t))

	const callers = 16
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]int)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			account, err := resolver.Resolve(ctx, googleProfile("g-race", "race@x.com"))
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			mu.Lock()
			ids[account.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, ids, 1, "all callers must land on the same account")
	assert.Equal(t, 1, accounts.Len())
}

func TestUsernameBase(t *testing.T) {
	cases := []struct {
		name    string
		profile domain.ExternalProfile
		want    string
	}{
		{"email local part", domain.ExternalProfile{Email: "alice@x.com"}, "alice"},
		{"strips symbols", domain.ExternalProfile{Email: "é!al#ice@x.com"}, "alice"},
		{"empty falls back", domain.ExternalProfile{Email: "!!!@x.com"}, fallbackUsername},
		{"long is truncated", domain.ExternalProfile{Email: strings.Repeat("a", 40) + "@x.com"}, strings.Repeat("a", usernameMaxLen-usernameSuffixLen)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := usernameBase(tc.profile)
			assert.Equal(t, tc.want, got)
			assert.True(t, usernamePattern.MatchString(got+"0000"))
		})
	}
}

func TestResolverSurfacesSuffixFailure(t *testing.T) {
	resolver := NewAccountResolver(memory.NewAccountRepository(), nil).
		WithSuffixSource(func() (string, error) { return "", errors.New("entropy exhausted") })

	_, err := resolver.Resolve(context.Background(), googleProfile("g-3", "c@x.com"))
	require.ErrorIs(t, err, ErrInternal)
}
