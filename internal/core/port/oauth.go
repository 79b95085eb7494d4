package port

import (
	"context"
	"time"

	"github.com/arklim/identity-service/internal/core/domain"
)

// OAuthStateStore keeps short-lived CSRF state values for the OAuth redirect round trip.
type OAuthStateStore interface {
	Save(ctx context.Context, state string, provider domain.Provider, ttl time.Duration) error
	// Consume returns the provider the state was issued for and deletes it.
	Consume(ctx context.Context, state string) (domain.Provider, error)
}

// OAuthProvider performs the redirect and code-exchange half of an OAuth login.
type OAuthProvider interface {
	Name() domain.Provider
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (domain.ExternalProfile, error)
}

// OAuthProviderSet resolves the enabled external providers.
type OAuthProviderSet interface {
	Get(provider domain.Provider) (OAuthProvider, bool)
}
