// Package oauth implements the redirect and code-exchange half of the external
// sign-in flow for the supported identity providers.
package oauth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/infra/config"
)

const httpTimeout = 10 * time.Second

var httpClient = &http.Client{Timeout: httpTimeout}

var _ port.OAuthProviderSet = (*Registry)(nil)

// Registry holds the enabled providers. Providers without credentials are absent.
type Registry struct {
	providers map[domain.Provider]port.OAuthProvider
}

// NewRegistry indexes providers by name.
func NewRegistry(providers ...port.OAuthProvider) *Registry {
	r := &Registry{providers: make(map[domain.Provider]port.OAuthProvider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// NewRegistryFromConfig builds every provider with complete client credentials.
func NewRegistryFromConfig(ctx context.Context, cfg config.OAuthSettings) (*Registry, error) {
	var providers []port.OAuthProvider

	if cfg.Google.Enabled() {
		google, err := NewGoogle(withHTTPClient(ctx), GoogleIssuer, cfg.Google, CallbackURL(cfg.CallbackBaseURL, domain.ProviderGoogle))
		if err != nil {
			return nil, err
		}
		providers = append(providers, google)
	}
	if cfg.GitHub.Enabled() {
		providers = append(providers, NewGitHub(cfg.GitHub, CallbackURL(cfg.CallbackBaseURL, domain.ProviderGitHub)))
	}

	return NewRegistry(providers...), nil
}

// Get returns the provider if it is enabled.
func (r *Registry) Get(provider domain.Provider) (port.OAuthProvider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[provider]
	return p, ok
}

// Enabled lists the enabled providers in a stable order.
func (r *Registry) Enabled() []domain.Provider {
	var out []domain.Provider
	for _, p := range domain.ExternalProviders {
		if _, ok := r.Get(p); ok {
			out = append(out, p)
		}
	}
	return out
}

// CallbackURL is the redirect URL registered with the provider.
func CallbackURL(base string, provider domain.Provider) string {
	return strings.TrimRight(base, "/") + "/api/v1/auth/" + string(provider) + "/callback"
}

func withHTTPClient(ctx context.Context) context.Context {
	if _, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, httpClient)
}
