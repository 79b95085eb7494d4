package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/infra/config"
)

// GoogleIssuer is Google's OpenID Connect issuer.
const GoogleIssuer = "https://accounts.google.com"

var _ port.OAuthProvider = (*Google)(nil)

// Google signs users in with Google's OpenID Connect endpoint and trusts only verified ID tokens.
type Google struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

type googleClaims struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

// NewGoogle discovers the provider configuration from issuer.
func NewGoogle(ctx context.Context, issuer string, settings config.OAuthProviderSettings, redirectURL string) (*Google, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover google oidc provider: %w", err)
	}

	cfg := &oauth2.Config{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  redirectURL,
		Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
	}
	return newGoogle(cfg, provider.Verifier(&oidc.Config{ClientID: settings.ClientID})), nil
}

func newGoogle(cfg *oauth2.Config, verifier *oidc.IDTokenVerifier) *Google {
	return &Google{oauth: cfg, verifier: verifier}
}

func (g *Google) Name() domain.Provider {
	return domain.ProviderGoogle
}

func (g *Google) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

// Exchange trades code for tokens and maps the verified ID token onto a profile.
// An email Google has not verified is dropped.
func (g *Google) Exchange(ctx context.Context, code string) (domain.ExternalProfile, error) {
	ctx = withHTTPClient(ctx)

	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return domain.ExternalProfile{}, fmt.Errorf("google: exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return domain.ExternalProfile{}, errors.New("google: no id_token in token response")
	}

	idToken, err := g.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return domain.ExternalProfile{}, fmt.Errorf("google: verify id token: %w", err)
	}

	var claims googleClaims
	if err := idToken.Claims(&claims); err != nil {
		return domain.ExternalProfile{}, fmt.Errorf("google: decode claims: %w", err)
	}

	profile := domain.ExternalProfile{
		Provider:    domain.ProviderGoogle,
		ProviderID:  claims.Subject,
		DisplayName: strings.TrimSpace(claims.Name),
		FirstName:   claims.GivenName,
		LastName:    claims.FamilyName,
		AvatarURL:   claims.Picture,
	}
	if claims.EmailVerified {
		profile.Email = claims.Email
	}
	return profile, nil
}
