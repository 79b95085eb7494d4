package oauth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/infra/config"
)

const (
	testIssuer   = "https://issuer.example.com"
	testClientID = "client-123"
)

func tokenServer(t *testing.T, extra map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		body := map[string]any{"access_token": "access-xyz", "token_type": "bearer", "expires_in": 3600}
		for k, v := range extra {
			body[k] = v
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-xyz" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id": 583231, "login": "Octo-Cat", "name": "Mona Lisa Octocat", "avatar_url": "https://avatars.example.com/u/583231"}`))
	})
	mux.HandleFunc("/user/emails", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"email": "unverified@example.com", "primary": false, "verified": false},
			{"email": "secondary@example.com", "primary": false, "verified": true},
			{"email": "Mona@Example.com", "primary": true, "verified": true}
		]`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return signed
}

func newTestGoogle(t *testing.T, idTokenClaims jwt.MapClaims) *Google {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	server := tokenServer(t, map[string]any{"id_token": signIDToken(t, key, idTokenClaims)})
	cfg := &oauth2.Config{
		ClientID:     testClientID,
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{AuthURL: server.URL + "/auth", TokenURL: server.URL + "/token"},
		RedirectURL:  "https://id.example.com/api/v1/auth/google/callback",
		Scopes:       []string{oidc.ScopeOpenID, "email"},
	}
	verifier := oidc.NewVerifier(testIssuer, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}, &oidc.Config{ClientID: testClientID})
	return newGoogle(cfg, verifier)
}

func googleClaimsFor(verified bool) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            testIssuer,
		"aud":            testClientID,
		"sub":            "1170000000001",
		"iat":            now.Unix(),
		"exp":            now.Add(time.Hour).Unix(),
		"email":          "alice@example.com",
		"email_verified": verified,
		"name":           "Alice Liddell",
		"given_name":     "Alice",
		"family_name":    "Liddell",
		"picture":        "https://lh3.example.com/a.png",
	}
}

func TestGoogleExchangeVerifiedProfile(t *testing.T) {
	google := newTestGoogle(t, googleClaimsFor(true))

	profile, err := google.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, domain.ExternalProfile{
		Provider:    domain.ProviderGoogle,
		ProviderID:  "1170000000001",
		Email:       "alice@example.com",
		DisplayName: "Alice Liddell",
		FirstName:   "Alice",
		LastName:    "Liddell",
		AvatarURL:   "https://lh3.example.com/a.png",
	}, profile)
}

func TestGoogleDropsUnverifiedEmail(t *testing.T) {
	google := newTestGoogle(t, googleClaimsFor(false))

	profile, err := google.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Empty(t, profile.Email)
	assert.Equal(t, "1170000000001", profile.ProviderID)
}

func TestGoogleRejectsForeignAudience(t *testing.T) {
	claims := googleClaimsFor(true)
	claims["aud"] = "someone-else"
	google := newTestGoogle(t, claims)

	_, err := google.Exchange(context.Background(), "good-code")
	require.Error(t, err)
}

func TestGoogleExchangeFailure(t *testing.T) {
	google := newTestGoogle(t, googleClaimsFor(true))

	_, err := google.Exchange(context.Background(), "bad-code")
	require.Error(t, err)
}

func TestGoogleAuthCodeURL(t *testing.T) {
	google := newTestGoogle(t, googleClaimsFor(true))

	parsed, err := url.Parse(google.AuthCodeURL("state-1"))
	require.NoError(t, err)
	q := parsed.Query()
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "select_account", q.Get("prompt"))
	assert.Equal(t, domain.ProviderGoogle, google.Name())
}

func newTestGitHub(t *testing.T) *GitHub {
	t.Helper()
	server := tokenServer(t, nil)
	return newGitHub(&oauth2.Config{
		ClientID:     "gh-client",
		ClientSecret: "gh-secret",
		Endpoint:     oauth2.Endpoint{AuthURL: server.URL + "/authorize", TokenURL: server.URL + "/token"},
		RedirectURL:  "https://id.example.com/api/v1/auth/github/callback",
	}, server.URL+"/")
}

func TestGitHubExchangeProfile(t *testing.T) {
	github := newTestGitHub(t)

	profile, err := github.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, domain.ExternalProfile{
		Provider:    domain.ProviderGitHub,
		ProviderID:  "583231",
		Email:       "Mona@Example.com",
		DisplayName: "Mona Lisa Octocat",
		FirstName:   "Mona",
		LastName:    "Lisa Octocat",
		Username:    "Octo-Cat",
		AvatarURL:   "https://avatars.example.com/u/583231",
	}, profile)
}

func TestGitHubExchangeFailure(t *testing.T) {
	github := newTestGitHub(t)

	_, err := github.Exchange(context.Background(), "bad-code")
	require.Error(t, err)
}

func TestPickEmail(t *testing.T) {
	assert.Equal(t, "", pickEmail(nil))
	assert.Equal(t, "", pickEmail([]githubEmail{{Email: "a@x.com", Primary: true}}))
	assert.Equal(t, "b@x.com", pickEmail([]githubEmail{{Email: "a@x.com", Primary: true}, {Email: "b@x.com", Verified: true}}))
}

func TestRegistryFromConfigSkipsDisabledProviders(t *testing.T) {
	registry, err := NewRegistryFromConfig(context.Background(), config.OAuthSettings{
		CallbackBaseURL: "https://id.example.com/",
		GitHub:          config.OAuthProviderSettings{ClientID: "id", ClientSecret: "secret"},
	})
	require.NoError(t, err)

	assert.Equal(t, []domain.Provider{domain.ProviderGitHub}, registry.Enabled())
	_, ok := registry.Get(domain.ProviderGoogle)
	assert.False(t, ok)

	github, ok := registry.Get(domain.ProviderGitHub)
	require.True(t, ok)
	parsed, err := url.Parse(github.AuthCodeURL("s"))
	require.NoError(t, err)
	assert.Equal(t, "https://id.example.com/api/v1/auth/github/callback", parsed.Query().Get("redirect_uri"))
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	_, ok := r.Get(domain.ProviderGoogle)
	assert.False(t, ok)
	assert.Empty(t, r.Enabled())
}
