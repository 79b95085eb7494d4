package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	githubendpoint "golang.org/x/oauth2/github"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/core/port"
	"github.com/arklim/identity-service/internal/infra/config"
)

// GitHubAPIBase is the REST API root used for profile lookups.
const GitHubAPIBase = "https://api.github.com"

const maxGitHubResponseBytes = 1 << 20

var _ port.OAuthProvider = (*GitHub)(nil)

// GitHub signs users in with GitHub OAuth apps. GitHub has no ID token, so the
// profile is read from the REST API with the user's access token.
type GitHub struct {
	oauth   *oauth2.Config
	apiBase string
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// NewGitHub configures the GitHub provider against github.com.
func NewGitHub(settings config.OAuthProviderSettings, redirectURL string) *GitHub {
	return newGitHub(&oauth2.Config{
		ClientID:     settings.ClientID,
		ClientSecret: settings.ClientSecret,
		Endpoint:     githubendpoint.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       []string{"read:user", "user:email"},
	}, GitHubAPIBase)
}

func newGitHub(cfg *oauth2.Config, apiBase string) *GitHub {
	return &GitHub{oauth: cfg, apiBase: strings.TrimRight(apiBase, "/")}
}

func (g *GitHub) Name() domain.Provider {
	return domain.ProviderGitHub
}

func (g *GitHub) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state)
}

// Exchange trades code for an access token and loads the user and their primary verified email.
func (g *GitHub) Exchange(ctx context.Context, code string) (domain.ExternalProfile, error) {
	ctx = withHTTPClient(ctx)

	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return domain.ExternalProfile{}, fmt.Errorf("github: exchange code: %w", err)
	}
	client := g.oauth.Client(ctx, token)

	var user githubUser
	if err := g.get(ctx, client, "/user", &user); err != nil {
		return domain.ExternalProfile{}, err
	}
	if user.ID == 0 {
		return domain.ExternalProfile{}, fmt.Errorf("github: user response has no id")
	}

	var emails []githubEmail
	if err := g.get(ctx, client, "/user/emails", &emails); err != nil {
		return domain.ExternalProfile{}, err
	}

	first, last, _ := strings.Cut(strings.TrimSpace(user.Name), " ")
	return domain.ExternalProfile{
		Provider:    domain.ProviderGitHub,
		ProviderID:  strconv.FormatInt(user.ID, 10),
		Email:       pickEmail(emails),
		DisplayName: strings.TrimSpace(user.Name),
		FirstName:   first,
		LastName:    strings.TrimSpace(last),
		Username:    user.Login,
		AvatarURL:   user.AvatarURL,
	}, nil
}

func (g *GitHub) get(ctx context.Context, client *http.Client, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("github: build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("github: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxGitHubResponseBytes))
		return fmt.Errorf("github: GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxGitHubResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("github: decode %s: %w", path, err)
	}
	return nil
}

// pickEmail prefers the primary verified address, then any verified one.
func pickEmail(emails []githubEmail) string {
	var fallback string
	for _, e := range emails {
		if !e.Verified {
			continue
		}
		if e.Primary {
			return e.Email
		}
		if fallback == "" {
			fallback = e.Email
		}
	}
	return fallback
}
