package domain

import (
	"strings"
	"time"
)

// Provider identifies where an account's identity originated.
type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
)

// ExternalProviders lists the identity providers an account can be bound to.
var ExternalProviders = []Provider{ProviderGoogle, ProviderGitHub}

// ParseProvider maps a path or config value onto a supported external provider.
func ParseProvider(value string) (Provider, bool) {
	switch Provider(strings.ToLower(strings.TrimSpace(value))) {
	case ProviderGoogle:
		return ProviderGoogle, true
	case ProviderGitHub:
		return ProviderGitHub, true
	default:
		return "", false
	}
}

// Account mirrors the persisted representation in the accounts table.
type Account struct {
	ID           string
	Email        string
	Username     string
	PasswordHash *string
	FirstName    *string
	LastName     *string
	AvatarURL    *string
	Provider     Provider
	GoogleID     *string
	GitHubID     *string
	IsVerified   bool
	IsPro        bool

	VerificationTokenHash *string
	VerificationExpiresAt *time.Time
	ResetTokenHash        *string
	ResetExpiresAt        *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPassword reports whether the account can authenticate with a password.
func (a Account) HasPassword() bool {
	return a.PasswordHash != nil && *a.PasswordHash != ""
}

// ProviderID returns the bound subject id for the given provider, if any.
func (a Account) ProviderID(provider Provider) (string, bool) {
	var id *string
	switch provider {
	case ProviderGoogle:
		id = a.GoogleID
	case ProviderGitHub:
		id = a.GitHubID
	}
	if id == nil || *id == "" {
		return "", false
	}
	return *id, true
}

// DisplayName joins first and last name, falling back to the username.
func (a Account) DisplayName() string {
	parts := make([]string, 0, 2)
	if a.FirstName != nil && *a.FirstName != "" {
		parts = append(parts, *a.FirstName)
	}
	if a.LastName != nil && *a.LastName != "" {
		parts = append(parts, *a.LastName)
	}
	if len(parts) == 0 {
		return a.Username
	}
	return strings.Join(parts, " ")
}

// Public projects the account onto the fields safe to hand to clients.
func (a Account) Public() PublicUser {
	return PublicUser{
		ID:          a.ID,
		Email:       a.Email,
		Username:    a.Username,
		DisplayName: a.DisplayName(),
		FirstName:   derefString(a.FirstName),
		LastName:    derefString(a.LastName),
		AvatarURL:   derefString(a.AvatarURL),
		Provider:    a.Provider,
		IsVerified:  a.IsVerified,
		IsPro:       a.IsPro,
		CreatedAt:   a.CreatedAt,
	}
}

// Claims builds the session claims carried for the account.
func (a Account) Claims() SessionClaims {
	return SessionClaims{
		AccountID: a.ID,
		Email:     a.Email,
		Username:  a.Username,
		IsPro:     a.IsPro,
	}
}

// PublicUser is the client-facing account projection. It never carries credentials or tokens.
type PublicUser struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Provider    Provider  `json:"provider"`
	IsVerified  bool      `json:"is_verified"`
	IsPro       bool      `json:"is_pro"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewAccount carries the fields required to insert an account.
type NewAccount struct {
	ID           string
	Email        string
	Username     string
	PasswordHash *string
	FirstName    *string
	LastName     *string
	AvatarURL    *string
	Provider     Provider
	ProviderID   *string
	IsVerified   bool

	VerificationTokenHash *string
	VerificationExpiresAt *time.Time

	CreatedAt time.Time
}

// ExternalProfile is the normalized identity returned by an OAuth handshake.
type ExternalProfile struct {
	Provider    Provider
	ProviderID  string
	Email       string
	DisplayName string
	FirstName   string
	LastName    string
	Username    string
	AvatarURL   string
}

// SessionClaims are the identity claims embedded in a session token.
type SessionClaims struct {
	AccountID string
	Email     string
	Username  string
	IsPro     bool
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// NormalizeEmail trims and lowercases an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
