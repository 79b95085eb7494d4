package port

import (
	"context"
	"time"

	"github.com/arklim/identity-service/internal/core/domain"
)

// PasswordHasher hashes and verifies secrets using the configured algorithm.
type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password string, encoded string) (bool, error)
	// NeedsRehash reports whether encoded was produced with outdated parameters or algorithm.
	NeedsRehash(encoded string) bool
}

// PasswordPolicyValidator enforces password strength requirements.
type PasswordPolicyValidator interface {
	Validate(password string, userInputs ...string) error
}

// TokenKind selects the shape of a minted single-use token.
type TokenKind string

const (
	TokenOpaque  TokenKind = "opaque"
	TokenNumeric TokenKind = "numeric"
)

// IssuedToken is a freshly minted single-use token. Only Hash is persisted.
type IssuedToken struct {
	Value     string
	Hash      string
	ExpiresAt time.Time
}

// TokenMinter generates random time-bounded tokens.
type TokenMinter interface {
	Issue(kind TokenKind, ttl time.Duration) (IssuedToken, error)
	Hash(value string) string
}

// SessionCodec signs and parses stateless session credentials.
type SessionCodec interface {
	Issue(claims domain.SessionClaims) (string, time.Time, error)
	Parse(token string) (domain.SessionClaims, error)
}
