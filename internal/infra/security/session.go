package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/arklim/identity-service/internal/core/domain"
)

// ErrInvalidSession is returned for malformed, tampered or expired session tokens.
var ErrInvalidSession = errors.New("session: invalid token")

const (
	// DefaultSessionTTL is the lifetime embedded in issued session tokens.
	DefaultSessionTTL = 7 * 24 * time.Hour

	minSessionSecretLength = 32
)

// SessionClaims is the JWT body carried by session tokens.
type SessionClaims struct {
	AccountID string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	IsPro     bool   `json:"isPro"`
	jwt.RegisteredClaims
}

// SessionCodec issues and parses HS256-signed session tokens.
type SessionCodec struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionCodec builds a codec bound to secret. The secret and algorithm are fixed for the life of the codec.
func NewSessionCodec(secret []byte, issuer string, ttl time.Duration) (*SessionCodec, error) {
	if len(secret) < minSessionSecretLength {
		return nil, fmt.Errorf("session: secret must be at least %d bytes", minSessionSecretLength)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &SessionCodec{secret: key, issuer: issuer, ttl: ttl, now: time.Now}, nil
}

// WithClock overrides the time source used for issuing and validating tokens.
func (c *SessionCodec) WithClock(now func() time.Time) *SessionCodec {
	if now != nil {
		c.now = now
	}
	return c
}

// TTL returns the lifetime of issued tokens.
func (c *SessionCodec) TTL() time.Duration {
	return c.ttl
}

// Issue signs a session token for claims and returns it with its expiry.
func (c *SessionCodec) Issue(claims domain.SessionClaims) (string, time.Time, error) {
	if claims.AccountID == "" {
		return "", time.Time{}, fmt.Errorf("session: account id is required")
	}

	issuedAt := c.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(c.ttl)

	body := SessionClaims{
		AccountID: claims.AccountID,
		Email:     claims.Email,
		Username:  claims.Username,
		IsPro:     claims.IsPro,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.AccountID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, body).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("session: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies the token signature and expiry and returns its claims.
func (c *SessionCodec) Parse(token string) (domain.SessionClaims, error) {
	if token == "" {
		return domain.SessionClaims{}, ErrInvalidSession
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	var body SessionClaims
	parsed, err := jwt.ParseWithClaims(token, &body, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return c.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return domain.SessionClaims{}, ErrInvalidSession
	}
	if body.AccountID == "" {
		return domain.SessionClaims{}, ErrInvalidSession
	}

	out := domain.SessionClaims{
		AccountID: body.AccountID,
		Email:     body.Email,
		Username:  body.Username,
		IsPro:     body.IsPro,
	}
	if body.IssuedAt != nil {
		out.IssuedAt = body.IssuedAt.Time.UTC()
	}
	if body.ExpiresAt != nil {
		out.ExpiresAt = body.ExpiresAt.Time.UTC()
	}
	return out, nil
}
