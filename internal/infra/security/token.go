package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/arklim/identity-service/internal/core/port"
)

const (
	opaqueTokenBytes  = 32
	numericCodeDigits = 6
)

// GenerateNumericCode returns a uniformly distributed numeric string of the given length.
func GenerateNumericCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	digits := make([]byte, length)
	ten := big.NewInt(10)
	for i := range digits {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		digits[i] = byte('0' + n.Int64())
	}

	return string(digits), nil
}

// GenerateSecureToken returns byteLength random bytes, hex encoded.
func GenerateSecureToken(byteLength int) (string, error) {
	if byteLength <= 0 {
		return "", fmt.Errorf("length must be positive")
	}

	buf := make([]byte, byteLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return hex.EncodeToString(buf), nil
}

// HashToken calculates a SHA-256 hash of the provided value.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// TokenMinter issues single-use tokens for verification and reset flows.
type TokenMinter struct {
	now func() time.Time
}

// NewTokenMinter returns a minter using the wall clock.
func NewTokenMinter() *TokenMinter {
	return &TokenMinter{now: time.Now}
}

// WithClock overrides the time source used for expiry calculation.
func (m *TokenMinter) WithClock(now func() time.Time) *TokenMinter {
	if now != nil {
		m.now = now
	}
	return m
}

// Issue mints a token of the requested kind that expires after ttl.
func (m *TokenMinter) Issue(kind port.TokenKind, ttl time.Duration) (port.IssuedToken, error) {
	if ttl <= 0 {
		return port.IssuedToken{}, fmt.Errorf("token ttl must be positive")
	}

	var (
		value string
		err   error
	)
	switch kind {
	case port.TokenOpaque:
		value, err = GenerateSecureToken(opaqueTokenBytes)
	case port.TokenNumeric:
		value, err = GenerateNumericCode(numericCodeDigits)
	default:
		return port.IssuedToken{}, fmt.Errorf("unknown token kind %q", kind)
	}
	if err != nil {
		return port.IssuedToken{}, err
	}

	return port.IssuedToken{
		Value:     value,
		Hash:      HashToken(value),
		ExpiresAt: m.now().UTC().Add(ttl),
	}, nil
}

// Hash returns the storage form of a presented token.
func (m *TokenMinter) Hash(value string) string {
	return HashToken(value)
}
