package security

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arklim/identity-service/internal/core/domain"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestCodec(t *testing.T, now *time.Time) *SessionCodec {
	t.Helper()
	codec, err := NewSessionCodec(testSecret, "identity-test", 0)
	require.NoError(t, err)
	return codec.WithClock(func() time.Time { return *now })
}

func TestSessionCodecRoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	codec := newTestCodec(t, &now)

	claims := domain.SessionClaims{
		AccountID: "acc-1",
		Email:     "a@x.com",
		Username:  "alice",
		IsPro:     true,
	}

	token, expiresAt, err := codec.Issue(claims)
	require.NoError(t, err)
	assert.Equal(t, now.Add(DefaultSessionTTL), expiresAt)

	parsed, err := codec.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, claims.AccountID, parsed.AccountID)
	assert.Equal(t, claims.Email, parsed.Email)
	assert.Equal(t, claims.Username, parsed.Username)
	assert.Equal(t, claims.IsPro, parsed.IsPro)
	assert.Equal(t, expiresAt, parsed.ExpiresAt)
}

func TestSessionCodecExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	codec := newTestCodec(t, &now)

	token, _, err := codec.Issue(domain.SessionClaims{AccountID: "acc-1"})
	require.NoError(t, err)

	now = now.Add(DefaultSessionTTL - time.Second)
	_, err = codec.Parse(token)
	require.NoError(t, err, "token must be valid just before expiry")

	now = now.Add(time.Second)
	_, err = codec.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionCodecRejectsTampering(t *testing.T) {
	now := time.Now()
	codec := newTestCodec(t, &now)

	token, _, err := codec.Issue(domain.SessionClaims{AccountID: "acc-1", IsPro: false})
	require.NoError(t, err)

	other, err := NewSessionCodec([]byte("ffffffffffffffffffffffffffffffff"), "identity-test", 0)
	require.NoError(t, err)
	_, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidSession, "different secret")

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	forged := parts[0] + "." + parts[1] + "x." + parts[2]
	_, err = codec.Parse(forged)
	assert.ErrorIs(t, err, ErrInvalidSession, "modified payload")

	for _, bad := range []string{"", "garbage", "a.b.c"} {
		_, err = codec.Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidSession, bad)
	}
}

func TestSessionCodecRejectsOtherAlgorithms(t *testing.T) {
	now := time.Now()
	codec := newTestCodec(t, &now)

	body := SessionClaims{
		AccountID: "acc-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "identity-test",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, body).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = codec.Parse(unsigned)
	assert.True(t, errors.Is(err, ErrInvalidSession))

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, body).SignedString(testSecret)
	require.NoError(t, err)
	_, err = codec.Parse(hs512)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestNewSessionCodecRequiresStrongSecret(t *testing.T) {
	_, err := NewSessionCodec([]byte("short"), "", time.Hour)
	assert.Error(t, err)
}
