package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/identity-service/internal/core/domain"
)

type stubCodec struct {
	claims map[string]domain.SessionClaims
}

func (s stubCodec) Issue(domain.SessionClaims) (string, time.Time, error) {
	return "", time.Time{}, errors.New("not implemented")
}

func (s stubCodec) Parse(token string) (domain.SessionClaims, error) {
	claims, ok := s.claims[token]
	if !ok {
		return domain.SessionClaims{}, errors.New("invalid")
	}
	return claims, nil
}

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)

	codec := stubCodec{claims: map[string]domain.SessionClaims{
		"free-token": {AccountID: "acc-free", Email: "free@example.com"},
		"pro-token":  {AccountID: "acc-pro", Email: "pro@example.com", IsPro: true},
	}}

	r := gin.New()
	r.Use(EnrichContext())
	r.GET("/me", RequireAuth(codec), func(c *gin.Context) {
		claims, _ := GetSessionClaims(c)
		token, _ := GetSessionToken(c)
		c.JSON(http.StatusOK, gin.H{"id": claims.AccountID, "token": token})
	})
	r.GET("/pro", RequireAuth(codec), RequirePro(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.GET("/pro-unguarded", RequirePro(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func serve(r http.Handler, path, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestRequireAuth(t *testing.T) {
	r := newAuthRouter()

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic free-token", http.StatusUnauthorized},
		{"empty token", "Bearer   ", http.StatusUnauthorized},
		{"unknown token", "Bearer forged", http.StatusUnauthorized},
		{"valid token", "Bearer free-token", http.StatusOK},
		{"scheme is case-insensitive", "bearer free-token", http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(r, "/me", tc.header)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d (%s)", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestRequireAuthExposesClaimsAndToken(t *testing.T) {
	rr := serve(newAuthRouter(), "/me", "Bearer free-token")

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	want := `{"id":"acc-free","token":"free-token"}`
	if rr.Body.String() != want {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestRequirePro(t *testing.T) {
	r := newAuthRouter()

	if rr := serve(r, "/pro", "Bearer free-token"); rr.Code != http.StatusForbidden {
		t.Fatalf("free account: expected 403, got %d", rr.Code)
	}
	if rr := serve(r, "/pro", "Bearer pro-token"); rr.Code != http.StatusNoContent {
		t.Fatalf("pro account: expected 204, got %d", rr.Code)
	}
	if rr := serve(r, "/pro-unguarded", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("without RequireAuth: expected 401, got %d", rr.Code)
	}
}
