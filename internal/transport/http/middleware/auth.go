package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/core/port"
)

const (
	claimsKey       = "session_claims"
	sessionTokenKey = "session_token"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// RequireAuth validates the Bearer session token and stores its claims on the context.
func RequireAuth(sessions port.SessionCodec) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "missing or malformed authorization header"))
			return
		}

		claims, err := sessions.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "invalid or expired session"))
			return
		}

		c.Set(UserIDKey, claims.AccountID)
		c.Set(claimsKey, claims)
		c.Set(sessionTokenKey, token)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = claims.AccountID
		}

		c.Next()
	}
}

// RequirePro rejects sessions whose account has no Pro subscription. It must run after RequireAuth.
func RequirePro() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetSessionClaims(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}
		if !claims.IsPro {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "this feature requires a pro subscription"))
			return
		}
		c.Next()
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" header.
func BearerToken(c *gin.Context) (string, bool) {
	scheme, token, found := strings.Cut(c.GetHeader("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// GetSessionClaims returns the claims stored by RequireAuth.
func GetSessionClaims(c *gin.Context) (domain.SessionClaims, bool) {
	v, exists := c.Get(claimsKey)
	if !exists {
		return domain.SessionClaims{}, false
	}
	claims, ok := v.(domain.SessionClaims)
	return claims, ok
}

// GetSessionToken returns the raw token accepted by RequireAuth.
func GetSessionToken(c *gin.Context) (string, bool) {
	token := c.GetString(sessionTokenKey)
	return token, token != ""
}

// GetAuthenticatedUserID retrieves the user ID from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (string, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return "", false
	}

	if id, ok := userID.(string); ok {
		return id, true
	}

	return "", false
}
