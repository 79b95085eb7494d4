package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/usecase"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// RegisterRequest defines the payload for local sign-up.
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest defines the payload for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenRequest carries a single-use verification token.
type TokenRequest struct {
	Token string `json:"token"`
}

// EmailRequest carries an email address for resend and forgot-password.
type EmailRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest carries a reset token and the replacement password.
type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// AuthResponse is returned by every endpoint that opens a session.
type AuthResponse struct {
	Token     string            `json:"token"`
	TokenType string            `json:"token_type"`
	ExpiresAt time.Time         `json:"expires_at"`
	User      domain.PublicUser `json:"user"`
}

// UserResponse wraps the current account.
type UserResponse struct {
	User domain.PublicUser `json:"user"`
}

func newAuthResponse(result usecase.AuthResult) AuthResponse {
	return AuthResponse{
		Token:     result.Token,
		TokenType: "Bearer",
		ExpiresAt: result.ExpiresAt,
		User:      result.User,
	}
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
