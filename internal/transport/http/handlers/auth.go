package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/identity-service/internal/transport/http/middleware"
	"github.com/arklim/identity-service/internal/usecase"
)

const forgotPasswordMessage = "if an account exists for this email, a password reset message has been sent"

// AuthHandler exposes the local credential endpoints.
type AuthHandler struct {
	credentials *usecase.CredentialService
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(credentials *usecase.CredentialService) *AuthHandler {
	return &AuthHandler{credentials: credentials}
}

// RegisterRoutes binds credential routes. requireAuth guards the session endpoints.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	r.POST("/register", h.register)
	r.POST("/login", h.login)
	r.POST("/verify-email", h.verifyEmail)
	r.POST("/resend-verification", h.resendVerification)
	r.POST("/forgot-password", h.forgotPassword)
	r.POST("/reset-password", h.resetPassword)
	r.GET("/me", requireAuth, h.me)
}

// Register godoc
// @Summary Register a local account
// @Description Creates an unverified account, sends a verification email and opens a session.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration payload"
// @Success 201 {object} AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid registration payload"))
		return
	}

	result, err := h.credentials.Register(c.Request.Context(), usecase.RegisterInput{
		Email:    req.Email,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		respondCredentialError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newAuthResponse(result))
}

// Login godoc
// @Summary Sign in with email and password
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login payload"
// @Success 200 {object} AuthResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/login [post]
func (h *AuthHandler) login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid login payload"))
		return
	}

	result, err := h.credentials.Login(c.Request.Context(), usecase.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		respondCredentialError(c, err)
		return
	}

	c.JSON(http.StatusOK, newAuthResponse(result))
}

// Me godoc
// @Summary Current account
// @Tags Authentication
// @Produce json
// @Security BearerAuth
// @Success 200 {object} UserResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/me [get]
func (h *AuthHandler) me(c *gin.Context) {
	token, ok := middleware.GetSessionToken(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required"))
		return
	}

	user, err := h.credentials.GetMe(c.Request.Context(), token)
	if err != nil {
		respondCredentialError(c, err)
		return
	}

	c.JSON(http.StatusOK, UserResponse{User: user})
}

// VerifyEmail godoc
// @Summary Confirm an email address
// @Tags Verification
// @Accept json
// @Produce json
// @Param request body TokenRequest true "Verification token"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/auth/verify-email [post]
func (h *AuthHandler) verifyEmail(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid verification payload"))
		return
	}

	if err := h.credentials.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		respondCredentialError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "email verified"})
}

// ResendVerification godoc
// @Summary Send a fresh verification email
// @Tags Verification
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Account email"
// @Success 200 {object} MessageResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/auth/resend-verification [post]
func (h *AuthHandler) resendVerification(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid payload"))
		return
	}

	if err := h.credentials.ResendVerification(c.Request.Context(), req.Email); err != nil {
		respondCredentialError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "verification email sent"})
}

// ForgotPassword godoc
// @Summary Request a password reset
// @Description Always answers with the same message, whether or not the account exists.
// @Tags Password
// @Accept json
// @Produce json
// @Param request body EmailRequest true "Account email"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/auth/forgot-password [post]
func (h *AuthHandler) forgotPassword(c *gin.Context) {
	var req EmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid payload"))
		return
	}

	if err := h.credentials.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		respondCredentialError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: forgotPasswordMessage})
}

// ResetPassword godoc
// @Summary Set a new password with a reset token
// @Tags Password
// @Accept json
// @Produce json
// @Param request body ResetPasswordRequest true "Reset token and new password"
// @Success 200 {object} MessageResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/auth/reset-password [post]
func (h *AuthHandler) resetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "invalid reset payload"))
		return
	}

	if err := h.credentials.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		respondCredentialError(c, err)
		return
	}

	c.JSON(http.StatusOK, MessageResponse{Message: "password has been reset"})
}

// ProStatus godoc
// @Summary Pro subscription check
// @Description Answers 403 unless the session belongs to a Pro account.
// @Tags Subscription
// @Produce json
// @Security BearerAuth
// @Success 200 {object} MessageResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/pro/status [get]
func (h *AuthHandler) ProStatus(c *gin.Context) {
	c.JSON(http.StatusOK, MessageResponse{Message: "pro subscription active"})
}
