package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/identity-service/internal/core/domain"
	"github.com/arklim/identity-service/internal/infra/logger"
	"github.com/arklim/identity-service/internal/usecase"
)

const oauthFailedCode = "oauth_failed"

// OAuthHandler runs the browser side of the external sign-in redirect flow.
type OAuthHandler struct {
	oauth       *usecase.OAuthService
	frontendURL string
	logger      *zap.Logger
}

// NewOAuthHandler constructs OAuthHandler. Both outcomes of a callback redirect to frontendURL.
func NewOAuthHandler(oauth *usecase.OAuthService, frontendURL string, log *zap.Logger) *OAuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &OAuthHandler{
		oauth:       oauth,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      log,
	}
}

// RegisterRoutes binds the provider redirect and callback routes.
func (h *OAuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/:provider", h.begin)
	r.GET("/:provider/callback", h.callback)
}

// Begin godoc
// @Summary Start external sign-in
// @Description Redirects the browser to the provider's consent screen.
// @Tags OAuth
// @Param provider path string true "google or github"
// @Success 302
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/auth/{provider} [get]
func (h *OAuthHandler) begin(c *gin.Context) {
	provider, ok := domain.ParseProvider(c.Param("provider"))
	if !ok {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "unknown identity provider"))
		return
	}

	target, err := h.oauth.Begin(c.Request.Context(), provider)
	if err != nil {
		respondCredentialError(c, err)
		return
	}

	c.Redirect(http.StatusFound, target)
}

// Callback godoc
// @Summary Complete external sign-in
// @Description Validates state, exchanges the code and redirects to the frontend with a session token.
// @Tags OAuth
// @Param provider path string true "google or github"
// @Param state query string true "CSRF state"
// @Param code query string true "Authorization code"
// @Success 302
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/auth/{provider}/callback [get]
func (h *OAuthHandler) callback(c *gin.Context) {
	provider, ok := domain.ParseProvider(c.Param("provider"))
	if !ok {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "unknown identity provider"))
		return
	}
	log := logger.WithContext(c.Request.Context(), h.logger).With(zap.String("provider", string(provider)))

	if denied := c.Query("error"); denied != "" {
		log.Info("provider returned an error", zap.String("error", denied))
		h.redirectFailure(c)
		return
	}

	result, err := h.oauth.Complete(c.Request.Context(), provider, c.Query("state"), c.Query("code"))
	if errors.Is(err, usecase.ErrProviderDisabled) {
		respondCredentialError(c, err)
		return
	}
	if err != nil {
		log.Warn("external sign-in failed", zap.Error(err))
		h.redirectFailure(c)
		return
	}

	user, err := json.Marshal(result.User)
	if err != nil {
		log.Error("encode user failed", zap.Error(err))
		h.redirectFailure(c)
		return
	}

	query := url.Values{}
	query.Set("token", result.Token)
	query.Set("user", string(user))
	c.Redirect(http.StatusFound, h.frontendURL+"/auth/callback?"+query.Encode())
}

func (h *OAuthHandler) redirectFailure(c *gin.Context) {
	c.Redirect(http.StatusFound, h.frontendURL+"/login?error="+oauthFailedCode)
}
