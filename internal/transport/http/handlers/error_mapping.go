package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/identity-service/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

// credentialErrorCases covers every sentinel the credential flows return.
// Internal errors fall through to the generic 500.
var credentialErrorCases = []ErrorCase{
	{Err: usecase.ErrValidation, Status: http.StatusBadRequest, Message: "validation failed"},
	{Err: usecase.ErrConflict, Status: http.StatusConflict, Message: "email or username already in use"},
	{Err: usecase.ErrUnauthorized, Status: http.StatusUnauthorized, Message: "invalid email or password"},
	{Err: usecase.ErrInvalidOrExpired, Status: http.StatusBadRequest, Message: "token is invalid or has expired"},
	{Err: usecase.ErrNotFound, Status: http.StatusNotFound, Message: "account not found"},
	{Err: usecase.ErrAlreadyVerified, Status: http.StatusConflict, Message: "email already verified"},
	{Err: usecase.ErrInvalidSession, Status: http.StatusUnauthorized, Message: "invalid or expired session"},
	{Err: usecase.ErrProviderDisabled, Status: http.StatusNotFound, Message: "identity provider is not enabled"},
	{Err: usecase.ErrLinkFailed, Status: http.StatusUnauthorized, Message: "account linking failed"},
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	var validation *usecase.ValidationError
	if errors.As(err, &validation) {
		resp := NewErrorResponse(c, validation.Message)
		resp.Field = validation.Field
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	if fallbackStatus >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

func respondCredentialError(c *gin.Context, err error) {
	RespondWithMappedError(c, err, credentialErrorCases, http.StatusInternalServerError, "internal server error")
}
