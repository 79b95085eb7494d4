package usecase

import (
	"net/mail"
	"regexp"
	"strings"

	"github.com/arklim/identity-service/internal/core/domain"
)

const maxEmailLength = 254

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,30}$`)

func normalizeEmail(raw string) (string, error) {
	email := domain.NormalizeEmail(raw)
	if email == "" {
		return "", invalid("email", "email is required")
	}
	if len(email) > maxEmailLength {
		return "", invalid("email", "email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return "", invalid("email", "email is not a valid address")
	}
	return email, nil
}

func validateUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if username == "" {
		return "", invalid("username", "username is required")
	}
	if !usernamePattern.MatchString(username) {
		return "", invalid("username", "username must be 3-30 characters of letters, digits or underscores")
	}
	return username, nil
}

func requireToken(raw string) (string, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return "", invalid("token", "token is required")
	}
	return token, nil
}
