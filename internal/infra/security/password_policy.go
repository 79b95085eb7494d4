package security

import (
	"errors"
	"fmt"
	"unicode"

	zxcvbn "github.com/nbutton23/zxcvbn-go"
)

const (
	defaultMinPasswordLength = 8
	maxZxcvbnScore           = 4
)

// PasswordViolation names the first rule a candidate password broke.
type PasswordViolation struct {
	Code    string
	Message string
}

func (v *PasswordViolation) Error() string {
	if v == nil {
		return ""
	}
	return v.Message
}

type characterClass struct {
	code    string
	label   string
	matches func(rune) bool
}

// Every account password needs one rune from each class.
var requiredClasses = []characterClass{
	{code: "lowercase", label: "lowercase letter", matches: unicode.IsLower},
	{code: "uppercase", label: "uppercase letter", matches: unicode.IsUpper},
	{code: "digit", label: "digit", matches: unicode.IsDigit},
}

// PasswordPolicy enforces the account password rules: at least 8 characters
// with a lowercase letter, an uppercase letter and a digit. A positive zxcvbn
// score adds a strength estimate that penalizes passwords derived from the
// account's own email or username.
type PasswordPolicy struct {
	minLength      int
	minZxcvbnScore int
}

// NewPasswordPolicy builds the account policy. Scores above 4 are clamped.
func NewPasswordPolicy(minZxcvbnScore int) *PasswordPolicy {
	return &PasswordPolicy{
		minLength:      defaultMinPasswordLength,
		minZxcvbnScore: min(minZxcvbnScore, maxZxcvbnScore),
	}
}

// Validate returns a *PasswordViolation for the first rule password breaks.
func (p *PasswordPolicy) Validate(password string, userInputs ...string) error {
	if p == nil {
		return errors.New("password policy not configured")
	}

	if n := len([]rune(password)); n < p.minLength {
		return &PasswordViolation{
			Code:    "min_length",
			Message: fmt.Sprintf("password must be at least %d characters long", p.minLength),
		}
	}

	seen := make([]bool, len(requiredClasses))
	for _, r := range password {
		for i, class := range requiredClasses {
			if !seen[i] && class.matches(r) {
				seen[i] = true
			}
		}
	}
	for i, class := range requiredClasses {
		if !seen[i] {
			return &PasswordViolation{
				Code:    class.code,
				Message: "password must include at least one " + class.label,
			}
		}
	}

	if p.minZxcvbnScore <= 0 {
		return nil
	}
	inputs := make([]string, 0, len(userInputs))
	for _, in := range userInputs {
		if in != "" {
			inputs = append(inputs, in)
		}
	}
	if zxcvbn.PasswordStrength(password, inputs).Score < p.minZxcvbnScore {
		return &PasswordViolation{
			Code:    "weak_password",
			Message: "password is too weak; choose a more complex value",
		}
	}
	return nil
}
