package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"github.com/org/passkeeper/internal/shared"
)

const (
	minPasswordLen   = 8
	maxEmailLen      = 255
	passwordSpecials = "@$!%*?&"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,50}$`)

func validateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return shared.ValidationError("username must be 3-50 characters of letters, digits or underscore")
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" || len(email) > maxEmailLen {
		return shared.ValidationError("valid email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@"):], ".") {
		return shared.ValidationError("valid email is required")
	}
	return nil
}

// validatePassword is the registration strength gate: at least eight
// characters with an upper, a lower, a digit and one of @$!%*?&.
func validatePassword(password string) error {
	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		}
	}
	if len([]rune(password)) < minPasswordLen || !upper || !lower || !digit || !special {
		return shared.ValidationError("password must be at least 8 characters and contain uppercase, lowercase, number and special character (@$!%*?&)")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
