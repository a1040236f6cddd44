package secret

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/org/passkeeper/internal/shared"
)

const (
	maxTitleLen    = 100
	maxUsernameLen = 100
	maxNotesLen    = 1000
	maxCategoryLen = 50
	maxURLLen      = 2048
)

func validateLength(field, v string, lo, hi int) error {
	n := utf8.RuneCountInString(v)
	if n < lo || n > hi {
		if lo > 0 {
			return shared.ValidationError(fmt.Sprintf("%s is required and must be at most %d characters", field, hi))
		}
		return shared.ValidationError(fmt.Sprintf("%s must be at most %d characters", field, hi))
	}
	return nil
}

// validateURL accepts absolute http(s) URLs with a host.
func validateURL(raw string) error {
	if raw == "" || len(raw) > maxURLLen {
		return shared.ValidationError("valid URL is required")
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return shared.ValidationError("valid URL is required")
	}
	host := u.Hostname()
	if host != "localhost" && !strings.Contains(host, ".") {
		return shared.ValidationError("valid URL is required")
	}
	return nil
}

func validateInput(in EntryInput) error {
	if err := validateLength("title", strings.TrimSpace(in.Title), 1, maxTitleLen); err != nil {
		return err
	}
	if err := validateURL(in.URL); err != nil {
		return err
	}
	if err := validateLength("username", strings.TrimSpace(in.Username), 1, maxUsernameLen); err != nil {
		return err
	}
	if in.Password == "" {
		return shared.ValidationError("password is required")
	}
	if err := validateLength("notes", in.Notes, 0, maxNotesLen); err != nil {
		return err
	}
	return validateLength("category", in.Category, 0, maxCategoryLen)
}

func validatePatch(p EntryPatch) error {
	if p.Title != nil {
		if err := validateLength("title", strings.TrimSpace(*p.Title), 1, maxTitleLen); err != nil {
			return err
		}
	}
	if p.URL != nil {
		if err := validateURL(*p.URL); err != nil {
			return err
		}
	}
	if p.Username != nil {
		if err := validateLength("username", strings.TrimSpace(*p.Username), 1, maxUsernameLen); err != nil {
			return err
		}
	}
	if p.Password != nil && *p.Password == "" {
		return shared.ValidationError("password cannot be empty")
	}
	if p.Notes != nil {
		if err := validateLength("notes", *p.Notes, 0, maxNotesLen); err != nil {
			return err
		}
	}
	if p.Category != nil {
		if err := validateLength("category", strings.TrimSpace(*p.Category), 1, maxCategoryLen); err != nil {
			return err
		}
	}
	return nil
}
