package utils

import (
	"errors"
	"regexp"
	"strings"
)

var (
	usernameRe        = regexp.MustCompile(`^[a-z0-9._-]{3,32}$`)
	emailRe           = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	passwordMaxLength = 128
	passwordMinLength = 12
	upperRe           = regexp.MustCompile(`[A-Z]`)
	lowerRe           = regexp.MustCompile(`[a-z]`)
	digitRe           = regexp.MustCompile(`[0-9]`)
	specialRe         = regexp.MustCompile(`[!@#$%^&*_\-+=.?]`)
	whitespaceRe      = regexp.MustCompile(`\s`)
)

// NormalizeHandle lower-cases a username or email for storage and lookup.
func NormalizeHandle(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func ValidateUsername(s string) error {
	if !usernameRe.MatchString(NormalizeHandle(s)) {
		return errors.New("invalid username")
	}
	return nil
}

func ValidateEmail(s string) error {
	s = strings.TrimSpace(s)
	if len(s) > 254 || !emailRe.MatchString(s) {
		return errors.New("invalid email address")
	}
	return nil
}

func ValidatePassword(s string) error {
	if len(s) < passwordMinLength {
		return errors.New("password too short (min 12 chars)")
	}
	if len(s) > passwordMaxLength {
		return errors.New("password too long (max 128 chars)")
	}
	if whitespaceRe.MatchString(s) {
		return errors.New("password must not contain spaces")
	}
	if !upperRe.MatchString(s) {
		return errors.New("password must include an uppercase letter")
	}
	if !lowerRe.MatchString(s) {
		return errors.New("password must include a lowercase letter")
	}
	if !digitRe.MatchString(s) {
		return errors.New("password must include a digit")
	}
	if !specialRe.MatchString(s) {
		return errors.New("password must include a special character (!@#$%^&*_-+=.?)")
	}
	return nil
}
