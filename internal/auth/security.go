package auth

import (
	"errors"
	"strings"
	"unicode"
)

// MinPasswordLength is the shortest password accepted for any account.
const MinPasswordLength = 12

// ValidatePasswordStrength requires MinPasswordLength characters drawn from
// at least three character classes, and rejects passwords that contain the
// username.
func ValidatePasswordStrength(password, username string) error {
	if len(password) < MinPasswordLength {
		return errors.New("password must be at least 12 characters")
	}
	if u := strings.TrimSpace(username); len(u) >= 3 && strings.Contains(strings.ToLower(password), strings.ToLower(u)) {
		return errors.New("password must not contain the username")
	}

	var upper, lower, digit, other bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			other = true
		}
	}
	classes := 0
	for _, ok := range []bool{upper, lower, digit, other} {
		if ok {
			classes++
		}
	}
	if classes < 3 {
		return errors.New("password must contain at least 3 of: uppercase, lowercase, numbers, special characters")
	}
	return nil
}
