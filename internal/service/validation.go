package service

import (
	"net/mail"
	"unicode"

	"marketplace-auth/internal/util"
)

const (
	minPasswordLength = 8
	// bcrypt ignores everything past 72 bytes.
	maxPasswordLength = 72
)

func validateEmail(email string) (string, error) {
	normalized := util.NormalizeEmail(email)
	if normalized == "" {
		return "", invalid("email", "is required")
	}
	addr, err := mail.ParseAddress(normalized)
	if err != nil || addr.Address != normalized {
		return "", invalid("email", "is not a valid address")
	}
	return normalized, nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return invalid("password", "must be at least 8 characters")
	}
	if len(password) > maxPasswordLength {
		return invalid("password", "must be at most 72 bytes")
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	if !letter || !digit {
		return invalid("password", "must contain a letter and a digit")
	}
	return nil
}

func validateUsername(username string) error {
	if !util.ValidUsername(username) {
		return invalid("username", "must be 3-30 letters, digits, '.', '_' or '-'")
	}
	return nil
}

func validatePhone(phone string) (string, error) {
	normalized := util.NormalizePhone(phone)
	if !util.ValidPhone(normalized) {
		return "", invalid("phoneNumber", "is not a valid phone number")
	}
	return normalized, nil
}

// cleanName returns the stored form of a free-text profile field.
func cleanName(field, value string) (string, error) {
	value = util.SanitizeInput(value)
	if len(value) > 100 || util.ContainsSuspicious(value) {
		return "", invalid(field, "contains invalid characters")
	}
	return value, nil
}
