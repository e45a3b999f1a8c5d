package models

import (
	"crypto/subtle"
	"time"
)

// OTPPurpose separates the phone-verification and password-reset codes.
type OTPPurpose string

const (
	PurposePhoneVerification OTPPurpose = "phone_verification"
	PurposePasswordReset     OTPPurpose = "password_reset"
)

func (p OTPPurpose) Valid() bool {
	return p == PurposePhoneVerification || p == PurposePasswordReset
}

// OTPCode is a live one-time code stored on the user record.
type OTPCode struct {
	Code      string
	ExpiresAt time.Time
}

// Matches reports whether submitted equals the stored code and the code has
// not expired at now. No normalisation is applied.
func (c *OTPCode) Matches(submitted string, now time.Time) bool {
	if c == nil || c.Code == "" {
		return false
	}
	if now.After(c.ExpiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(c.Code), []byte(submitted)) == 1
}
