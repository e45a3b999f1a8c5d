package ratelimit

import (
	"time"

	"marketplace-auth/internal/config"
)

const (
	LoginAttempts = "LOGIN_ATTEMPTS"
	Registration  = "REGISTRATION"
	OTPRequests   = "OTP_REQUESTS"
	PasswordReset = "PASSWORD_RESET"
	GoogleAuth    = "GOOGLE_AUTH"
	APIGeneral    = "API_GENERAL"
)

// Policies holds the named presets attached to routes.
type Policies struct {
	Login         Policy
	Registration  Policy
	OTP           Policy
	PasswordReset Policy
	Google        Policy
	General       Policy
}

func DefaultPolicies() Policies {
	return Policies{
		Login:         Policy{Name: LoginAttempts, Window: 15 * time.Minute, Max: 5},
		Registration:  Policy{Name: Registration, Window: 60 * time.Minute, Max: 3},
		OTP:           Policy{Name: OTPRequests, Window: 5 * time.Minute, Max: 5},
		PasswordReset: Policy{Name: PasswordReset, Window: 15 * time.Minute, Max: 3},
		Google:        Policy{Name: GoogleAuth, Window: 15 * time.Minute, Max: 10},
		General:       Policy{Name: APIGeneral, Window: 15 * time.Minute, Max: 100},
	}
}

func PoliciesFromConfig(cfg config.RateLimitConfig) Policies {
	return Policies{
		Login:         Policy{Name: LoginAttempts, Window: cfg.LoginWindow, Max: cfg.LoginMax},
		Registration:  Policy{Name: Registration, Window: cfg.RegistrationWindow, Max: cfg.RegistrationMax},
		OTP:           Policy{Name: OTPRequests, Window: cfg.OTPWindow, Max: cfg.OTPMax},
		PasswordReset: Policy{Name: PasswordReset, Window: cfg.PasswordResetWindow, Max: cfg.PasswordResetMax},
		Google:        Policy{Name: GoogleAuth, Window: cfg.GoogleWindow, Max: cfg.GoogleMax},
		General:       Policy{Name: APIGeneral, Window: cfg.GeneralWindow, Max: cfg.GeneralMax},
	}
}
