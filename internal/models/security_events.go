package models

import "time"

type SecurityEventType string

const (
	EventRegister            SecurityEventType = "register"
	EventLoginSuccess        SecurityEventType = "login_success"
	EventLoginFailure        SecurityEventType = "login_failure"
	EventLogout              SecurityEventType = "logout"
	EventOTPVerified         SecurityEventType = "otp_verified"
	EventOTPFailed           SecurityEventType = "otp_failed"
	EventPasswordReset       SecurityEventType = "password_reset"
	EventGoogleLogin         SecurityEventType = "google_login"
	EventRateLimited         SecurityEventType = "rate_limited"
	EventInvitationCreated   SecurityEventType = "invitation_created"
	EventInvitationAccepted  SecurityEventType = "invitation_accepted"
	EventInvitationCancelled SecurityEventType = "invitation_cancelled"
	EventUserStatusChanged   SecurityEventType = "user_status_changed"
)

// SecurityEvent is one entry of the authentication audit trail.
type SecurityEvent struct {
	ID        string            `json:"id"`
	Type      SecurityEventType `json:"type"`
	UserID    string            `json:"userId,omitempty"`
	Email     string            `json:"email,omitempty"`
	IPAddress string            `json:"ipAddress,omitempty"`
	UserAgent string            `json:"userAgent,omitempty"`
	Success   bool              `json:"success"`
	Reason    string            `json:"reason,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
