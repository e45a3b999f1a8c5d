package models

import (
	"fmt"
	"time"
)

type InvitationStatus string

const (
	InvitationPending   InvitationStatus = "pending"
	InvitationAccepted  InvitationStatus = "accepted"
	InvitationExpired   InvitationStatus = "expired"
	InvitationCancelled InvitationStatus = "cancelled"
)

// CanTransition reports whether moving from s to next is allowed.
// Only pending invitations move, and never back to pending.
func (s InvitationStatus) CanTransition(next InvitationStatus) bool {
	if s != InvitationPending {
		return false
	}
	switch next {
	case InvitationAccepted, InvitationExpired, InvitationCancelled:
		return true
	}
	return false
}

// AdminInvitation invites an e-mail address to become an administrator.
type AdminInvitation struct {
	ID         string           `json:"id"`
	Email      string           `json:"email"`
	AdminType  AdminType        `json:"adminType"`
	Token      string           `json:"-"`
	Status     InvitationStatus `json:"status"`
	InvitedBy  string           `json:"invitedBy"`
	ExpiresAt  time.Time        `json:"expiresAt"`
	CreatedAt  time.Time        `json:"createdAt"`
	AcceptedAt *time.Time       `json:"acceptedAt,omitempty"`
}

// IsExpired reports whether a pending invitation is past its deadline.
func (i *AdminInvitation) IsExpired(now time.Time) bool {
	return i.Status == InvitationPending && !now.Before(i.ExpiresAt)
}

func (i *AdminInvitation) Validate() error {
	if i.ID == "" || i.Email == "" || i.Token == "" {
		return fmt.Errorf("invitation id, email and token are required")
	}
	if !i.AdminType.Valid() {
		return fmt.Errorf("invitation admin type %s is not assignable", i.AdminType)
	}
	return nil
}
