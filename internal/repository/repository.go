package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace-auth/internal/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrConflict        = errors.New("record already exists")
	ErrConditionFailed = errors.New("conditional update not applied")
)

// ConflictError names the unique field that collided.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists", e.Field)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// UserRepository is the credential store.
type UserRepository interface {
	// CreateUser enforces unique email, username and phone number. A
	// collision returns a *ConflictError.
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)

	// SetOTP overwrites the live code for purpose.
	SetOTP(ctx context.Context, userID string, purpose models.OTPPurpose, code *models.OTPCode) error
	// ConsumeOTP clears the code for purpose if it still equals code and
	// has not expired at now; otherwise ErrConditionFailed. Consuming a
	// phone verification code also marks the number verified.
	ConsumeOTP(ctx context.Context, userID string, purpose models.OTPPurpose, code string, now time.Time) error

	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateLastLogin(ctx context.Context, userID string, at *time.Time) error
	UpdateUserStatus(ctx context.Context, userID string, isActive bool) error
	UpdateProfile(ctx context.Context, userID string, profile models.Profile) error

	HealthCheck(ctx context.Context) error
}

// InvitationRepository stores admin invitations.
type InvitationRepository interface {
	// CreateInvitation fails with a *ConflictError on "email" when a
	// pending invitation for the same address exists.
	CreateInvitation(ctx context.Context, inv *models.AdminInvitation) error
	GetInvitationByID(ctx context.Context, id string) (*models.AdminInvitation, error)
	GetInvitationByToken(ctx context.Context, token string) (*models.AdminInvitation, error)
	GetPendingInvitationByEmail(ctx context.Context, email string) (*models.AdminInvitation, error)
	// ListInvitations returns newest first; an empty status lists all.
	ListInvitations(ctx context.Context, status models.InvitationStatus) ([]*models.AdminInvitation, error)
	// TransitionInvitation moves id from one status to another and fails
	// with ErrConditionFailed when the stored status is not from.
	TransitionInvitation(ctx context.Context, id string, from, to models.InvitationStatus, at time.Time) error

	HealthCheck(ctx context.Context) error
}
