package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrAccountDeactivated       = errors.New("account is deactivated")
	ErrUserAlreadyExists        = errors.New("user already exists")
	ErrUserNotFound             = errors.New("user not found")
	ErrInvalidInput             = errors.New("invalid input")
	ErrInvitationNotFound       = errors.New("invitation not found")
	ErrInvitationExpired        = errors.New("invitation has expired")
	ErrInvitationAlreadyPending = errors.New("a pending invitation already exists for this email")
	ErrProviderUnavailable      = errors.New("identity provider unavailable")
)

// ConflictError reports which unique field a new user collided on.
type ConflictError struct {
	Field string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("user with this %s already exists", e.Field)
}

func (e *ConflictError) Is(target error) bool { return target == ErrUserAlreadyExists }

// ValidationError names the offending input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
