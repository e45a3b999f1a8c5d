package models

import (
	"errors"
	"fmt"
	"time"
)

type AuthMethod string

const (
	AuthMethodEmail  AuthMethod = "email"
	AuthMethodGoogle AuthMethod = "google"
)

// Profile holds the role-specific part of a user. Exactly one of
// CustomerProfile, VendorProfile or AdminProfile.
type Profile interface {
	Role() Role
	isProfile()
}

type CustomerProfile struct {
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

func (CustomerProfile) Role() Role { return RoleCustomer }
func (CustomerProfile) isProfile() {}

type VendorProfile struct {
	StoreName string `json:"storeName,omitempty"`
	Approved  bool   `json:"approved"`
}

func (VendorProfile) Role() Role { return RoleVendor }
func (VendorProfile) isProfile() {}

// AdminProfile carries the permission bundle resolved when the admin type
// was assigned. Permissions are not re-derived per request.
type AdminProfile struct {
	AdminType   AdminType     `json:"adminType"`
	Permissions PermissionSet `json:"-"`
	Department  string        `json:"department,omitempty"`
}

func (AdminProfile) Role() Role { return RoleAdmin }
func (AdminProfile) isProfile() {}

// NewAdminProfile resolves the static permission bundle for t.
func NewAdminProfile(t AdminType, department string) AdminProfile {
	return AdminProfile{
		AdminType:   t,
		Permissions: PermissionsFor(t),
		Department:  department,
	}
}

// User is the principal aggregate stored by the credential store.
type User struct {
	ID               string
	Email            string
	Username         string
	PhoneNumber      string
	PasswordHash     string
	Profile          Profile
	IsActive         bool
	IsNumberVerified bool
	AuthMethod       AuthMethod
	PhoneOTP         *OTPCode
	ResetOTP         *OTPCode
	LastLoginAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

var ErrInvalidUser = errors.New("invalid user")

// Role derives the role from the profile; users without a profile are customers.
func (u *User) Role() Role {
	if u.Profile == nil {
		return RoleCustomer
	}
	return u.Profile.Role()
}

// Admin returns the admin profile when the user is an administrator.
func (u *User) Admin() (AdminProfile, bool) {
	switch p := u.Profile.(type) {
	case AdminProfile:
		return p, true
	case *AdminProfile:
		if p != nil {
			return *p, true
		}
	}
	return AdminProfile{}, false
}

// OTP returns the live code for purpose, or nil.
func (u *User) OTP(purpose OTPPurpose) *OTPCode {
	switch purpose {
	case PurposePhoneVerification:
		return u.PhoneOTP
	case PurposePasswordReset:
		return u.ResetOTP
	}
	return nil
}

// SetOTP replaces the code for purpose; nil clears it.
func (u *User) SetOTP(purpose OTPPurpose, code *OTPCode) {
	switch purpose {
	case PurposePhoneVerification:
		u.PhoneOTP = code
	case PurposePasswordReset:
		u.ResetOTP = code
	}
}

// Validate checks the aggregate invariants before persistence.
func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidUser)
	}
	if u.Email == "" || u.Username == "" {
		return fmt.Errorf("%w: email and username are required", ErrInvalidUser)
	}
	if u.PasswordHash == "" {
		return fmt.Errorf("%w: password hash is required", ErrInvalidUser)
	}
	switch u.AuthMethod {
	case AuthMethodEmail, AuthMethodGoogle:
	default:
		return fmt.Errorf("%w: unknown auth method %q", ErrInvalidUser, u.AuthMethod)
	}
	if admin, ok := u.Admin(); ok {
		if !admin.AdminType.Valid() && !admin.Permissions.IsEmpty() {
			return fmt.Errorf("%w: permissions require an admin type", ErrInvalidUser)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.PhoneOTP != nil {
		otp := *u.PhoneOTP
		c.PhoneOTP = &otp
	}
	if u.ResetOTP != nil {
		otp := *u.ResetOTP
		c.ResetOTP = &otp
	}
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

// UserSummary is the public projection returned by the API.
type UserSummary struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Username         string     `json:"username"`
	PhoneNumber      string     `json:"phoneNumber,omitempty"`
	Role             Role       `json:"role"`
	AdminType        string     `json:"adminType,omitempty"`
	Permissions      []string   `json:"permissions,omitempty"`
	Profile          Profile    `json:"profile,omitempty"`
	IsActive         bool       `json:"isActive"`
	IsNumberVerified bool       `json:"isNumberVerified"`
	AuthMethod       AuthMethod `json:"authMethod"`
	LastLoginAt      *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

func (u *User) Summary() UserSummary {
	s := UserSummary{
		ID:               u.ID,
		Email:            u.Email,
		Username:         u.Username,
		PhoneNumber:      u.PhoneNumber,
		Role:             u.Role(),
		Profile:          u.Profile,
		IsActive:         u.IsActive,
		IsNumberVerified: u.IsNumberVerified,
		AuthMethod:       u.AuthMethod,
		LastLoginAt:      u.LastLoginAt,
		CreatedAt:        u.CreatedAt,
	}
	if admin, ok := u.Admin(); ok {
		s.AdminType = admin.AdminType.String()
		s.Permissions = admin.Permissions.Tags()
	}
	return s
}
