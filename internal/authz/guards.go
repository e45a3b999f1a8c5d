package authz

import (
	"errors"
	"slices"

	"marketplace-auth/internal/models"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrAccessDeniedRole       = errors.New("access denied for role")
	ErrAccessDeniedAdmin      = errors.New("admin access required")
	ErrPermissionDenied       = errors.New("permission denied")
)

// Principal is the verified caller attached to a request.
type Principal struct {
	UserID           string
	Email            string
	Username         string
	Role             models.Role
	AdminType        models.AdminType
	Permissions      models.PermissionSet
	IsNumberVerified bool
}

// PrincipalFromUser resolves a principal from a stored user. Permissions
// come from the admin profile as stored, not from the admin type table.
func PrincipalFromUser(u *models.User) *Principal {
	p := &Principal{
		UserID:           u.ID,
		Email:            u.Email,
		Username:         u.Username,
		Role:             u.Role(),
		IsNumberVerified: u.IsNumberVerified,
	}
	if admin, ok := u.Admin(); ok {
		p.AdminType = admin.AdminType
		p.Permissions = admin.Permissions
	}
	return p
}

func (p *Principal) IsAdmin() bool { return p != nil && p.Role == models.RoleAdmin }

// Requirement is the route metadata the guards evaluate against. Zero
// fields impose no restriction.
type Requirement struct {
	Roles       []models.Role
	AdminTypes  []models.AdminType
	Permissions models.PermissionSet
}

func RequireAuthenticated(p *Principal) error {
	if p == nil || p.UserID == "" {
		return ErrAuthenticationRequired
	}
	return nil
}

// CheckRole passes when roles is empty or contains the principal's role.
func CheckRole(p *Principal, roles ...models.Role) error {
	if err := RequireAuthenticated(p); err != nil {
		return err
	}
	if len(roles) == 0 || slices.Contains(roles, p.Role) {
		return nil
	}
	return ErrAccessDeniedRole
}

// CheckAdminType passes admins whose type is listed.
func CheckAdminType(p *Principal, types ...models.AdminType) error {
	if err := RequireAuthenticated(p); err != nil {
		return err
	}
	if len(types) == 0 {
		return nil
	}
	if !p.IsAdmin() || !slices.Contains(types, p.AdminType) {
		return ErrAccessDeniedAdmin
	}
	return nil
}

// CheckPermission requires an admin holding ANY of required.
func CheckPermission(p *Principal, required models.PermissionSet) error {
	if err := RequireAuthenticated(p); err != nil {
		return err
	}
	if required.IsEmpty() {
		return nil
	}
	if !p.IsAdmin() {
		return ErrAccessDeniedAdmin
	}
	if !p.Permissions.Intersects(required) {
		return ErrPermissionDenied
	}
	return nil
}

// Evaluate runs presence, role, admin type and permission guards in order
// and returns the first failure.
func Evaluate(p *Principal, req Requirement) error {
	if err := RequireAuthenticated(p); err != nil {
		return err
	}
	if err := CheckRole(p, req.Roles...); err != nil {
		return err
	}
	if err := CheckAdminType(p, req.AdminTypes...); err != nil {
		return err
	}
	return CheckPermission(p, req.Permissions)
}
