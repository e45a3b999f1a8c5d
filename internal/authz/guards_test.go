package authz

import (
	"context"
	"errors"
	"testing"

	"marketplace-auth/internal/models"
)

func admin(perms ...models.Permission) *Principal {
	return &Principal{
		UserID:      "admin-1",
		Role:        models.RoleAdmin,
		AdminType:   models.AdminTypeStore,
		Permissions: models.NewPermissionSet(perms...),
	}
}

func TestCheckPermissionAnyOf(t *testing.T) {
	p := admin(models.PermManageStores)

	granted := models.NewPermissionSet(models.PermManageStores, models.PermManageProducts)
	if err := CheckPermission(p, granted); err != nil {
		t.Fatalf("expected access with one matching permission, got %v", err)
	}

	denied := models.NewPermissionSet(models.PermManageProducts, models.PermManageOrders)
	if err := CheckPermission(p, denied); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestCheckPermissionRequiresAdmin(t *testing.T) {
	vendor := &Principal{UserID: "v1", Role: models.RoleVendor, Permissions: models.AllPermissions()}

	err := CheckPermission(vendor, models.NewPermissionSet(models.PermViewVendors))
	if !errors.Is(err, ErrAccessDeniedAdmin) {
		t.Fatalf("expected ErrAccessDeniedAdmin, got %v", err)
	}
}

func TestCheckRole(t *testing.T) {
	customer := &Principal{UserID: "c1", Role: models.RoleCustomer}

	tests := []struct {
		name  string
		roles []models.Role
		want  error
	}{
		{"no restriction", nil, nil},
		{"member", []models.Role{models.RoleVendor, models.RoleCustomer}, nil},
		{"not member", []models.Role{models.RoleAdmin}, ErrAccessDeniedRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := CheckRole(customer, tt.roles...); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestMissingPrincipal(t *testing.T) {
	for name, err := range map[string]error{
		"presence":   RequireAuthenticated(nil),
		"role":       CheckRole(nil),
		"permission": CheckPermission(nil, models.NewPermissionSet(models.PermManageAdmins)),
		"evaluate":   Evaluate(&Principal{}, Requirement{}),
	} {
		if !errors.Is(err, ErrAuthenticationRequired) {
			t.Fatalf("%s: expected ErrAuthenticationRequired, got %v", name, err)
		}
	}
}

func TestCheckAdminType(t *testing.T) {
	p := admin(models.PermManageStores)

	if err := CheckAdminType(p, models.AdminTypeStore, models.AdminTypeSuper); err != nil {
		t.Fatalf("expected store admin to pass, got %v", err)
	}
	if err := CheckAdminType(p, models.AdminTypeSuper); !errors.Is(err, ErrAccessDeniedAdmin) {
		t.Fatalf("expected ErrAccessDeniedAdmin, got %v", err)
	}
}

func TestEvaluateOrder(t *testing.T) {
	customer := &Principal{UserID: "c1", Role: models.RoleCustomer}
	req := Requirement{
		Roles:       []models.Role{models.RoleAdmin},
		Permissions: models.NewPermissionSet(models.PermManageUsers),
	}

	if err := Evaluate(customer, req); !errors.Is(err, ErrAccessDeniedRole) {
		t.Fatalf("expected role guard to fail first, got %v", err)
	}
	if err := Evaluate(admin(models.PermManageStores), req); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected permission guard failure, got %v", err)
	}
	if err := Evaluate(admin(models.PermManageUsers), req); err != nil {
		t.Fatalf("expected access, got %v", err)
	}
}

func TestPrincipalFromUserUsesStoredPermissions(t *testing.T) {
	u := &models.User{
		ID:      "a1",
		Profile: models.AdminProfile{AdminType: models.AdminTypeVendor, Permissions: models.NewPermissionSet(models.PermViewReports)},
	}
	p := PrincipalFromUser(u)
	if p.Role != models.RoleAdmin || p.AdminType != models.AdminTypeVendor {
		t.Fatalf("unexpected principal %+v", p)
	}
	if !p.Permissions.Has(models.PermViewReports) || p.Permissions.Has(models.PermApproveVendors) {
		t.Fatalf("expected stored permissions, got %v", p.Permissions.Tags())
	}
}

func TestContextRoundTrip(t *testing.T) {
	if _, ok := PrincipalFrom(context.Background()); ok {
		t.Fatal("expected no principal")
	}
	p := admin()
	got, ok := PrincipalFrom(WithPrincipal(context.Background(), p))
	if !ok || got != p {
		t.Fatal("expected principal from context")
	}
}
