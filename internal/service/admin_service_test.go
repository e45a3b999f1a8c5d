package service

import (
	"context"
	"errors"
	"testing"

	"marketplace-auth/internal/authz"
	"marketplace-auth/internal/models"
)

func TestSetUserStatusPermissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	super := authz.PrincipalFromUser(h.seedAdmin(t, "root", models.AdminTypeSuper))
	customerAdmin := authz.PrincipalFromUser(h.seedAdmin(t, "care", models.AdminTypeCustomer))
	storeAdmin := authz.PrincipalFromUser(h.seedAdmin(t, "stock", models.AdminTypeStore))
	customer := h.register(t, "buyer@example.com", "buyer", "+2348000000030")

	if _, err := h.admin.SetUserStatus(ctx, storeAdmin, customer.ID, false, RequestMeta{}); !errors.Is(err, authz.ErrPermissionDenied) {
		t.Fatalf("store admin: expected ErrPermissionDenied, got %v", err)
	}
	updated, err := h.admin.SetUserStatus(ctx, customerAdmin, customer.ID, false, RequestMeta{})
	if err != nil {
		t.Fatalf("customer admin: %v", err)
	}
	if updated.IsActive {
		t.Fatal("user should be deactivated")
	}
	if _, err := h.auth.Login(ctx, LoginInput{Identifier: "buyer", Password: "s3cretpass"}, RequestMeta{}); !errors.Is(err, ErrAccountDeactivated) {
		t.Fatalf("expected ErrAccountDeactivated, got %v", err)
	}

	// Only manage_admins may touch another admin.
	if _, err := h.admin.SetUserStatus(ctx, customerAdmin, storeAdmin.UserID, false, RequestMeta{}); !errors.Is(err, authz.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if _, err := h.admin.SetUserStatus(ctx, super, storeAdmin.UserID, false, RequestMeta{}); err != nil {
		t.Fatalf("super admin: %v", err)
	}

	if _, err := h.admin.SetUserStatus(ctx, super, super.UserID, false, RequestMeta{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("self change: expected ErrInvalidInput, got %v", err)
	}
	if _, err := h.admin.SetUserStatus(ctx, super, "missing", true, RequestMeta{}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if h.events.count(models.EventUserStatusChanged, true) != 2 {
		t.Fatal("status changes not audited")
	}
}

func TestSetAdminType(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	super := authz.PrincipalFromUser(h.seedAdmin(t, "root", models.AdminTypeSuper))
	target := h.seedAdmin(t, "helper", models.AdminTypeVendor)
	customer := h.register(t, "plain@example.com", "plain", "+2348000000031")

	updated, err := h.admin.SetAdminType(ctx, super, target.ID, models.AdminTypeCustomer)
	if err != nil {
		t.Fatalf("set admin type: %v", err)
	}
	admin, _ := updated.Admin()
	if admin.AdminType != models.AdminTypeCustomer || admin.Permissions != models.PermissionsFor(models.AdminTypeCustomer) {
		t.Fatalf("unexpected profile %+v", admin)
	}
	if admin.Department != "ops" {
		t.Fatalf("department should be kept, got %q", admin.Department)
	}

	stored, err := h.auth.Me(ctx, target.ID)
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if p := authz.PrincipalFromUser(stored); !p.Permissions.Has(models.PermManageCustomers) {
		t.Fatal("stored permissions not replaced")
	}

	if _, err := h.admin.SetAdminType(ctx, super, customer.ID, models.AdminTypeStore); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("non-admin target: expected ErrInvalidInput, got %v", err)
	}
	if _, err := h.admin.SetAdminType(ctx, super, target.ID, models.AdminTypeNone); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("invalid type: expected ErrInvalidInput, got %v", err)
	}
}
