package service

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"marketplace-auth/internal/authz"
	"marketplace-auth/internal/models"
	"marketplace-auth/internal/notification"
)

func TestInvitationLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	super := authz.PrincipalFromUser(h.seedAdmin(t, "root", models.AdminTypeSuper))

	inv, err := h.invitations.Create(ctx, super, "New.Admin@Shop.example", models.AdminTypeStore, RequestMeta{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if inv.Status != models.InvitationPending || inv.Email != "new.admin@shop.example" {
		t.Fatalf("unexpected invitation: %+v", inv)
	}
	if want := h.clock.Now().Add(72 * time.Hour); !inv.ExpiresAt.Equal(want) {
		t.Fatalf("expiry = %s, want %s", inv.ExpiresAt, want)
	}

	msg, ok := h.outbox.last(notification.KindAdminInvitation)
	if !ok || msg.Recipient != inv.Email {
		t.Fatalf("invitation not e-mailed: %+v", msg)
	}
	link, err := url.Parse(msg.Data["acceptUrl"])
	if err != nil || link.Query().Get("token") != inv.Token {
		t.Fatalf("accept link does not carry the token: %q", msg.Data["acceptUrl"])
	}

	if _, err := h.invitations.Create(ctx, super, "new.admin@shop.example", models.AdminTypeVendor, RequestMeta{}); !errors.Is(err, ErrInvitationAlreadyPending) {
		t.Fatalf("expected ErrInvitationAlreadyPending, got %v", err)
	}

	got, err := h.invitations.Validate(ctx, inv.Token)
	if err != nil || got.ID != inv.ID {
		t.Fatalf("validate: %v", err)
	}

	user, err := h.invitations.Accept(ctx, AcceptInvitationInput{
		Token:      inv.Token,
		Username:   "storeops",
		Password:   "adm1npass",
		Department: "Stores",
	}, RequestMeta{})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	admin, ok := user.Admin()
	if !ok || admin.AdminType != models.AdminTypeStore {
		t.Fatalf("accepted user is not a store admin: %+v", user.Summary())
	}
	if !admin.Permissions.Has(models.PermManageProducts) || admin.Permissions.Has(models.PermManageAdmins) {
		t.Fatalf("unexpected permissions %v", admin.Permissions.Tags())
	}

	if _, err := h.invitations.Accept(ctx, AcceptInvitationInput{Token: inv.Token, Username: "again", Password: "adm1npass"}, RequestMeta{}); !errors.Is(err, ErrInvitationNotFound) {
		t.Fatalf("second accept: expected ErrInvitationNotFound, got %v", err)
	}

	session, err := h.auth.Login(ctx, LoginInput{Identifier: "storeops", Password: "adm1npass"}, RequestMeta{})
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	if session.User.Role() != models.RoleAdmin {
		t.Fatalf("role = %s", session.User.Role())
	}

	accepted, err := h.invitations.List(ctx, models.InvitationAccepted)
	if err != nil || len(accepted) != 1 {
		t.Fatalf("list accepted: %v (%d)", err, len(accepted))
	}
	if h.events.count(models.EventInvitationAccepted, true) != 1 {
		t.Fatal("acceptance not audited")
	}
}

func TestInvitationExpiresLazily(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	super := authz.PrincipalFromUser(h.seedAdmin(t, "root", models.AdminTypeSuper))

	inv, err := h.invitations.Create(ctx, super, "late@shop.example", models.AdminTypeCustomer, RequestMeta{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.clock.Advance(72 * time.Hour)

	if _, err := h.invitations.Validate(ctx, inv.Token); !errors.Is(err, ErrInvitationExpired) {
		t.Fatalf("expected ErrInvitationExpired, got %v", err)
	}
	stored, err := h.invites.GetInvitationByID(ctx, inv.ID)
	if err != nil || stored.Status != models.InvitationExpired {
		t.Fatalf("invitation should be stored as expired: %+v %v", stored, err)
	}

	pending, err := h.invitations.List(ctx, models.InvitationPending)
	if err != nil || len(pending) != 0 {
		t.Fatalf("expected no pending invitations, got %d (%v)", len(pending), err)
	}

	// The address can be invited again once the old invitation lapsed.
	if _, err := h.invitations.Create(ctx, super, "late@shop.example", models.AdminTypeCustomer, RequestMeta{}); err != nil {
		t.Fatalf("re-invite: %v", err)
	}
}

func TestInvitationCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	super := authz.PrincipalFromUser(h.seedAdmin(t, "root", models.AdminTypeSuper))

	inv, err := h.invitations.Create(ctx, super, "maybe@shop.example", models.AdminTypeVendor, RequestMeta{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.invitations.Cancel(ctx, super, inv.ID, RequestMeta{}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := h.invitations.Cancel(ctx, super, inv.ID, RequestMeta{}); !errors.Is(err, ErrInvitationNotFound) {
		t.Fatalf("second cancel: expected ErrInvitationNotFound, got %v", err)
	}
	if _, err := h.invitations.Validate(ctx, inv.Token); !errors.Is(err, ErrInvitationNotFound) {
		t.Fatalf("cancelled invitation should not validate, got %v", err)
	}
	if err := h.invitations.Cancel(ctx, super, "missing", RequestMeta{}); !errors.Is(err, ErrInvitationNotFound) {
		t.Fatalf("expected ErrInvitationNotFound, got %v", err)
	}
}

func TestInvitationCreateRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	super := authz.PrincipalFromUser(h.seedAdmin(t, "root", models.AdminTypeSuper))
	h.register(t, "member@shop.example", "member", "+2348000000020")

	if _, err := h.invitations.Create(ctx, super, "member@shop.example", models.AdminTypeStore, RequestMeta{}); !errors.Is(err, ErrUserAlreadyExists) {
		t.Fatalf("expected ErrUserAlreadyExists, got %v", err)
	}
	if _, err := h.invitations.Create(ctx, super, "x@shop.example", models.AdminTypeNone, RequestMeta{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := h.invitations.Create(ctx, nil, "x@shop.example", models.AdminTypeStore, RequestMeta{}); !errors.Is(err, authz.ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}
	if _, err := h.invitations.List(ctx, "bogus"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown status, got %v", err)
	}
}

func TestInvitationAcceptValidatesInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	super := authz.PrincipalFromUser(h.seedAdmin(t, "root", models.AdminTypeSuper))

	inv, err := h.invitations.Create(ctx, super, "weak@shop.example", models.AdminTypeStore, RequestMeta{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = h.invitations.Accept(ctx, AcceptInvitationInput{Token: inv.Token, Username: "weak", Password: "123"}, RequestMeta{})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := h.invitations.Validate(ctx, inv.Token); err != nil {
		t.Fatalf("failed accept must leave the invitation pending: %v", err)
	}
	if _, err := h.invitations.Validate(ctx, "unknown-token"); !errors.Is(err, ErrInvitationNotFound) {
		t.Fatalf("expected ErrInvitationNotFound, got %v", err)
	}
}
