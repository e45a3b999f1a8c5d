package scylla

import (
	"testing"
	"time"

	"marketplace-auth/internal/models"
)

func TestProfileCodecAdminKeepsStoredPermissions(t *testing.T) {
	in := models.AdminProfile{
		AdminType:   models.AdminTypeStore,
		Permissions: models.NewPermissionSet(models.PermViewReports),
		Department:  "ops",
	}
	role, body, perms, err := encodeProfile(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if role != models.RoleAdmin || len(perms) != 1 {
		t.Fatalf("role=%s perms=%v", role, perms)
	}

	out, err := decodeProfile(role, body, perms)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	admin, ok := out.(models.AdminProfile)
	if !ok {
		t.Fatalf("decoded %T", out)
	}
	if admin.AdminType != models.AdminTypeStore || admin.Department != "ops" {
		t.Fatalf("decoded %+v", admin)
	}
	if admin.Permissions != in.Permissions {
		t.Fatalf("permissions = %v, want %v", admin.Permissions.Tags(), in.Permissions.Tags())
	}
}

func TestProfileCodecDefaults(t *testing.T) {
	role, body, perms, err := encodeProfile(nil)
	if err != nil || role != models.RoleCustomer || body != "" || perms != nil {
		t.Fatalf("nil profile encoded as %q %q %v %v", role, body, perms, err)
	}
	p, err := decodeProfile(role, body, perms)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := p.(models.CustomerProfile); !ok {
		t.Fatalf("decoded %T", p)
	}

	role, body, _, _ = encodeProfile(models.VendorProfile{StoreName: "Shop", Approved: true})
	p, err = decodeProfile(role, body, nil)
	if err != nil {
		t.Fatalf("decode vendor: %v", err)
	}
	if v := p.(models.VendorProfile); v.StoreName != "Shop" || !v.Approved {
		t.Fatalf("vendor = %+v", v)
	}

	if _, err := decodeProfile("ROOT", "{}", nil); err == nil {
		t.Fatal("expected unknown role error")
	}
}

func TestOTPCodeNullColumns(t *testing.T) {
	if otpCode("", time.Now()) != nil {
		t.Fatal("empty code should be nil")
	}
	exp := time.Unix(1700000000, 0)
	c := otpCode("1234", exp)
	if c == nil || c.Code != "1234" || !c.ExpiresAt.Equal(exp) {
		t.Fatalf("got %+v", c)
	}
	if nullableTime(nil) != nil {
		t.Fatal("nil time should bind as null")
	}
}
