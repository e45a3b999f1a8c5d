package models

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// Role is the coarse account kind carried in session tokens.
type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleVendor   Role = "VENDOR"
	RoleAdmin    Role = "ADMIN"
)

// ParseRole accepts the upper or lower case spelling of a role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleCustomer:
		return RoleCustomer, nil
	case RoleVendor:
		return RoleVendor, nil
	case RoleAdmin:
		return RoleAdmin, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// AdminType selects the static permission bundle of an administrator.
type AdminType uint8

// AdminTypeNone is the zero value; non-admin principals carry it.
const (
	AdminTypeNone AdminType = iota
	AdminTypeSuper
	AdminTypeStore
	AdminTypeVendor
	AdminTypeCustomer

	adminTypeCount
)

var adminTypeNames = [...]string{
	AdminTypeNone:     "",
	AdminTypeSuper:    "super_admin",
	AdminTypeStore:    "store_admin",
	AdminTypeVendor:   "vendor_admin",
	AdminTypeCustomer: "customer_admin",
}

func (t AdminType) String() string {
	if t >= adminTypeCount {
		return fmt.Sprintf("admin_type(%d)", uint8(t))
	}
	return adminTypeNames[t]
}

// Valid reports whether t is one of the declared admin types.
func (t AdminType) Valid() bool { return t > AdminTypeNone && t < adminTypeCount }

// ParseAdminType maps the wire name (e.g. "vendor_admin") to an AdminType.
func ParseAdminType(s string) (AdminType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t := AdminTypeSuper; t < adminTypeCount; t++ {
		if adminTypeNames[t] == s {
			return t, nil
		}
	}
	return AdminTypeNone, fmt.Errorf("unknown admin type %q", s)
}

func (t AdminType) MarshalText() ([]byte, error) {
	if t >= adminTypeCount {
		return nil, fmt.Errorf("invalid admin type %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *AdminType) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*t = AdminTypeNone
		return nil
	}
	parsed, err := ParseAdminType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AdminTypes lists every assignable admin type in declaration order.
func AdminTypes() []AdminType {
	out := make([]AdminType, 0, adminTypeCount-1)
	for t := AdminTypeSuper; t < adminTypeCount; t++ {
		out = append(out, t)
	}
	return out
}

// Permission is a fine-grained admin capability.
type Permission uint8

const (
	PermManageAdmins Permission = iota
	PermManageUsers
	PermManageCustomers
	PermViewCustomers
	PermManageVendors
	PermApproveVendors
	PermViewVendors
	PermManageStores
	PermManageProducts
	PermManageOrders
	PermViewReports
	PermManageSettings

	permissionCount
)

var permissionNames = [...]string{
	PermManageAdmins:    "manage_admins",
	PermManageUsers:     "manage_users",
	PermManageCustomers: "manage_customers",
	PermViewCustomers:   "view_customers",
	PermManageVendors:   "manage_vendors",
	PermApproveVendors:  "approve_vendors",
	PermViewVendors:     "view_vendors",
	PermManageStores:    "manage_stores",
	PermManageProducts:  "manage_products",
	PermManageOrders:    "manage_orders",
	PermViewReports:     "view_reports",
	PermManageSettings:  "manage_settings",
}

// Both names tables must cover every enum value.
var (
	_ [len(adminTypeNames) - int(adminTypeCount)]struct{}
	_ [int(adminTypeCount) - len(adminTypeNames)]struct{}
	_ [len(permissionNames) - int(permissionCount)]struct{}
	_ [int(permissionCount) - len(permissionNames)]struct{}
)

func (p Permission) String() string {
	if p >= permissionCount {
		return fmt.Sprintf("permission(%d)", uint8(p))
	}
	return permissionNames[p]
}

// ParsePermission maps a permission tag to its enum value.
func ParsePermission(s string) (Permission, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range permissionNames {
		if name == s {
			return Permission(i), nil
		}
	}
	return 0, fmt.Errorf("unknown permission %q", s)
}

// PermissionSet is a bitset of permissions.
type PermissionSet uint32

// NewPermissionSet builds a set from individual permissions.
func NewPermissionSet(perms ...Permission) PermissionSet {
	var s PermissionSet
	for _, p := range perms {
		s = s.With(p)
	}
	return s
}

// AllPermissions returns the set containing every declared permission.
func AllPermissions() PermissionSet {
	return PermissionSet(1<<permissionCount - 1)
}

func (s PermissionSet) With(p Permission) PermissionSet { return s | 1<<p }

func (s PermissionSet) Has(p Permission) bool { return s&(1<<p) != 0 }

// Intersects reports whether the two sets share at least one permission.
func (s PermissionSet) Intersects(o PermissionSet) bool { return s&o != 0 }

func (s PermissionSet) IsEmpty() bool { return s == 0 }

func (s PermissionSet) Len() int { return bits.OnesCount32(uint32(s)) }

// Permissions lists the members of s in declaration order.
func (s PermissionSet) Permissions() []Permission {
	out := make([]Permission, 0, s.Len())
	for p := Permission(0); p < permissionCount; p++ {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}

// Tags lists the wire names of the members of s, sorted.
func (s PermissionSet) Tags() []string {
	perms := s.Permissions()
	tags := make([]string, len(perms))
	for i, p := range perms {
		tags[i] = p.String()
	}
	sort.Strings(tags)
	return tags
}

// ParsePermissionTags rebuilds a set from stored permission tags.
func ParsePermissionTags(tags []string) (PermissionSet, error) {
	var s PermissionSet
	for _, tag := range tags {
		p, err := ParsePermission(tag)
		if err != nil {
			return 0, err
		}
		s = s.With(p)
	}
	return s, nil
}

var adminPermissions = [...]PermissionSet{
	AdminTypeNone:  0,
	AdminTypeSuper: AllPermissions(),
	AdminTypeStore: NewPermissionSet(
		PermManageStores, PermManageProducts, PermManageOrders, PermViewReports,
	),
	AdminTypeVendor: NewPermissionSet(
		PermApproveVendors, PermViewVendors,
	),
	AdminTypeCustomer: NewPermissionSet(
		PermManageCustomers, PermViewCustomers, PermManageOrders,
	),
}

var (
	_ [len(adminPermissions) - int(adminTypeCount)]struct{}
	_ [int(adminTypeCount) - len(adminPermissions)]struct{}
)

// PermissionsFor returns the permission bundle granted to an admin type.
// Invalid admin types get the empty set.
func PermissionsFor(t AdminType) PermissionSet {
	if !t.Valid() {
		return 0
	}
	return adminPermissions[t]
}
