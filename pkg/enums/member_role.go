package enums

import "fmt"

// MemberRole is the role carried by an authenticated principal.
type MemberRole string

const (
	MemberRoleCustomer MemberRole = "customer"
	MemberRoleVendor   MemberRole = "vendor"
	MemberRoleAdmin    MemberRole = "admin"
)

var validMemberRoles = []MemberRole{
	MemberRoleCustomer,
	MemberRoleVendor,
	MemberRoleAdmin,
}

// String implements fmt.Stringer.
func (s MemberRole) String() string {
	return string(s)
}

// IsValid reports whether the value matches a known member role.
func (s MemberRole) IsValid() bool {
	for _, candidate := range validMemberRoles {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseMemberRole converts raw input into MemberRole.
func ParseMemberRole(value string) (MemberRole, error) {
	for _, candidate := range validMemberRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid member role %q", value)
}
