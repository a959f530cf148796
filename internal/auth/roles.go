// Package auth holds the role model, the capability gate and the
// principal plumbing shared by every protected operation.
package auth

// Role classifies an authenticated identity.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleProvider Role = "PROVIDER"
	RolePublic   Role = "PUBLIC"
)

// ParseRole validates a raw role string.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleProvider, RolePublic:
		return Role(s), true
	}
	return "", false
}

// Capability names a protected area of the service.
type Capability string

const (
	// AdminArea covers user administration, retention rules, sweeps,
	// audit log access and the admin dashboard.
	AdminArea Capability = "ADMIN_AREA"
	// ProviderArea covers dataset submission and owner-scoped reads.
	ProviderArea Capability = "PROVIDER_AREA"
)

// CanAccess reports whether a role may enter a capability area. It is a
// pure function: ownership checks need per-resource data and belong to
// the calling service, not here.
func CanAccess(role Role, c Capability) bool {
	switch c {
	case AdminArea:
		return role == RoleAdmin
	case ProviderArea:
		return role == RoleAdmin || role == RoleProvider
	}
	return false
}
