// Package auth provides the role and permission catalogue.
package auth

// Role represents the role a caller acts under.
type Role string

// Institution roles, presented by API key holders in X-User-Role
const (
	RoleHealthcareProvider Role = "healthcare_provider" // Doctors, nurses, ER staff
	RoleInstitutionAdmin   Role = "institution_admin"   // Reviews own institution's access log
)

// Session roles, carried in JWT claims
const (
	RolePatient       Role = "patient"        // Manages own consent, reads own access log
	RolePlatformAdmin Role = "platform_admin" // Audit chain verification and checkpoints
)

// Permission represents a specific action on a resource.
type Permission string

const (
	PermRecordFetch     Permission = "record.fetch"
	PermRecordEmergency Permission = "record.emergency"
	PermPatientCreate   Permission = "patient.create_temporary"
	PermConsentUpdate   Permission = "consent.update"
	PermAccessLogOwn    Permission = "access_log.read_own"
	PermAccessLogInst   Permission = "access_log.read_institution"
	PermAuditVerify     Permission = "audit.verify"
	PermAuditCheckpoint Permission = "audit.checkpoint"
)

// RolePermissions maps roles to their permissions.
var RolePermissions = map[Role][]Permission{
	RoleHealthcareProvider: {
		PermRecordFetch, PermRecordEmergency, PermPatientCreate,
	},
	RoleInstitutionAdmin: {
		PermAccessLogInst,
	},
	RolePatient: {
		PermConsentUpdate, PermAccessLogOwn,
	},
	RolePlatformAdmin: {
		PermAuditVerify, PermAuditCheckpoint,
	},
}

// ParseRole returns the Role for s and whether it is a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	_, ok := RolePermissions[r]
	return r, ok
}

// HasPermission checks if a role has a specific permission.
func HasPermission(role Role, perm Permission) bool {
	perms, ok := RolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// HasAnyRole checks if role is one of the allowed roles.
func HasAnyRole(role Role, allowed ...Role) bool {
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}
