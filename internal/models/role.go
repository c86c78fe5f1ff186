package models

// Role is the single closed role of an account. It is derived from the
// stored flags with a fixed precedence: super admin, admin, adviser, student.
type Role string

const (
	RoleStudent    Role = "student"
	RoleAdviser    Role = "adviser"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// RoleFromFlags collapses the persisted flags into a Role. An account flagged
// both admin and adviser is an admin.
func RoleFromFlags(isSuperAdmin, isAdmin, isAdviser bool) Role {
	switch {
	case isSuperAdmin:
		return RoleSuperAdmin
	case isAdmin:
		return RoleAdmin
	case isAdviser:
		return RoleAdviser
	default:
		return RoleStudent
	}
}

// ParseRole validates a client-supplied role.
func ParseRole(raw string) (Role, bool) {
	r := Role(raw)
	switch r {
	case RoleStudent, RoleAdviser, RoleAdmin, RoleSuperAdmin:
		return r, true
	}
	return "", false
}

// Flags returns the persisted flag triple for r.
func (r Role) Flags() (isSuperAdmin, isAdmin, isAdviser bool) {
	switch r {
	case RoleSuperAdmin:
		return true, false, false
	case RoleAdmin:
		return false, true, false
	case RoleAdviser:
		return false, false, true
	}
	return false, false, false
}

// CanUpload: students and admins submit documents. Advisers and super admins
// do not.
func (r Role) CanUpload() bool {
	return r == RoleStudent || r == RoleAdmin
}

// CanModerateDocuments covers approve, reject, direct archive, restore and
// the admin review queues.
func (r Role) CanModerateDocuments() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// CanDecideRequests covers archive and deletion request decisions and
// permanent account removal.
func (r Role) CanDecideRequests() bool {
	return r == RoleSuperAdmin
}

// CanManageUsers allows user management; advisers are limited to their group.
func (r Role) CanManageUsers() bool {
	return r == RoleAdviser || r == RoleAdmin || r == RoleSuperAdmin
}

// CanManageAllUsers is user management without group scoping.
func (r Role) CanManageAllUsers() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// CanManageSettings allows changing branding settings.
func (r Role) CanManageSettings() bool {
	return r == RoleSuperAdmin
}

// IsPrivileged is true for every non-student role.
func (r Role) IsPrivileged() bool {
	return r == RoleAdviser || r == RoleAdmin || r == RoleSuperAdmin
}
