package domain

// ──────────────────────────────────────────────────────────────────────────────
// UserRole
// ──────────────────────────────────────────────────────────────────────────────

// UserRole is carried in access tokens issued by the auth provider and
// controls access to the back-office.
type UserRole string

const (
	RoleUser     UserRole = "user"     // standard trader
	RoleAdmin    UserRole = "admin"    // full back-office access
	RoleRisk     UserRole = "risk"     // may manage the override queue
	RoleOps      UserRole = "ops"      // may close positions manually
	RoleReadOnly UserRole = "readonly" // read-only back-office access
)

// CanAccessBackoffice returns true for all non-standard roles.
func (r UserRole) CanAccessBackoffice() bool {
	switch r {
	case RoleAdmin, RoleRisk, RoleOps, RoleReadOnly:
		return true
	}
	return false
}

// CanWrite reports whether the role may mutate back-office state.
func (r UserRole) CanWrite() bool {
	return r == RoleAdmin || r == RoleRisk || r == RoleOps
}
