package gate

// Role is the integer role attribute stored on a profile. New signups
// start as Pending until an admin approves them.
type Role int

const (
	// RolePending marks an account awaiting approval.
	RolePending Role = 0
	// RoleUser is an approved regular account.
	RoleUser Role = 1
	// RoleAdmin manages profiles and roles.
	RoleAdmin Role = 2
	// RoleChef is an approved kitchen account.
	RoleChef Role = 3
)

// Approved reports whether the role may use the application.
func (r Role) Approved() bool {
	return r == RoleUser || r == RoleAdmin || r == RoleChef
}

// String returns the role's display name.
func (r Role) String() string {
	switch r {
	case RolePending:
		return "pending"
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	case RoleChef:
		return "chef"
	default:
		return "unknown"
	}
}

// RoleFromID maps a stored role id to a Role, collapsing unknown values
// to Pending.
func RoleFromID(id int) Role {
	switch Role(id) {
	case RoleUser, RoleAdmin, RoleChef:
		return Role(id)
	default:
		return RolePending
	}
}
