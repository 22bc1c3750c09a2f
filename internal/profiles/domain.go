// Package profiles manages user profiles and their role attribute. It is
// the role source consumed by the session gate and the table behind the
// admin dashboard's user list.
package profiles

import "time"

// Table is the change-feed table name for profiles.
const Table = "profiles"

// Profile is one user profile row. IDs are UUIDs issued at signup.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	RoleID    int       `json:"role_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordID implements mirror.Record.
func (p Profile) RecordID() string {
	return p.ID
}

// UpdateRoleInput describes an admin role change.
type UpdateRoleInput struct {
	RoleID int `json:"role_id" validate:"gte=0,lte=3"`
}
