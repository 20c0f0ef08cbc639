package rbac

import "time"

// Permission types group permissions for display.
const (
	TypeUsers       = "USERS"
	TypeRoles       = "ROLES"
	TypePermissions = "PERMISSIONS"
	TypeRequests    = "REQUESTS"
)

// Permission represents an atomic capability.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"permission_type"`
	Description string    `json:"description"`
	Deleted     bool      `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// Names returns the permission names in input order.
func Names(perms []Permission) []string {
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, p.Name)
	}
	return names
}
