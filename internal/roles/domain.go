package roles

import (
	"time"

	"github.com/automata-backoffice/backoffice/internal/rbac"
)

// Role counts driving the system role lifecycle.
const (
	// BootstrapThreshold is the role count at or above which system roles are no longer created.
	BootstrapThreshold = 4
	// RetireThreshold is the role count at or above which system roles are tombstoned.
	RetireThreshold = 5
)

// Role represents a named permission set.
type Role struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Active      bool              `json:"active"`
	Deleted     bool              `json:"deleted"`
	Permissions []rbac.Permission `json:"permissions"`
	// OriginalName keeps the name a tombstoned role was created under.
	OriginalName string     `json:"original_name,omitempty"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// RoleWithTeamMembers is a role together with the display names of the users assigned to it.
type RoleWithTeamMembers struct {
	Role
	TeamMembers          []string `json:"team_members"`
	TotalTeamMemberCount int      `json:"total_team_member_count"`
}

func withTeamMembers(role Role, members []string) RoleWithTeamMembers {
	if members == nil {
		members = []string{}
	}
	return RoleWithTeamMembers{Role: role, TeamMembers: members, TotalTeamMemberCount: len(members)}
}

// PermissionNames lists the names of the role's permissions.
func (r Role) PermissionNames() []string {
	return rbac.Names(r.Permissions)
}

// HasPermission reports whether the role grants name.
func (r Role) HasPermission(name string) bool {
	for _, p := range r.Permissions {
		if p.Name == name {
			return true
		}
	}
	return false
}

// tombstone marks the role deleted and frees its name for reuse.
func (r *Role) tombstone(at time.Time) {
	if r.OriginalName == "" {
		r.OriginalName = r.Name
	}
	deletedAt := at.UTC()
	r.Deleted = true
	r.Active = false
	r.DeletedAt = &deletedAt
	r.Name = r.OriginalName + "_deleted_" + deletedAt.Format("20060102150405.000000000")
}

// CreateRoleInput describes role creation.
type CreateRoleInput struct {
	Name        string   `json:"name" validate:"required,max=120"`
	Description string   `json:"description" validate:"max=500"`
	Permissions []string `json:"permissions"`
}

// UpdateRoleInput describes a role edit. The role is addressed by Name.
type UpdateRoleInput struct {
	Name        string   `json:"-"`
	Description string   `json:"description" validate:"max=500"`
	Permissions []string `json:"permissions"`
}
