package users

import (
	"strings"
	"time"

	"github.com/automata-backoffice/backoffice/internal/rbac"
)

// Status is the lifecycle state of a backoffice profile.
type Status string

// Profile states.
const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// User represents a backoffice operator.
type User struct {
	ID               int64             `json:"id"`
	Username         string            `json:"username"`
	Email            string            `json:"email"`
	FirstName        string            `json:"first_name"`
	LastName         string            `json:"last_name"`
	PasswordHash     string            `json:"-"`
	AssignedRole     string            `json:"assigned_role"`
	Permissions      []rbac.Permission `json:"permissions"`
	Status           Status            `json:"status"`
	TwoFactorEnabled bool              `json:"two_factor_enabled"`
	TOTPSecret       string            `json:"-"`
	DefaultPassword  bool              `json:"default_password"`
	LastLoginAt      *time.Time        `json:"last_login_at,omitempty"`
	Deleted          bool              `json:"deleted"`
	// OriginalUsername keeps the username a tombstoned profile was created under.
	OriginalUsername string     `json:"original_username,omitempty"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Active reports whether the profile may sign in.
func (u User) Active() bool {
	return u.Status == StatusActive
}

// DisplayName is the name shown in role team listings.
func (u User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Username
	}
	return name
}

// tombstone deactivates the profile and renames its username and email so both can be reused.
func (u *User) tombstone(at time.Time) {
	if u.OriginalUsername == "" {
		u.OriginalUsername = u.Username
	}
	deletedAt := at.UTC()
	suffix := "_deleted_" + deletedAt.Format("20060102150405.000000000")
	u.Deleted = true
	u.Status = StatusInactive
	u.DeletedAt = &deletedAt
	u.Username = u.OriginalUsername + suffix
	if u.Email != "" {
		u.Email += suffix
	}
}

// PermissionNames lists the user's effective permissions.
func (u User) PermissionNames() []string {
	return rbac.Names(u.Permissions)
}

// CreateUserInput carries the fields needed to provision a profile.
type CreateUserInput struct {
	Username  string `json:"username" validate:"required,max=120"`
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name" validate:"max=120"`
	LastName  string `json:"last_name" validate:"max=120"`
	Password  string `json:"password" validate:"required,min=8"`
	Role      string `json:"role" validate:"required"`
}

// SetPermissionsInput narrows a user's permissions, optionally moving them to another role.
type SetPermissionsInput struct {
	AssignedRole string   `json:"assigned_role"`
	Permissions  []string `json:"permissions" validate:"required,min=1"`
}

// AssignRoleInput moves a user to a role with its full permission set.
type AssignRoleInput struct {
	Role string `json:"role" validate:"required"`
}

// UpdateProfileInput edits profile details. Empty fields are left unchanged; a
// different AssignedRole moves the user to that role's full permission set.
type UpdateProfileInput struct {
	Email        string `json:"email" validate:"omitempty,email"`
	FirstName    string `json:"first_name" validate:"max=120"`
	LastName     string `json:"last_name" validate:"max=120"`
	AssignedRole string `json:"assigned_role"`
}
