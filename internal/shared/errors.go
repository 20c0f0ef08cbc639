package shared

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
)

// Kind classifies domain failures so callers can branch without matching text.
type Kind string

// Domain error kinds.
const (
	KindUnknownPermission      Kind = "UnknownPermission"
	KindMakerCheckerConflict   Kind = "MakerCheckerConflict"
	KindPermissionsRequired    Kind = "PermissionsRequired"
	KindRoleAlreadyExists      Kind = "RoleAlreadyExists"
	KindInvalidRole            Kind = "InvalidRole"
	KindSystemRoleNotUsable    Kind = "SystemRoleNotUsable"
	KindRoleAlreadyActive      Kind = "RoleAlreadyActive"
	KindLoginAccessDenied      Kind = "LoginAccessDenied"
	KindPermissionNotInRole    Kind = "PermissionNotInRole"
	KindInvalidCredentials     Kind = "InvalidCredentials"
	KindProfileNotFound        Kind = "ProfileNotFound"
	KindProfileAlreadyActive   Kind = "ProfileAlreadyActive"
	KindProfileAlreadyDisabled Kind = "ProfileAlreadyDisabled"
)

var kindCodes = map[Kind]string{
	KindUnknownPermission:      "PE_001",
	KindMakerCheckerConflict:   "RO_001",
	KindPermissionsRequired:    "PE_002",
	KindRoleAlreadyExists:      "RO_002",
	KindInvalidRole:            "RO_005",
	KindSystemRoleNotUsable:    "RO_003",
	KindRoleAlreadyActive:      "RO_006",
	KindLoginAccessDenied:      "LA_001",
	KindPermissionNotInRole:    "PE_003",
	KindInvalidCredentials:     "LOG_002",
	KindProfileNotFound:        "BP_002",
	KindProfileAlreadyActive:   "BP_003",
	KindProfileAlreadyDisabled: "BP_004",
}

// Code returns the stable external code for the kind.
func (k Kind) Code() string {
	return kindCodes[k]
}

// Error is a tagged domain error. Two errors match under errors.Is when their kinds are equal.
type Error struct {
	Kind Kind
	// Subject is the permission, role or username the failure concerns.
	Subject string
	// Role is the role a permission was checked against.
	Role     string
	UnlockAt time.Time
	RetryIn  time.Duration
}

// Sentinels usable as errors.Is targets.
var (
	ErrUnknownPermission      = &Error{Kind: KindUnknownPermission}
	ErrMakerCheckerConflict   = &Error{Kind: KindMakerCheckerConflict}
	ErrPermissionsRequired    = &Error{Kind: KindPermissionsRequired}
	ErrRoleAlreadyExists      = &Error{Kind: KindRoleAlreadyExists}
	ErrInvalidRole            = &Error{Kind: KindInvalidRole}
	ErrSystemRoleNotUsable    = &Error{Kind: KindSystemRoleNotUsable}
	ErrRoleAlreadyActive      = &Error{Kind: KindRoleAlreadyActive}
	ErrLoginAccessDenied      = &Error{Kind: KindLoginAccessDenied}
	ErrPermissionNotInRole    = &Error{Kind: KindPermissionNotInRole}
	ErrInvalidCredentials     = &Error{Kind: KindInvalidCredentials}
	ErrProfileNotFound        = &Error{Kind: KindProfileNotFound}
	ErrProfileAlreadyActive   = &Error{Kind: KindProfileAlreadyActive}
	ErrProfileAlreadyDisabled = &Error{Kind: KindProfileAlreadyDisabled}
)

// Error implements error.
func (e *Error) Error() string {
	switch e.Kind {
	case KindUnknownPermission:
		return fmt.Sprintf("this %s permission is not valid", e.Subject)
	case KindMakerCheckerConflict:
		return "you can't assign a checker and a maker permission under one role"
	case KindPermissionsRequired:
		return "permissions are required"
	case KindRoleAlreadyExists:
		return "supplied role already exist"
	case KindInvalidRole:
		return "invalid role"
	case KindSystemRoleNotUsable:
		return "supplied role can't be used, this is a system role"
	case KindRoleAlreadyActive:
		return "role is already active"
	case KindLoginAccessDenied:
		return fmt.Sprintf("login access temporarily denied, retry in %d minutes", e.RetryMinutes())
	case KindPermissionNotInRole:
		return fmt.Sprintf("permission %s is not assigned under role %s", e.Subject, e.Role)
	case KindInvalidCredentials:
		return "invalid username or password"
	case KindProfileNotFound:
		return "profile not found"
	case KindProfileAlreadyActive:
		return "profile is already active"
	case KindProfileAlreadyDisabled:
		return "profile is already disabled"
	}
	return string(e.Kind)
}

// Is matches on kind only.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Code returns the external code of the error kind.
func (e *Error) Code() string {
	return e.Kind.Code()
}

// RetryMinutes rounds the remaining cool-down up to whole minutes.
func (e *Error) RetryMinutes() int64 {
	if e.RetryIn <= 0 {
		return 0
	}
	return int64(math.Ceil(e.RetryIn.Minutes()))
}

// Args lists the placeholder values used when rendering a message template for the kind.
func (e *Error) Args() []any {
	switch e.Kind {
	case KindUnknownPermission:
		return []any{e.Subject}
	case KindPermissionNotInRole:
		return []any{e.Subject, e.Role}
	case KindLoginAccessDenied:
		return []any{e.RetryMinutes()}
	}
	return nil
}

// UnknownPermission reports a name not present in the catalog.
func UnknownPermission(name string) error {
	return &Error{Kind: KindUnknownPermission, Subject: name}
}

// MakerCheckerConflict reports that approve-X and X were requested together.
func MakerCheckerConflict(name string) error {
	return &Error{Kind: KindMakerCheckerConflict, Subject: name}
}

// RoleAlreadyExists reports a duplicate non-deleted role name.
func RoleAlreadyExists(name string) error {
	return &Error{Kind: KindRoleAlreadyExists, Subject: name}
}

// InvalidRole reports a role that does not exist or is deleted.
func InvalidRole(name string) error {
	return &Error{Kind: KindInvalidRole, Subject: name}
}

// SystemRoleNotUsable reports an attempt to use maker or checker directly.
func SystemRoleNotUsable(name string) error {
	return &Error{Kind: KindSystemRoleNotUsable, Subject: name}
}

// RoleAlreadyActive reports enabling a role that is not disabled.
func RoleAlreadyActive(name string) error {
	return &Error{Kind: KindRoleAlreadyActive, Subject: name}
}

// LoginAccessDenied reports an active lockout window.
func LoginAccessDenied(username string, unlockAt, now time.Time) error {
	return &Error{Kind: KindLoginAccessDenied, Subject: username, UnlockAt: unlockAt, RetryIn: unlockAt.Sub(now)}
}

// PermissionNotInRole reports a user override outside the role's permission set.
func PermissionNotInRole(permission, role string) error {
	return &Error{Kind: KindPermissionNotInRole, Subject: permission, Role: role}
}

// AsError extracts the tagged domain error, if any.
func AsError(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
