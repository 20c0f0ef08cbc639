package shared

import "strings"

// Backoffice permissions seeded by the default manifest.
const (
	PermInviteBackofficeUser        = "invite-backoffice-user"
	PermApproveInviteBackofficeUser = "approve-invite-backoffice-user"
	PermResendInviteEmail           = "resend-invite-email"
	PermEditBackofficeUserDetails   = "edit-backoffice-user-details"
	PermApproveEditUserDetails      = "approve-edit-backoffice-user-details"
	PermCreateRoles                 = "create-roles"
	PermApproveCreateRoles          = "approve-create-roles"
	PermEditRole                    = "edit-role"
	PermApproveEditRole             = "approve-edit-role"
	PermDeleteRole                  = "delete-role"
	PermViewRoles                   = "view-roles"
	PermViewPermissions             = "view-permissions"
	PermViewBackofficeUsers         = "view-backoffice-users"
	PermEnableBackofficeUser        = "enable-backoffice-user"
	PermDisableBackofficeUser       = "disable-backoffice-user"
	PermUnlockBackofficeUser        = "unlock-backoffice-user"
	PermDeleteBackofficeUser        = "delete-backoffice-user"
	PermTreatRequests               = "treat-requests"
	PermViewAuditTrail              = "view-audit-trail"
)

// ApprovalPrefix marks checker permissions. approve-X is the checker counterpart of X.
const ApprovalPrefix = "approve-"

// System role names.
const (
	SystemRoleMaker   = "maker"
	SystemRoleChecker = "checker"
)

// MakerScopes lists the permissions granted to the maker system role.
func MakerScopes() []string {
	return []string{
		PermInviteBackofficeUser,
		PermResendInviteEmail,
		PermCreateRoles,
		PermEditRole,
		PermEditBackofficeUserDetails,
		PermViewPermissions,
		PermViewRoles,
	}
}

// CheckerScopes lists the permissions granted to the checker system role.
func CheckerScopes() []string {
	return []string{
		PermApproveInviteBackofficeUser,
		PermApproveCreateRoles,
		PermTreatRequests,
	}
}

// IsSystemRole reports whether name is one of the reserved system roles.
func IsSystemRole(name string) bool {
	return strings.EqualFold(name, SystemRoleMaker) || strings.EqualFold(name, SystemRoleChecker)
}

// MakerCounterpart returns X for approve-X.
func MakerCounterpart(name string) (string, bool) {
	if !strings.HasPrefix(name, ApprovalPrefix) {
		return "", false
	}
	return strings.TrimPrefix(name, ApprovalPrefix), true
}
