package shared

import (
	"fmt"
	"strings"
)

// LoginAttemptKey builds the redis key holding a username's login attempt record.
func LoginAttemptKey(username string) string {
	return fmt.Sprintf("backoffice:login-attempt:%s", strings.ToLower(strings.TrimSpace(username)))
}

// PendingTokenKey builds the redis key marking a two-factor pending token as spent.
func PendingTokenKey(tokenID string) string {
	return fmt.Sprintf("backoffice:pending-token:%s", tokenID)
}
