// Package lockout throttles credential guessing with a per-username failure counter and auto-unlock timer.
package lockout

import (
	"strings"
	"time"
)

// Attempt is the login attempt record of one username.
type Attempt struct {
	Username            string    `json:"username"`
	FailedAttemptCount  int       `json:"failed_attempt_count"`
	LoginAccessDenied   bool      `json:"login_access_denied"`
	AutomatedUnlockTime time.Time `json:"automated_unlock_time"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func newAttempt(username string, now time.Time) Attempt {
	return Attempt{Username: username, AutomatedUnlockTime: now, UpdatedAt: now}
}

// Locked reports whether access is denied at now. The lock expires at AutomatedUnlockTime exactly.
func (a Attempt) Locked(now time.Time) bool {
	return a.LoginAccessDenied && now.Before(a.AutomatedUnlockTime)
}

func (a *Attempt) open(now time.Time) {
	a.FailedAttemptCount = 0
	a.LoginAccessDenied = false
	a.AutomatedUnlockTime = now
	a.UpdatedAt = now
}

// NormalizeUsername folds a username into its record key.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
