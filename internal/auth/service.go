package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"github.com/automata-backoffice/backoffice/internal/shared"
	"github.com/automata-backoffice/backoffice/internal/users"
)

// UserDirectory loads profiles and stamps sign-ins.
type UserDirectory interface {
	GetUser(ctx context.Context, username string) (users.User, error)
	RecordLogin(ctx context.Context, username string) error
}

// RoleChecker verifies the assigned role is usable.
type RoleChecker interface {
	CheckRoleActive(ctx context.Context, name string) error
}

// OutcomeRecorder is the lockout state machine.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, username string, credentialMatched bool) error
	// CheckAccess fails while username is locked without touching its counter.
	CheckAccess(ctx context.Context, username string) error
}

// Result is returned by a sign-in step.
type Result struct {
	AccessToken       *Token `json:"access_token,omitempty"`
	PendingToken      *Token `json:"pending_token,omitempty"`
	TwoFactorRequired bool   `json:"two_factor_required"`
	DefaultPassword   bool   `json:"default_password"`
}

// Service wraps authentication business rules.
type Service struct {
	users   UserDirectory
	roles   RoleChecker
	lockout OutcomeRecorder
	tokens  *Tokens
	replay  ReplayGuard
	clock   shared.Clock
	logger  *slog.Logger
}

// NewService constructs a new Service. A nil replay guard falls back to process memory.
func NewService(users UserDirectory, roles RoleChecker, lockout OutcomeRecorder, tokens *Tokens, replay ReplayGuard, clock shared.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if replay == nil {
		replay = NewMemoryReplayGuard(clock)
	}
	return &Service{users: users, roles: roles, lockout: lockout, tokens: tokens, replay: replay, clock: clock, logger: logger}
}

// Login checks the assigned role, then the password, and reports the outcome to the lockout
// machine, whose denial takes precedence over a credential mismatch. For two-factor users a
// matching password only passes the lock check; the counter resets once VerifyTOTP succeeds.
func (s *Service) Login(ctx context.Context, username, password string) (Result, error) {
	user, err := s.activeUser(ctx, username)
	if err != nil {
		return Result{}, err
	}
	if err := s.roles.CheckRoleActive(ctx, user.AssignedRole); err != nil {
		return Result{}, err
	}
	matched := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
	if !matched || !user.TwoFactorEnabled {
		if err := s.lockout.RecordOutcome(ctx, user.Username, matched); err != nil {
			return Result{}, err
		}
		if !matched {
			return Result{}, shared.ErrInvalidCredentials
		}
		return s.complete(ctx, user)
	}

	if err := s.lockout.CheckAccess(ctx, user.Username); err != nil {
		return Result{}, err
	}
	pending, err := s.tokens.IssuePending(user.Username)
	if err != nil {
		return Result{}, err
	}
	return Result{PendingToken: &pending, TwoFactorRequired: true}, nil
}

// VerifyTOTP exchanges a pending token and a one-time code for an access token.
// Each pending token is spent by its first use. A wrong code counts as a failed attempt.
func (s *Service) VerifyTOTP(ctx context.Context, pendingToken, code string) (Result, error) {
	claims, err := s.tokens.Parse(pendingToken)
	if err != nil {
		return Result{}, err
	}
	if claims.Scope != ScopeTwoFactor {
		return Result{}, fmt.Errorf("%w: not a pending token", ErrInvalidToken)
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return Result{}, fmt.Errorf("%w: pending token without id", ErrInvalidToken)
	}
	if err := s.replay.Consume(ctx, claims.ID, claims.ExpiresAt.Time); err != nil {
		return Result{}, err
	}
	user, err := s.activeUser(ctx, claims.Subject)
	if err != nil {
		return Result{}, err
	}
	valid, err := totp.ValidateCustom(strings.TrimSpace(code), user.TOTPSecret, s.clock.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		s.logger.Warn("totp validation", slog.String("username", user.Username), slog.Any("error", err))
		valid = false
	}
	if err := s.lockout.RecordOutcome(ctx, user.Username, valid); err != nil {
		return Result{}, err
	}
	if !valid {
		return Result{}, shared.ErrInvalidCredentials
	}
	return s.complete(ctx, user)
}

func (s *Service) activeUser(ctx context.Context, username string) (users.User, error) {
	user, err := s.users.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, shared.ErrProfileNotFound) {
			return users.User{}, shared.ErrInvalidCredentials
		}
		return users.User{}, err
	}
	if !user.Active() {
		return users.User{}, shared.ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) complete(ctx context.Context, user users.User) (Result, error) {
	if err := s.users.RecordLogin(ctx, user.Username); err != nil {
		s.logger.Warn("record login", slog.String("username", user.Username), slog.Any("error", err))
	}
	access, err := s.tokens.IssueAccess(shared.Principal{
		Username:    user.Username,
		Role:        user.AssignedRole,
		Permissions: user.PermissionNames(),
	})
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("backoffice login", slog.String("username", user.Username), slog.String("role", user.AssignedRole))
	return Result{AccessToken: &access, DefaultPassword: user.DefaultPassword}, nil
}
