package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/automata-backoffice/backoffice/internal/rbac"
	"github.com/automata-backoffice/backoffice/internal/roles"
	"github.com/automata-backoffice/backoffice/internal/shared"
)

var (
	// ErrUsernameRequired is returned when provisioning without a username.
	ErrUsernameRequired = errors.New("users: username required")
	// ErrUsernameTaken is returned when the username already belongs to a profile.
	ErrUsernameTaken = errors.New("users: username already taken")
)

// TxRepository is the transactional view of the user store.
type TxRepository interface {
	// FindByUsername locks and returns the user, or shared.ErrNotFound.
	FindByUsername(ctx context.Context, username string) (User, error)
	Save(ctx context.Context, user User) (User, error)
}

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindByUsername(ctx context.Context, username string) (User, error)
	List(ctx context.Context, page shared.PageRequest) ([]User, int, error)
	TouchLastLogin(ctx context.Context, username string, at time.Time) error
	// DisableInactive marks active users idle since before threshold as inactive and returns their usernames.
	DisableInactive(ctx context.Context, threshold time.Time) ([]string, error)
}

// RoleLookup resolves roles for assignment.
type RoleLookup interface {
	CheckNotSystemRole(name string) error
	RetrieveRole(ctx context.Context, name string) (roles.Role, error)
}

// PermissionValidator checks a requested permission set.
type PermissionValidator interface {
	Validate(ctx context.Context, names []string) ([]rbac.Permission, error)
}

// Service handles user business logic.
type Service struct {
	repo   RepositoryPort
	roles  RoleLookup
	engine PermissionValidator
	audit  shared.AuditRecorder
	clock  shared.Clock
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, roles RoleLookup, engine PermissionValidator, audit shared.AuditRecorder, clock shared.Clock, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, roles: roles, engine: engine, audit: audit, clock: clock, logger: logger}
}

// GetUser returns the profile for username.
func (s *Service) GetUser(ctx context.Context, username string) (User, error) {
	user, err := s.repo.FindByUsername(ctx, normalize(username))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return User{}, shared.ErrProfileNotFound
		}
		return User{}, fmt.Errorf("users: get %s: %w", username, err)
	}
	return user, nil
}

// ListUsers returns a page of users.
func (s *Service) ListUsers(ctx context.Context, page shared.PageRequest) ([]User, shared.Pagination, error) {
	page = page.Normalize()
	list, total, err := s.repo.List(ctx, page)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("users: list: %w", err)
	}
	return list, shared.NewPagination(page, total), nil
}

// CreateUser provisions an active profile holding every permission of its role.
// Profiles on a system role are exempt from the default-password flag.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (User, error) {
	username := normalize(input.Username)
	if username == "" {
		return User{}, ErrUsernameRequired
	}
	role, err := s.roles.RetrieveRole(ctx, input.Role)
	if err != nil {
		return User{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("users: hash password: %w", err)
	}
	var created User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err = tx.Save(ctx, User{
			Username:        username,
			Email:           strings.TrimSpace(input.Email),
			FirstName:       strings.TrimSpace(input.FirstName),
			LastName:        strings.TrimSpace(input.LastName),
			PasswordHash:    string(hash),
			AssignedRole:    role.Name,
			Permissions:     role.Permissions,
			Status:          StatusActive,
			DefaultPassword: !shared.IsSystemRole(role.Name),
		})
		return err
	})
	if err != nil {
		return User{}, err
	}
	s.logger.Info("backoffice user created", slog.String("username", username), slog.String("role", role.Name))
	return created, nil
}

// SetPermissions replaces a user's permissions with a subset of the authoritative role. The
// authoritative role is the current role unless assignedRole names a different one.
func (s *Service) SetPermissions(ctx context.Context, username, assignedRole string, permissionNames []string) (User, error) {
	if err := s.roles.CheckNotSystemRole(assignedRole); err != nil {
		return User{}, err
	}
	permissionNames = rbac.CleanNames(permissionNames)
	if len(permissionNames) == 0 {
		return User{}, shared.ErrPermissionsRequired
	}
	var updated User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := lookupUser(ctx, tx, username)
		if err != nil {
			return err
		}
		target := strings.TrimSpace(assignedRole)
		if target == "" || strings.EqualFold(target, user.AssignedRole) {
			target = user.AssignedRole
		}
		if err := s.roles.CheckNotSystemRole(target); err != nil {
			return err
		}
		role, err := s.roles.RetrieveRole(ctx, target)
		if err != nil {
			return err
		}
		for _, name := range permissionNames {
			if !role.HasPermission(name) {
				return shared.PermissionNotInRole(name, role.Name)
			}
		}
		perms, err := s.engine.Validate(ctx, permissionNames)
		if err != nil {
			return err
		}
		user.AssignedRole = role.Name
		user.Permissions = perms
		updated, err = tx.Save(ctx, user)
		return err
	})
	if err != nil {
		return User{}, err
	}
	s.record(ctx, shared.AuditUserPermissionsSet, updated.Username, map[string]any{
		"role":        updated.AssignedRole,
		"permissions": updated.PermissionNames(),
	})
	return updated, nil
}

// AssignRole moves a user to role with the role's full permission set.
func (s *Service) AssignRole(ctx context.Context, username, roleName string) (User, error) {
	if err := s.roles.CheckNotSystemRole(roleName); err != nil {
		return User{}, err
	}
	role, err := s.roles.RetrieveRole(ctx, roleName)
	if err != nil {
		return User{}, err
	}
	var updated User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := lookupUser(ctx, tx, username)
		if err != nil {
			return err
		}
		user.AssignedRole = role.Name
		user.Permissions = role.Permissions
		updated, err = tx.Save(ctx, user)
		return err
	})
	if err != nil {
		return User{}, err
	}
	s.record(ctx, shared.AuditUserRoleAssigned, updated.Username, map[string]any{"role": role.Name})
	return updated, nil
}

// UpdateProfile edits a user's details. Moving to a different role grants the new role's
// full permission set; system roles are rejected as targets.
func (s *Service) UpdateProfile(ctx context.Context, username string, input UpdateProfileInput) (User, error) {
	target := strings.TrimSpace(input.AssignedRole)
	if target != "" {
		if err := s.roles.CheckNotSystemRole(target); err != nil {
			return User{}, err
		}
	}
	var (
		updated User
		changed []string
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		changed = changed[:0]
		user, err := lookupUser(ctx, tx, username)
		if err != nil {
			return err
		}
		if email := strings.TrimSpace(input.Email); email != "" && email != user.Email {
			user.Email = email
			changed = append(changed, "email")
		}
		if first := strings.TrimSpace(input.FirstName); first != "" && first != user.FirstName {
			user.FirstName = first
			changed = append(changed, "first_name")
		}
		if last := strings.TrimSpace(input.LastName); last != "" && last != user.LastName {
			user.LastName = last
			changed = append(changed, "last_name")
		}
		if target != "" && !strings.EqualFold(target, user.AssignedRole) {
			role, err := s.roles.RetrieveRole(ctx, target)
			if err != nil {
				return err
			}
			user.AssignedRole = role.Name
			user.Permissions = role.Permissions
			changed = append(changed, "assigned_role")
		}
		if len(changed) == 0 {
			updated = user
			return nil
		}
		updated, err = tx.Save(ctx, user)
		return err
	})
	if err != nil {
		return User{}, err
	}
	if len(changed) > 0 {
		s.record(ctx, shared.AuditUserProfileUpdated, updated.Username, map[string]any{"fields": changed})
	}
	return updated, nil
}

// DeleteUser tombstones a profile. The username and email are renamed so both can be
// registered again.
func (s *Service) DeleteUser(ctx context.Context, username string) error {
	var deleted User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := lookupUser(ctx, tx, username)
		if err != nil {
			return err
		}
		user.tombstone(s.clock.Now())
		deleted, err = tx.Save(ctx, user)
		return err
	})
	if err != nil {
		return err
	}
	s.record(ctx, shared.AuditUserDeleted, deleted.OriginalUsername, map[string]any{"tombstone": deleted.Username})
	return nil
}

// Enable reactivates a profile.
func (s *Service) Enable(ctx context.Context, username string) error {
	return s.setStatus(ctx, username, StatusActive, shared.ErrProfileAlreadyActive, shared.AuditUserEnabled)
}

// Disable deactivates a profile.
func (s *Service) Disable(ctx context.Context, username string) error {
	return s.setStatus(ctx, username, StatusInactive, shared.ErrProfileAlreadyDisabled, shared.AuditUserDisabled)
}

func (s *Service) setStatus(ctx context.Context, username string, status Status, already error, action string) error {
	var name string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		user, err := lookupUser(ctx, tx, username)
		if err != nil {
			return err
		}
		if user.Status == status {
			return already
		}
		user.Status = status
		name = user.Username
		_, err = tx.Save(ctx, user)
		return err
	})
	if err != nil {
		return err
	}
	s.record(ctx, action, name, nil)
	return nil
}

// RecordLogin stamps the last successful sign-in.
func (s *Service) RecordLogin(ctx context.Context, username string) error {
	if err := s.repo.TouchLastLogin(ctx, normalize(username), s.clock.Now()); err != nil {
		return fmt.Errorf("users: record login %s: %w", username, err)
	}
	return nil
}

// DisableInactive deactivates users whose last sign-in predates threshold.
func (s *Service) DisableInactive(ctx context.Context, threshold time.Time) (int, error) {
	disabled, err := s.repo.DisableInactive(ctx, threshold)
	if err != nil {
		return 0, fmt.Errorf("users: disable inactive: %w", err)
	}
	for _, username := range disabled {
		s.record(ctx, shared.AuditUserDisabled, username, map[string]any{"reason": "inactivity"})
	}
	if len(disabled) > 0 {
		s.logger.Info("inactive users disabled", slog.Int("count", len(disabled)), slog.Time("threshold", threshold))
	}
	return len(disabled), nil
}

func lookupUser(ctx context.Context, tx TxRepository, username string) (User, error) {
	user, err := tx.FindByUsername(ctx, normalize(username))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return User{}, shared.ErrProfileNotFound
		}
		return User{}, fmt.Errorf("users: find %s: %w", username, err)
	}
	return user, nil
}

func normalize(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (s *Service) record(ctx context.Context, action, username string, meta map[string]any) {
	err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "backoffice_user",
		EntityID: username,
		Meta:     meta,
		At:       s.clock.Now(),
	})
	if err != nil {
		s.logger.Warn("audit user change", slog.String("action", action), slog.Any("error", err))
	}
}
