package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/automata-backoffice/backoffice/internal/rbac"
	"github.com/automata-backoffice/backoffice/internal/shared"
)

// TxRepository exposes role operations that run inside one serialised transaction.
type TxRepository interface {
	// FindLive returns the non-deleted role named name and locks it.
	FindLive(ctx context.Context, name string) (Role, error)
	// FindByActive returns the non-deleted role named name whose active flag equals active.
	FindByActive(ctx context.Context, name string, active bool) (Role, error)
	// FindAny returns the oldest role named name in any state.
	FindAny(ctx context.Context, name string) (Role, error)
	ExistsByName(ctx context.Context, name string) (bool, error)
	Count(ctx context.Context) (int, error)
	Save(ctx context.Context, role Role) (Role, error)
}

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindActive(ctx context.Context, name string) (Role, error)
	List(ctx context.Context, page shared.PageRequest) ([]Role, int, error)
	// TeamMembers returns the display names of live users per assigned role name.
	TeamMembers(ctx context.Context, roleNames []string) (map[string][]string, error)
}

// PermissionValidator materialises permission names under maker/checker rules.
type PermissionValidator interface {
	Validate(ctx context.Context, names []string) ([]rbac.Permission, error)
}

const (
	makerDescription   = "System default maker role used to invite the first backoffice user"
	checkerDescription = "System default checker role used to approve the first backoffice user invitation"
)

// Service is the role registry.
type Service struct {
	repo   RepositoryPort
	engine PermissionValidator
	audit  shared.AuditRecorder
	clock  shared.Clock
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, engine PermissionValidator, audit shared.AuditRecorder, clock shared.Clock, logger *slog.Logger) *Service {
	if audit == nil {
		audit = shared.NopAudit{}
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, engine: engine, audit: audit, clock: clock, logger: logger}
}

// CheckNotSystemRole rejects the reserved maker and checker names.
func (s *Service) CheckNotSystemRole(name string) error {
	if shared.IsSystemRole(strings.TrimSpace(name)) {
		return shared.SystemRoleNotUsable(name)
	}
	return nil
}

// CreateRole registers a new active role.
func (s *Service) CreateRole(ctx context.Context, input CreateRoleInput) (Role, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Role{}, shared.InvalidRole(input.Name)
	}
	names := rbac.CleanNames(input.Permissions)
	if len(names) == 0 {
		return Role{}, shared.ErrPermissionsRequired
	}
	var created Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.ExistsByName(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			return shared.RoleAlreadyExists(name)
		}
		perms, err := s.engine.Validate(ctx, names)
		if err != nil {
			return err
		}
		created, err = tx.Save(ctx, Role{
			Name:        name,
			Description: strings.TrimSpace(input.Description),
			Active:      true,
			Permissions: perms,
		})
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, shared.AuditRoleCreated, created.Name, map[string]any{"permissions": created.PermissionNames()})
	return created, nil
}

// UpdateRole replaces a role's description and permissions. A successful update reactivates the role.
func (s *Service) UpdateRole(ctx context.Context, input UpdateRoleInput) (Role, error) {
	if err := s.CheckNotSystemRole(input.Name); err != nil {
		return Role{}, err
	}
	var updated Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := findLive(ctx, tx, input.Name)
		if err != nil {
			return err
		}
		perms, err := s.engine.Validate(ctx, input.Permissions)
		if err != nil {
			return err
		}
		role.Active = true
		role.Description = strings.TrimSpace(input.Description)
		role.Permissions = perms
		updated, err = tx.Save(ctx, role)
		return err
	})
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, shared.AuditRoleUpdated, updated.Name, map[string]any{"permissions": updated.PermissionNames()})
	return updated, nil
}

// RetrieveRole returns the active, non-deleted role named name.
func (s *Service) RetrieveRole(ctx context.Context, name string) (Role, error) {
	role, err := s.repo.FindActive(ctx, strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Role{}, shared.InvalidRole(name)
		}
		return Role{}, fmt.Errorf("roles: retrieve %s: %w", name, err)
	}
	return role, nil
}

// CheckRoleActive fails with InvalidRole unless name is an active role.
func (s *Service) CheckRoleActive(ctx context.Context, name string) error {
	_, err := s.RetrieveRole(ctx, name)
	return err
}

// DisableRole deactivates a role. System roles are rejected.
func (s *Service) DisableRole(ctx context.Context, name string) error {
	if err := s.CheckNotSystemRole(name); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := findLive(ctx, tx, name)
		if err != nil {
			return err
		}
		role.Active = false
		_, err = tx.Save(ctx, role)
		return err
	})
	if err != nil {
		return err
	}
	s.record(ctx, shared.AuditRoleDisabled, name, nil)
	return nil
}

// EnableRole reactivates a disabled role. System roles are rejected.
func (s *Service) EnableRole(ctx context.Context, name string) error {
	if err := s.CheckNotSystemRole(name); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.FindByActive(ctx, strings.TrimSpace(name), false)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return shared.RoleAlreadyActive(name)
			}
			return err
		}
		role.Active = true
		_, err = tx.Save(ctx, role)
		return err
	})
	if err != nil {
		return err
	}
	s.record(ctx, shared.AuditRoleEnabled, name, nil)
	return nil
}

// DeleteRole tombstones a role so its name can be reused. System roles are
// only retired through RetireSystemRolesIfThresholdExceeded.
func (s *Service) DeleteRole(ctx context.Context, name string) error {
	if err := s.CheckNotSystemRole(name); err != nil {
		return err
	}
	var deleted Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := findLive(ctx, tx, name)
		if err != nil {
			return err
		}
		role.tombstone(s.clock.Now())
		deleted, err = tx.Save(ctx, role)
		return err
	})
	if err != nil {
		return err
	}
	s.record(ctx, shared.AuditRoleDeleted, deleted.OriginalName, map[string]any{"tombstone": deleted.Name})
	return nil
}

// EnsureSystemRolesExist creates the maker and checker roles while fewer than
// BootstrapThreshold roles have been registered.
func (s *Service) EnsureSystemRolesExist(ctx context.Context) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		count, err := tx.Count(ctx)
		if err != nil {
			return err
		}
		if count >= BootstrapThreshold {
			return nil
		}
		if err := s.createSystemRole(ctx, tx, shared.SystemRoleMaker, makerDescription, shared.MakerScopes()); err != nil {
			return err
		}
		return s.createSystemRole(ctx, tx, shared.SystemRoleChecker, checkerDescription, shared.CheckerScopes())
	})
}

func (s *Service) createSystemRole(ctx context.Context, tx TxRepository, name, description string, scopes []string) error {
	_, err := tx.FindAny(ctx, name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return err
	}
	perms, err := s.engine.Validate(ctx, scopes)
	if err != nil {
		return fmt.Errorf("roles: system role %s: %w", name, err)
	}
	if _, err := tx.Save(ctx, Role{Name: name, Description: description, Active: true, Permissions: perms}); err != nil {
		return err
	}
	s.logger.Info("system role created", slog.String("role", name))
	return nil
}

// RetireSystemRolesIfThresholdExceeded tombstones the active system roles once
// RetireThreshold roles exist. It returns how many roles were retired.
func (s *Service) RetireSystemRolesIfThresholdExceeded(ctx context.Context) (int, error) {
	retired := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		retired = 0
		count, err := tx.Count(ctx)
		if err != nil {
			return err
		}
		if count < RetireThreshold {
			return nil
		}
		for _, name := range []string{shared.SystemRoleMaker, shared.SystemRoleChecker} {
			role, err := tx.FindByActive(ctx, name, true)
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			role.tombstone(s.clock.Now())
			if _, err := tx.Save(ctx, role); err != nil {
				return err
			}
			retired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if retired > 0 {
		s.logger.Info("system roles retired", slog.Int("count", retired))
		s.record(ctx, shared.AuditSystemRolesRetired, "system", map[string]any{"count": retired})
	}
	return retired, nil
}

// ListRoles returns a page of non-deleted roles, newest first.
func (s *Service) ListRoles(ctx context.Context, page shared.PageRequest) ([]Role, shared.Pagination, error) {
	page = page.Normalize()
	roles, total, err := s.repo.List(ctx, page)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("roles: list: %w", err)
	}
	return roles, shared.NewPagination(page, total), nil
}

// RetrieveRoleWithTeamMembers returns the active role named name and the users assigned to it.
func (s *Service) RetrieveRoleWithTeamMembers(ctx context.Context, name string) (RoleWithTeamMembers, error) {
	role, err := s.RetrieveRole(ctx, name)
	if err != nil {
		return RoleWithTeamMembers{}, err
	}
	members, err := s.repo.TeamMembers(ctx, []string{role.Name})
	if err != nil {
		return RoleWithTeamMembers{}, fmt.Errorf("roles: team members %s: %w", role.Name, err)
	}
	return withTeamMembers(role, members[role.Name]), nil
}

// ListRolesWithTeamMembers is ListRoles with each role's assigned users.
func (s *Service) ListRolesWithTeamMembers(ctx context.Context, page shared.PageRequest) ([]RoleWithTeamMembers, shared.Pagination, error) {
	list, pagination, err := s.ListRoles(ctx, page)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	names := make([]string, len(list))
	for i, role := range list {
		names[i] = role.Name
	}
	members, err := s.repo.TeamMembers(ctx, names)
	if err != nil {
		return nil, shared.Pagination{}, fmt.Errorf("roles: team members: %w", err)
	}
	out := make([]RoleWithTeamMembers, len(list))
	for i, role := range list {
		out[i] = withTeamMembers(role, members[role.Name])
	}
	return out, pagination, nil
}

func findLive(ctx context.Context, tx TxRepository, name string) (Role, error) {
	role, err := tx.FindLive(ctx, strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Role{}, shared.InvalidRole(name)
		}
		return Role{}, err
	}
	return role, nil
}

func (s *Service) record(ctx context.Context, action, roleName string, meta map[string]any) {
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   action,
		Entity:   "role",
		EntityID: roleName,
		Meta:     meta,
		At:       s.clock.Now(),
	}); err != nil {
		s.logger.Warn("audit role change", slog.String("action", action), slog.Any("error", err))
	}
}
