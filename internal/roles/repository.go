package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/automata-backoffice/backoffice/internal/platform/db"
	"github.com/automata-backoffice/backoffice/internal/rbac"
	"github.com/automata-backoffice/backoffice/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a serializable transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const roleColumns = `id, name, description, active, deleted, original_name, deleted_at, created_at, updated_at`

// FindActive returns the active, non-deleted role named name.
func (r *Repository) FindActive(ctx context.Context, name string) (Role, error) {
	return findRole(ctx, r.pool, `SELECT `+roleColumns+` FROM roles WHERE name = $1 AND deleted = FALSE AND active = TRUE ORDER BY created_at LIMIT 1`, name)
}

// List returns non-deleted roles, newest first.
func (r *Repository) List(ctx context.Context, page shared.PageRequest) ([]Role, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM roles WHERE deleted = FALSE`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE deleted = FALSE ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		roles = append(roles, role)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range roles {
		perms, err := loadPermissions(ctx, r.pool, roles[i].ID)
		if err != nil {
			return nil, 0, err
		}
		roles[i].Permissions = perms
	}
	return roles, total, nil
}

// TeamMembers lists live users per assigned role, ordered by display name.
func (r *Repository) TeamMembers(ctx context.Context, roleNames []string) (map[string][]string, error) {
	members := make(map[string][]string, len(roleNames))
	if len(roleNames) == 0 {
		return members, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT assigned_role, COALESCE(NULLIF(TRIM(first_name || ' ' || last_name), ''), username) AS display_name
FROM users WHERE deleted = FALSE AND assigned_role = ANY($1)
ORDER BY assigned_role, display_name`, roleNames)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var role, name string
		if err := rows.Scan(&role, &name); err != nil {
			return nil, err
		}
		members[role] = append(members[role], name)
	}
	return members, rows.Err()
}

func (t *txRepo) FindLive(ctx context.Context, name string) (Role, error) {
	return findRole(ctx, t.tx, `SELECT `+roleColumns+` FROM roles WHERE name = $1 AND deleted = FALSE ORDER BY created_at LIMIT 1 FOR UPDATE`, name)
}

func (t *txRepo) FindByActive(ctx context.Context, name string, active bool) (Role, error) {
	return findRole(ctx, t.tx, `SELECT `+roleColumns+` FROM roles WHERE name = $1 AND deleted = FALSE AND active = $2 ORDER BY created_at LIMIT 1 FOR UPDATE`, name, active)
}

func (t *txRepo) FindAny(ctx context.Context, name string) (Role, error) {
	return findRole(ctx, t.tx, `SELECT `+roleColumns+` FROM roles WHERE name = $1 ORDER BY created_at LIMIT 1`, name)
}

func (t *txRepo) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1 AND deleted = FALSE)`, name).Scan(&exists)
	return exists, err
}

// Count includes tombstoned roles.
func (t *txRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM roles`).Scan(&count)
	return count, err
}

func (t *txRepo) Save(ctx context.Context, role Role) (Role, error) {
	var originalName *string
	if role.OriginalName != "" {
		originalName = &role.OriginalName
	}
	var err error
	if role.ID == 0 {
		err = t.tx.QueryRow(ctx, `INSERT INTO roles (name, description, active, deleted, original_name, deleted_at)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at`,
			role.Name, role.Description, role.Active, role.Deleted, originalName, role.DeletedAt,
		).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	} else {
		err = t.tx.QueryRow(ctx, `UPDATE roles SET name = $2, description = $3, active = $4, deleted = $5, original_name = $6, deleted_at = $7, updated_at = NOW()
WHERE id = $1 RETURNING updated_at`,
			role.ID, role.Name, role.Description, role.Active, role.Deleted, originalName, role.DeletedAt,
		).Scan(&role.UpdatedAt)
	}
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Role{}, shared.RoleAlreadyExists(role.Name)
		}
		return Role{}, fmt.Errorf("roles: save %s: %w", role.Name, err)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, role.ID); err != nil {
		return Role{}, err
	}
	for _, p := range role.Permissions {
		if _, err := t.tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, role.ID, p.ID); err != nil {
			return Role{}, fmt.Errorf("roles: attach %s: %w", p.Name, err)
		}
	}
	return role, nil
}

func findRole(ctx context.Context, q db.Querier, query string, args ...any) (Role, error) {
	role, err := scanRole(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.ErrNotFound
		}
		return Role{}, err
	}
	role.Permissions, err = loadPermissions(ctx, q, role.ID)
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

func scanRole(row pgx.Row) (Role, error) {
	var (
		role         Role
		originalName *string
	)
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.Active, &role.Deleted, &originalName, &role.DeletedAt, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return Role{}, err
	}
	if originalName != nil {
		role.OriginalName = *originalName
	}
	return role, nil
}

func loadPermissions(ctx context.Context, q db.Querier, roleID int64) ([]rbac.Permission, error) {
	rows, err := q.Query(ctx, `SELECT p.id, p.name, p.permission_type, p.description, p.deleted, p.created_at
FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
WHERE rp.role_id = $1 ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []rbac.Permission
	for rows.Next() {
		var p rbac.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.Description, &p.Deleted, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

var (
	_ RepositoryPort = (*Repository)(nil)
	_ TxRepository   = (*txRepo)(nil)
)
