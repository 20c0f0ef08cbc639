package users

import (
	"context"
	"errors"
	"fmt"
	"time"

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

// WithTx wraps callback in a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const userColumns = `id, username, email, first_name, last_name, password_hash, assigned_role, status,
two_factor_enabled, totp_secret, default_password, last_login_at, deleted, original_username, deleted_at, created_at, updated_at`

// FindByUsername returns the user without locking.
func (r *Repository) FindByUsername(ctx context.Context, username string) (User, error) {
	return findUser(ctx, r.pool, `SELECT `+userColumns+` FROM users WHERE username = $1 AND deleted = FALSE`, username)
}

// List returns live users ordered by username.
func (r *Repository) List(ctx context.Context, page shared.PageRequest) ([]User, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE deleted = FALSE`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE deleted = FALSE ORDER BY username LIMIT $1 OFFSET $2`, page.PerPage, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	var list []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		list = append(list, user)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for i := range list {
		if list[i].Permissions, err = loadPermissions(ctx, r.pool, list[i].ID); err != nil {
			return nil, 0, err
		}
	}
	return list, total, nil
}

// TouchLastLogin stamps last_login_at.
func (r *Repository) TouchLastLogin(ctx context.Context, username string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = $2, updated_at = NOW() WHERE username = $1 AND deleted = FALSE`, username, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// DisableInactive treats users that never signed in as idle since creation.
func (r *Repository) DisableInactive(ctx context.Context, threshold time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `UPDATE users SET status = $1, updated_at = NOW()
WHERE status = $2 AND deleted = FALSE AND COALESCE(last_login_at, created_at) < $3
RETURNING username`, StatusInactive, StatusActive, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (t *txRepo) FindByUsername(ctx context.Context, username string) (User, error) {
	return findUser(ctx, t.tx, `SELECT `+userColumns+` FROM users WHERE username = $1 AND deleted = FALSE FOR UPDATE`, username)
}

func (t *txRepo) Save(ctx context.Context, user User) (User, error) {
	var originalUsername *string
	if user.OriginalUsername != "" {
		originalUsername = &user.OriginalUsername
	}
	var err error
	if user.ID == 0 {
		err = t.tx.QueryRow(ctx, `INSERT INTO users (username, email, first_name, last_name, password_hash, assigned_role, status,
two_factor_enabled, totp_secret, default_password, last_login_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id, created_at, updated_at`,
			user.Username, user.Email, user.FirstName, user.LastName, user.PasswordHash, user.AssignedRole, user.Status,
			user.TwoFactorEnabled, user.TOTPSecret, user.DefaultPassword, user.LastLoginAt,
		).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	} else {
		err = t.tx.QueryRow(ctx, `UPDATE users SET username = $2, email = $3, first_name = $4, last_name = $5, password_hash = $6,
assigned_role = $7, status = $8, two_factor_enabled = $9, totp_secret = $10, default_password = $11, last_login_at = $12,
deleted = $13, original_username = $14, deleted_at = $15, updated_at = NOW()
WHERE id = $1 RETURNING updated_at`,
			user.ID, user.Username, user.Email, user.FirstName, user.LastName, user.PasswordHash,
			user.AssignedRole, user.Status, user.TwoFactorEnabled, user.TOTPSecret, user.DefaultPassword, user.LastLoginAt,
			user.Deleted, originalUsername, user.DeletedAt,
		).Scan(&user.UpdatedAt)
	}
	if err != nil {
		if db.IsUniqueViolation(err) {
			return User{}, ErrUsernameTaken
		}
		return User{}, fmt.Errorf("users: save %s: %w", user.Username, err)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM user_permissions WHERE user_id = $1`, user.ID); err != nil {
		return User{}, err
	}
	for _, p := range user.Permissions {
		if _, err := t.tx.Exec(ctx, `INSERT INTO user_permissions (user_id, permission_id) VALUES ($1, $2)`, user.ID, p.ID); err != nil {
			return User{}, fmt.Errorf("users: attach %s: %w", p.Name, err)
		}
	}
	return user, nil
}

func findUser(ctx context.Context, q db.Querier, query string, args ...any) (User, error) {
	user, err := scanUser(q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, err
	}
	if user.Permissions, err = loadPermissions(ctx, q, user.ID); err != nil {
		return User{}, err
	}
	return user, nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u                User
		originalUsername *string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.PasswordHash, &u.AssignedRole, &u.Status,
		&u.TwoFactorEnabled, &u.TOTPSecret, &u.DefaultPassword, &u.LastLoginAt, &u.Deleted, &originalUsername, &u.DeletedAt,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	if originalUsername != nil {
		u.OriginalUsername = *originalUsername
	}
	return u, nil
}

func loadPermissions(ctx context.Context, q db.Querier, userID int64) ([]rbac.Permission, error) {
	rows, err := q.Query(ctx, `SELECT p.id, p.name, p.permission_type, p.description, p.deleted, p.created_at
FROM user_permissions up JOIN permissions p ON p.id = up.permission_id
WHERE up.user_id = $1 ORDER BY p.name`, userID)
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
