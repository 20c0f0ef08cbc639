package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/automata-backoffice/backoffice/internal/platform/db"
	"github.com/automata-backoffice/backoffice/internal/shared"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const permissionColumns = `id, name, permission_type, description, deleted, created_at`

// FindByName fetches the oldest live permission with the given name.
func (r *PGRepository) FindByName(ctx context.Context, name string) (Permission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1 AND deleted = FALSE ORDER BY created_at LIMIT 1`, name)
	perm, err := scanPermission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.ErrNotFound
		}
		return Permission{}, err
	}
	return perm, nil
}

// SaveAll inserts new permissions and updates known ones in one transaction.
func (r *PGRepository) SaveAll(ctx context.Context, perms []Permission) error {
	if len(perms) == 0 {
		return nil
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, p := range perms {
			if p.ID == 0 {
				if _, err := tx.Exec(ctx, `INSERT INTO permissions (name, permission_type, description, deleted) VALUES ($1, $2, $3, $4)`,
					p.Name, p.Type, p.Description, p.Deleted); err != nil {
					return fmt.Errorf("insert permission %s: %w", p.Name, err)
				}
				continue
			}
			if _, err := tx.Exec(ctx, `UPDATE permissions SET name = $2, permission_type = $3, description = $4, deleted = $5, updated_at = NOW() WHERE id = $1`,
				p.ID, p.Name, p.Type, p.Description, p.Deleted); err != nil {
				return fmt.Errorf("update permission %s: %w", p.Name, err)
			}
		}
		return nil
	})
}

// List returns live permissions ordered by name.
func (r *PGRepository) List(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE deleted = FALSE ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Description, &p.Deleted, &p.CreatedAt)
	return p, err
}

var _ Repository = (*PGRepository)(nil)
