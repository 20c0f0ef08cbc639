package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/automata-backoffice/backoffice/internal/shared"
)

// Repository persists permissions.
type Repository interface {
	// FindByName returns the non-deleted permission with name or shared.ErrNotFound.
	FindByName(ctx context.Context, name string) (Permission, error)
	SaveAll(ctx context.Context, perms []Permission) error
	List(ctx context.Context) ([]Permission, error)
}

// Catalog is the authoritative set of permission names.
type Catalog struct {
	repo Repository
}

// NewCatalog constructs a Catalog.
func NewCatalog(repo Repository) *Catalog {
	return &Catalog{repo: repo}
}

// Resolve returns the permission named name.
func (c *Catalog) Resolve(ctx context.Context, name string) (Permission, error) {
	perm, err := c.repo.FindByName(ctx, strings.TrimSpace(name))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Permission{}, shared.UnknownPermission(name)
		}
		return Permission{}, fmt.Errorf("rbac: resolve %s: %w", name, err)
	}
	return perm, nil
}

// BulkUpsert saves perms. An incoming permission whose name is already live keeps the stored
// identity, type, deletion flag and description, so a static manifest can be re-applied on every start.
func (c *Catalog) BulkUpsert(ctx context.Context, perms []Permission) error {
	merged := make([]Permission, 0, len(perms))
	seen := make(map[string]struct{}, len(perms))
	for _, incoming := range perms {
		incoming.Name = strings.TrimSpace(incoming.Name)
		if incoming.Name == "" {
			continue
		}
		if _, dup := seen[incoming.Name]; dup {
			continue
		}
		seen[incoming.Name] = struct{}{}
		existing, err := c.repo.FindByName(ctx, incoming.Name)
		switch {
		case err == nil:
			incoming.ID = existing.ID
			incoming.Type = existing.Type
			incoming.Deleted = existing.Deleted
			incoming.Description = existing.Description
		case errors.Is(err, shared.ErrNotFound):
		default:
			return fmt.Errorf("rbac: lookup %s: %w", incoming.Name, err)
		}
		merged = append(merged, incoming)
	}
	if err := c.repo.SaveAll(ctx, merged); err != nil {
		return fmt.Errorf("rbac: save permissions: %w", err)
	}
	return nil
}

// List returns every non-deleted permission ordered by name.
func (c *Catalog) List(ctx context.Context) ([]Permission, error) {
	return c.repo.List(ctx)
}
