package rbac

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/automata-backoffice/backoffice/internal/shared"
)

type memoryPermissionRepo struct {
	perms  map[string]Permission
	nextID int64
	saves  int
}

func newMemoryPermissionRepo(names ...string) *memoryPermissionRepo {
	repo := &memoryPermissionRepo{perms: make(map[string]Permission)}
	for _, n := range names {
		repo.nextID++
		repo.perms[n] = Permission{ID: repo.nextID, Name: n, Type: TypeRoles, Description: n}
	}
	return repo
}

func (r *memoryPermissionRepo) FindByName(ctx context.Context, name string) (Permission, error) {
	p, ok := r.perms[name]
	if !ok || p.Deleted {
		return Permission{}, shared.ErrNotFound
	}
	return p, nil
}

func (r *memoryPermissionRepo) SaveAll(ctx context.Context, perms []Permission) error {
	r.saves++
	for _, p := range perms {
		if p.ID == 0 {
			r.nextID++
			p.ID = r.nextID
		}
		r.perms[p.Name] = p
	}
	return nil
}

func (r *memoryPermissionRepo) List(ctx context.Context) ([]Permission, error) {
	out := make([]Permission, 0, len(r.perms))
	for _, p := range r.perms {
		if !p.Deleted {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func newTestEngine() *Engine {
	repo := newMemoryPermissionRepo(
		"view-roles", "edit-role", "approve-edit-role", "create-roles",
		"approve-create-roles", "treat-requests", "invite-backoffice-user",
		"approve-invite-backoffice-user",
	)
	return NewEngine(NewCatalog(repo))
}

func TestValidateRejectsMakerAndCheckerTogether(t *testing.T) {
	engine := newTestEngine()
	_, err := engine.Validate(context.Background(), []string{"edit-role", "approve-edit-role"})
	require.ErrorIs(t, err, shared.ErrMakerCheckerConflict)

	_, err = engine.Validate(context.Background(), []string{"view-roles", "edit-role", "approve-edit-role"})
	require.ErrorIs(t, err, shared.ErrMakerCheckerConflict)
}

func TestValidateInjectsTreatRequestsOnce(t *testing.T) {
	engine := newTestEngine()
	perms, err := engine.Validate(context.Background(), []string{"approve-edit-role", "approve-create-roles"})
	require.NoError(t, err)
	require.Equal(t, []string{"approve-create-roles", "approve-edit-role", "treat-requests"}, Names(perms))
}

func TestValidateIsIdempotent(t *testing.T) {
	engine := newTestEngine()
	first, err := engine.Validate(context.Background(), []string{"approve-edit-role", "view-roles"})
	require.NoError(t, err)
	second, err := engine.Validate(context.Background(), Names(first))
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestValidateKeepsExplicitTreatRequests(t *testing.T) {
	engine := newTestEngine()
	perms, err := engine.Validate(context.Background(), []string{"treat-requests", "approve-edit-role", "treat-requests"})
	require.NoError(t, err)
	require.Equal(t, []string{"approve-edit-role", "treat-requests"}, Names(perms))
}

func TestValidateEmptySet(t *testing.T) {
	engine := newTestEngine()
	perms, err := engine.Validate(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, perms)
}

func TestValidateMakerOnlyDoesNotInject(t *testing.T) {
	engine := newTestEngine()
	perms, err := engine.Validate(context.Background(), []string{"view-roles", "edit-role"})
	require.NoError(t, err)
	require.Equal(t, []string{"edit-role", "view-roles"}, Names(perms))
}

func TestValidateUnknownPermission(t *testing.T) {
	engine := newTestEngine()
	err := engine.Verify(context.Background(), []string{"view-roles", "not-a-real-permission"})
	require.ErrorIs(t, err, shared.ErrUnknownPermission)

	var domainErr *shared.Error
	require.True(t, errors.As(err, &domainErr))
	require.Equal(t, "not-a-real-permission", domainErr.Subject)
	require.Equal(t, "PE_001", domainErr.Code())
}

func TestValidateFailsWhenTreatRequestsMissingFromCatalog(t *testing.T) {
	engine := NewEngine(NewCatalog(newMemoryPermissionRepo("approve-edit-role")))
	_, err := engine.Validate(context.Background(), []string{"approve-edit-role"})
	require.ErrorIs(t, err, shared.ErrUnknownPermission)
}
