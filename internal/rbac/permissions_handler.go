package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/automata-backoffice/backoffice/internal/platform/httpx"
	"github.com/automata-backoffice/backoffice/internal/shared"
)

// PermissionLister lists catalog permissions.
type PermissionLister interface {
	List(ctx context.Context) ([]Permission, error)
}

// PermissionsHandler manages permission listing.
type PermissionsHandler struct {
	logger  *slog.Logger
	catalog PermissionLister
	errors  *httpx.ErrorRenderer
	rbac    Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, catalog PermissionLister, errors *httpx.ErrorRenderer, rbac Middleware) *PermissionsHandler {
	return &PermissionsHandler{logger: logger, catalog: catalog, errors: errors, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermViewPermissions))
		r.Get("/", h.listPermissions)
	})
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.catalog.List(r.Context())
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	if perms == nil {
		perms = []Permission{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}
