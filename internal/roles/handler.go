package roles

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/automata-backoffice/backoffice/internal/platform/httpx"
	"github.com/automata-backoffice/backoffice/internal/rbac"
	"github.com/automata-backoffice/backoffice/internal/shared"
)

// Handler manages role management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	errors    *httpx.ErrorRenderer
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, errors *httpx.ErrorRenderer, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, errors: errors, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermViewRoles))
		r.Get("/", h.listRoles)
		r.Get("/{name}", h.getRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermCreateRoles))
		r.Post("/", h.createRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermEditRole))
		r.Put("/{name}", h.updateRole)
		r.Post("/{name}/enable", h.enableRole)
		r.Post("/{name}/disable", h.disableRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermDeleteRole))
		r.Delete("/{name}", h.deleteRole)
	})
}

type roleListResponse struct {
	Roles      []RoleWithTeamMembers `json:"roles"`
	Pagination shared.Pagination     `json:"pagination"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	page := shared.PageRequest{
		Page:    atoiOrZero(r.URL.Query().Get("page")),
		PerPage: atoiOrZero(r.URL.Query().Get("per_page")),
	}
	roles, pagination, err := h.service.ListRolesWithTeamMembers(r.Context(), page)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roleListResponse{Roles: roles, Pagination: pagination})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.RetrieveRoleWithTeamMembers(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var input CreateRoleInput
	if err := httpx.DecodeAndValidate(r, h.validator, &input); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), input)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	var input UpdateRoleInput
	if err := httpx.DecodeAndValidate(r, h.validator, &input); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	input.Name = chi.URLParam(r, "name")
	role, err := h.service.UpdateRole(r.Context(), input)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, role)
}

func (h *Handler) enableRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.EnableRole(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) disableRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DisableRole(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteRole(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func atoiOrZero(raw string) int {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return v
}
