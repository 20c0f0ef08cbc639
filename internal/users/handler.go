package users

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/automata-backoffice/backoffice/internal/lockout"
	"github.com/automata-backoffice/backoffice/internal/platform/httpx"
	"github.com/automata-backoffice/backoffice/internal/rbac"
	"github.com/automata-backoffice/backoffice/internal/shared"
)

// LoginAttempts exposes the lockout record of a user.
type LoginAttempts interface {
	Status(ctx context.Context, username string) (lockout.Attempt, error)
	UnlockUser(ctx context.Context, username string) error
}

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	attempts  LoginAttempts
	errors    *httpx.ErrorRenderer
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, attempts LoginAttempts, errors *httpx.ErrorRenderer, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, attempts: attempts, errors: errors, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermViewBackofficeUsers))
		r.Get("/", h.listUsers)
		r.Get("/{username}", h.getUser)
		r.Get("/{username}/login-attempt", h.loginAttempt)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermEditBackofficeUserDetails))
		r.Put("/{username}", h.updateProfile)
		r.Put("/{username}/permissions", h.setPermissions)
		r.Put("/{username}/role", h.assignRole)
	})
	r.With(h.rbac.RequireAny(shared.PermEnableBackofficeUser)).Post("/{username}/enable", h.enableUser)
	r.With(h.rbac.RequireAny(shared.PermDisableBackofficeUser)).Post("/{username}/disable", h.disableUser)
	r.With(h.rbac.RequireAny(shared.PermUnlockBackofficeUser)).Post("/{username}/unlock", h.unlockUser)
	r.With(h.rbac.RequireAny(shared.PermDeleteBackofficeUser)).Delete("/{username}", h.deleteUser)
}

type userListResponse struct {
	Users      []User            `json:"users"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page := shared.PageRequest{}
	page.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	page.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	list, pagination, err := h.service.ListUsers(r.Context(), page)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	if list == nil {
		list = []User{}
	}
	httpx.JSON(w, http.StatusOK, userListResponse{Users: list, Pagination: pagination})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var input UpdateProfileInput
	if err := httpx.DecodeAndValidate(r, h.validator, &input); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	user, err := h.service.UpdateProfile(r.Context(), chi.URLParam(r, "username"), input)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteUser(r.Context(), chi.URLParam(r, "username")); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setPermissions(w http.ResponseWriter, r *http.Request) {
	var input SetPermissionsInput
	if err := httpx.DecodeAndValidate(r, h.validator, &input); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	user, err := h.service.SetPermissions(r.Context(), chi.URLParam(r, "username"), input.AssignedRole, input.Permissions)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var input AssignRoleInput
	if err := httpx.DecodeAndValidate(r, h.validator, &input); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	user, err := h.service.AssignRole(r.Context(), chi.URLParam(r, "username"), input.Role)
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) enableUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Enable(r.Context(), chi.URLParam(r, "username")); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) disableUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Disable(r.Context(), chi.URLParam(r, "username")); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) loginAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.attempts.Status(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, attempt)
}

func (h *Handler) unlockUser(w http.ResponseWriter, r *http.Request) {
	if err := h.attempts.UnlockUser(r.Context(), chi.URLParam(r, "username")); err != nil {
		h.errors.Respond(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
