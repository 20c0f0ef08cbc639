package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/automata-backoffice/backoffice/internal/audit"
	"github.com/automata-backoffice/backoffice/internal/auth"
	"github.com/automata-backoffice/backoffice/internal/observability"
	"github.com/automata-backoffice/backoffice/internal/rbac"
	"github.com/automata-backoffice/backoffice/internal/roles"
	"github.com/automata-backoffice/backoffice/internal/users"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(r *http.Request) error

// RouteMounter registers a sub-tree of routes.
type RouteMounter interface {
	MountRoutes(r chi.Router)
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	Metrics            *observability.Metrics
	Tokens             *auth.Tokens
	AuthHandler        *auth.Handler
	PermissionsHandler *rbac.PermissionsHandler
	RolesHandler       *roles.Handler
	UsersHandler       *users.Handler
	AuditHandler       *audit.Handler
	JobsHandler        RouteMounter
	HealthChecks       map[string]HealthChecker
}

// NewRouter constructs the chi.Router with backoffice defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	var authenticate func(http.Handler) http.Handler
	if params.Tokens != nil {
		authenticate = auth.Bearer(params.Tokens, params.Logger)
	}
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:       params.Logger,
		Config:       params.Config,
		Metrics:      params.Metrics,
		Authenticate: authenticate,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", healthHandler(params.Logger, params.HealthChecks))

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.PermissionsHandler != nil {
		r.Route("/permissions", params.PermissionsHandler.MountRoutes)
	}
	if params.RolesHandler != nil {
		r.Route("/roles", params.RolesHandler.MountRoutes)
	}
	if params.UsersHandler != nil {
		r.Route("/users", params.UsersHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/audit", params.AuditHandler.MountRoutes)
	}
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

func healthHandler(logger *slog.Logger, checks map[string]HealthChecker) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		for name, check := range checks {
			if err := check(r); err != nil {
				logger.Warn("health check failed", slog.String("dependency", name), slog.Any("error", err))
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded","dependency":"` + name + `"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
