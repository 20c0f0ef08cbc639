package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/automata-backoffice/backoffice/internal/audit"
	"github.com/automata-backoffice/backoffice/internal/auth"
	"github.com/automata-backoffice/backoffice/internal/lockout"
	"github.com/automata-backoffice/backoffice/internal/observability"
	"github.com/automata-backoffice/backoffice/internal/platform/httpx"
	"github.com/automata-backoffice/backoffice/internal/rbac"
	"github.com/automata-backoffice/backoffice/internal/roles"
	"github.com/automata-backoffice/backoffice/internal/settings"
	"github.com/automata-backoffice/backoffice/internal/shared"
	"github.com/automata-backoffice/backoffice/internal/users"
)

// Container holds the wired services shared by the server, worker and CLI.
type Container struct {
	Config   *Config
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Audit    shared.AuditRecorder
	Timeline *audit.Service
	Catalog  *rbac.Catalog
	Engine   *rbac.Engine
	Roles    *roles.Service
	Users    *users.Service
	Lockout  *lockout.Machine
	Settings *settings.Cache
	Notifier *settings.RedisNotifier
	Tokens   *auth.Tokens
	Auth     *auth.Service
}

// NewContainer wires every service over pool and redisClient.
func NewContainer(cfg *Config, logger *slog.Logger, pool *pgxpool.Pool, redisClient redis.UniversalClient) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	clock := shared.SystemClock{}
	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	catalog := rbac.NewCatalog(rbac.NewRepository(pool))
	engine := rbac.NewEngine(catalog)
	roleService := roles.NewService(roles.NewRepository(pool), engine, auditLogger, clock, logger)
	userService := users.NewService(users.NewRepository(pool), roleService, engine, auditLogger, clock, logger)

	var attempts lockout.Repository
	switch cfg.LockoutStore {
	case LockoutStoreRedis:
		attempts = lockout.NewRedisRepository(redisClient)
	default:
		attempts = lockout.NewRepository(pool)
	}
	machine := lockout.NewMachine(attempts, lockout.Config{
		MaxAttempts: cfg.LoginAttemptMaxCount,
		UnlockAfter: cfg.AutoUnlockAfter(),
		Clock:       clock,
		Logger:      logger,
		Audit:       auditLogger,
		Observer:    metrics,
	})

	notifier := settings.NewRedisNotifier(redisClient, logger)
	messages := settings.NewCache(settings.NewStore(pool), notifier, logger)

	tokens, err := auth.NewTokens(auth.TokenConfig{
		Secret:     cfg.JWTSecret,
		Issuer:     cfg.JWTIssuer,
		TTL:        cfg.TokenTTL,
		PendingTTL: cfg.PendingTokenTTL,
		Clock:      clock,
	})
	if err != nil {
		return nil, err
	}
	authService := auth.NewService(userService, roleService, machine, tokens, auth.NewRedisReplayGuard(redisClient, clock), clock, logger)

	return &Container{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Audit:    auditLogger,
		Timeline: audit.NewService(audit.NewRepository(pool)),
		Catalog:  catalog,
		Engine:   engine,
		Roles:    roleService,
		Users:    userService,
		Lockout:  machine,
		Settings: messages,
		Notifier: notifier,
		Tokens:   tokens,
		Auth:     authService,
	}, nil
}

// Bootstrap applies the permission manifest, creates the system roles and seeds the message catalogue.
func (c *Container) Bootstrap(ctx context.Context) error {
	manifest, err := rbac.LoadManifest(c.Config.PermissionManifestPath)
	if err != nil {
		return fmt.Errorf("app: bootstrap: %w", err)
	}
	if err := c.Catalog.ApplyManifest(ctx, manifest); err != nil {
		return fmt.Errorf("app: bootstrap permissions: %w", err)
	}
	if err := c.Roles.EnsureSystemRolesExist(ctx); err != nil {
		return fmt.Errorf("app: bootstrap system roles: %w", err)
	}
	messages, err := settings.DefaultMessages()
	if err != nil {
		return fmt.Errorf("app: bootstrap messages: %w", err)
	}
	added, err := c.Settings.Seed(ctx, messages)
	if err != nil {
		return fmt.Errorf("app: bootstrap messages: %w", err)
	}
	c.Logger.Info("bootstrap complete",
		slog.Int("permissions", len(manifest.Permissions)),
		slog.Int("messages_added", added))
	return c.Settings.Reload(ctx)
}

// Handler builds the HTTP API. jobsHandler may be nil.
func (c *Container) Handler(checks map[string]HealthChecker, jobsHandler RouteMounter) http.Handler {
	errors := httpx.NewErrorRenderer(c.Logger, c.Settings)
	guard := rbac.Middleware{Logger: c.Logger}
	return NewRouter(RouterParams{
		Logger:             c.Logger,
		Config:             c.Config,
		Metrics:            c.Metrics,
		Tokens:             c.Tokens,
		AuthHandler:        auth.NewHandler(c.Logger, c.Auth, errors, c.Config.LoginRateLimit),
		PermissionsHandler: rbac.NewPermissionsHandler(c.Logger, c.Catalog, errors, guard),
		RolesHandler:       roles.NewHandler(c.Logger, c.Roles, errors, guard),
		UsersHandler:       users.NewHandler(c.Logger, c.Users, c.Lockout, errors, guard),
		AuditHandler:       audit.NewHandler(c.Logger, c.Timeline, errors, guard),
		JobsHandler:        jobsHandler,
		HealthChecks:       checks,
	})
}
