package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/automata-backoffice/backoffice/internal/app"
	"github.com/automata-backoffice/backoffice/internal/platform/cache"
	"github.com/automata-backoffice/backoffice/internal/platform/db"
	"github.com/automata-backoffice/backoffice/internal/users"
	"github.com/automata-backoffice/backoffice/jobs"
)

// Runtime is the set of administrative operations the commands drive.
type Runtime interface {
	Migrate(ctx context.Context) error
	Bootstrap(ctx context.Context) error
	CreateUser(ctx context.Context, input users.CreateUserInput) (users.User, error)
	UnlockUser(ctx context.Context, username string) error
	TriggerJob(ctx context.Context, name string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	Close() error
}

// RuntimeFactory builds a Runtime on demand so commands that fail flag validation never connect.
type RuntimeFactory func(ctx context.Context) (Runtime, error)

type liveRuntime struct {
	cfg       *app.Config
	pool      *pgxpool.Pool
	redis     *redis.Client
	container *app.Container
	jobs      *jobs.Client
}

func newLiveRuntime(ctx context.Context) (Runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := app.NewLogger(cfg)
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		pool.Close()
		return nil, err
	}
	container, err := app.NewContainer(cfg, logger, pool, redisClient)
	if err != nil {
		pool.Close()
		_ = redisClient.Close()
		return nil, err
	}
	return &liveRuntime{
		cfg:       cfg,
		pool:      pool,
		redis:     redisClient,
		container: container,
		jobs:      jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}),
	}, nil
}

func (r *liveRuntime) Migrate(context.Context) error {
	return db.Migrate(r.cfg.PGDSN)
}

func (r *liveRuntime) Bootstrap(ctx context.Context) error {
	return r.container.Bootstrap(ctx)
}

func (r *liveRuntime) CreateUser(ctx context.Context, input users.CreateUserInput) (users.User, error) {
	return r.container.Users.CreateUser(ctx, input)
}

func (r *liveRuntime) UnlockUser(ctx context.Context, username string) error {
	return r.container.Lockout.UnlockUser(ctx, username)
}

func (r *liveRuntime) TriggerJob(ctx context.Context, name string) (string, error) {
	info, err := r.jobs.Trigger(ctx, name)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func (r *liveRuntime) SetSetting(ctx context.Context, key, value string) error {
	_, err := r.container.Settings.Update(ctx, key, value)
	return err
}

func (r *liveRuntime) Close() error {
	var errs []error
	if r.jobs != nil {
		errs = append(errs, r.jobs.Close())
	}
	if r.redis != nil {
		errs = append(errs, r.redis.Close())
	}
	if r.pool != nil {
		r.pool.Close()
	}
	return errors.Join(errs...)
}
