package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/automata-backoffice/backoffice/internal/jobs"
)

// InactiveUserDisabler disables users whose last sign-in predates threshold.
type InactiveUserDisabler interface {
	DisableInactive(ctx context.Context, threshold time.Time) (int, error)
}

// SystemRoleRetirer retires the system roles when the custom-role threshold is reached.
type SystemRoleRetirer interface {
	RetireSystemRolesIfThresholdExceeded(ctx context.Context) (int, error)
}

// DisableInactiveJob runs TaskDisableInactive.
type DisableInactiveJob struct {
	Users          InactiveUserDisabler
	InactivityDays int
	Logger         *slog.Logger
	Metrics        *jobmetrics.Metrics
	clock          func() time.Time
}

// NewDisableInactiveJob initialises the disable-inactive handler.
func NewDisableInactiveJob(users InactiveUserDisabler, inactivityDays int, logger *slog.Logger, metrics *jobmetrics.Metrics) *DisableInactiveJob {
	return &DisableInactiveJob{
		Users:          users,
		InactivityDays: inactivityDays,
		Logger:         logger,
		Metrics:        metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle disables every inactive user.
func (j *DisableInactiveJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Users == nil {
		return errors.New("disable inactive: handler not configured")
	}
	var payload DisableInactivePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("disable inactive: decode payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	days := j.InactivityDays
	if payload.InactivityDays > 0 {
		days = payload.InactivityDays
	}
	if days <= 0 {
		return fmt.Errorf("disable inactive: inactivity window must be positive: %w", asynq.SkipRetry)
	}

	tracker := j.Metrics.Track(TaskDisableInactive)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	threshold := j.clock().AddDate(0, 0, -days)
	logger := loggerOrDefault(j.Logger).With(slog.Int("inactivity_days", days), slog.Time("threshold", threshold))

	count, err := j.Users.DisableInactive(ctx, threshold)
	if err != nil {
		logger.Error("disable inactive users failed", slog.Any("error", err))
		return fmt.Errorf("disable inactive: %w", err)
	}
	j.Metrics.AddAffected(TaskDisableInactive, count)
	logger.Info("inactive users disabled", slog.Int("count", count))
	return nil
}

// RetireSystemRolesJob runs TaskRetireSystemRoles.
type RetireSystemRolesJob struct {
	Roles   SystemRoleRetirer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRetireSystemRolesJob initialises the retire-system-roles handler.
func NewRetireSystemRolesJob(roles SystemRoleRetirer, logger *slog.Logger, metrics *jobmetrics.Metrics) *RetireSystemRolesJob {
	return &RetireSystemRolesJob{Roles: roles, Logger: logger, Metrics: metrics}
}

// Handle retires the system roles when due. A run below the threshold is a no-op.
func (j *RetireSystemRolesJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Roles == nil {
		return errors.New("retire system roles: handler not configured")
	}
	tracker := j.Metrics.Track(TaskRetireSystemRoles)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	retired, err := j.Roles.RetireSystemRolesIfThresholdExceeded(ctx)
	if err != nil {
		loggerOrDefault(j.Logger).Error("retire system roles failed", slog.Any("error", err))
		return fmt.Errorf("retire system roles: %w", err)
	}
	j.Metrics.AddAffected(TaskRetireSystemRoles, retired)
	if retired > 0 {
		loggerOrDefault(j.Logger).Info("system roles retired", slog.Int("count", retired))
	}
	return nil
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
