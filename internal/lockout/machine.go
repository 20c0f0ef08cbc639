package lockout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/automata-backoffice/backoffice/internal/shared"
)

// Defaults applied when Config leaves a limit unset.
const (
	DefaultMaxAttempts = 5
	DefaultUnlockAfter = 30 * time.Minute
)

// Outcomes reported to an Observer.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeLocked  = "locked"
	OutcomeDenied  = "denied"
)

// ErrEmptyUsername is returned for blank usernames.
var ErrEmptyUsername = errors.New("lockout: username required")

// TxRepository reads and writes one username's record inside WithAttempt.
type TxRepository interface {
	// FindByUsername returns the record or shared.ErrNotFound.
	FindByUsername(ctx context.Context, username string) (Attempt, error)
	Save(ctx context.Context, attempt Attempt) error
}

// Repository serialises access per username.
type Repository interface {
	// WithAttempt runs fn with exclusive access to username's record. Writes made through
	// the TxRepository are committed only when fn returns nil.
	WithAttempt(ctx context.Context, username string, fn func(context.Context, TxRepository) error) error
}

// Observer receives login outcomes, typically for metrics.
type Observer interface {
	ObserveLoginOutcome(outcome string)
}

// Config tunes the machine.
type Config struct {
	MaxAttempts int
	UnlockAfter time.Duration
	Clock       shared.Clock
	Logger      *slog.Logger
	Audit       shared.AuditRecorder
	Observer    Observer
}

// Machine is the login attempt lockout state machine.
type Machine struct {
	repo        Repository
	maxAttempts int
	unlockAfter time.Duration
	clock       shared.Clock
	logger      *slog.Logger
	audit       shared.AuditRecorder
	observer    Observer
}

// NewMachine constructs a Machine.
func NewMachine(repo Repository, cfg Config) *Machine {
	m := &Machine{
		repo:        repo,
		maxAttempts: cfg.MaxAttempts,
		unlockAfter: cfg.UnlockAfter,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		audit:       cfg.Audit,
		observer:    cfg.Observer,
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = DefaultMaxAttempts
	}
	if m.unlockAfter <= 0 {
		m.unlockAfter = DefaultUnlockAfter
	}
	if m.clock == nil {
		m.clock = shared.SystemClock{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.audit == nil {
		m.audit = shared.NopAudit{}
	}
	return m
}

// RecordOutcome applies the result of a credential check for username.
//
// A mismatch increments the counter and locks the account once it reaches the configured
// maximum; the record is persisted before any error is returned. While locked, both outcomes
// fail with LoginAccessDenied and the counter is left untouched. A match after the lock has
// expired reopens the account.
func (m *Machine) RecordOutcome(ctx context.Context, username string, credentialMatched bool) error {
	key := NormalizeUsername(username)
	if key == "" {
		return ErrEmptyUsername
	}
	var (
		denial  error
		outcome string
		after   Attempt
	)
	err := m.repo.WithAttempt(ctx, key, func(ctx context.Context, tx TxRepository) error {
		denial, outcome = nil, ""
		now := m.clock.Now()
		attempt, err := getOrCreate(ctx, tx, key, now)
		if err != nil {
			return err
		}

		if attempt.Locked(now) {
			denial = shared.LoginAccessDenied(key, attempt.AutomatedUnlockTime, now)
			outcome = OutcomeDenied
			after = attempt
			return nil
		}

		if credentialMatched {
			attempt.open(now)
			outcome = OutcomeSuccess
		} else {
			attempt.FailedAttemptCount++
			attempt.UpdatedAt = now
			outcome = OutcomeFailure
			if attempt.FailedAttemptCount >= m.maxAttempts {
				attempt.LoginAccessDenied = true
				attempt.AutomatedUnlockTime = now.Add(m.unlockAfter)
				outcome = OutcomeLocked
			}
		}
		after = attempt
		return tx.Save(ctx, attempt)
	})
	if err != nil {
		return fmt.Errorf("lockout: record outcome: %w", err)
	}

	m.observe(outcome)
	switch outcome {
	case OutcomeLocked:
		m.logger.Warn("login access locked",
			slog.String("username", key),
			slog.Int("failed_attempts", after.FailedAttemptCount),
			slog.Time("unlock_at", after.AutomatedUnlockTime))
	case OutcomeDenied:
		m.logger.Info("login attempt during lockout",
			slog.String("username", key),
			slog.Bool("credential_matched", credentialMatched),
			slog.Int("failed_attempts", after.FailedAttemptCount))
	}
	return denial
}

// CheckAccess fails with LoginAccessDenied while username is locked. It never changes the
// record, so a first factor can be accepted without resetting the failure counter.
func (m *Machine) CheckAccess(ctx context.Context, username string) error {
	attempt, err := m.Status(ctx, username)
	if err != nil {
		return err
	}
	now := m.clock.Now()
	if !attempt.Locked(now) {
		return nil
	}
	m.observe(OutcomeDenied)
	m.logger.Info("login attempt during lockout",
		slog.String("username", attempt.Username),
		slog.Int("failed_attempts", attempt.FailedAttemptCount))
	return shared.LoginAccessDenied(attempt.Username, attempt.AutomatedUnlockTime, now)
}

// UnlockUser reopens username regardless of its current state.
func (m *Machine) UnlockUser(ctx context.Context, username string) error {
	key := NormalizeUsername(username)
	if key == "" {
		return ErrEmptyUsername
	}
	err := m.repo.WithAttempt(ctx, key, func(ctx context.Context, tx TxRepository) error {
		now := m.clock.Now()
		attempt, err := getOrCreate(ctx, tx, key, now)
		if err != nil {
			return err
		}
		attempt.open(now)
		return tx.Save(ctx, attempt)
	})
	if err != nil {
		return fmt.Errorf("lockout: unlock: %w", err)
	}
	m.logger.Info("login access unlocked", slog.String("username", key), slog.String("actor", shared.ActorFromContext(ctx)))
	if err := m.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.ActorFromContext(ctx),
		Action:   shared.AuditLoginAccessUnlocked,
		Entity:   "login_attempt",
		EntityID: key,
		At:       m.clock.Now(),
	}); err != nil {
		m.logger.Warn("audit unlock", slog.Any("error", err))
	}
	return nil
}

// Status returns the current record for username without mutating it.
func (m *Machine) Status(ctx context.Context, username string) (Attempt, error) {
	key := NormalizeUsername(username)
	if key == "" {
		return Attempt{}, ErrEmptyUsername
	}
	var attempt Attempt
	err := m.repo.WithAttempt(ctx, key, func(ctx context.Context, tx TxRepository) error {
		found, err := tx.FindByUsername(ctx, key)
		if errors.Is(err, shared.ErrNotFound) {
			attempt = newAttempt(key, m.clock.Now())
			return nil
		}
		attempt = found
		return err
	})
	if err != nil {
		return Attempt{}, fmt.Errorf("lockout: status: %w", err)
	}
	return attempt, nil
}

func getOrCreate(ctx context.Context, tx TxRepository, username string, now time.Time) (Attempt, error) {
	attempt, err := tx.FindByUsername(ctx, username)
	if err == nil {
		return attempt, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return Attempt{}, err
	}
	return newAttempt(username, now), nil
}

func (m *Machine) observe(outcome string) {
	if m.observer != nil && outcome != "" {
		m.observer.ObserveLoginOutcome(outcome)
	}
}
