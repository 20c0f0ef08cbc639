package lockout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/automata-backoffice/backoffice/internal/shared"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *countingObserver) ObserveLoginOutcome(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = map[string]int{}
	}
	o.counts[outcome]++
}

func newTestMachine(t *testing.T, repo Repository) (*Machine, *manualClock, *countingObserver) {
	t.Helper()
	clock := &manualClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	observer := &countingObserver{}
	m := NewMachine(repo, Config{
		MaxAttempts: 5,
		UnlockAfter: 30 * time.Minute,
		Clock:       clock,
		Observer:    observer,
	})
	return m, clock, observer
}

func TestRecordOutcomeLocksAfterMaxFailures(t *testing.T) {
	ctx := context.Background()
	m, clock, observer := newTestMachine(t, NewMemoryRepository())

	for i := 0; i < 4; i++ {
		require.NoError(t, m.RecordOutcome(ctx, "jane@example.com", false))
	}
	attempt, err := m.Status(ctx, "jane@example.com")
	require.NoError(t, err)
	require.Equal(t, 4, attempt.FailedAttemptCount)
	require.False(t, attempt.LoginAccessDenied)

	// The fifth mismatch locks and is persisted even though it is not itself denied.
	require.NoError(t, m.RecordOutcome(ctx, "jane@example.com", false))
	attempt, err = m.Status(ctx, "jane@example.com")
	require.NoError(t, err)
	require.Equal(t, 5, attempt.FailedAttemptCount)
	require.True(t, attempt.LoginAccessDenied)
	require.Equal(t, clock.Now().Add(30*time.Minute), attempt.AutomatedUnlockTime)
	require.Equal(t, 1, observer.counts[OutcomeLocked])

	err = m.RecordOutcome(ctx, "jane@example.com", true)
	require.ErrorIs(t, err, shared.ErrLoginAccessDenied)
	domainErr, ok := shared.AsError(err)
	require.True(t, ok)
	require.Equal(t, int64(30), domainErr.RetryMinutes())
	require.Equal(t, "LA_001", domainErr.Code())
}

func TestRecordOutcomeDeniedAttemptsDoNotIncrement(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestMachine(t, NewMemoryRepository())

	for i := 0; i < 5; i++ {
		require.NoError(t, m.RecordOutcome(ctx, "jane", false))
	}
	clock.Advance(10 * time.Minute)
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, m.RecordOutcome(ctx, "jane", false), shared.ErrLoginAccessDenied)
	}
	attempt, err := m.Status(ctx, "jane")
	require.NoError(t, err)
	require.Equal(t, 5, attempt.FailedAttemptCount)

	err = m.RecordOutcome(ctx, "jane", true)
	domainErr, ok := shared.AsError(err)
	require.True(t, ok)
	require.Equal(t, int64(20), domainErr.RetryMinutes())
}

func TestRecordOutcomeUnlocksAtExpiry(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestMachine(t, NewMemoryRepository())

	for i := 0; i < 5; i++ {
		require.NoError(t, m.RecordOutcome(ctx, "jane", false))
	}
	clock.Advance(30*time.Minute - time.Nanosecond)
	require.ErrorIs(t, m.RecordOutcome(ctx, "jane", true), shared.ErrLoginAccessDenied)

	clock.Advance(time.Nanosecond)
	require.NoError(t, m.RecordOutcome(ctx, "jane", true))
	attempt, err := m.Status(ctx, "jane")
	require.NoError(t, err)
	require.Zero(t, attempt.FailedAttemptCount)
	require.False(t, attempt.LoginAccessDenied)
	require.Equal(t, clock.Now(), attempt.AutomatedUnlockTime)
}

func TestRecordOutcomeMismatchAfterExpiryRelocks(t *testing.T) {
	ctx := context.Background()
	m, clock, _ := newTestMachine(t, NewMemoryRepository())

	for i := 0; i < 5; i++ {
		require.NoError(t, m.RecordOutcome(ctx, "jane", false))
	}
	clock.Advance(31 * time.Minute)

	// Counter is still at the maximum, so a further mismatch relocks right away.
	require.NoError(t, m.RecordOutcome(ctx, "jane", false))
	attempt, err := m.Status(ctx, "jane")
	require.NoError(t, err)
	require.Equal(t, 6, attempt.FailedAttemptCount)
	require.True(t, attempt.Locked(clock.Now()))
}

func TestRecordOutcomeSuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	m, _, observer := newTestMachine(t, NewMemoryRepository())

	require.NoError(t, m.RecordOutcome(ctx, "Jane", false))
	require.NoError(t, m.RecordOutcome(ctx, "jane ", false))
	require.NoError(t, m.RecordOutcome(ctx, "JANE", true))

	attempt, err := m.Status(ctx, "jane")
	require.NoError(t, err)
	require.Equal(t, "jane", attempt.Username)
	require.Zero(t, attempt.FailedAttemptCount)
	require.Equal(t, 2, observer.counts[OutcomeFailure])
	require.Equal(t, 1, observer.counts[OutcomeSuccess])
}

func TestUnlockUserClearsLock(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestMachine(t, NewMemoryRepository())

	for i := 0; i < 5; i++ {
		require.NoError(t, m.RecordOutcome(ctx, "jane", false))
	}
	require.NoError(t, m.UnlockUser(ctx, "jane"))
	require.NoError(t, m.RecordOutcome(ctx, "jane", true))

	require.NoError(t, m.UnlockUser(ctx, "never-seen"))
	attempt, err := m.Status(ctx, "never-seen")
	require.NoError(t, err)
	require.False(t, attempt.LoginAccessDenied)
}

func TestStatusDoesNotPersistUnknownUser(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	m, _, _ := newTestMachine(t, repo)

	attempt, err := m.Status(ctx, "ghost")
	require.NoError(t, err)
	require.Equal(t, "ghost", attempt.Username)
	require.Empty(t, repo.records)
}

func TestRecordOutcomeConcurrentFailuresAreCounted(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	m := NewMachine(repo, Config{MaxAttempts: 100, Clock: shared.SystemClock{}})

	const workers = 40
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.RecordOutcome(ctx, "jane", false)
		}()
	}
	wg.Wait()

	attempt, err := m.Status(ctx, "jane")
	require.NoError(t, err)
	require.Equal(t, workers, attempt.FailedAttemptCount)
}

func TestRecordOutcomeRejectsBlankUsername(t *testing.T) {
	m, _, _ := newTestMachine(t, NewMemoryRepository())
	require.ErrorIs(t, m.RecordOutcome(context.Background(), "  ", false), ErrEmptyUsername)
}

type failingRepo struct{}

func (failingRepo) WithAttempt(context.Context, string, func(context.Context, TxRepository) error) error {
	return errors.New("store offline")
}

func TestRecordOutcomeWrapsStoreFailure(t *testing.T) {
	m, _, _ := newTestMachine(t, failingRepo{})
	err := m.RecordOutcome(context.Background(), "jane", true)
	require.Error(t, err)
	require.NotErrorIs(t, err, shared.ErrLoginAccessDenied)
	require.Contains(t, err.Error(), "store offline")
}

func TestCheckAccessLeavesCounterUntouched(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	m, clock, observer := newTestMachine(t, repo)

	require.NoError(t, m.CheckAccess(ctx, "ghost"))
	require.Empty(t, repo.records)

	for i := 0; i < 2; i++ {
		require.NoError(t, m.RecordOutcome(ctx, "jane", false))
	}
	require.NoError(t, m.CheckAccess(ctx, "jane"))
	attempt, err := m.Status(ctx, "jane")
	require.NoError(t, err)
	require.Equal(t, 2, attempt.FailedAttemptCount)

	for i := 0; i < 3; i++ {
		require.NoError(t, m.RecordOutcome(ctx, "jane", false))
	}
	err = m.CheckAccess(ctx, "Jane")
	require.ErrorIs(t, err, shared.ErrLoginAccessDenied)
	require.Equal(t, 1, observer.counts[OutcomeDenied])

	clock.Advance(30 * time.Minute)
	require.NoError(t, m.CheckAccess(ctx, "jane"))
	attempt, err = m.Status(ctx, "jane")
	require.NoError(t, err)
	require.Equal(t, 5, attempt.FailedAttemptCount)
	require.True(t, attempt.LoginAccessDenied)
}
