package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestRetrySerializationRerunsAbortedTransactions(t *testing.T) {
	calls := 0
	err := retrySerialization(context.Background(), MaxSerializationAttempts, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("roles: save: %w", &pgconn.PgError{Code: "40001"})
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetrySerializationGivesUp(t *testing.T) {
	calls := 0
	err := retrySerialization(context.Background(), MaxSerializationAttempts, func() error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	require.True(t, IsSerializationFailure(err))
	require.Equal(t, MaxSerializationAttempts, calls)
}

func TestRetrySerializationStopsOnOtherErrors(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := retrySerialization(context.Background(), MaxSerializationAttempts, func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)

	calls = 0
	err = retrySerialization(context.Background(), MaxSerializationAttempts, func() error {
		calls++
		return &pgconn.PgError{Code: "23505"}
	})
	require.True(t, IsUniqueViolation(err))
	require.Equal(t, 1, calls)
}

func TestRetrySerializationHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retrySerialization(ctx, MaxSerializationAttempts, func() error {
		calls++
		cancel()
		return &pgconn.PgError{Code: "40001"}
	})
	require.True(t, IsSerializationFailure(err))
	require.Equal(t, 1, calls)
}
