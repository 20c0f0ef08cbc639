package lockout

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/automata-backoffice/backoffice/internal/platform/db"
	"github.com/automata-backoffice/backoffice/internal/shared"
)

// PGRepository stores attempts in the login_attempts table.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type pgTx struct {
	tx pgx.Tx
}

// WithAttempt holds a transaction-scoped advisory lock on the username so that first-time
// records are serialised as well as existing rows.
func (r *PGRepository) WithAttempt(ctx context.Context, username string, fn func(context.Context, TxRepository) error) error {
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, shared.LoginAttemptKey(username)); err != nil {
			return fmt.Errorf("lock %s: %w", username, err)
		}
		return fn(ctx, &pgTx{tx: tx})
	})
}

func (t *pgTx) FindByUsername(ctx context.Context, username string) (Attempt, error) {
	var a Attempt
	err := t.tx.QueryRow(ctx, `SELECT username, failed_attempt_count, login_access_denied, automated_unlock_time, updated_at
FROM login_attempts WHERE username = $1 FOR UPDATE`, username).
		Scan(&a.Username, &a.FailedAttemptCount, &a.LoginAccessDenied, &a.AutomatedUnlockTime, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Attempt{}, shared.ErrNotFound
		}
		return Attempt{}, err
	}
	return a, nil
}

func (t *pgTx) Save(ctx context.Context, a Attempt) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO login_attempts (username, failed_attempt_count, login_access_denied, automated_unlock_time, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (username) DO UPDATE SET
	failed_attempt_count = EXCLUDED.failed_attempt_count,
	login_access_denied = EXCLUDED.login_access_denied,
	automated_unlock_time = EXCLUDED.automated_unlock_time,
	updated_at = EXCLUDED.updated_at`,
		a.Username, a.FailedAttemptCount, a.LoginAccessDenied, a.AutomatedUnlockTime, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save attempt %s: %w", a.Username, err)
	}
	return nil
}

var (
	_ Repository   = (*PGRepository)(nil)
	_ TxRepository = (*pgTx)(nil)
)
