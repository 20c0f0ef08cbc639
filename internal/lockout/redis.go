package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/automata-backoffice/backoffice/internal/shared"
)

const defaultRedisRetries = 16

// ErrContention is returned when optimistic retries are exhausted.
var ErrContention = errors.New("lockout: attempt record contended")

// RedisRepository stores attempts as hashes and serialises updates with WATCH/MULTI.
type RedisRepository struct {
	client     redis.UniversalClient
	maxRetries int
}

// NewRedisRepository constructs a Redis backed repository.
func NewRedisRepository(client redis.UniversalClient) *RedisRepository {
	return &RedisRepository{client: client, maxRetries: defaultRedisRetries}
}

type redisTx struct {
	tx      *redis.Tx
	key     string
	pending *Attempt
}

// WithAttempt may run fn more than once when a concurrent writer wins the race.
func (r *RedisRepository) WithAttempt(ctx context.Context, username string, fn func(context.Context, TxRepository) error) error {
	key := shared.LoginAttemptKey(username)
	for i := 0; i < r.maxRetries; i++ {
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			view := &redisTx{tx: tx, key: key}
			if err := fn(ctx, view); err != nil {
				return err
			}
			if view.pending == nil {
				return nil
			}
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSet(ctx, key, encodeAttempt(*view.pending))
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrContention
}

func (t *redisTx) FindByUsername(ctx context.Context, username string) (Attempt, error) {
	fields, err := t.tx.HGetAll(ctx, t.key).Result()
	if err != nil {
		return Attempt{}, err
	}
	if len(fields) == 0 {
		return Attempt{}, shared.ErrNotFound
	}
	return decodeAttempt(username, fields)
}

func (t *redisTx) Save(_ context.Context, a Attempt) error {
	t.pending = &a
	return nil
}

func encodeAttempt(a Attempt) map[string]any {
	return map[string]any{
		"username":              a.Username,
		"failed_attempt_count":  a.FailedAttemptCount,
		"login_access_denied":   strconv.FormatBool(a.LoginAccessDenied),
		"automated_unlock_time": a.AutomatedUnlockTime.UTC().Format(time.RFC3339Nano),
		"updated_at":            a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func decodeAttempt(username string, fields map[string]string) (Attempt, error) {
	a := Attempt{Username: username}
	var err error
	if a.FailedAttemptCount, err = strconv.Atoi(fields["failed_attempt_count"]); err != nil {
		return Attempt{}, fmt.Errorf("decode failed_attempt_count: %w", err)
	}
	if a.LoginAccessDenied, err = strconv.ParseBool(fields["login_access_denied"]); err != nil {
		return Attempt{}, fmt.Errorf("decode login_access_denied: %w", err)
	}
	if a.AutomatedUnlockTime, err = time.Parse(time.RFC3339Nano, fields["automated_unlock_time"]); err != nil {
		return Attempt{}, fmt.Errorf("decode automated_unlock_time: %w", err)
	}
	if raw := fields["updated_at"]; raw != "" {
		if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return Attempt{}, fmt.Errorf("decode updated_at: %w", err)
		}
	}
	return a, nil
}

var (
	_ Repository   = (*RedisRepository)(nil)
	_ TxRepository = (*redisTx)(nil)
)
