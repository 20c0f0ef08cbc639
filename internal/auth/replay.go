package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/automata-backoffice/backoffice/internal/shared"
)

// ReplayGuard makes pending tokens single-use.
type ReplayGuard interface {
	// Consume marks id spent until expires. A second call for the same id fails with ErrInvalidToken.
	Consume(ctx context.Context, id string, expires time.Time) error
}

// RedisReplayGuard records spent token ids with SET NX so every process sees them.
type RedisReplayGuard struct {
	client redis.UniversalClient
	clock  shared.Clock
}

// NewRedisReplayGuard constructs a RedisReplayGuard.
func NewRedisReplayGuard(client redis.UniversalClient, clock shared.Clock) *RedisReplayGuard {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &RedisReplayGuard{client: client, clock: clock}
}

// Consume implements ReplayGuard.
func (g *RedisReplayGuard) Consume(ctx context.Context, id string, expires time.Time) error {
	ttl := expires.Sub(g.clock.Now())
	if ttl <= 0 {
		return fmt.Errorf("%w: pending token expired", ErrInvalidToken)
	}
	ok, err := g.client.SetNX(ctx, shared.PendingTokenKey(id), 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("auth: consume pending token: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: pending token already used", ErrInvalidToken)
	}
	return nil
}

// MemoryReplayGuard keeps spent token ids in process memory.
type MemoryReplayGuard struct {
	clock shared.Clock

	mu   sync.Mutex
	used map[string]time.Time
}

// NewMemoryReplayGuard constructs a MemoryReplayGuard.
func NewMemoryReplayGuard(clock shared.Clock) *MemoryReplayGuard {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &MemoryReplayGuard{clock: clock, used: map[string]time.Time{}}
}

// Consume implements ReplayGuard. Expired entries are pruned on each call.
func (g *MemoryReplayGuard) Consume(ctx context.Context, id string, expires time.Time) error {
	now := g.clock.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	for key, until := range g.used {
		if !now.Before(until) {
			delete(g.used, key)
		}
	}
	if _, spent := g.used[id]; spent {
		return fmt.Errorf("%w: pending token already used", ErrInvalidToken)
	}
	g.used[id] = expires
	return nil
}

var (
	_ ReplayGuard = (*RedisReplayGuard)(nil)
	_ ReplayGuard = (*MemoryReplayGuard)(nil)
)
