package settings

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// ChangeChannel is the Redis channel carrying changed setting keys.
const ChangeChannel = "backoffice:settings:changed"

// RedisNotifier fans setting changes out over Redis pub/sub.
type RedisNotifier struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisNotifier constructs a notifier.
func NewRedisNotifier(client redis.UniversalClient, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{client: client, logger: logger}
}

// Publish announces that key changed.
func (n *RedisNotifier) Publish(ctx context.Context, key string) error {
	return n.client.Publish(ctx, ChangeChannel, key).Err()
}

// Listen refreshes keys announced by other processes until ctx is done.
func (n *RedisNotifier) Listen(ctx context.Context, cache *Cache) error {
	sub := n.client.Subscribe(ctx, ChangeChannel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if err := cache.Refresh(ctx, msg.Payload); err != nil {
				n.logger.Warn("refresh setting", slog.String("key", msg.Payload), slog.Any("error", err))
				continue
			}
			n.logger.Debug("setting refreshed", slog.String("key", msg.Payload))
		}
	}
}

var _ Notifier = (*RedisNotifier)(nil)
