package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/automata-backoffice/backoffice/internal/shared"
)

// Notifier broadcasts setting changes to other processes.
type Notifier interface {
	Publish(ctx context.Context, key string) error
}

// Cache is a read-through, write-through view of the settings store.
type Cache struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger

	mu     sync.RWMutex
	values map[string]Setting
	reload singleflight.Group
}

// NewCache constructs an empty cache. notifier may be nil.
func NewCache(store Store, notifier Notifier, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{store: store, notifier: notifier, logger: logger, values: map[string]Setting{}}
}

// Reload replaces the cache contents with the store's. Concurrent calls share one store read.
func (c *Cache) Reload(ctx context.Context) error {
	_, err, _ := c.reload.Do("all", func() (any, error) {
		list, err := c.store.List(ctx)
		if err != nil {
			return nil, err
		}
		values := make(map[string]Setting, len(list))
		for _, s := range list {
			values[s.Key] = s
		}
		c.mu.Lock()
		c.values = values
		c.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("settings: reload: %w", err)
	}
	return nil
}

// Value returns the value for key, loading it from the store on a miss.
func (c *Cache) Value(ctx context.Context, key string) (string, error) {
	if s, ok := c.cached(key); ok {
		return s.Value, nil
	}
	s, err := c.store.Find(ctx, key)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return "", err
		}
		return "", fmt.Errorf("settings: find %s: %w", key, err)
	}
	c.put(s)
	return s.Value, nil
}

// Format renders the cached template under key, replacing each {} with the next argument.
// It never touches the store.
func (c *Cache) Format(key string, args ...any) (string, bool) {
	s, ok := c.cached(key)
	if !ok {
		return "", false
	}
	return Render(s.Value, args...), true
}

// Update writes value through to the store.
func (c *Cache) Update(ctx context.Context, key, value string) (Setting, error) {
	s, err := c.store.Find(ctx, key)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			return Setting{}, fmt.Errorf("settings: find %s: %w", key, err)
		}
		s = Setting{Key: key}
	}
	s.Value = value
	if err := c.store.Upsert(ctx, s); err != nil {
		return Setting{}, fmt.Errorf("settings: update %s: %w", key, err)
	}
	c.put(s)
	c.logger.Info("setting updated", slog.String("key", key), slog.String("actor", shared.ActorFromContext(ctx)))
	if c.notifier != nil {
		if err := c.notifier.Publish(ctx, key); err != nil {
			c.logger.Warn("publish setting change", slog.String("key", key), slog.Any("error", err))
		}
	}
	return s, nil
}

// Seed inserts defaults whose key is absent, then reloads. Customised values are kept.
func (c *Cache) Seed(ctx context.Context, m Manifest) (int, error) {
	added, err := c.store.InsertMissing(ctx, m.Settings)
	if err != nil {
		return 0, fmt.Errorf("settings: seed: %w", err)
	}
	if err := c.Reload(ctx); err != nil {
		return added, err
	}
	return added, nil
}

// Refresh re-reads key from the store so Format serves the stored value.
// A key missing from the store is dropped.
func (c *Cache) Refresh(ctx context.Context, key string) error {
	s, err := c.store.Find(ctx, key)
	if err != nil {
		c.Invalidate(key)
		if errors.Is(err, shared.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("settings: refresh %s: %w", key, err)
	}
	c.put(s)
	return nil
}

// Invalidate drops key so the next Value call reads the store.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.values, key)
	c.mu.Unlock()
}

func (c *Cache) cached(key string) (Setting, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.values[key]
	return s, ok
}

func (c *Cache) put(s Setting) {
	c.mu.Lock()
	c.values[s.Key] = s
	c.mu.Unlock()
}

// Render replaces {} placeholders in order. Surplus placeholders are left as is.
func Render(template string, args ...any) string {
	if len(args) == 0 {
		return template
	}
	var b strings.Builder
	rest := template
	for _, arg := range args {
		idx := strings.Index(rest, "{}")
		if idx < 0 {
			break
		}
		b.WriteString(rest[:idx])
		fmt.Fprint(&b, arg)
		rest = rest[idx+2:]
	}
	b.WriteString(rest)
	return b.String()
}
