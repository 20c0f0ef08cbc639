package settings

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/automata-backoffice/backoffice/internal/shared"
)

type memoryStore struct {
	mu     sync.Mutex
	values map[string]Setting
	lists  atomic.Int32
	finds  atomic.Int32
	gate   chan struct{}
}

func newMemoryStore(seed ...Setting) *memoryStore {
	s := &memoryStore{values: map[string]Setting{}}
	for _, st := range seed {
		s.values[st.Key] = st
	}
	return s
}

func (s *memoryStore) List(ctx context.Context) ([]Setting, error) {
	s.lists.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Setting, 0, len(s.values))
	for _, st := range s.values {
		out = append(out, st)
	}
	return out, nil
}

func (s *memoryStore) Find(ctx context.Context, key string) (Setting, error) {
	s.finds.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.values[key]
	if !ok {
		return Setting{}, shared.ErrNotFound
	}
	return st, nil
}

func (s *memoryStore) Upsert(ctx context.Context, st Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[st.Key] = st
	return nil
}

func (s *memoryStore) InsertMissing(ctx context.Context, list []Setting) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, st := range list {
		if _, ok := s.values[st.Key]; !ok {
			s.values[st.Key] = st
			added++
		}
	}
	return added, nil
}

func TestRender(t *testing.T) {
	require.Equal(t, "retry in 5 minutes", Render("retry in {} minutes", 5))
	require.Equal(t, "a x b y", Render("a {} b {}", "x", "y"))
	require.Equal(t, "a x b {}", Render("a {} b {}", "x"))
	require.Equal(t, "plain", Render("plain", "ignored"))
	require.Equal(t, "keep {}", Render("keep {}"))
}

func TestCacheReadThroughAndFormat(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(Setting{Key: "PE_001", Value: "this {} permission is not valid"})
	cache := NewCache(store, nil, nil)

	_, ok := cache.Format("PE_001", "x")
	require.False(t, ok)

	value, err := cache.Value(ctx, "PE_001")
	require.NoError(t, err)
	require.Equal(t, "this {} permission is not valid", value)
	_, err = cache.Value(ctx, "PE_001")
	require.NoError(t, err)
	require.Equal(t, int32(1), store.finds.Load())

	msg, ok := cache.Format("PE_001", "view-roles")
	require.True(t, ok)
	require.Equal(t, "this view-roles permission is not valid", msg)

	_, err = cache.Value(ctx, "missing")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCacheUpdateWritesThrough(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(Setting{Key: "LOG_002", Value: "old", Group: "AUTHENTICATION_ERROR_MESSAGE"})
	cache := NewCache(store, nil, nil)

	updated, err := cache.Update(ctx, "LOG_002", "new")
	require.NoError(t, err)
	require.Equal(t, "AUTHENTICATION_ERROR_MESSAGE", updated.Group)
	require.Equal(t, "new", store.values["LOG_002"].Value)

	msg, ok := cache.Format("LOG_002")
	require.True(t, ok)
	require.Equal(t, "new", msg)
}

func TestSeedKeepsCustomisedValues(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(Setting{Key: "LOG_002", Value: "customised"})
	cache := NewCache(store, nil, nil)

	m, err := DefaultMessages()
	require.NoError(t, err)
	added, err := cache.Seed(ctx, m)
	require.NoError(t, err)
	require.Equal(t, len(m.Settings)-1, added)

	msg, ok := cache.Format("LOG_002")
	require.True(t, ok)
	require.Equal(t, "customised", msg)
	msg, ok = cache.Format("LA_001", 12)
	require.True(t, ok)
	require.Contains(t, msg, "check back in 12 minutes")

	added, err = cache.Seed(ctx, m)
	require.NoError(t, err)
	require.Zero(t, added)
}

func TestDefaultMessagesCoverEveryKind(t *testing.T) {
	m, err := DefaultMessages()
	require.NoError(t, err)
	keys := map[string]bool{}
	for _, s := range m.Settings {
		keys[s.Key] = true
	}
	for _, kind := range []shared.Kind{
		shared.KindUnknownPermission, shared.KindMakerCheckerConflict, shared.KindPermissionsRequired,
		shared.KindRoleAlreadyExists, shared.KindInvalidRole, shared.KindSystemRoleNotUsable,
		shared.KindRoleAlreadyActive, shared.KindLoginAccessDenied, shared.KindPermissionNotInRole,
		shared.KindInvalidCredentials, shared.KindProfileNotFound, shared.KindProfileAlreadyActive,
		shared.KindProfileAlreadyDisabled,
	} {
		require.True(t, keys[kind.Code()], "missing message for %s", kind)
	}
}

func TestParseManifestRejectsDuplicates(t *testing.T) {
	_, err := ParseManifest([]byte("settings:\n  - key: A\n    value: x\n  - key: A\n    value: y\n"))
	require.ErrorContains(t, err, "duplicate key A")
	_, err = ParseManifest([]byte("settings:\n  - value: x\n"))
	require.ErrorContains(t, err, "has no key")
}

func TestReloadSharesConcurrentReads(t *testing.T) {
	store := newMemoryStore(Setting{Key: "A", Value: "1"})
	store.gate = make(chan struct{})
	cache := NewCache(store, nil, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- cache.Reload(context.Background())
		}()
	}
	require.Eventually(t, func() bool { return store.lists.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(store.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), store.lists.Load())
	_, ok := cache.Format("A")
	require.True(t, ok)
}

type failingStore struct{ *memoryStore }

func (f *failingStore) List(ctx context.Context) ([]Setting, error) {
	return nil, errors.New("db down")
}

func TestReloadWrapsStoreError(t *testing.T) {
	cache := NewCache(&failingStore{memoryStore: newMemoryStore()}, nil, nil)
	require.ErrorContains(t, cache.Reload(context.Background()), "settings: reload: db down")
}

func TestRedisNotifierRefreshesPeers(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemoryStore(Setting{Key: "LOG_002", Value: "old"})
	writer := NewCache(store, NewRedisNotifier(client, nil), nil)
	reader := NewCache(store, nil, nil)
	require.NoError(t, reader.Reload(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- NewRedisNotifier(client, nil).Listen(ctx, reader) }()
	require.Eventually(t, func() bool { return srv.PubSubNumSub(ChangeChannel)[ChangeChannel] == 1 }, time.Second, 5*time.Millisecond)

	_, err := writer.Update(context.Background(), "LOG_002", "new")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msg, ok := reader.Format("LOG_002")
		return ok && msg == "new"
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRefreshDropsDeletedKey(t *testing.T) {
	store := newMemoryStore(Setting{Key: "LOG_002", Value: "old"})
	cache := NewCache(store, nil, nil)
	require.NoError(t, cache.Reload(context.Background()))

	store.values["LOG_002"] = Setting{Key: "LOG_002", Value: "new"}
	require.NoError(t, cache.Refresh(context.Background(), "LOG_002"))
	msg, ok := cache.Format("LOG_002")
	require.True(t, ok)
	require.Equal(t, "new", msg)

	delete(store.values, "LOG_002")
	require.NoError(t, cache.Refresh(context.Background(), "LOG_002"))
	_, ok = cache.Format("LOG_002")
	require.False(t, ok)
}
