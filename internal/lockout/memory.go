package lockout

import (
	"context"
	"sync"

	"github.com/automata-backoffice/backoffice/internal/shared"
)

// MemoryRepository keeps attempts in process. Useful for tests and single-node deployments.
type MemoryRepository struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	records map[string]Attempt
}

// NewMemoryRepository constructs an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{locks: map[string]*sync.Mutex{}, records: map[string]Attempt{}}
}

type memoryTx struct {
	repo    *MemoryRepository
	pending *Attempt
}

func (r *MemoryRepository) keyLock(username string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[username]
	if !ok {
		l = &sync.Mutex{}
		r.locks[username] = l
	}
	return l
}

// WithAttempt serialises callers per username.
func (r *MemoryRepository) WithAttempt(ctx context.Context, username string, fn func(context.Context, TxRepository) error) error {
	l := r.keyLock(username)
	l.Lock()
	defer l.Unlock()

	tx := &memoryTx{repo: r}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if tx.pending != nil {
		r.mu.Lock()
		r.records[tx.pending.Username] = *tx.pending
		r.mu.Unlock()
	}
	return nil
}

func (t *memoryTx) FindByUsername(_ context.Context, username string) (Attempt, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	a, ok := t.repo.records[username]
	if !ok {
		return Attempt{}, shared.ErrNotFound
	}
	return a, nil
}

func (t *memoryTx) Save(_ context.Context, a Attempt) error {
	t.pending = &a
	return nil
}

var (
	_ Repository   = (*MemoryRepository)(nil)
	_ TxRepository = (*memoryTx)(nil)
)
