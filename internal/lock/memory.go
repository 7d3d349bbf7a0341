package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryManager is an in-process Manager backed by a mutex-guarded
// map. It is used by single-process deployments and tests; it does
// not coordinate across hosts.
type MemoryManager struct {
	mu   sync.Mutex
	held map[string]memoryLease
}

type memoryLease struct {
	token   string
	expires time.Time
}

// NewMemory constructs an empty MemoryManager.
func NewMemory() *MemoryManager {
	return &MemoryManager{held: make(map[string]memoryLease)}
}

// TryAcquire implements Manager.
func (m *MemoryManager) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if existing, ok := m.held[key]; ok && now.Before(existing.expires) {
		return nil, ErrNotAcquired
	}

	token := uuid.NewString()
	expires := now.Add(ttl)
	m.held[key] = memoryLease{token: token, expires: expires}

	return &Lease{
		Key:     key,
		Token:   token,
		expires: expires,
		release: m.release,
	}, nil
}

func (m *MemoryManager) release(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.held[key]
	if !ok || existing.token != token {
		return ErrNotHeld
	}
	delete(m.held, key)
	return nil
}
