package locks

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const memoryPollInterval = 10 * time.Millisecond

// MemoryManager implements Manager over an in-process set. Mutual
// exclusion only holds within one process; it exists for tests and
// database-less runs.
type MemoryManager struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{held: make(map[string]struct{})}
}

// Acquire polls until the named lock frees up or the context ends.
func (m *MemoryManager) Acquire(ctx context.Context, name string) error {
	for {
		ok, err := m.TryAcquire(ctx, name)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire lock %q: %w", name, ctx.Err())
		case <-time.After(memoryPollInterval):
		}
	}
}

func (m *MemoryManager) TryAcquire(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.held[name]; taken {
		return false, nil
	}
	m.held[name] = struct{}{}
	return true, nil
}

func (m *MemoryManager) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.held[name]; !taken {
		return fmt.Errorf("release lock %q: not held", name)
	}
	delete(m.held, name)
	return nil
}

// Heartbeat is a no-op; there is no session to keep alive.
func (m *MemoryManager) Heartbeat(ctx context.Context) error { return nil }

// Close drops every held lock.
func (m *MemoryManager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.held)
	return nil
}
