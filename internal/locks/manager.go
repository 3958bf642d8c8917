// Package locks provides named distributed locks. The Postgres manager
// maps lock names onto session-scoped advisory locks held on a dedicated
// connection; the memory manager covers tests and database-less runs.
package locks

import (
	"context"

	"github.com/khushal/pgstore/internal/storage"
)

// Manager acquires and releases named locks. Acquire blocks until the
// lock is granted or the context ends; TryAcquire returns immediately.
// Locks are not reentrant: acquiring a name already held by this manager
// is caller misuse.
type Manager interface {
	Acquire(ctx context.Context, name string) error
	TryAcquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error

	// Heartbeat keeps the lock session alive. Callers on long critical
	// sections invoke it opportunistically; it is rate limited and cheap
	// to call often.
	Heartbeat(ctx context.Context) error

	// Close releases the underlying session. Any locks still held are
	// dropped by the server when the session ends.
	Close(ctx context.Context) error
}

// New returns a Postgres-backed manager when a pool is configured and an
// in-memory manager otherwise.
func New(pool *storage.Pool) Manager {
	if pool == nil {
		return NewMemoryManager()
	}
	return NewPostgresManager(pool)
}
