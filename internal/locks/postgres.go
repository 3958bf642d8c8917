package locks

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/khushal/pgstore/internal/storage"
)

// heartbeatMinInterval rate limits opportunistic heartbeats so hot loops
// calling Heartbeat do not flood the session.
const heartbeatMinInterval = 30 * time.Second

// sessionConn is the slice of pgx.Conn the manager needs. Narrowed so
// tests can substitute a fake session.
type sessionConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	IsClosed() bool
	Close(ctx context.Context) error
}

// PostgresManager holds advisory locks on one dedicated session. Advisory
// locks are session scoped, so the connection is hijacked out of the pool
// rather than released back between calls, and closed once no locks
// remain.
type PostgresManager struct {
	dial func(ctx context.Context) (sessionConn, error)

	mu        sync.Mutex
	conn      sessionConn
	held      map[string]int64
	lastBeat  time.Time
	daemonRun bool
}

// NewPostgresManager creates a manager dialing sessions from pool.
func NewPostgresManager(pool *storage.Pool) *PostgresManager {
	return &PostgresManager{
		dial: func(ctx context.Context) (sessionConn, error) {
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			return conn.Hijack(), nil
		},
		held: make(map[string]int64),
	}
}

// lockKey derives the advisory lock key for a name: the first eight bytes
// of the name's md5 digest read as a big-endian signed integer.
func lockKey(name string) int64 {
	sum := md5.Sum([]byte(name))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// Acquire blocks until the named lock is granted.
func (m *PostgresManager) Acquire(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lockKey(name)
	conn, err := m.sessionLocked(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock(@key)", pgx.NamedArgs{"key": key}); err != nil {
		m.closeIfIdleLocked(ctx)
		return fmt.Errorf("acquire lock %q: %w", name, err)
	}
	m.held[name] = key
	slog.Debug("acquired advisory lock", "name", name, "key", key)
	return nil
}

// TryAcquire attempts the named lock without blocking and reports whether
// it was granted.
func (m *PostgresManager) TryAcquire(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lockKey(name)
	conn, err := m.sessionLocked(ctx)
	if err != nil {
		return false, err
	}
	var granted bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock(@key)", pgx.NamedArgs{"key": key}).Scan(&granted); err != nil {
		m.closeIfIdleLocked(ctx)
		return false, fmt.Errorf("try lock %q: %w", name, err)
	}
	if !granted {
		// Do not keep an idle session open for a lock we did not get.
		m.closeIfIdleLocked(ctx)
		return false, nil
	}
	m.held[name] = key
	slog.Debug("acquired advisory lock", "name", name, "key", key)
	return true, nil
}

// Release drops the named lock and closes the session when no other locks
// remain on it.
func (m *PostgresManager) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, ok := m.held[name]
	if !ok {
		return fmt.Errorf("release lock %q: not held", name)
	}
	if m.conn == nil || m.conn.IsClosed() {
		// The session died taking the lock with it; nothing to unlock.
		delete(m.held, name)
		return nil
	}
	var released bool
	if err := m.conn.QueryRow(ctx, "SELECT pg_advisory_unlock(@key)", pgx.NamedArgs{"key": key}).Scan(&released); err != nil {
		return fmt.Errorf("release lock %q: %w", name, err)
	}
	delete(m.held, name)
	if !released {
		slog.Warn("advisory unlock reported no lock held", "name", name, "key", key)
	}
	m.closeIfIdleLocked(ctx)
	return nil
}

// Heartbeat pings the lock session so idle-session reaping cannot drop
// held locks mid-critical-section. Calls inside the rate-limit window,
// with no open session, or while the heartbeat daemon runs are no-ops.
func (m *PostgresManager) Heartbeat(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.daemonRun {
		return nil
	}
	if time.Since(m.lastBeat) < heartbeatMinInterval {
		return nil
	}
	return m.beatLocked(ctx)
}

func (m *PostgresManager) beatLocked(ctx context.Context) error {
	if m.conn == nil || m.conn.IsClosed() {
		return nil
	}
	if _, err := m.conn.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("lock heartbeat: %w", err)
	}
	m.lastBeat = time.Now()
	return nil
}

// Close drops the session. Locks still held are reported and released
// server-side with the session.
func (m *PostgresManager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.held) > 0 {
		slog.Warn("closing lock session with locks still held", "count", len(m.held))
		clear(m.held)
	}
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close(ctx)
	m.conn = nil
	return err
}

// sessionLocked returns the live session, dialing a fresh one when none
// exists or the previous one died. A dead session means every previously
// held lock is gone, so the held set is reset.
func (m *PostgresManager) sessionLocked(ctx context.Context) (sessionConn, error) {
	if m.conn != nil && !m.conn.IsClosed() {
		return m.conn, nil
	}
	if m.conn != nil && len(m.held) > 0 {
		slog.Warn("lock session died, previously held locks were released", "count", len(m.held))
		clear(m.held)
	}
	conn, err := m.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial lock session: %w", err)
	}
	m.conn = conn
	return conn, nil
}

func (m *PostgresManager) closeIfIdleLocked(ctx context.Context) {
	if len(m.held) > 0 || m.conn == nil {
		return
	}
	if err := m.conn.Close(ctx); err != nil {
		slog.Warn("closing idle lock session", "error", err)
	}
	m.conn = nil
}

func (m *PostgresManager) setDaemon(running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daemonRun = running
}

// forceHeartbeat bypasses the rate limit; used by the heartbeat daemon.
func (m *PostgresManager) forceHeartbeat(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beatLocked(ctx)
}
