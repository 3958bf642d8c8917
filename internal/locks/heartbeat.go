package locks

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultHeartbeatInterval is how often the daemon pings the lock session.
const DefaultHeartbeatInterval = 30 * time.Second

// HeartbeatDaemon periodically heartbeats a Postgres lock manager in the
// background so callers holding long locks do not have to heartbeat
// themselves. While the daemon runs, opportunistic Heartbeat calls on the
// manager become no-ops.
type HeartbeatDaemon struct {
	manager  *PostgresManager
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done sync.WaitGroup
}

// NewHeartbeatDaemon creates a daemon for manager. A non-positive
// interval falls back to DefaultHeartbeatInterval.
func NewHeartbeatDaemon(manager *PostgresManager, interval time.Duration) *HeartbeatDaemon {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &HeartbeatDaemon{manager: manager, interval: interval}
}

// Start launches the background loop. Starting a running daemon is a
// no-op.
func (d *HeartbeatDaemon) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return
	}
	d.stop = make(chan struct{})
	d.manager.setDaemon(true)
	d.done.Add(1)
	go d.run(d.stop)
	slog.Debug("lock heartbeat daemon started", "interval", d.interval)
}

// Stop halts the loop and waits for it to exit. Stopping a stopped daemon
// is a no-op.
func (d *HeartbeatDaemon) Stop() {
	d.mu.Lock()
	if d.stop == nil {
		d.mu.Unlock()
		return
	}
	close(d.stop)
	d.stop = nil
	d.mu.Unlock()

	d.done.Wait()
	d.manager.setDaemon(false)
	slog.Debug("lock heartbeat daemon stopped")
}

func (d *HeartbeatDaemon) run(stop chan struct{}) {
	defer d.done.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), d.interval)
			if err := d.manager.forceHeartbeat(ctx); err != nil {
				slog.Warn("lock heartbeat failed", "error", err)
			}
			cancel()
		}
	}
}
