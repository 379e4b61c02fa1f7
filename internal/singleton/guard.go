// Package singleton guards against two processes scheduling from the
// same database.
//
// A single Postgres session-scoped advisory lock marks the active
// scheduler. The lock is held for the lifetime of a dedicated database
// connection; there is no renewal or TTL. If the connection dies,
// Postgres releases the lock server-side (timing depends on TCP
// keepalive settings).
//
// The heartbeat ping exists solely to detect local connection death so
// the guard can stop duties promptly. It does NOT renew the lock.
package singleton

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"
)

// Guard acquires and holds a Postgres advisory lock.
type Guard struct {
	db                *sql.DB
	lockKey           int64
	retryInterval     time.Duration // waiter: how often to attempt lock acquisition
	heartbeatInterval time.Duration // holder: how often to ping the dedicated connection
	onAcquired        func(ctx context.Context)
	onLost            func()
	logger            zerolog.Logger
}

// New creates a Guard.
//
// onAcquired is called in a new goroutine when this process takes the
// lock. The provided context is cancelled when the lock is lost.
// onAcquired should start scheduling duties (engine, reconciler) and
// return quickly.
//
// onLost is called synchronously when the lock is lost. It should stop
// duties and block until they are fully stopped. It must be idempotent.
func New(
	db *sql.DB,
	lockKey int64,
	retryInterval, heartbeatInterval time.Duration,
	onAcquired func(ctx context.Context),
	onLost func(),
	logger zerolog.Logger,
) *Guard {
	return &Guard{
		db:                db,
		lockKey:           lockKey,
		retryInterval:     retryInterval,
		heartbeatInterval: heartbeatInterval,
		onAcquired:        onAcquired,
		onLost:            onLost,
		logger:            logger.With().Str("component", "singleton").Logger(),
	}
}

// Run starts the acquisition loop. It blocks until ctx is cancelled.
func (g *Guard) Run(ctx context.Context) {
	g.logger.Info().Int64("lock_key", g.lockKey).
		Dur("retry", g.retryInterval).Dur("heartbeat", g.heartbeatInterval).
		Msg("starting singleton guard")

	for {
		if ctx.Err() != nil {
			g.logger.Info().Msg("singleton guard stopped")
			return
		}

		reason := g.runOnce(ctx)

		if ctx.Err() != nil {
			g.logger.Info().Msg("singleton guard stopped")
			return
		}

		if reason != "" {
			g.logger.Warn().Str("reason", reason).Dur("retry", g.retryInterval).
				Msg("lost scheduler lock, will retry")
		}

		select {
		case <-ctx.Done():
			g.logger.Info().Msg("singleton guard stopped")
			return
		case <-time.After(g.retryInterval):
		}
	}
}

// runOnce attempts to acquire the advisory lock and hold it.
// Returns the reason the lock was lost ("" if it was never acquired).
func (g *Guard) runOnce(ctx context.Context) string {
	// Advisory lock is session-scoped: must use a dedicated connection.
	conn, err := g.db.Conn(ctx)
	if err != nil {
		g.logger.Error().Err(err).Msg("failed to acquire dedicated connection")
		return ""
	}
	defer conn.Close()

	// Non-blocking lock attempt.
	var acquired bool
	err = conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", g.lockKey).Scan(&acquired)
	if err != nil {
		g.logger.Error().Err(err).Msg("advisory lock query failed")
		return ""
	}
	if !acquired {
		g.logger.Debug().Int64("lock_key", g.lockKey).
			Msg("scheduler lock held elsewhere, waiting")
		return ""
	}

	g.logger.Info().Int64("lock_key", g.lockKey).Msg("acquired scheduler lock")

	holderCtx, cancelHolder := context.WithCancel(ctx)

	go g.onAcquired(holderCtx)

	// Ping detects local connection death; it does NOT renew the lock.
	reason := g.holdLock(ctx, conn)

	cancelHolder()
	g.onLost()

	g.logger.Info().Int64("lock_key", g.lockKey).Msg("released scheduler lock")
	return reason
}

// holdLock blocks while pinging the dedicated connection.
// Returns the reason the lock was lost.
func (g *Guard) holdLock(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(g.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case <-ticker.C:
			if err := conn.PingContext(ctx); err != nil {
				if ctx.Err() != nil {
					return "shutdown"
				}
				g.logger.Error().Err(err).Msg("dedicated connection ping failed")
				return "conn_lost"
			}
		}
	}
}
