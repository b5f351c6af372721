package bootstrap

import (
	"context"
	"sync"
	"time"

	chclient "tradecore/internal/adapters/clickhouse"
	pgclient "tradecore/internal/adapters/postgres"
	redisclient "tradecore/internal/adapters/redis"
	"tradecore/internal/agent"
	"tradecore/internal/api"
	"tradecore/internal/bus"
	chrepo "tradecore/internal/repository/clickhouse"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 60 * time.Second,
	}
}

// Shutdown performs coordinated cleanup of all components in the correct order:
// 1. No new HTTP requests accepted
// 2. Agents stop in reverse start order, so producers stop before consumers
// 3. The bus stops dispatching and closes its transport
// 4. Buffered monitor events are flushed
// 5. Logs and errors flushed
// 6. Database connections last (other components may need them)
func (l *Lifecycle) Shutdown(
	wg *sync.WaitGroup,
	httpServer *api.Server,
	agents *agent.Registry,
	messageBus *bus.Bus,
	eventArchive *chrepo.MonitorEventArchive,
	pgClient *pgclient.Client,
	chClient *chclient.Client,
	redisClient *redisclient.Client,
	errorTracker errors.Tracker,
	log *logger.Logger,
) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	// ========================================
	// Step 1: Stop HTTP Server (5s timeout)
	// ========================================
	log.Info("[1/8] Stopping HTTP server...")
	if httpServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		if err := httpServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		} else {
			log.Info("✓ HTTP server stopped")
		}
		httpCancel()
	}

	// ========================================
	// Step 2: Stop Agents
	// ========================================
	log.Info("[2/8] Stopping agents...")
	l.stopAgents(agents, log)

	// ========================================
	// Step 3: Stop Message Bus
	// ========================================
	log.Info("[3/8] Stopping message bus...")
	if messageBus != nil {
		busCtx, busCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		if err := messageBus.Stop(busCtx); err != nil {
			log.Errorw("Message bus shutdown failed", "error", err)
		} else {
			log.Info("✓ Message bus stopped")
		}
		busCancel()
	}

	// ========================================
	// Step 4: Flush Monitor Event Archive
	// ========================================
	log.Info("[4/8] Flushing monitor event archive...")
	if eventArchive != nil {
		archiveCtx, archiveCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		if err := eventArchive.Stop(archiveCtx); err != nil {
			log.Errorw("Monitor event archive flush failed", "error", err)
		} else {
			log.Info("✓ Monitor event archive flushed")
		}
		archiveCancel()
	}

	// ========================================
	// Step 5: Wait for Goroutines
	// ========================================
	log.Info("[5/8] Waiting for background goroutines...")
	l.waitForGoroutines(wg, 5*time.Second, log)

	// ========================================
	// Step 6: Flush Error Tracker
	// ========================================
	log.Info("[6/8] Flushing error tracker...")
	l.flushErrorTracker(shutdownCtx, errorTracker, log)

	// ========================================
	// Step 7: Sync Logs
	// ========================================
	log.Info("[7/8] Syncing logs...")
	if err := logger.Sync(); err != nil {
		log.Warn("Log sync completed with warnings")
	} else {
		log.Info("✓ Logs synced")
	}

	// ========================================
	// Step 8: Close Database Connections
	// LAST - other components may need them during shutdown
	// ========================================
	log.Info("[8/8] Closing database connections...")
	l.closeDatabases(pgClient, chClient, redisClient, log)

	log.Info("✅ Graceful shutdown complete")
}

// stopAgents stops agents in reverse registration order. Each Stop is bounded
// by the agent's own grace period.
func (l *Lifecycle) stopAgents(agents *agent.Registry, log *logger.Logger) {
	if agents == nil {
		return
	}
	list := agents.List()
	for i := len(list) - 1; i >= 0; i-- {
		a := list[i]
		if err := a.Stop(); err != nil {
			log.Errorw("Agent stop failed", "agent", a.Name(), "error", err)
			continue
		}
		log.Infow("✓ Agent stopped", "agent", a.Name())
	}
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		log.Warnw("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

// flushErrorTracker flushes the error tracker (Sentry, etc.)
func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	} else {
		log.Info("✓ Error tracker flushed")
	}
}

// closeDatabases closes all database connections
func (l *Lifecycle) closeDatabases(
	pgClient *pgclient.Client,
	chClient *chclient.Client,
	redisClient *redisclient.Client,
	log *logger.Logger,
) {
	var errs errors.MultiError

	if pgClient != nil {
		if err := pgClient.Close(); err != nil {
			errs.Add(errors.Wrap(err, "postgres"))
		}
	}

	if chClient != nil {
		if err := chClient.Close(); err != nil {
			errs.Add(errors.Wrap(err, "clickhouse"))
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			errs.Add(errors.Wrap(err, "redis"))
		}
	}

	if err := errs.ToError(); err != nil {
		log.Errorw("Database close errors", "error", err)
	} else {
		log.Info("✓ Database connections closed")
	}
}
