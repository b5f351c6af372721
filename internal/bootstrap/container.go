package bootstrap

import (
	"context"
	"sync"

	chclient "tradecore/internal/adapters/clickhouse"
	"tradecore/internal/adapters/config"
	"tradecore/internal/adapters/marketapi"
	pgclient "tradecore/internal/adapters/postgres"
	redisclient "tradecore/internal/adapters/redis"
	"tradecore/internal/adapters/telegram"
	"tradecore/internal/agent"
	"tradecore/internal/analyst"
	"tradecore/internal/api"
	"tradecore/internal/api/admin"
	"tradecore/internal/api/health"
	"tradecore/internal/audit"
	"tradecore/internal/bus"
	"tradecore/internal/domain/portfolio"
	"tradecore/internal/execution"
	"tradecore/internal/monitor"
	"tradecore/internal/notify"
	"tradecore/internal/orchestrator"
	chrepo "tradecore/internal/repository/clickhouse"
	"tradecore/internal/risk"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

// Container holds all application dependencies and their lifecycle.
// Components are organized in initialization order.
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure Layer (optional data stores, nil when disabled)
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	Stores   *Stores
	Adapters *Adapters
	Agents   *Agents

	// Application Layer
	Application *Application

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Stores groups the persistence the core reads and writes
type Stores struct {
	Snapshots  portfolio.SnapshotStore
	KillSwitch risk.KillSwitchStore // nil keeps the kill switch in memory only
	Peaks      risk.PeakStore
	Audit      *audit.Log
	// EventArchive is nil unless ClickHouse and the archive are enabled
	EventArchive *chrepo.MonitorEventArchive
}

// Adapters groups transport and external collaborators
type Adapters struct {
	Bus         *bus.Bus
	Market      *marketapi.Client
	Regime      risk.RegimeProvider
	TelegramBot *telegram.Bot // nil when Telegram is disabled
}

// Agents groups the long-running agents and the bus handlers around them
type Agents struct {
	Registry     *agent.Registry
	Orchestrator *orchestrator.Orchestrator
	Risk         *risk.Manager
	Monitor      *monitor.Monitor
	Analyst      *analyst.TechnicalAnalyst // nil unless enabled
	Bridge       *execution.Bridge
	Notifier     *notify.AlertNotifier
}

// Application groups the HTTP surface
type Application struct {
	HTTPServer    *api.Server
	HealthHandler *health.Handler
	AdminHandler  *admin.Handler
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Stores:      &Stores{},
		Adapters:    &Adapters{},
		Agents:      &Agents{Registry: agent.NewRegistry()},
		Application: &Application{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in the correct order.
// Panics on any initialization error (fail-fast at startup).
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitStores()
	c.MustInitAdapters()
	c.MustInitAgents()
	c.MustInitApplication()
}

// Start wires bus handlers, starts agents and the bus, then the HTTP server.
// Agents subscribe during setup, so they start before the bus dispatches.
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	if err := c.Agents.Bridge.Register(c.Context); err != nil {
		return errors.Wrap(err, "failed to register execution bridge")
	}
	if err := c.Agents.Notifier.Register(c.Context); err != nil {
		return errors.Wrap(err, "failed to register alert notifier")
	}

	for _, a := range c.Agents.Registry.List() {
		if err := a.Start(c.Context); err != nil {
			return errors.Wrapf(err, "failed to start agent %s", a.Name())
		}
	}
	c.Log.Infow("✓ Agents started", "agents", c.Agents.Registry.Count())

	if err := c.Adapters.Bus.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start message bus")
	}
	c.Log.Infow("✓ Message bus started", "backend", c.Config.Bus.Backend, "topics", c.Adapters.Bus.Topics())

	if c.Stores.EventArchive != nil {
		c.Stores.EventArchive.Start(c.Context)
		c.Log.Info("✓ Monitor event archive started")
	}

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel() // Trigger shutdown on fatal HTTP error
		}
	}()

	c.Log.Info("✓ All systems operational")
	return nil
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	// Cancel application context to signal all other components to stop
	c.Cancel()

	c.Lifecycle.Shutdown(
		c.WG,
		c.Application.HTTPServer,
		c.Agents.Registry,
		c.Adapters.Bus,
		c.Stores.EventArchive,
		c.PG,
		c.CH,
		c.Redis,
		c.ErrorTracker,
		c.Log,
	)
}
