package bootstrap

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	chclient "tradecore/internal/adapters/clickhouse"
	"tradecore/internal/adapters/config"
	errnoop "tradecore/internal/adapters/errors/noop"
	"tradecore/internal/adapters/errors/sentry"
	"tradecore/internal/adapters/kafka"
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
	"tradecore/internal/cache"
	domain "tradecore/internal/domain/audit"
	"tradecore/internal/domain/portfolio"
	"tradecore/internal/execution"
	"tradecore/internal/metrics"
	"tradecore/internal/monitor"
	"tradecore/internal/notify"
	"tradecore/internal/orchestrator"
	chrepo "tradecore/internal/repository/clickhouse"
	pgrepo "tradecore/internal/repository/postgres"
	redisrepo "tradecore/internal/repository/redis"
	"tradecore/internal/risk"
	"tradecore/pkg/auth"
	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

const schemaTimeout = 10 * time.Second

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s %s in %s mode", cfg.App.Name, cfg.App.Version, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)

	metrics.Init()
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure connects the data stores that are enabled
func (c *Container) MustInitInfrastructure() {
	var err error

	if c.Config.Postgres.Enabled {
		c.Log.Info("Connecting to PostgreSQL...")
		c.PG, err = pgclient.NewClient(c.Config.Postgres)
		if err != nil {
			c.Log.Fatalf("failed to connect postgres: %v", err)
		}
		c.Log.Info("✓ PostgreSQL connected")
	}

	if c.Config.ClickHouse.Enabled {
		c.Log.Info("Connecting to ClickHouse...")
		c.CH, err = chclient.NewClient(c.Config.ClickHouse)
		if err != nil {
			c.Log.Fatalf("failed to connect clickhouse: %v", err)
		}
		c.Log.Info("✓ ClickHouse connected")
	}

	if c.Config.Redis.Enabled {
		c.Log.Info("Connecting to Redis...")
		c.Redis, err = redisclient.NewClient(c.Config.Redis)
		if err != nil {
			c.Log.Fatalf("failed to connect redis: %v", err)
		}
		c.Log.Info("✓ Redis connected")
	}
}

// ========================================
// Phase 3: Stores
// ========================================

// MustInitStores picks a backend for each store from the connected infrastructure
func (c *Container) MustInitStores() {
	ctx, cancel := context.WithTimeout(c.Context, schemaTimeout)
	defer cancel()

	if c.Redis != nil {
		c.Stores.Snapshots = redisrepo.NewPortfolioRepository(c.Redis.Client())
		ks := redisrepo.NewKillSwitchRepository(c.Redis.Client())
		c.Stores.KillSwitch = ks
		c.Stores.Peaks = ks
		c.Log.Info("✓ Portfolio snapshots and kill switch backed by Redis")
	} else {
		c.Stores.Snapshots = portfolio.NewStaticStore(c.Config.Portfolio.InitialCapital)
		c.Log.Warnw("Redis disabled: using in-process portfolio snapshot, kill switch is not persisted",
			"initial_capital", c.Config.Portfolio.InitialCapital,
		)
	}

	var auditStore domain.Store
	if c.PG != nil {
		repo := pgrepo.NewAuditRepository(c.PG.DB())
		if err := repo.EnsureSchema(ctx); err != nil {
			c.Log.Fatalf("failed to prepare audit schema: %v", err)
		}
		auditStore = repo
		c.Log.Info("✓ Decision audit persisted to PostgreSQL")
	}
	c.Stores.Audit = audit.NewLog(c.Config.Agents.AuditCapacity, auditStore)

	if c.CH != nil && c.Config.Monitor.ArchiveEnabled {
		archive := chrepo.NewMonitorEventArchive(c.CH.Conn(), chrepo.ArchiveConfig{
			BatchSize:     c.Config.ClickHouse.BatchSize,
			FlushInterval: c.Config.ClickHouse.FlushInterval,
		})
		if err := archive.EnsureSchema(ctx); err != nil {
			c.Log.Fatalf("failed to prepare monitor event schema: %v", err)
		}
		c.Stores.EventArchive = archive
		c.Log.Info("✓ Monitor events archived to ClickHouse")
	}
}

// ========================================
// Phase 4: External Adapters
// ========================================

// MustInitAdapters builds the message bus, the market services client and Telegram
func (c *Container) MustInitAdapters() {
	c.Adapters.Bus = bus.New(provideTransport(c.Config, c.Log), bus.DefaultCodec(), c.Log)

	c.Adapters.Market = marketapi.NewClient(marketapi.Config{
		BaseURL:           c.Config.MarketAPI.BaseURL,
		APIKey:            c.Config.MarketAPI.APIKey,
		Timeout:           c.Config.MarketAPI.Timeout,
		RequestsPerMinute: c.Config.MarketAPI.RequestsPerMinute,
	})
	c.Log.Infow("✓ Market API client initialized", "base_url", c.Config.MarketAPI.BaseURL)

	c.Adapters.Regime = provideRegimeProvider(c.Config, c.Adapters.Market, c.CH, c.Log)

	if c.Config.Telegram.Enabled {
		bot, err := telegram.NewBot(telegram.Config{Token: c.Config.Telegram.BotToken}, c.Log)
		if err != nil {
			c.Log.Fatalf("failed to create telegram bot: %v", err)
		}
		c.Adapters.TelegramBot = bot
		c.Log.Infow("✓ Telegram alerts enabled", "chats", len(c.Config.Telegram.ChatIDs))
	}
}

// ========================================
// Phase 5: Agents
// ========================================

// MustInitAgents builds the agents and registers them in start order
func (c *Container) MustInitAgents() {
	cfg := c.Config.Agents

	c.Agents.Risk = risk.NewManager(risk.Config{
		MonitorInterval:      cfg.RiskMonitorInterval,
		CollaboratorTimeout:  cfg.CollaboratorTimeout,
		DedupWindow:          cfg.DedupWindow,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		BackoffBase:          cfg.BackoffBase,
		BackoffMax:           cfg.BackoffMax,
		StopGrace:            cfg.StopGrace,
	}, risk.Deps{
		Bus:             c.Adapters.Bus,
		Exposure:        c.Adapters.Market,
		Regime:          c.Adapters.Regime,
		Correlations:    risk.NewStaticCorrelations(),
		Prices:          c.Adapters.Market,
		Snapshots:       c.Stores.Snapshots,
		KillSwitchStore: c.Stores.KillSwitch,
		Peaks:           c.Stores.Peaks,
	})

	c.Agents.Orchestrator = orchestrator.New(orchestrator.Config{
		Interval:             cfg.OrchestratorInterval,
		PendingTimeout:       cfg.PendingTimeout,
		SnapshotTimeout:      cfg.SnapshotTimeout,
		DecisionThreshold:    cfg.DecisionThreshold,
		ReducedThreshold:     cfg.ReducedThreshold,
		Weights:              cfg.Weights,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		BackoffBase:          cfg.BackoffBase,
		BackoffMax:           cfg.BackoffMax,
		StopGrace:            cfg.StopGrace,
	}, orchestrator.Deps{
		Bus:       c.Adapters.Bus,
		Snapshots: c.Stores.Snapshots,
		Audit:     c.Stores.Audit,
	})

	monitorDeps := monitor.Deps{
		Prices:   c.Adapters.Market,
		Closer:   c.Adapters.Market,
		Executor: c.Adapters.Market,
	}
	if c.Stores.EventArchive != nil {
		monitorDeps.Sink = c.Stores.EventArchive
	}
	c.Agents.Monitor = monitor.New(monitor.Config{
		Interval:             c.Config.Monitor.Interval,
		FillTolerance:        c.Config.Monitor.FillTolerance,
		EventCapacity:        c.Config.Monitor.EventCapacity,
		OrderTTL:             c.Config.Monitor.OrderTTL,
		CallTimeout:          c.Config.MarketAPI.Timeout,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		BackoffBase:          cfg.BackoffBase,
		BackoffMax:           cfg.BackoffMax,
		StopGrace:            cfg.StopGrace,
	}, monitorDeps)

	// Risk starts first so no request published by the orchestrator goes unheard
	c.mustRegisterAgent(c.Agents.Risk)
	c.mustRegisterAgent(c.Agents.Orchestrator)
	c.mustRegisterAgent(c.Agents.Monitor)

	if cfg.AnalystEnabled {
		c.Agents.Analyst = analyst.NewTechnicalAnalyst(analyst.Config{
			Interval:             cfg.AnalystInterval,
			Symbols:              cfg.AnalystSymbols,
			Sectors:              cfg.AnalystSectors,
			CallTimeout:          c.Config.MarketAPI.Timeout,
			MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
			BackoffBase:          cfg.BackoffBase,
			BackoffMax:           cfg.BackoffMax,
			StopGrace:            cfg.StopGrace,
		}, analyst.Deps{
			Bus:        c.Adapters.Bus,
			Indicators: c.Adapters.Market,
		})
		c.mustRegisterAgent(c.Agents.Analyst)
	}

	c.Agents.Bridge = execution.NewBridge(c.Adapters.Bus, c.Agents.Monitor, c.Adapters.Market, c.Config.Monitor.OrderTTL)

	var sender notify.Sender
	if c.Adapters.TelegramBot != nil {
		sender = c.Adapters.TelegramBot
	}
	c.Agents.Notifier = notify.NewAlertNotifier(c.Adapters.Bus, sender, c.Config.Telegram.ChatIDs)

	prometheus.MustRegister(metrics.NewHealthCollector(c.Agents.Registry))

	c.Log.Infow("✓ Agents initialized", "agents", c.Agents.Registry.Count())
}

func (c *Container) mustRegisterAgent(a agent.Managed) {
	if err := c.Agents.Registry.Register(a); err != nil {
		c.Log.Fatalf("failed to register agent: %v", err)
	}
}

// ========================================
// Phase 6: Application Layer
// ========================================

// MustInitApplication builds the health, admin and metrics HTTP surface
func (c *Container) MustInitApplication() {
	hh := health.New(c.Log, c.Agents.Registry, c.Config.App.Name, c.Config.App.Version)
	hh.AddCheck("bus", func(ctx context.Context) error {
		h := c.Adapters.Bus.HealthCheck(ctx)
		if !h.Connected {
			return errors.Wrapf(errors.ErrUnavailable, "bus: %s", h.Error)
		}
		return nil
	})
	if c.PG != nil {
		hh.AddCheck("postgres", c.PG.Health)
	}
	if c.CH != nil {
		hh.AddCheck("clickhouse", c.CH.Health)
	}
	if c.Redis != nil {
		hh.AddCheck("redis", c.Redis.Health)
	}
	c.Application.HealthHandler = hh

	if c.Config.Admin.Enabled() {
		tokens := auth.NewJWTService(c.Config.Admin.JWTSecret, c.Config.Admin.Issuer, c.Config.Admin.TokenTTL)
		c.Application.AdminHandler = admin.New(c.Agents.Risk, c.Agents.Orchestrator, c.Agents.Monitor, tokens, c.Log)
	} else {
		c.Log.Warn("ADMIN_JWT_SECRET not set, operator endpoints disabled")
	}

	c.Application.HTTPServer = api.NewServer(api.ServerConfig{
		Port:        c.Config.HTTP.Port,
		ServiceName: c.Config.App.Name,
		Version:     c.Config.App.Version,
	}, hh, c.Application.AdminHandler, c.Log)

	c.Log.Infow("✓ HTTP server configured", "port", c.Config.HTTP.Port)
}

// ========================================
// Providers
// ========================================

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New(log)
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Version)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New(log)
	}

	log.Info("✓ Error tracking initialized (Sentry)")
	return tracker
}

func provideTransport(cfg *config.Config, log *logger.Logger) bus.Transport {
	if cfg.Bus.Backend == "kafka" {
		if len(cfg.Kafka.Brokers) == 0 {
			log.Warn("Kafka brokers not configured, using default localhost:9092")
			cfg.Kafka.Brokers = []string{"localhost:9092"}
		}
		log.Infow("Using Kafka bus transport", "brokers", cfg.Kafka.Brokers, "group_id", cfg.Kafka.GroupID)
		return kafka.NewTransport(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Bus.BufferSize)
	}

	log.Infow("Using in-process bus transport", "buffer", cfg.Bus.BufferSize)
	return bus.NewMemoryTransport(cfg.Bus.BufferSize)
}

// provideRegimeProvider returns the configured regime source behind a TTL cache
func provideRegimeProvider(cfg *config.Config, market *marketapi.Client, ch *chclient.Client, log *logger.Logger) risk.RegimeProvider {
	var source cache.RegimeSource = market
	if cfg.MarketAPI.RegimeSource == "clickhouse" && ch != nil {
		source = chrepo.NewRegimeRepository(ch.Conn())
	}
	log.Infow("✓ Regime provider initialized",
		"source", cfg.MarketAPI.RegimeSource,
		"cache_ttl", cfg.MarketAPI.RegimeCacheTTL,
	)
	return cache.NewCachedRegimeProvider(source, cfg.MarketAPI.RegimeCacheTTL)
}
