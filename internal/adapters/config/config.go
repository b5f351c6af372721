package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"tradecore/pkg/errors"
)

type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Admin         AdminConfig
	Bus           BusConfig
	Kafka         KafkaConfig
	Redis         RedisConfig
	Postgres      PostgresConfig
	ClickHouse    ClickHouseConfig
	MarketAPI     MarketAPIConfig
	Telegram      TelegramConfig
	ErrorTracking ErrorTrackingConfig
	Portfolio     PortfolioConfig
	Agents        AgentsConfig
	Monitor       MonitorConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"tradecore"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"APP_VERSION" default:"dev"`
}

type HTTPConfig struct {
	Port int `envconfig:"HTTP_PORT" default:"8080"`
}

// AdminConfig guards the operator endpoints. With no secret the routes are not mounted.
type AdminConfig struct {
	JWTSecret string        `envconfig:"ADMIN_JWT_SECRET"`
	Issuer    string        `envconfig:"ADMIN_JWT_ISSUER" default:"tradecore"`
	TokenTTL  time.Duration `envconfig:"ADMIN_TOKEN_TTL" default:"12h"`
}

// Enabled reports whether operator endpoints should be served
func (c AdminConfig) Enabled() bool {
	return c.JWTSecret != ""
}

// BusConfig selects the message bus transport
type BusConfig struct {
	Backend    string `envconfig:"BUS_BACKEND" default:"memory"` // memory | kafka
	BufferSize int    `envconfig:"BUS_BUFFER_SIZE" default:"1024"`
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"tradecore"`
}

type RedisConfig struct {
	Enabled  bool   `envconfig:"REDIS_ENABLED" default:"true"`
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type PostgresConfig struct {
	Enabled  bool   `envconfig:"POSTGRES_ENABLED" default:"false"`
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	User     string `envconfig:"POSTGRES_USER" default:"postgres"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Database string `envconfig:"POSTGRES_DB" default:"tradecore"`
	SSLMode  string `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxConns int    `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type ClickHouseConfig struct {
	Enabled       bool          `envconfig:"CLICKHOUSE_ENABLED" default:"false"`
	Host          string        `envconfig:"CLICKHOUSE_HOST" default:"localhost"`
	Port          int           `envconfig:"CLICKHOUSE_PORT" default:"9000"`
	User          string        `envconfig:"CLICKHOUSE_USER" default:"default"`
	Password      string        `envconfig:"CLICKHOUSE_PASSWORD"`
	Database      string        `envconfig:"CLICKHOUSE_DB" default:"trading"`
	BatchSize     int           `envconfig:"CLICKHOUSE_BATCH_SIZE" default:"200"`
	FlushInterval time.Duration `envconfig:"CLICKHOUSE_FLUSH_INTERVAL" default:"10s"`
}

// MarketAPIConfig points at the HTTP service that answers regime, indicator,
// exposure, price and execution calls
type MarketAPIConfig struct {
	BaseURL           string        `envconfig:"MARKET_API_URL" default:"http://localhost:8000"`
	APIKey            string        `envconfig:"MARKET_API_KEY"`
	Timeout           time.Duration `envconfig:"MARKET_API_TIMEOUT" default:"5s"`
	RequestsPerMinute int           `envconfig:"MARKET_API_RPM" default:"600"`
	RegimeSource      string        `envconfig:"REGIME_SOURCE" default:"http"` // http | clickhouse
	RegimeCacheTTL    time.Duration `envconfig:"REGIME_CACHE_TTL" default:"5m"`
}

type TelegramConfig struct {
	Enabled  bool    `envconfig:"TELEGRAM_ENABLED" default:"false"`
	BotToken string  `envconfig:"TELEGRAM_BOT_TOKEN"`
	ChatIDs  []int64 `envconfig:"TELEGRAM_ALERT_CHAT_IDS"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// PortfolioConfig seeds the in-process snapshot store used when Redis is disabled
type PortfolioConfig struct {
	InitialCapital float64 `envconfig:"PORTFOLIO_INITIAL_CAPITAL" default:"100000"`
}

// AgentsConfig holds pacing and scoring parameters for the bus-driven agents.
// Risk ceilings are compile-time constants in the risk package and are not configurable.
type AgentsConfig struct {
	MaxConsecutiveErrors int           `envconfig:"AGENT_MAX_CONSECUTIVE_ERRORS" default:"5"`
	BackoffBase          time.Duration `envconfig:"AGENT_BACKOFF_BASE" default:"2s"`
	BackoffMax           time.Duration `envconfig:"AGENT_BACKOFF_MAX" default:"60s"`
	StopGrace            time.Duration `envconfig:"AGENT_STOP_GRACE" default:"10s"`

	OrchestratorInterval time.Duration      `envconfig:"ORCHESTRATOR_INTERVAL" default:"1s"`
	PendingTimeout       time.Duration      `envconfig:"ORCHESTRATOR_PENDING_TIMEOUT" default:"30s"`
	SnapshotTimeout      time.Duration      `envconfig:"ORCHESTRATOR_SNAPSHOT_TIMEOUT" default:"3s"`
	DecisionThreshold    float64            `envconfig:"ORCHESTRATOR_DECISION_THRESHOLD" default:"0.65"`
	ReducedThreshold     float64            `envconfig:"ORCHESTRATOR_REDUCED_THRESHOLD" default:"0.50"`
	AuditCapacity        int                `envconfig:"ORCHESTRATOR_AUDIT_CAPACITY" default:"1000"`
	Weights              map[string]float64 `envconfig:"ORCHESTRATOR_AGENT_WEIGHTS" default:"technical:1.0"`

	RiskMonitorInterval time.Duration `envconfig:"RISK_MONITOR_INTERVAL" default:"30s"`
	CollaboratorTimeout time.Duration `envconfig:"RISK_COLLABORATOR_TIMEOUT" default:"5s"`
	DedupWindow         time.Duration `envconfig:"RISK_DEDUP_WINDOW" default:"5m"`

	AnalystEnabled  bool              `envconfig:"ANALYST_ENABLED" default:"false"`
	AnalystInterval time.Duration     `envconfig:"ANALYST_INTERVAL" default:"5m"`
	AnalystSymbols  []string          `envconfig:"ANALYST_SYMBOLS"`
	AnalystSectors  map[string]string `envconfig:"ANALYST_SECTORS"`
}

type MonitorConfig struct {
	Interval       time.Duration `envconfig:"MONITOR_INTERVAL" default:"5m"`
	FillTolerance  float64       `envconfig:"MONITOR_FILL_TOLERANCE" default:"0.001"`
	EventCapacity  int           `envconfig:"MONITOR_EVENT_CAPACITY" default:"1000"`
	OrderTTL       time.Duration `envconfig:"MONITOR_ORDER_TTL" default:"24h"`
	ArchiveEnabled bool          `envconfig:"MONITOR_ARCHIVE_ENABLED" default:"false"`
}

const minAdminSecretLen = 32

// Validate checks relationships envconfig cannot express
func (c *Config) Validate() error {
	if c.Agents.ReducedThreshold > c.Agents.DecisionThreshold {
		return errors.NewValidationError("ORCHESTRATOR_REDUCED_THRESHOLD", "must not exceed decision threshold", c.Agents.ReducedThreshold)
	}
	if c.Agents.MaxConsecutiveErrors < 1 {
		return errors.NewValidationError("AGENT_MAX_CONSECUTIVE_ERRORS", "must be positive", c.Agents.MaxConsecutiveErrors)
	}
	if len(c.Agents.Weights) == 0 {
		return errors.NewValidationError("ORCHESTRATOR_AGENT_WEIGHTS", "at least one agent weight is required", nil)
	}
	for agentType, w := range c.Agents.Weights {
		if w < 0 {
			return errors.NewValidationError("ORCHESTRATOR_AGENT_WEIGHTS", "negative weight for "+agentType, w)
		}
	}
	switch c.Bus.Backend {
	case "memory", "kafka":
	default:
		return errors.NewValidationError("BUS_BACKEND", "must be memory or kafka", c.Bus.Backend)
	}
	if c.MarketAPI.RegimeSource != "http" && c.MarketAPI.RegimeSource != "clickhouse" {
		return errors.NewValidationError("REGIME_SOURCE", "must be http or clickhouse", c.MarketAPI.RegimeSource)
	}
	if c.MarketAPI.RegimeSource == "clickhouse" && !c.ClickHouse.Enabled {
		return errors.NewValidationError("REGIME_SOURCE", "clickhouse regime source requires CLICKHOUSE_ENABLED", nil)
	}
	if c.Admin.Enabled() && len(c.Admin.JWTSecret) < minAdminSecretLen {
		return errors.NewValidationError("ADMIN_JWT_SECRET", fmt.Sprintf("must be at least %d characters", minAdminSecretLen), nil)
	}
	if c.Admin.Enabled() && c.Admin.TokenTTL <= 0 {
		return errors.NewValidationError("ADMIN_TOKEN_TTL", "must be positive", c.Admin.TokenTTL)
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return errors.NewValidationError("TELEGRAM_BOT_TOKEN", "required when telegram is enabled", nil)
	}
	return nil
}

// Load reads configuration from environment variables.
// A .env file is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
