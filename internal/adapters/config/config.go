package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"finmesh/pkg/errors"
)

type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	A2A           A2AConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	NATS          NATSConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
	Fixtures      FixturesConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"finmesh"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`
}

type HTTPConfig struct {
	Port int `envconfig:"HTTP_PORT" default:"8080"`
}

// A2AConfig drives the messaging layer: which transport each agent uses,
// where the agents listen and how long requests are tracked.
type A2AConfig struct {
	Transport        string `envconfig:"A2A_TRANSPORT" default:"websocket"` // websocket | http | local | kafka | nats
	RegistryEndpoint string `envconfig:"A2A_REGISTRY_ENDPOINT" default:"ws://localhost:8765/registry"`
	HTTPBaseURL      string `envconfig:"A2A_HTTP_BASE_URL" default:"http://localhost:8080"`

	InvestmentAgentID string `envconfig:"A2A_INVESTMENT_AGENT_ID" default:"investment_agent_001"`
	RiskAgentID       string `envconfig:"A2A_RISK_AGENT_ID" default:"risk_agent_001"`
	PortfolioAgentID  string `envconfig:"A2A_PORTFOLIO_AGENT_ID" default:"portfolio_agent_001"`

	InvestmentPort int `envconfig:"A2A_INVESTMENT_PORT" default:"8766"`
	RiskPort       int `envconfig:"A2A_RISK_PORT" default:"8767"`
	PortfolioPort  int `envconfig:"A2A_PORTFOLIO_PORT" default:"8768"`

	RequestTimeout time.Duration `envconfig:"A2A_REQUEST_TIMEOUT" default:"30s"`
	CleanupMaxAge  time.Duration `envconfig:"A2A_CLEANUP_MAX_AGE" default:"5m"`
	DiscoveryGrace time.Duration `envconfig:"A2A_DISCOVERY_GRACE" default:"1s"`
	PeerTTL        time.Duration `envconfig:"A2A_PEER_TTL" default:"10m"`
	PollInterval   time.Duration `envconfig:"A2A_POLL_INTERVAL" default:"200ms"` // http transport only

	// SelfConnect dials every adapter's own listener after start so that
	// the manager can reach its local agents over the configured transport.
	SelfConnect      bool    `envconfig:"A2A_SELF_CONNECT" default:"true"`
	ConnectRetries   int     `envconfig:"A2A_CONNECT_RETRIES" default:"3"`
	OutboundRPS      float64 `envconfig:"A2A_OUTBOUND_RPS" default:"50"`
	OutboundBurst    int     `envconfig:"A2A_OUTBOUND_BURST" default:"100"`
	CapabilitiesFile string  `envconfig:"A2A_CAPABILITIES_FILE"`
	PeerStore        string  `envconfig:"A2A_PEER_STORE" default:"memory"` // memory | redis
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	GroupID string   `envconfig:"KAFKA_GROUP_ID" default:"finmesh"`
}

type NATSConfig struct {
	URL string `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"true"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkerConfig contains intervals for background workers
type WorkerConfig struct {
	CleanupInterval   time.Duration `envconfig:"WORKER_CLEANUP_INTERVAL" default:"1m"`
	HeartbeatInterval time.Duration `envconfig:"WORKER_HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatEnabled  bool          `envconfig:"WORKER_HEARTBEAT_ENABLED" default:"true"`
}

// FixturesConfig points at the YAML file backing the demo collaborators
type FixturesConfig struct {
	File string `envconfig:"FIXTURES_FILE"`
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
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

// Validate checks cross-field invariants envconfig cannot express
func (c *Config) Validate() error {
	switch c.A2A.Transport {
	case "websocket", "http", "local", "kafka", "nats":
	default:
		return errors.Wrapf(errors.ErrUnknownTransport, "A2A_TRANSPORT=%q", c.A2A.Transport)
	}

	switch c.A2A.PeerStore {
	case "memory", "redis":
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "A2A_PEER_STORE=%q", c.A2A.PeerStore)
	}

	ports := map[int]string{}
	for name, port := range map[string]int{
		"investment": c.A2A.InvestmentPort,
		"risk":       c.A2A.RiskPort,
		"portfolio":  c.A2A.PortfolioPort,
	} {
		if port <= 0 || port > 65535 {
			return errors.Wrapf(errors.ErrInvalidInput, "%s port %d out of range", name, port)
		}
		if other, dup := ports[port]; dup {
			return errors.Wrapf(errors.ErrInvalidInput, "%s and %s share port %d", name, other, port)
		}
		ports[port] = name
	}

	if c.A2A.RequestTimeout <= 0 {
		return errors.Wrap(errors.ErrInvalidInput, "A2A_REQUEST_TIMEOUT must be positive")
	}
	if c.A2A.CleanupMaxAge < c.A2A.RequestTimeout {
		return errors.Wrap(errors.ErrInvalidInput, "A2A_CLEANUP_MAX_AGE must not be shorter than A2A_REQUEST_TIMEOUT")
	}
	if c.A2A.InvestmentAgentID == "" || c.A2A.RiskAgentID == "" || c.A2A.PortfolioAgentID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "agent ids must not be empty")
	}

	return nil
}
