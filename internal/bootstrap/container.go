package bootstrap

import (
	"context"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"finmesh/internal/adapters/config"
	"finmesh/internal/adapters/fixtures"
	redisclient "finmesh/internal/adapters/redis"
	"finmesh/internal/adapters/transport"
	"finmesh/internal/api"
	"finmesh/internal/api/health"
	"finmesh/internal/domain/a2a"
	"finmesh/internal/metrics"
	redisrepo "finmesh/internal/repository/redis"
	"finmesh/internal/services/integration"
	"finmesh/internal/services/mailbox"
	"finmesh/internal/workers"
	"finmesh/pkg/errors"
	"finmesh/pkg/logger"
)

// Version is reported by /health and the service info route
var Version = "dev"

const mailboxTTL = time.Hour

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	Redis    *redisclient.Client
	Fixtures *fixtures.Fixtures
	Mailbox  a2a.Mailbox
	Hub      *transport.LocalHub

	Manager       *integration.Manager
	Scheduler     *workers.Scheduler
	HealthHandler *health.Handler
	HTTPServer    *api.Server

	Context context.Context
	Cancel  context.CancelFunc
	WG      *sync.WaitGroup
}

// MustInit initializes every component or panics. The container is ready
// for Start afterwards; nothing listens yet.
func (c *Container) MustInit() {
	c.Context, c.Cancel = context.WithCancel(context.Background())
	c.WG = &sync.WaitGroup{}

	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitManager()
	c.MustInitWorkers()
	c.MustInitMetrics()
	c.MustInitAPI()
}

// MustInitConfig loads configuration, the logger and the error tracker
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
	c.Log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)
}

// MustInitInfrastructure connects Redis when the peer store needs it and
// loads the collaborator fixtures
func (c *Container) MustInitInfrastructure() {
	var err error

	if c.Config.A2A.PeerStore == "redis" {
		c.Log.Info("Connecting to Redis...")
		c.Redis, err = redisclient.NewClient(c.Context, c.Config.Redis)
		if err != nil {
			c.Log.Fatalf("failed to connect redis: %v", err)
		}
		c.Log.Info("✓ Redis connected")
	}

	c.Fixtures, err = fixtures.Load(c.Config.Fixtures.File)
	if err != nil {
		c.Log.Fatalf("failed to load fixtures: %v", err)
	}

	if c.Redis != nil {
		c.Mailbox = redisrepo.NewMailboxRepository(c.Redis.Client(), mailboxTTL)
	} else {
		c.Mailbox = mailbox.NewMemory(0)
	}
}

// MustInitManager builds the integration manager and its transport wiring
func (c *Container) MustInitManager() {
	deps := integration.Deps{
		Investment:       c.Fixtures,
		Risk:             c.Fixtures,
		Portfolio:        c.Fixtures,
		Profiles:         c.Fixtures,
		TransportOptions: c.transportOptions(),
	}
	if c.Redis != nil {
		rdb := c.Redis.Client()
		ttl := c.Config.A2A.PeerTTL
		deps.PeerStore = func(agentID string) a2a.PeerStore {
			return redisrepo.NewPeerStoreRepository(rdb, agentID, ttl)
		}
	}

	c.Manager = integration.NewManager(c.Config.A2A, deps)
	c.Log.Infow("✓ Integration manager created",
		"transport", c.Config.A2A.Transport,
		"peer_store", c.Config.A2A.PeerStore,
	)
}

func (c *Container) transportOptions() transport.Options {
	cfg := c.Config
	opts := transport.Options{
		HTTPBaseURL:    cfg.A2A.HTTPBaseURL,
		KafkaBrokers:   cfg.Kafka.Brokers,
		KafkaGroupID:   cfg.Kafka.GroupID,
		NATSURL:        cfg.NATS.URL,
		ConnectRetries: cfg.A2A.ConnectRetries,
		SelfConnect:    cfg.A2A.SelfConnect,
	}
	if cfg.A2A.Transport == transport.KindLocal {
		c.Hub = transport.NewLocalHub()
		opts.Hub = c.Hub
	}
	return opts
}

// MustInitWorkers registers the maintenance workers
func (c *Container) MustInitWorkers() {
	c.Scheduler = workers.NewScheduler(30 * time.Second)
	c.Scheduler.RegisterWorker(workers.NewCleanupWorker(c.Manager, c.Config.Workers.CleanupInterval))
	c.Scheduler.RegisterWorker(workers.NewHeartbeatWorker(
		c.Manager,
		c.Config.Workers.HeartbeatInterval,
		c.Config.Workers.HeartbeatEnabled,
	))
	c.Log.Infow("✓ Workers registered", "count", len(c.Scheduler.GetWorkers()))
}

// MustInitMetrics registers the Prometheus collectors
func (c *Container) MustInitMetrics() {
	metrics.Init()
	metrics.RegisterAgentCollector(metrics.NewAgentCollector(c.Log, c.agentSnapshots, c.redisClientOrNil()))
}

func (c *Container) agentSnapshots(ctx context.Context) []metrics.AgentSnapshot {
	adapters := c.Manager.Adapters()
	out := make([]metrics.AgentSnapshot, 0, len(adapters))
	for _, a := range adapters {
		st := a.Status(ctx)
		out = append(out, metrics.AgentSnapshot{
			AgentID:          st.AgentID,
			PendingRequests:  st.PendingRequests,
			RegisteredAgents: st.RegisteredAgents,
			Serving:          st.Serving,
		})
	}
	return out
}

// MustInitAPI builds the health handler and the HTTP server
func (c *Container) MustInitAPI() {
	c.HealthHandler = health.New(c.Log, c.redisClientOrNil(), c.agentsProbe, c.Config.App.Name, Version)

	a2aHandler := api.NewA2AHandler(c.Mailbox, c.Manager, c.Scheduler.Health, c.Log)
	c.HTTPServer = api.NewServer(api.ServerConfig{
		Port:        c.Config.HTTP.Port,
		ServiceName: c.Config.App.Name,
		Version:     Version,
	}, c.HealthHandler, a2aHandler, c.Log)
}

func (c *Container) agentsProbe(ctx context.Context) error {
	if !c.Manager.GetAgentStatus(ctx).Initialized {
		return errors.Wrap(errors.ErrUnavailable, "agents not initialized")
	}
	return nil
}

func (c *Container) redisClientOrNil() *goredis.Client {
	if c.Redis == nil {
		return nil
	}
	return c.Redis.Client()
}

// Start brings up the HTTP server, the agents and the scheduler.
// The HTTP server starts first: the http transport polls the mailbox it serves.
func (c *Container) Start() error {
	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.HTTPServer.Start(); err != nil {
			c.Log.Errorw("HTTP server failed", "error", err)
			c.Cancel()
		}
	}()

	if err := c.Manager.Initialize(c.Context); err != nil {
		return errors.Wrap(err, "initialize agents")
	}

	if err := c.Scheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "start workers")
	}

	c.Log.Infow("✓ finmesh started",
		"http_port", c.Config.HTTP.Port,
		"transport", c.Config.A2A.Transport,
	)
	return nil
}

// Shutdown stops every component in order
func (c *Container) Shutdown() {
	c.Log.Info("Shutting down...")
	c.Cancel()

	NewLifecycle().Shutdown(ShutdownTargets{
		HTTPServer:   c.HTTPServer,
		Scheduler:    c.Scheduler,
		Manager:      c.Manager,
		WG:           c.WG,
		ErrorTracker: c.ErrorTracker,
		Redis:        c.Redis,
	})
}
