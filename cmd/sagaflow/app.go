package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/goclaw/sagaflow/config"
	"github.com/goclaw/sagaflow/pkg/aggregate"
	"github.com/goclaw/sagaflow/pkg/api"
	"github.com/goclaw/sagaflow/pkg/api/handlers"
	"github.com/goclaw/sagaflow/pkg/eventbus"
	"github.com/goclaw/sagaflow/pkg/eventstore"
	badgerstore "github.com/goclaw/sagaflow/pkg/eventstore/badger"
	"github.com/goclaw/sagaflow/pkg/eventstore/memory"
	redisstore "github.com/goclaw/sagaflow/pkg/eventstore/redis"
	sagagrpc "github.com/goclaw/sagaflow/pkg/grpc"
	"github.com/goclaw/sagaflow/pkg/logger"
	"github.com/goclaw/sagaflow/pkg/metrics"
	"github.com/goclaw/sagaflow/pkg/orderflow"
	"github.com/goclaw/sagaflow/pkg/saga"
	"github.com/goclaw/sagaflow/pkg/telemetry/tracing"
)

// app owns every long-lived component of the service.
type app struct {
	cfg     *config.Config
	node    string
	log     logger.Logger
	metrics *metrics.Manager

	redis     redis.UniversalClient
	backend   eventstore.Store
	bus       eventbus.Bus
	publisher *eventbus.Publisher
	registry  *saga.Registry
	retries   *retrySettings

	health *handlers.HealthHandler
	ws     *handlers.WebSocketHandler
	server *api.HTTPServer
	grpc   *sagagrpc.Server

	shutdownTracing tracing.ShutdownFunc

	mu  sync.Mutex
	hot config.HotReloadableConfig
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log, hot: config.ExtractHotReloadable(cfg)}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	a.node = nodeID()
	a.shutdownTracing, err = tracing.Init(ctx, tracing.Service{App: cfg.App, InstanceID: a.node}, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	metricsCfg := metrics.DefaultConfig()
	metricsCfg.Enabled = cfg.Metrics.Enabled
	metricsCfg.Port = cfg.Metrics.Port
	metricsCfg.Path = cfg.Metrics.Path
	a.metrics = metrics.NewManager(metricsCfg)

	if cfg.Storage.Type == "redis" || cfg.EventBus.Type == "redis" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
	}

	if a.backend, err = openStore(cfg.Storage, a.redis); err != nil {
		return nil, err
	}
	log.Info("event store initialized", "type", cfg.Storage.Type)

	a.bus = openBus(cfg.EventBus, a.redis)

	outputs := eventbus.NewSchemaRouter()
	if err = outputs.RegisterPayloadSchema(orderflow.OutputSchemas()...); err != nil {
		return nil, err
	}
	if err = outputs.RegisterDecoder(eventbus.SchemaVersionV1, eventbus.EventDecoder); err != nil {
		return nil, err
	}
	a.publisher, err = eventbus.NewPublisher(a.node, a.bus, eventbus.DefaultRetryConfig(), a.metrics,
		eventbus.WithSubjectPrefix(cfg.EventBus.ChannelPrefix),
		eventbus.WithSchemaRouter(outputs),
	)
	if err != nil {
		return nil, err
	}

	store := eventbus.NewPublishingStore(
		eventstore.Instrument(a.backend, cfg.Storage.Type, a.metrics),
		a.publisher, log)
	repo := aggregate.NewRepository(store,
		aggregate.WithSnapshotStore(store),
		aggregate.WithSnapshotEvery(uint64(cfg.Storage.SnapshotEvery)),
		aggregate.WithRepositoryLogger(log),
	)

	a.registry = saga.NewRegistry()
	if err = a.registry.Register(orderflow.Definition()); err != nil {
		return nil, err
	}

	inputs := eventbus.NewSchemaRouter()
	if err = inputs.RegisterPayloadSchema(orderflow.InputSchemas()...); err != nil {
		return nil, err
	}

	a.retries = newRetrySettings(cfg.Executor, a.metrics)
	processes := handlers.NewProcessHandler(a.registry, repo,
		handlers.WithCommandOptions(a.retries.options),
		handlers.WithSagaOptions(saga.WithMetrics(a.metrics), saga.WithLogger(log)),
		handlers.WithInputSchemas(inputs),
		handlers.WithProcessLogger(log),
	)

	a.health = handlers.NewHealthHandler()
	a.addHealthChecks()
	a.health.SetInfo(a.statusInfo)

	h := &api.Handlers{
		Processes: processes,
		Health:    a.health,
		Metrics:   a.metrics,
	}
	if cfg.WebSocket.Enabled {
		a.ws = handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
			AllowedOrigins: cfg.WebSocket.AllowedOrigins,
			MaxConnections: cfg.WebSocket.MaxConnections,
			PingInterval:   cfg.WebSocket.PingInterval,
			WriteTimeout:   cfg.WebSocket.WriteTimeout,
			Gauge:          a.metrics,
		})
		h.WebSocket = a.ws
	}

	a.server = api.NewHTTPServer(cfg, log, h)

	if g := cfg.Server.GRPC; g.Enabled {
		a.grpc, err = sagagrpc.New(&sagagrpc.Config{
			Address:          net.JoinHostPort(cfg.Server.Host, strconv.Itoa(g.Port)),
			MaxConnections:   g.MaxConnections,
			EnableReflection: g.EnableReflection,
			HealthInterval:   g.HealthInterval,
			RateLimit:        g.RateLimit,
			Keepalive: &sagagrpc.KeepaliveConfig{
				MaxIdle: g.Keepalive.MaxIdle,
				Time:    g.Keepalive.Time,
				Timeout: g.Keepalive.Timeout,
			},
		}, sagagrpc.WithLogger(log), sagagrpc.WithMetrics(a.metrics))
		if err != nil {
			return nil, fmt.Errorf("create gRPC server: %w", err)
		}
	}
	return a, nil
}

// run serves until ctx ends or the HTTP server fails, then shuts down.
func (a *app) run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	fail := func(err error) error {
		cancel()
		a.close(context.Background())
		return err
	}

	if a.ws != nil {
		sub, err := a.bus.Subscribe(runCtx, eventbus.AllEventsSubject(a.cfg.EventBus.ChannelPrefix), a.cfg.EventBus.Buffer)
		if err != nil {
			return fail(fmt.Errorf("subscribe websocket bridge: %w", err))
		}
		router := eventbus.NewSchemaRouter()
		if err := router.RegisterDecoder(eventbus.SchemaVersionV1, eventbus.EventDecoder); err != nil {
			return fail(err)
		}
		go a.ws.Bridge(runCtx, sub, eventbus.NewEnvelopeConsumer(router))
	}

	if a.metrics.Enabled() {
		go func() {
			a.log.Info("starting metrics server", "port", a.cfg.Metrics.Port, "path", a.cfg.Metrics.Path)
			if err := a.metrics.StartServer(runCtx, a.cfg.Metrics.Port, a.cfg.Metrics.Path); err != nil && runCtx.Err() == nil {
				a.log.Error("metrics server error", "error", err)
			}
		}()
	}

	if a.grpc != nil {
		if err := a.grpc.Start(a.health.Readiness); err != nil {
			return fail(err)
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Start()
	}()

	a.log.Info("sagaflow is running",
		"addr", a.server.Addr(),
		"storage", a.cfg.Storage.Type,
		"eventbus", a.cfg.EventBus.Type,
		"processes", a.registry.Names(),
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown requested")
	case runErr = <-serverErr:
		a.log.Error("HTTP server error", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	a.health.SetReady(false)
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if a.grpc != nil {
		if err := a.grpc.Stop(shutdownCtx); err != nil {
			runErr = errors.Join(runErr, err)
		}
	}
	cancel()
	a.close(shutdownCtx)
	return runErr
}

// reload applies the hot-reloadable part of cfg. Everything else needs a restart.
func (a *app) reload(cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()

	next := config.ExtractHotReloadable(cfg)
	if !a.hot.Changed(next) {
		return
	}
	a.hot = next
	a.log.SetLevel(logger.ParseLevel(cfg.Log.Level))
	a.retries.update(cfg.Executor)
	a.log.Info("configuration reloaded",
		"log_level", cfg.Log.Level,
		"max_retries", cfg.Executor.MaxRetries,
		"rate_limit", cfg.Executor.RateLimit.Enabled,
	)
}

func (a *app) addHealthChecks() {
	if a.redis != nil {
		a.health.AddCheck("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}
	if rb, ok := a.bus.(*eventbus.RedisBus); ok {
		a.health.AddCheck("eventbus", func(ctx context.Context) error {
			if !rb.Healthy(ctx) {
				return errors.New("redis pub/sub unreachable")
			}
			return nil
		})
	}
	a.health.AddCheck("eventstore", func(ctx context.Context) error {
		_, err := a.backend.Load(ctx, "health/check", 0)
		return err
	})
}

func (a *app) statusInfo() map[string]any {
	info := map[string]any{
		"node":              a.node,
		"storage":           a.cfg.Storage.Type,
		"eventbus":          a.cfg.EventBus.Type,
		"eventbus_degraded": a.publisher.Degraded(),
		"processes":         a.registry.Names(),
	}
	if a.ws != nil {
		info["websocket_clients"] = a.ws.Count()
	}
	return info
}

// close releases components in reverse order of construction.
func (a *app) close(ctx context.Context) {
	if a.ws != nil {
		a.ws.Close()
	}
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn("error closing event bus", "error", err)
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.log.Warn("error closing event store", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("error closing redis client", "error", err)
		}
	}
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.log.Warn("error shutting down tracing", "error", err)
		}
	}
}

func openStore(cfg config.StorageConfig, client redis.UniversalClient) (eventstore.Store, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(), nil
	case "badger":
		store, err := badgerstore.Open(&badgerstore.Config{
			Path:             cfg.Badger.Path,
			SyncWrites:       cfg.Badger.SyncWrites,
			ValueLogFileSize: cfg.Badger.ValueLogFileSize,
		})
		if err != nil {
			return nil, fmt.Errorf("open badger event store: %w", err)
		}
		return store, nil
	case "redis":
		if client == nil {
			return nil, errors.New("redis event store requires a redis client")
		}
		store, err := redisstore.New(client, cfg.Redis.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("open redis event store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func openBus(cfg config.EventBusConfig, client redis.UniversalClient) eventbus.Bus {
	if cfg.Type == "redis" && client != nil {
		return eventbus.NewRedisBus(client)
	}
	return eventbus.NewMemoryBus()
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "sagaflow"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
