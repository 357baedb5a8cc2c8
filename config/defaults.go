package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "sagaflow",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			GRPC: GRPCConfig{
				Enabled:        false,
				Port:           9090,
				MaxConnections: 100,
				HealthInterval: 5 * time.Second,
				Keepalive: GRPCKeepaliveConfig{
					MaxIdle: 5 * time.Minute,
					Time:    time.Minute,
					Timeout: 20 * time.Second,
				},
			},
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 15 * time.Second,
				RequestTimeout:  10 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
				MaxBodyBytes:    1 << 20,
			},
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
				MaxAge:         300,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Storage: StorageConfig{
			Type:          "memory",
			SnapshotEvery: 50,
			Badger: BadgerConfig{
				Path:             "./data/badger",
				SyncWrites:       true,
				ValueLogFileSize: 1 << 28, // 256MB
			},
			Redis: RedisConfig{
				Address:   "localhost:6379",
				Password:  "",
				DB:        0,
				KeyPrefix: "sagaflow",
			},
		},
		Executor: ExecutorConfig{
			MaxRetries: 10,
			Backoff: BackoffConfig{
				Initial: 50 * time.Millisecond,
				Max:     5 * time.Second,
				Factor:  2,
				Jitter:  0.2,
			},
			RateLimit: RateLimitConfig{
				Enabled:   false,
				PerSecond: 100,
				Burst:     20,
			},
		},
		EventBus: EventBusConfig{
			Type:          "memory",
			ChannelPrefix: "sagaflow.v1.events",
			Buffer:        256,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlpgrpc",
			Endpoint:   "localhost:4317",
			Timeout:    5 * time.Second,
			Sampler:    "parentbased_traceidratio",
			SampleRate: 0.1,
		},
		WebSocket: WebSocketConfig{
			Enabled:        true,
			MaxConnections: 100,
			PingInterval:   30 * time.Second,
			WriteTimeout:   10 * time.Second,
		},
	}
}
