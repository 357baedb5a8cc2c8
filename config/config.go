// Package config provides configuration management for Sagaflow.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for Sagaflow.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP API server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Storage is the event store configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Executor is the command retry configuration.
	Executor ExecutorConfig `mapstructure:"executor"`

	// EventBus is the committed-event fan-out configuration.
	EventBus EventBusConfig `mapstructure:"eventbus"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`

	// WebSocket is the live event stream configuration.
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host" validate:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// GRPC is the gRPC health server configuration.
	GRPC GRPCConfig `mapstructure:"grpc"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`
}

// GRPCConfig holds settings for the gRPC server that exposes the standard
// health and reflection services.
type GRPCConfig struct {
	// Enabled enables the gRPC server.
	Enabled bool `mapstructure:"enabled"`

	// Port is the gRPC server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`

	// MaxConnections is the maximum number of concurrent streams per connection.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// EnableReflection enables gRPC server reflection for debugging.
	EnableReflection bool `mapstructure:"enable_reflection"`

	// HealthInterval is how often readiness checks refresh the health service.
	HealthInterval time.Duration `mapstructure:"health_interval" validate:"gt=0"`

	// RateLimit bounds requests per second per peer. Zero disables it.
	RateLimit float64 `mapstructure:"rate_limit" validate:"gte=0"`

	// Keepalive is the keepalive configuration.
	Keepalive GRPCKeepaliveConfig `mapstructure:"keepalive"`
}

// GRPCKeepaliveConfig holds gRPC keepalive settings.
type GRPCKeepaliveConfig struct {
	// MaxIdle is the maximum idle time before closing a connection.
	MaxIdle time.Duration `mapstructure:"max_idle" validate:"gte=0"`

	// Time is the keepalive ping interval.
	Time time.Duration `mapstructure:"time" validate:"gte=0"`

	// Timeout is the keepalive ping timeout.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"gte=0"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gte=0"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"gte=0"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	// RequestTimeout bounds how long a single command may run, retries included.
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"gt=0"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`

	// MaxBodyBytes limits the size of request bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" validate:"gt=0"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enabled enables CORS support.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedMethods is the list of allowed HTTP methods.
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// AllowedHeaders is the list of allowed headers.
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge is the maximum age of CORS preflight cache in seconds.
	MaxAge int `mapstructure:"max_age"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// StorageConfig holds event store settings.
type StorageConfig struct {
	// Type is the storage backend (memory, badger, redis).
	Type string `mapstructure:"type" validate:"oneof=memory badger redis"`

	// SnapshotEvery writes an aggregate snapshot after this many committed
	// versions. Zero disables snapshots.
	SnapshotEvery int `mapstructure:"snapshot_every" validate:"gte=0"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`

	// Redis is the Redis configuration.
	Redis RedisConfig `mapstructure:"redis"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `mapstructure:"address" validate:"host"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db" validate:"gte=0"`

	// KeyPrefix namespaces every key written by the store.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ExecutorConfig holds command retry settings.
type ExecutorConfig struct {
	// MaxRetries bounds retries after the first attempt. -1 retries until the
	// request context ends.
	MaxRetries int `mapstructure:"max_retries" validate:"gte=-1"`

	// Backoff is the delay between attempts.
	Backoff BackoffConfig `mapstructure:"backoff"`

	// RateLimit throttles retries process-wide.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	// Initial is the delay before the first retry.
	Initial time.Duration `mapstructure:"initial" validate:"gte=0"`

	// Max caps the delay.
	Max time.Duration `mapstructure:"max" validate:"gte=0"`

	// Factor multiplies the delay after each attempt.
	Factor float64 `mapstructure:"factor" validate:"gte=1"`

	// Jitter adds up to this fraction of the delay at random (0.0-1.0).
	Jitter float64 `mapstructure:"jitter" validate:"min=0,max=1"`
}

// RateLimitConfig holds token bucket settings.
type RateLimitConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	PerSecond float64 `mapstructure:"per_second" validate:"gte=0"`
	Burst     int     `mapstructure:"burst" validate:"gte=0"`
}

// EventBusConfig holds committed-event fan-out settings.
type EventBusConfig struct {
	// Type is the bus transport (memory, redis). Redis reuses storage.redis.
	Type string `mapstructure:"type" validate:"oneof=memory redis"`

	// ChannelPrefix prefixes Redis pub/sub channels.
	ChannelPrefix string `mapstructure:"channel_prefix"`

	// Buffer is the per-subscriber buffer size.
	Buffer int `mapstructure:"buffer" validate:"min=1"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path" validate:"startswith=/"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter. Only otlpgrpc is supported.
	Exporter string `mapstructure:"exporter"`

	// Type is the legacy backend name (jaeger, zipkin), mapped onto Exporter.
	Type string `mapstructure:"type"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Timeout bounds a single export.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are sent with every export request.
	Headers map[string]string `mapstructure:"headers"`

	// Sampler is always_on, always_off or parentbased_traceidratio.
	Sampler string `mapstructure:"sampler"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// WebSocketConfig holds live event stream settings.
type WebSocketConfig struct {
	// Enabled mounts the /ws/events endpoint.
	Enabled bool `mapstructure:"enabled"`

	// MaxConnections caps concurrent clients.
	MaxConnections int `mapstructure:"max_connections" validate:"min=1"`

	// AllowedOrigins restricts the Origin header. Empty allows all.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// PingInterval is the keepalive interval.
	PingInterval time.Duration `mapstructure:"ping_interval" validate:"gt=0"`

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := ValidateWithDetails(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Storage: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Storage.Type)
}
