package grpc

import (
	"fmt"
	"time"
)

// Config holds gRPC server configuration
type Config struct {
	// Address is the server listening address (e.g., ":9090")
	Address string

	// MaxConnections caps concurrent streams per connection. Zero means the gRPC default.
	MaxConnections int

	// Keepalive settings
	Keepalive *KeepaliveConfig

	// EnableReflection enables gRPC server reflection for debugging
	EnableReflection bool

	// HealthInterval is how often the health service re-runs its readiness check.
	HealthInterval time.Duration

	// RateLimit bounds requests per second per peer host. Zero disables it.
	RateLimit float64
}

// KeepaliveConfig holds keepalive configuration
type KeepaliveConfig struct {
	MaxIdle time.Duration
	Time    time.Duration
	Timeout time.Duration
}

// DefaultConfig returns a default gRPC server configuration
func DefaultConfig() *Config {
	return &Config{
		Address:        ":9090",
		MaxConnections: 100,
		HealthInterval: 5 * time.Second,
		Keepalive: &KeepaliveConfig{
			MaxIdle: 5 * time.Minute,
			Time:    time.Minute,
			Timeout: 20 * time.Second,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections cannot be negative")
	}
	if c.HealthInterval <= 0 {
		return fmt.Errorf("health interval must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if k := c.Keepalive; k != nil {
		if k.MaxIdle < 0 || k.Time < 0 || k.Timeout < 0 {
			return fmt.Errorf("keepalive durations cannot be negative")
		}
		if k.Time > 0 && k.Timeout >= k.Time {
			return fmt.Errorf("keepalive timeout must be less than ping interval")
		}
	}
	return nil
}
