package main

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/goclaw/sagaflow/config"
	"github.com/goclaw/sagaflow/pkg/command"
)

// retrySettings holds the executor options that change on config reload.
// The limiter is shared by every command so that retries are throttled
// process-wide.
type retrySettings struct {
	metrics command.MetricsRecorder
	limiter *rate.Limiter

	mu         sync.RWMutex
	maxRetries int
	backoff    command.Backoff
	throttled  bool
}

func newRetrySettings(cfg config.ExecutorConfig, metrics command.MetricsRecorder) *retrySettings {
	s := &retrySettings{
		metrics: metrics,
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	s.update(cfg)
	return s
}

func (s *retrySettings) update(cfg config.ExecutorConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maxRetries = cfg.MaxRetries
	s.backoff = command.Backoff{
		Initial: cfg.Backoff.Initial,
		Max:     cfg.Backoff.Max,
		Factor:  cfg.Backoff.Factor,
		Jitter:  cfg.Backoff.Jitter,
	}
	if s.backoff.Factor < 1 {
		s.backoff = command.DefaultBackoff()
	}

	s.throttled = cfg.RateLimit.Enabled && cfg.RateLimit.PerSecond > 0
	if s.throttled {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter.SetLimit(rate.Limit(cfg.RateLimit.PerSecond))
		s.limiter.SetBurst(burst)
	} else {
		s.limiter.SetLimit(rate.Inf)
	}
}

// options returns the executor options for one command.
func (s *retrySettings) options() []command.Option {
	s.mu.RLock()
	defer s.mu.RUnlock()

	strategy := command.Unlimited()
	if s.maxRetries >= 0 {
		strategy = command.Counter(s.maxRetries)
	}

	var scheduler command.Scheduler = s.backoff
	if s.throttled {
		scheduler = command.Throttled(scheduler, s.limiter)
	}

	opts := []command.Option{
		command.WithRetryStrategy(strategy),
		command.WithScheduler(scheduler),
	}
	if s.metrics != nil {
		opts = append(opts, command.WithMetrics(s.metrics))
	}
	return opts
}

func (s *retrySettings) snapshot() (maxRetries int, throttled bool, limit rate.Limit) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxRetries, s.throttled, s.limiter.Limit()
}
