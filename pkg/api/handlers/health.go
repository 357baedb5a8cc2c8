package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goclaw/sagaflow/pkg/api/response"
	"github.com/goclaw/sagaflow/pkg/version"
)

const defaultCheckTimeout = 2 * time.Second

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

// HealthHandler serves the liveness, readiness and status endpoints.
// Readiness runs every registered check; liveness only reports the process is up.
type HealthHandler struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
	started time.Time
	ready   atomic.Bool
	info    func() map[string]any
}

// NewHealthHandler creates a health handler that is ready until SetReady(false).
func NewHealthHandler() *HealthHandler {
	h := &HealthHandler{
		checks:  make(map[string]Check),
		timeout: defaultCheckTimeout,
		started: time.Now(),
	}
	h.ready.Store(true)
	return h
}

// AddCheck registers a readiness check under name, replacing any previous one.
func (h *HealthHandler) AddCheck(name string, check Check) *HealthHandler {
	if name == "" || check == nil {
		return h
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
	return h
}

// SetCheckTimeout bounds each check run.
func (h *HealthHandler) SetCheckTimeout(d time.Duration) {
	if d > 0 {
		h.timeout = d
	}
}

// SetInfo sets a callback whose fields are merged into /status.
func (h *HealthHandler) SetInfo(fn func() map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.info = fn
}

// SetReady flips readiness, e.g. to drain traffic during shutdown.
func (h *HealthHandler) SetReady(ready bool) {
	h.ready.Store(ready)
}

// Health handles the /health endpoint (liveness).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint (readiness).
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	results, ok := h.runChecks(r.Context())
	status := http.StatusOK
	if !ok || !h.ready.Load() {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, map[string]any{
		"ready":  status == http.StatusOK,
		"checks": results,
	})
}

// Readiness runs every check and fails when one fails or the handler is
// draining. It backs readiness served outside HTTP.
func (h *HealthHandler) Readiness(ctx context.Context) error {
	if !h.ready.Load() {
		return errors.New("draining")
	}
	results, ok := h.runChecks(ctx)
	if ok {
		return nil
	}
	failed := make([]string, 0, len(results))
	for name, result := range results {
		if result != "ok" {
			failed = append(failed, name+": "+result)
		}
	}
	sort.Strings(failed)
	return fmt.Errorf("checks failed: %s", strings.Join(failed, "; "))
}

// Status handles the /status endpoint.
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	results, ok := h.runChecks(r.Context())
	body := map[string]any{
		"healthy": ok,
		"ready":   ok && h.ready.Load(),
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"version": version.Info(),
		"checks":  results,
	}

	h.mu.RLock()
	info := h.info
	h.mu.RUnlock()
	if info != nil {
		for k, v := range info() {
			body[k] = v
		}
	}
	response.JSON(w, http.StatusOK, body)
}

// runChecks runs all checks concurrently and returns "ok" or the error text per check.
func (h *HealthHandler) runChecks(ctx context.Context) (map[string]string, bool) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make([]Check, len(names))
	sort.Strings(names)
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	errs := make([]error, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check Check) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			errs[i] = check(cctx)
		}(i, check)
	}
	wg.Wait()

	results := make(map[string]string, len(names))
	healthy := true
	for i, name := range names {
		if errs[i] != nil {
			results[name] = errs[i].Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}
	return results, healthy
}
