package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jittakal/portbuffer/internal/buffer"
	"github.com/jittakal/portbuffer/internal/errors"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
// Liveness probes should only fail if the process needs to be restarted.
func LivenessHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, logger)
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
// Readiness probes indicate if the application can handle traffic.
func ReadinessHandler(checker HealthChecker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		writeHealth(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}, logger)
	}
}

func writeHealth(w http.ResponseWriter, statusCode int, response HealthResponse, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("failed to encode health response", zap.Error(err))
	}
}

// CheckFunc reports a component problem as an error.
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name     string
	check    CheckFunc
	liveness bool
}

// Checker is a HealthChecker built from registered component checks.
// Liveness runs only the liveness checks; readiness runs all of them and is
// false once shutdown has begun.
type Checker struct {
	mu           sync.RWMutex
	checks       []namedCheck
	status       map[string]string
	shuttingDown atomic.Bool
}

// NewChecker creates an empty Checker.
func NewChecker() *Checker {
	return &Checker{status: make(map[string]string)}
}

// AddLivenessCheck registers a check whose failure means the process should
// be restarted. Liveness checks also count towards readiness.
func (c *Checker) AddLivenessCheck(name string, fn CheckFunc) {
	c.add(namedCheck{name: name, check: fn, liveness: true})
}

// AddReadinessCheck registers a check that only affects readiness.
func (c *Checker) AddReadinessCheck(name string, fn CheckFunc) {
	c.add(namedCheck{name: name, check: fn})
}

func (c *Checker) add(nc namedCheck) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, nc)
}

// SetShuttingDown marks the process as draining.
func (c *Checker) SetShuttingDown() {
	c.shuttingDown.Store(true)
}

// Liveness implements HealthChecker.
func (c *Checker) Liveness() bool {
	return c.run(context.Background(), true)
}

// Readiness implements HealthChecker.
func (c *Checker) Readiness(ctx context.Context) bool {
	ready := c.run(ctx, false)
	return ready && !c.shuttingDown.Load()
}

// IsHealthy implements HealthChecker.
func (c *Checker) IsHealthy() bool {
	return c.Readiness(context.Background())
}

// GetStatus returns the outcome of the most recent run of each check.
func (c *Checker) GetStatus() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.status)+1)
	for k, v := range c.status {
		out[k] = v
	}
	if c.shuttingDown.Load() {
		out["shutdown"] = "in progress"
	}
	return out
}

func (c *Checker) run(ctx context.Context, livenessOnly bool) bool {
	c.mu.RLock()
	checks := make([]namedCheck, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	healthy := true
	results := make(map[string]string, len(checks))
	for _, nc := range checks {
		if livenessOnly && !nc.liveness {
			continue
		}
		if err := nc.check(ctx); err != nil {
			results[nc.name] = err.Error()
			healthy = false
			continue
		}
		results[nc.name] = "ok"
	}

	c.mu.Lock()
	for k, v := range results {
		c.status[k] = v
	}
	c.mu.Unlock()

	return healthy
}

// BufferSource exposes the state of a port buffer.
type BufferSource interface {
	Name() string
	Stats() buffer.Stats
}

// BufferCheck fails once the buffer has been closed.
func BufferCheck(b BufferSource) CheckFunc {
	return func(context.Context) error {
		if b.Stats().Closed {
			return fmt.Errorf("port %s: %w", b.Name(), errors.ErrBufferClosed)
		}
		return nil
	}
}

// TransportCheck fails while no transport is attached to the buffer.
func TransportCheck(b BufferSource) CheckFunc {
	return func(context.Context) error {
		if !b.Stats().Attached {
			return fmt.Errorf("port %s: no transport attached", b.Name())
		}
		return nil
	}
}

// Runner reports whether a background loop is active.
type Runner interface {
	Running() bool
}

// RunningCheck fails while the named loop is not running.
func RunningCheck(name string, r Runner) CheckFunc {
	return func(context.Context) error {
		if !r.Running() {
			return fmt.Errorf("%s not running", name)
		}
		return nil
	}
}
