// Package health runs periodic probes against the configured anchor
// backends and tracks degraded/healthy transitions.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/sealog-io/sealog/internal/anchor"
	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// BackendStatus is the last observed state of one anchor backend.
type BackendStatus struct {
	Backend   string    `json:"backend"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	FailCount int       `json:"fail_count"`
	CheckedAt time.Time `json:"checked_at"`
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(backend string, healthy bool)

// Checker runs periodic anchor backend health probes.
type Checker struct {
	manager   anchor.Manager
	cfg       Config
	onMetrics MetricsRecordFunc
	logger    *zap.Logger

	mu         sync.Mutex
	failCounts map[string]int
	statuses   map[string]BackendStatus
}

// New creates a Checker over the given anchor manager.
func New(manager anchor.Manager, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Checker{
		manager:    manager,
		cfg:        cfg,
		logger:     logger,
		failCounts: make(map[string]int),
		statuses:   make(map[string]BackendStatus),
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (c *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	c.onMetrics = fn
}

// Start runs the health check loop until quit is closed.
func (c *Checker) Start(quit <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ProbeTimeout)
			c.CheckAll(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// CheckAll probes every anchor backend once and records transitions.
func (c *Checker) CheckAll(ctx context.Context) {
	results := c.manager.HealthCheck(ctx)
	now := time.Now().UTC()

	c.mu.Lock()
	defer c.mu.Unlock()

	for backend, probeErr := range results {
		healthy := probeErr == nil

		if c.onMetrics != nil {
			c.onMetrics(backend, healthy)
		}

		prev := c.failCounts[backend]
		if healthy {
			c.failCounts[backend] = 0
		} else {
			c.failCounts[backend]++
		}
		count := c.failCounts[backend]

		status := BackendStatus{
			Backend:   backend,
			Healthy:   healthy,
			FailCount: count,
			CheckedAt: now,
		}
		if probeErr != nil {
			status.Error = probeErr.Error()
		}
		c.statuses[backend] = status

		switch {
		case healthy && prev >= c.cfg.FailThreshold:
			c.logger.Info("anchor backend recovered", zap.String("backend", backend))
		case !healthy && count == c.cfg.FailThreshold:
			// Transition: healthy → degraded (exactly at threshold)
			c.logger.Warn("anchor backend degraded",
				zap.String("backend", backend),
				zap.Int("fail_count", count),
				zap.Error(probeErr),
			)
		case !healthy:
			c.logger.Debug("anchor backend probe failed",
				zap.String("backend", backend),
				zap.Error(probeErr),
			)
		}
	}
}

// Statuses returns the last observed status per backend.
func (c *Checker) Statuses() []BackendStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]BackendStatus, 0, len(c.statuses))
	for _, s := range c.statuses {
		out = append(out, s)
	}
	return out
}

// Degraded reports whether any backend is at or past the fail threshold.
func (c *Checker) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.failCounts {
		if n >= c.cfg.FailThreshold {
			return true
		}
	}
	return false
}
