package anchor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoBackends is returned by Start when the manager has nothing to anchor to.
var ErrNoBackends = errors.New("anchor: no backends configured")

// errCircuitOpen marks results for backends skipped while cooling down.
var errCircuitOpen = errors.New("anchor: backend circuit open")

// ManagerConfig tunes the multi-backend manager. Zero values fall back to
// the defaults noted per field.
type ManagerConfig struct {
	QueueCapacity    int           // pending fire-and-forget requests; default 256
	MaxAttempts      int           // attempts per backend per request; default 3
	RetryBackoff     time.Duration // first retry delay, multiplied by 5 per attempt; default 1s
	FailureThreshold int           // consecutive failures that open the circuit; default 5
	Cooldown         time.Duration // circuit-open duration; default 30s
	AttemptTimeout   time.Duration // per-call timeout; default 10s
	RecentCapacity   int           // result ring size; default 100
}

func (c *ManagerConfig) applyDefaults() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.RecentCapacity <= 0 {
		c.RecentCapacity = 100
	}
}

type backendHealth struct {
	consecutiveFailures int
	openUntil           time.Time
}

// MultiManager fans each request out to every configured backend with
// bounded retries and a per-backend failure circuit. One worker goroutine
// consumes the queue; results are published on a buffered channel.
type MultiManager struct {
	cfg      ManagerConfig
	backends []Backend
	logger   *zap.Logger

	queue   chan Request
	results chan Result
	stopCh  chan struct{}
	done    chan struct{}

	mu        sync.Mutex
	started   bool
	stopped   bool
	health    map[string]*backendHealth
	stats     Stats
	recent    []Result
	recentPos int
}

// NewMultiManager creates a manager over the given backends.
func NewMultiManager(cfg ManagerConfig, backends []Backend, logger *zap.Logger) *MultiManager {
	cfg.applyDefaults()
	m := &MultiManager{
		cfg:      cfg,
		backends: backends,
		logger:   logger,
		queue:    make(chan Request, cfg.QueueCapacity),
		results:  make(chan Result, cfg.QueueCapacity*2),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		health:   make(map[string]*backendHealth),
		recent:   make([]Result, 0, cfg.RecentCapacity),
	}
	for _, b := range backends {
		m.health[b.Name()] = &backendHealth{}
	}
	return m
}

// Start implements Manager.
func (m *MultiManager) Start() error {
	if len(m.backends) == 0 {
		return ErrNoBackends
	}
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	go m.run()
	m.logger.Info("anchor manager started", zap.Int("backends", len(m.backends)))
	return nil
}

// Stop implements Manager. It drains queued requests, waits for the worker,
// and closes the results channel. Safe to call more than once.
func (m *MultiManager) Stop() error {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.done
	close(m.results)
	m.logger.Info("anchor manager stopped")
	return nil
}

// AnchorRoot implements Manager.
func (m *MultiManager) AnchorRoot(req Request) bool {
	m.mu.Lock()
	accepting := m.started && !m.stopped
	m.mu.Unlock()
	if !accepting {
		return false
	}

	select {
	case m.queue <- req:
		m.mu.Lock()
		m.stats.Submitted++
		m.stats.Pending++
		m.mu.Unlock()
		return true
	default:
		m.mu.Lock()
		m.stats.Dropped++
		m.mu.Unlock()
		m.logger.Warn("anchor queue full, request dropped",
			zap.String("root", req.RootHash),
			zap.Int64("batch", req.BatchID),
		)
		return false
	}
}

// AnchorRootSync implements Manager.
func (m *MultiManager) AnchorRootSync(ctx context.Context, req Request) []Result {
	return m.dispatch(ctx, req)
}

// Results implements Manager.
func (m *MultiManager) Results() <-chan Result {
	return m.results
}

// HealthCheck implements Manager.
func (m *MultiManager) HealthCheck(ctx context.Context) map[string]error {
	out := make(map[string]error, len(m.backends))
	for _, b := range m.backends {
		cctx, cancel := context.WithTimeout(ctx, m.cfg.AttemptTimeout)
		out[b.Name()] = b.HealthCheck(cctx)
		cancel()
	}
	return out
}

// Stats implements Manager.
func (m *MultiManager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// RecentResults implements Manager. Results are returned newest first.
func (m *MultiManager) RecentResults(n int) []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 || n > len(m.recent) {
		n = len(m.recent)
	}
	out := make([]Result, 0, n)
	for i := 0; i < n; i++ {
		pos := (m.recentPos - 1 - i + len(m.recent)) % len(m.recent)
		out = append(out, m.recent[pos])
	}
	return out
}

func (m *MultiManager) run() {
	defer close(m.done)
	for {
		select {
		case req := <-m.queue:
			m.process(req)
		case <-m.stopCh:
			// Drain whatever was accepted before the stop signal.
			for {
				select {
				case req := <-m.queue:
					m.process(req)
				default:
					return
				}
			}
		}
	}
}

func (m *MultiManager) process(req Request) {
	results := m.dispatch(context.Background(), req)
	m.mu.Lock()
	m.stats.Pending--
	m.mu.Unlock()
	for _, r := range results {
		select {
		case m.results <- r:
		default:
			// Nobody is consuming fast enough; losing a result only skews
			// observer counters, never the anchoring itself.
			m.logger.Warn("anchor result dropped, results channel full",
				zap.String("backend", r.Backend),
				zap.Int64("batch", r.BatchID),
			)
		}
	}
}

// dispatch runs req against every backend and records the outcomes.
func (m *MultiManager) dispatch(ctx context.Context, req Request) []Result {
	results := make([]Result, 0, len(m.backends))
	for _, b := range m.backends {
		res := m.anchorOne(ctx, b, req)
		m.record(b.Name(), res)
		results = append(results, res)
	}
	return results
}

func (m *MultiManager) anchorOne(ctx context.Context, b Backend, req Request) Result {
	base := Result{
		RequestID: req.ID,
		Backend:   b.Name(),
		RootHash:  req.RootHash,
		BatchID:   req.BatchID,
	}

	if m.circuitOpen(b.Name()) {
		base.Status = StatusFailed
		base.Error = errCircuitOpen.Error()
		base.At = time.Now().UTC()
		return base
	}

	var lastErr error
	delay := m.cfg.RetryBackoff
attempts:
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				lastErr = ctx.Err()
				break attempts
			}
			delay *= 5
		}

		cctx, cancel := context.WithTimeout(ctx, m.cfg.AttemptTimeout)
		res, err := b.Anchor(cctx, req)
		cancel()
		if err == nil {
			res.RequestID = req.ID
			res.RootHash = req.RootHash
			res.BatchID = req.BatchID
			res.At = time.Now().UTC()
			if res.Status == "" {
				res.Status = StatusConfirmed
			}
			return res
		}
		lastErr = err
		m.logger.Warn("anchor attempt failed",
			zap.String("backend", b.Name()),
			zap.Int("attempt", attempt),
			zap.Int64("batch", req.BatchID),
			zap.Error(err),
		)
	}

	base.Status = StatusFailed
	if lastErr != nil {
		base.Error = lastErr.Error()
	}
	base.At = time.Now().UTC()
	return base
}

func (m *MultiManager) circuitOpen(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.health[name]
	return h != nil && time.Now().Before(h.openUntil)
}

func (m *MultiManager) record(name string, res Result) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.health[name]
	if res.Ok() {
		m.stats.Succeeded++
		if h != nil {
			h.consecutiveFailures = 0
		}
	} else {
		m.stats.Failed++
		if h != nil && res.Error != errCircuitOpen.Error() {
			h.consecutiveFailures++
			if h.consecutiveFailures >= m.cfg.FailureThreshold {
				h.openUntil = time.Now().Add(m.cfg.Cooldown)
				h.consecutiveFailures = 0
				m.logger.Error("anchor backend circuit opened",
					zap.String("backend", name),
					zap.Duration("cooldown", m.cfg.Cooldown),
				)
			}
		}
	}

	if len(m.recent) < cap(m.recent) {
		m.recent = append(m.recent, res)
		m.recentPos = len(m.recent) % cap(m.recent)
		return
	}
	m.recent[m.recentPos] = res
	m.recentPos = (m.recentPos + 1) % len(m.recent)
}

var _ Manager = (*MultiManager)(nil)

// String implements fmt.Stringer for log friendliness.
func (s Stats) String() string {
	return fmt.Sprintf("submitted=%d succeeded=%d failed=%d pending=%d dropped=%d",
		s.Submitted, s.Succeeded, s.Failed, s.Pending, s.Dropped)
}
