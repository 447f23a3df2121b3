package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/balancir/internal/connector"
	"github.com/angeloszaimis/balancir/internal/metrics"
)

const DefaultWeight = 50

// Reactivator is the reactivation entry point of the distributor.
type Reactivator interface {
	AddConnector(c connector.Connector, weight int) error
}

type Config struct {
	PollingInterval time.Duration
	PingPath        string
	Threshold       Threshold
	// DefaultWeight is the weight a revived connector re-enters with.
	DefaultWeight int
	// MaxConcurrentProbes bounds probes in flight during one poll; zero
	// means unbounded.
	MaxConcurrentProbes int
}

func (c Config) Validate() error {
	if err := c.Threshold.Validate(); err != nil {
		return err
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.PollingInterval, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.PingPath, validation.Required),
		validation.Field(&c.DefaultWeight, validation.Required, validation.Min(1)),
		validation.Field(&c.MaxConcurrentProbes, validation.Min(0)),
	)
}

// ConnectionMonitor owns one outcome window per tracked connector. Lock order
// is distributor first, then monitor: the distributor calls Track and Untrack
// under its own lock, so the monitor never holds its mutex while calling the
// distributor.
type ConnectionMonitor struct {
	mutex     sync.Mutex
	pollMutex sync.Mutex

	distributor Reactivator
	config      Config
	windows     map[connector.Connector]*Window
	collector   *metrics.Collector
	logger      *slog.Logger

	cancel  context.CancelFunc
	started bool
	stopped bool
}

// target pairs a connector with the window it had when a poll began.
type target struct {
	connector connector.Connector
	window    *Window
}

func New(distributor Reactivator, cfg Config, logger *slog.Logger) (*ConnectionMonitor, error) {
	if distributor == nil {
		return nil, fmt.Errorf("monitor requires a distributor")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid monitor config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ConnectionMonitor{
		distributor: distributor,
		config:      cfg,
		windows:     make(map[connector.Connector]*Window),
		logger:      logger,
	}, nil
}

func (m *ConnectionMonitor) SetCollector(c *metrics.Collector) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.collector = c
}

// Config returns the active configuration.
func (m *ConnectionMonitor) Config() Config {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.config
}

// SetThreshold swaps the revival threshold. Existing windows are trimmed to
// the new size.
func (m *ConnectionMonitor) SetThreshold(t Threshold) error {
	if err := t.Validate(); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.config.Threshold = t
	for _, w := range m.windows {
		w.Resize(t.WindowSize)
	}
	return nil
}

// Track starts probing c from an empty window. Tracking an already tracked
// connector resets its window.
func (m *ConnectionMonitor) Track(c connector.Connector) error {
	if err := connector.Validate(c); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.windows[c] = NewWindow(m.config.Threshold.WindowSize)
	m.logger.Info("Tracking connector",
		slog.String("connector", c.ID()),
		slog.String("threshold", m.config.Threshold.String()))
	return nil
}

// Untrack stops probing c and discards its window.
func (m *ConnectionMonitor) Untrack(c connector.Connector) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.windows, c)
}

// Connectors returns the tracked connectors ordered by ID.
func (m *ConnectionMonitor) Connectors() []connector.Connector {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([]connector.Connector, 0, len(m.windows))
	for c := range m.windows {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID() < out[j].ID()
	})
	return out
}

// IsTracked reports whether c currently has an outcome window.
func (m *ConnectionMonitor) IsTracked(c connector.Connector) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.windows[c]
	return ok
}

// Window returns a copy of c's outcomes, oldest first, or nil if c is not
// tracked.
func (m *ConnectionMonitor) Window(c connector.Connector) []bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	w, ok := m.windows[c]
	if !ok {
		return nil
	}
	return w.Outcomes()
}

// Tally records one probe outcome for c and reports whether the revival
// threshold is now met. Outcomes for untracked connectors, or arriving after
// Stop, are discarded.
func (m *ConnectionMonitor) Tally(c connector.Connector, ok bool) bool {
	m.mutex.Lock()
	w := m.windows[c]
	m.mutex.Unlock()

	if w == nil {
		return false
	}
	return m.tally(c, w, ok)
}

// tally records into w only while w is still c's window. A connector that was
// reactivated and demoted again since w was taken has a fresh window that
// must not see the old outcome.
func (m *ConnectionMonitor) tally(c connector.Connector, w *Window, ok bool) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.stopped || m.windows[c] != w {
		return false
	}

	w.Record(ok)
	return m.config.Threshold.Met(w)
}

// ThresholdMet evaluates the revival predicate without recording anything.
func (m *ConnectionMonitor) ThresholdMet(c connector.Connector) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	w, ok := m.windows[c]
	if !ok {
		return false
	}
	return m.config.Threshold.Met(w)
}

// Reactivate hands c back to the distributor with the default weight and
// stops tracking it.
func (m *ConnectionMonitor) Reactivate(c connector.Connector) error {
	m.mutex.Lock()
	w := m.windows[c]
	m.mutex.Unlock()

	return m.reactivate(c, w)
}

func (m *ConnectionMonitor) reactivate(c connector.Connector, w *Window) error {
	m.mutex.Lock()
	weight := m.config.DefaultWeight
	stale := w != nil && m.windows[c] != w
	m.mutex.Unlock()

	if stale {
		return nil
	}

	if err := m.distributor.AddConnector(c, weight); err != nil {
		return fmt.Errorf("reactivate %s: %w", c.ID(), err)
	}

	// A distributor wired to this monitor has already untracked c, and a
	// demotion racing in since then has installed a new window to keep.
	m.mutex.Lock()
	if current, ok := m.windows[c]; ok && current == w {
		delete(m.windows, c)
	}
	m.mutex.Unlock()
	return nil
}

// targets snapshots the tracked connectors, ordered by ID, with their
// current windows.
func (m *ConnectionMonitor) targets() []target {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	out := make([]target, 0, len(m.windows))
	for c, w := range m.windows {
		out = append(out, target{connector: c, window: w})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].connector.ID() < out[j].connector.ID()
	})
	return out
}

// Poll probes every tracked connector once, then tallies each outcome and
// reactivates the connectors that met the threshold. Polls never overlap.
func (m *ConnectionMonitor) Poll(ctx context.Context) {
	m.pollMutex.Lock()
	defer m.pollMutex.Unlock()
	m.poll(ctx)
}

// Fire runs one poll immediately, outside the schedule. It does nothing once
// the monitor has been stopped.
func (m *ConnectionMonitor) Fire(ctx context.Context) {
	if m.isStopped() {
		return
	}
	m.Poll(ctx)
}

func (m *ConnectionMonitor) poll(ctx context.Context) {
	if m.isStopped() {
		return
	}

	targets := m.targets()
	if len(targets) == 0 {
		return
	}

	m.mutex.Lock()
	cfg := m.config
	collector := m.collector
	m.mutex.Unlock()

	// Probes outlive cancellation; their outcomes are dropped by Tally.
	probeCtx := context.WithoutCancel(ctx)
	results := make([]bool, len(targets))

	var g errgroup.Group
	if cfg.MaxConcurrentProbes > 0 {
		g.SetLimit(cfg.MaxConcurrentProbes)
	}

	for i, t := range targets {
		c := t.connector
		g.Go(func() error {
			start := time.Now()
			res, err := c.Get(probeCtx, cfg.PingPath)
			results[i] = connector.Succeeded(res, err)

			if err != nil {
				m.logger.Debug("Probe failed",
					slog.String("connector", c.ID()),
					slog.Any("err", err))
			}

			if collector != nil {
				collector.Emit(metrics.MetricEvent{
					Type:      metrics.EventProbeCompleted,
					Timestamp: time.Now(),
					Connector: c.ID(),
					Duration:  time.Since(start),
					Success:   results[i],
				})
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, t := range targets {
		c := t.connector
		if !m.tally(c, t.window, results[i]) {
			continue
		}
		if err := m.reactivate(c, t.window); err != nil {
			m.logger.Error("Failed to reactivate connector",
				slog.String("connector", c.ID()),
				slog.Any("err", err))
		}
	}
}

// Start polls on the configured interval until ctx is done or Stop is
// called. Polls run on the loop goroutine, so ticks that arrive during a slow
// poll are coalesced by the ticker rather than queued.
//
// Start runs at most one loop per monitor; later calls, and calls after Stop,
// do nothing.
func (m *ConnectionMonitor) Start(ctx context.Context) {
	m.mutex.Lock()
	if m.started || m.stopped {
		m.mutex.Unlock()
		m.logger.Warn("Connection monitor already started or stopped")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.started = true
	m.cancel = cancel
	interval := m.config.PollingInterval
	m.mutex.Unlock()

	go m.run(ctx, interval)
}

func (m *ConnectionMonitor) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("Connection monitor started", slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Connection monitor stopped")
			return

		case <-ticker.C:
			if !m.pollMutex.TryLock() {
				m.logger.Debug("Skipping tick, poll already running")
				continue
			}
			m.poll(ctx)
			m.pollMutex.Unlock()
		}
	}
}

// Stop halts future polls. A poll in flight finishes its probes but records
// nothing.
func (m *ConnectionMonitor) Stop() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.stopped = true
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *ConnectionMonitor) isStopped() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.stopped
}
