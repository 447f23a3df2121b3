package distributor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/angeloszaimis/balancir/internal/connector"
	"github.com/angeloszaimis/balancir/internal/metrics"
	"github.com/angeloszaimis/balancir/internal/strategy"
)

var (
	ErrNoConnectorsAvailable = errors.New("no connectors available")
	ErrInvalidWeight         = errors.New("weight must be a positive integer")
)

// Tracker receives demoted connectors. Its methods are called with the
// distributor lock held, so implementations must not call back into the
// Distributor.
type Tracker interface {
	Track(c connector.Connector) error
	Untrack(c connector.Connector)
	IsTracked(c connector.Connector) bool
}

type Distributor struct {
	mutex     sync.Mutex
	strategy  strategy.Strategy
	active    map[connector.Connector]int
	order     []connector.Connector
	failed    map[connector.Connector]struct{}
	tracker   Tracker
	collector *metrics.Collector
	logger    *slog.Logger
}

func New(strat strategy.Strategy, logger *slog.Logger) *Distributor {
	if strat == nil {
		strat = strategy.NewWeightedRandomStrategy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{
		strategy: strat,
		active:   make(map[connector.Connector]int),
		failed:   make(map[connector.Connector]struct{}),
		logger:   logger,
	}
}

// SetTracker installs the component that probes demoted connectors.
func (d *Distributor) SetTracker(t Tracker) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.tracker = t
}

// SetCollector attaches a metrics collector. Events are dropped when its
// buffer is full.
func (d *Distributor) SetCollector(c *metrics.Collector) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.collector = c
}

// AddConnector registers c as active with weight, overwriting any previous
// weight. A connector in the failed set is moved out of it and untracked in
// the same critical section; this is how the monitor reactivates connectors.
func (d *Distributor) AddConnector(c connector.Connector, weight int) error {
	if err := connector.Validate(c); err != nil {
		return err
	}
	if weight < 1 {
		return fmt.Errorf("%w: got %d for %s", ErrInvalidWeight, weight, c.ID())
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if _, ok := d.active[c]; !ok {
		d.order = append(d.order, c)
	}
	d.active[c] = weight

	// Untrack inside the critical section so c is never both active and
	// tracked, nor neither.
	if d.tracker != nil {
		d.tracker.Untrack(c)
	}

	if _, ok := d.failed[c]; ok {
		delete(d.failed, c)
		d.logger.Info("Connector reactivated",
			slog.String("connector", c.ID()),
			slog.Int("weight", weight))
		d.emit(metrics.EventConnectorRevived, c.ID())
	} else {
		d.emit(metrics.EventConnectorRegistered, c.ID())
	}

	return nil
}

// Get forwards path to a connector chosen by the strategy. Any failure of
// that call demotes the connector before Get returns; the response and error
// are passed back untouched.
func (d *Distributor) Get(ctx context.Context, path string) (connector.Response, error) {
	c, err := d.selectConnector()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := c.Get(ctx, path)

	d.emitEvent(metrics.MetricEvent{
		Type:      metrics.EventRequestDispatched,
		Timestamp: time.Now(),
		Connector: c.ID(),
		Duration:  time.Since(start),
		Success:   connector.Succeeded(res, err),
	})

	if !connector.Succeeded(res, err) {
		d.demote(c, err)
	}

	return res, err
}

func (d *Distributor) selectConnector() (connector.Connector, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.active) == 0 {
		return nil, ErrNoConnectorsAvailable
	}

	candidates := make([]strategy.Candidate, 0, len(d.order))
	for _, c := range d.order {
		candidates = append(candidates, strategy.Candidate{Connector: c, Weight: d.active[c]})
	}

	chosen := d.strategy.Select(candidates)
	if chosen == nil {
		return nil, ErrNoConnectorsAvailable
	}

	return chosen, nil
}

func (d *Distributor) demote(c connector.Connector, cause error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	// Concurrent callers may race on the same failing connector.
	if _, ok := d.active[c]; !ok {
		return
	}

	d.removeActive(c)
	d.failed[c] = struct{}{}

	attrs := []any{slog.String("connector", c.ID())}
	if cause != nil {
		attrs = append(attrs, slog.Any("err", cause))
	}
	d.logger.Warn("Connector demoted", attrs...)

	if d.tracker != nil {
		if err := d.tracker.Track(c); err != nil {
			d.logger.Error("Failed to track demoted connector",
				slog.String("connector", c.ID()),
				slog.Any("err", err))
		}
	}

	d.emit(metrics.EventConnectorDemoted, c.ID())
}

func (d *Distributor) removeActive(c connector.Connector) {
	delete(d.active, c)
	for i, o := range d.order {
		if o == c {
			d.order = append(d.order[:i], d.order[i+1:]...)
			return
		}
	}
}

// Active returns the active set keyed by connector ID.
func (d *Distributor) Active() map[string]int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	out := make(map[string]int, len(d.active))
	for c, w := range d.active {
		out[c.ID()] = w
	}
	return out
}

// Failed returns the IDs of the failed set in sorted order.
func (d *Distributor) Failed() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	out := make([]string, 0, len(d.failed))
	for c := range d.failed {
		out = append(out, c.ID())
	}
	sort.Strings(out)
	return out
}

// IsActive reports whether c is currently eligible for traffic.
func (d *Distributor) IsActive(c connector.Connector) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	_, ok := d.active[c]
	return ok
}

// IsFailed reports whether c is currently excluded from traffic.
func (d *Distributor) IsFailed(c connector.Connector) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	_, ok := d.failed[c]
	return ok
}

// State reports, in one critical section, whether c is active and whether
// the tracker holds it. Outside of a hand-off exactly one of them is true.
func (d *Distributor) State(c connector.Connector) (active, tracked bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	_, active = d.active[c]
	if d.tracker != nil {
		tracked = d.tracker.IsTracked(c)
	}
	return active, tracked
}

// emit must be called with the mutex held.
func (d *Distributor) emit(t metrics.EventType, id string) {
	if d.collector == nil {
		return
	}
	d.collector.Emit(metrics.MetricEvent{
		Type:      t,
		Timestamp: time.Now(),
		Connector: id,
	})
}

func (d *Distributor) emitEvent(event metrics.MetricEvent) {
	d.mutex.Lock()
	collector := d.collector
	d.mutex.Unlock()

	if collector != nil {
		collector.Emit(event)
	}
}
