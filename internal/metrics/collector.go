package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EventType string

const (
	EventConnectorRegistered EventType = "connector_registered"
	EventRequestDispatched   EventType = "request_dispatched"
	EventConnectorDemoted    EventType = "connector_demoted"
	EventConnectorRevived    EventType = "connector_revived"
	EventProbeCompleted      EventType = "probe_completed"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Connector string
	Duration  time.Duration
	Success   bool
}

type Collector struct {
	eventCh  chan MetricEvent
	metrics  *Metrics
	prom     *promMetrics
	registry *prometheus.Registry
	logger   *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	registry := prometheus.NewRegistry()
	return &Collector{
		eventCh:  make(chan MetricEvent, bufferSize),
		metrics:  NewMetrics(),
		prom:     newPromMetrics(registry),
		registry: registry,
		logger:   logger,
	}
}

// Emit queues an event without blocking; it is dropped when the buffer is full.
func (c *Collector) Emit(event MetricEvent) {
	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventConnectorRegistered:
		c.metrics.SetActive(event.Connector, true)
		c.prom.observeRegistered(event.Connector)

	case EventRequestDispatched:
		c.metrics.RecordDispatch(event.Connector, event.Duration, event.Success)
		c.prom.observeDispatch(event.Connector, event.Duration, event.Success)

	case EventConnectorDemoted:
		c.metrics.RecordDemotion(event.Connector)
		c.prom.observeDemotion(event.Connector)

	case EventConnectorRevived:
		c.metrics.RecordRevival(event.Connector)
		c.prom.observeRevival(event.Connector)

	case EventProbeCompleted:
		c.metrics.RecordProbe(event.Connector, event.Success)
		c.prom.observeProbe(event.Connector, event.Success)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(strategy string) Snapshot {
	return c.metrics.Snapshot(strategy)
}
