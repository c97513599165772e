package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventRequestReceived  EventType = "request_received"
	EventRequestCompleted EventType = "request_completed"
)

type MetricEvent struct {
	Type           EventType
	Timestamp      time.Time
	Target         string // empty when no route matched
	Outcome        string
	Duration       time.Duration
	StatusCode     int
	BytesToBackend int64
	BytesToClient  int64
}

// Collector consumes metric events from a buffered channel on its own
// goroutine. Producers use a non-blocking send, so a full channel drops
// events rather than stalling request handling.
type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

func (c *Collector) EventChannel() chan<- MetricEvent {
	return c.eventCh
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
	case EventRequestReceived:
		c.metrics.IncrementRequests()

	case EventRequestCompleted:
		if event.Target == "" {
			c.metrics.RecordNoRoute()
			return
		}
		c.metrics.RecordOutcome(event.Target, event.Outcome, event.Duration,
			event.StatusCode, event.BytesToBackend, event.BytesToClient)
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

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
