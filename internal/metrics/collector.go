package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventSyncCompleted    EventType = "sync_completed"
	EventBackendStarted   EventType = "backend_started"
	EventBackendStopped   EventType = "backend_stopped"
	EventBackendKilled    EventType = "backend_killed"
	EventBackendExited    EventType = "backend_exited"
	EventRequestForwarded EventType = "request_forwarded"
)

type MetricEvent struct {
	Type       EventType
	Timestamp  time.Time
	Outcome    string
	Duration   time.Duration
	StatusCode int
	Attempts   int
}

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

// Emit queues an event without blocking. Events are dropped when the buffer
// is full or the collector is nil.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
	}
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
	case EventSyncCompleted:
		c.metrics.RecordSync(event.Outcome, event.Duration)

	case EventBackendStarted:
		c.metrics.RecordBackendStart()

	case EventBackendStopped:
		c.metrics.RecordBackendStop()

	case EventBackendKilled:
		c.metrics.RecordBackendKill()

	case EventBackendExited:
		c.metrics.RecordUnexpectedExit()

	case EventRequestForwarded:
		c.metrics.RecordRequest(event.StatusCode, event.Duration, event.Attempts)
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

func (c *Collector) Metrics() *Metrics {
	return c.metrics
}
