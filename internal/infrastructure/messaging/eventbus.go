// Package messaging implements the in-process event bus that fans session
// lifecycle events out to the journal and other subscribers.
package messaging

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alem-hub/study-buddy/internal/domain/shared"
	"github.com/alem-hub/study-buddy/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrNilHandler is returned by Subscribe for a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrNilEvent is returned by Publish for a nil event.
	ErrNilEvent = errors.New("event cannot be nil")
)

// Partitioned is implemented by events that must be delivered in order with
// other events sharing the same key. Events without it are partitioned by
// aggregate ID.
type Partitioned interface {
	PartitionKey() string
}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus delivers events asynchronously on a fixed set of workers.
// Events with the same partition key land on the same worker, so their
// handlers observe them in publish order. Publish never waits for a handler:
// a slow subscriber only grows its partition's backlog.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]shared.EventHandler
	allHandlers []shared.EventHandler
	closed      bool

	queues    []*partitionQueue
	highWater int
	wg        sync.WaitGroup
	logger    *slog.Logger

	metrics *EventBusMetrics
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// Workers is the number of delivery goroutines.
	Workers int

	// QueueSize is the per-worker backlog above which a warning is logged.
	// Queues are unbounded; Publish never blocks.
	QueueSize int

	Logger *slog.Logger
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		Workers:   4,
		QueueSize: 256,
	}
}

// NewInMemoryEventBus creates the bus and starts its workers.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}

	b := &InMemoryEventBus{
		handlers:  make(map[shared.EventType][]shared.EventHandler),
		queues:    make([]*partitionQueue, config.Workers),
		highWater: config.QueueSize,
		logger:    config.Logger.With(logger.Component("event_bus")),
		metrics:   &EventBusMetrics{},
	}

	for i := range b.queues {
		b.queues[i] = newPartitionQueue()
		b.wg.Add(1)
		go b.worker(i, b.queues[i])
	}

	return b
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}

	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.logger.Debug("subscribed handler", "event_type", eventType)

	return nil
}

// SubscribeAll registers a handler for all events.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}

	b.allHandlers = append(b.allHandlers, handler)
	b.logger.Debug("subscribed global handler")

	return nil
}

// Publish queues the event for delivery and returns immediately.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	// The read lock keeps Close from closing a queue under a pending push.
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrEventBusClosed
	}

	b.metrics.published.Add(1)
	i := b.partition(event)
	if n := b.queues[i].push(event); n == b.highWater+1 {
		b.metrics.backlogged.Add(1)
		b.logger.Warn("event backlog over high water",
			"partition", i,
			"pending", n,
			"event_type", event.EventType(),
		)
	}
	return nil
}

// Close stops accepting events and waits until queued events are delivered.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		q.close()
	}
	b.mu.Unlock()

	b.wg.Wait()

	b.logger.Info("event bus closed", "delivered", b.metrics.Snapshot().HandlerExecutions)
	return nil
}

// Metrics returns the bus counters.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

func (b *InMemoryEventBus) partition(event shared.Event) int {
	if len(b.queues) == 1 {
		return 0
	}

	key := event.AggregateID()
	if p, ok := event.(Partitioned); ok {
		key = p.PartitionKey()
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(b.queues)))
}

func (b *InMemoryEventBus) worker(i int, queue *partitionQueue) {
	defer b.wg.Done()

	for {
		batch, ok := queue.take()
		if !ok {
			return
		}
		for _, event := range batch {
			b.dispatch(event)
		}
		if len(batch) > b.highWater {
			b.logger.Info("event backlog drained", "partition", i, "delivered", len(batch))
		}
	}
}

func (b *InMemoryEventBus) dispatch(event shared.Event) {
	b.mu.RLock()
	handlers := make([]shared.EventHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Debug("no handlers for event", "event_type", event.EventType())
		return
	}

	for _, handler := range handlers {
		b.execute(event, handler)
	}
}

func (b *InMemoryEventBus) execute(event shared.Event, handler shared.EventHandler) {
	start := time.Now()
	err := safeCall(event, handler)
	duration := time.Since(start)

	b.metrics.record(duration, err == nil)

	if err != nil {
		b.logger.Error("event handler failed",
			"event_type", event.EventType(),
			"aggregate_id", event.AggregateID(),
			logger.Latency(duration),
			logger.Err(err),
		)
	}
}

func safeCall(event shared.Event, handler shared.EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(event)
}

// ══════════════════════════════════════════════════════════════════════════════
// PARTITION QUEUE
// FIFO with no capacity limit, drained in batches by one worker.
// ══════════════════════════════════════════════════════════════════════════════

type partitionQueue struct {
	mu      sync.Mutex
	pending []shared.Event
	closed  bool
	wake    chan struct{}
}

func newPartitionQueue() *partitionQueue {
	return &partitionQueue{wake: make(chan struct{}, 1)}
}

// push appends the event and returns the backlog length.
func (q *partitionQueue) push(event shared.Event) int {
	q.mu.Lock()
	q.pending = append(q.pending, event)
	n := len(q.pending)
	q.mu.Unlock()
	q.signal()
	return n
}

func (q *partitionQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *partitionQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// take waits for pending events and returns all of them. ok is false once
// the queue is closed and empty.
func (q *partitionQueue) take() (batch []shared.Event, ok bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			batch, q.pending = q.pending, nil
			q.mu.Unlock()
			return batch, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		q.mu.Unlock()
		<-q.wake
	}
}

// Pending returns the number of events waiting for delivery.
func (b *InMemoryEventBus) Pending() int {
	n := 0
	for _, q := range b.queues {
		q.mu.Lock()
		n += len(q.pending)
		q.mu.Unlock()
	}
	return n
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics counts published events and handler executions.
type EventBusMetrics struct {
	published     atomic.Int64
	backlogged    atomic.Int64
	executions    atomic.Int64
	failures      atomic.Int64
	totalDuration atomic.Int64
}

func (m *EventBusMetrics) record(d time.Duration, success bool) {
	m.executions.Add(1)
	m.totalDuration.Add(int64(d))
	if !success {
		m.failures.Add(1)
	}
}

// EventBusMetricsSnapshot is a point-in-time copy of the counters.
type EventBusMetricsSnapshot struct {
	Published              int64
	Backlogged             int64
	HandlerExecutions      int64
	HandlerFailures        int64
	AverageHandlerDuration time.Duration
}

// Snapshot returns the current counters.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	s := EventBusMetricsSnapshot{
		Published:         m.published.Load(),
		Backlogged:        m.backlogged.Load(),
		HandlerExecutions: m.executions.Load(),
		HandlerFailures:   m.failures.Load(),
	}
	if s.HandlerExecutions > 0 {
		s.AverageHandlerDuration = time.Duration(m.totalDuration.Load() / s.HandlerExecutions)
	}
	return s
}
