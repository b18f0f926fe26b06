// Package messaging implements the in-process event bus that carries ledger
// and question lifecycle events to side-effect handlers.
package messaging

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alem-hub/questpoints/internal/domain/shared"
	"github.com/alem-hub/questpoints/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrEventBusClosed is returned when operations are attempted on a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic is returned when a handler panics.
	ErrHandlerPanic = errors.New("handler panicked")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrNilEvent is returned when publishing a nil event.
	ErrNilEvent = errors.New("event cannot be nil")
)

// Recorder receives bus metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordPublish(eventType string)
	RecordHandlerExecution(eventType string, d time.Duration, success bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordPublish(string)                               {}
func (nopRecorder) RecordHandlerExecution(string, time.Duration, bool) {}

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus is an in-memory implementation of shared.EventBus.
// Handler failures are logged and counted; they never fail the publisher,
// because the ledger write that produced the event has already committed.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]subscription
	allHandlers []subscription
	asyncMode   bool
	workerPool  chan struct{}
	logger      *logger.Logger
	recorder    Recorder
	closed      bool
	closeCh     chan struct{}
	wg          sync.WaitGroup
}

// subscription is one handler; inline handlers run on the publisher's
// goroutine even in async mode.
type subscription struct {
	handler shared.EventHandler
	inline  bool
}

// InMemoryEventBusConfig contains configuration for InMemoryEventBus.
type InMemoryEventBusConfig struct {
	// AsyncMode runs handlers on a bounded worker pool instead of inline.
	AsyncMode bool

	// WorkerPoolSize is the number of concurrent workers for async processing.
	WorkerPoolSize int

	Logger   *logger.Logger
	Recorder Recorder
}

// DefaultInMemoryEventBusConfig returns sensible defaults.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{
		AsyncMode:      true,
		WorkerPoolSize: 10,
	}
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	if config.Recorder == nil {
		config.Recorder = nopRecorder{}
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = 10
	}

	return &InMemoryEventBus{
		handlers:   make(map[shared.EventType][]subscription),
		asyncMode:  config.AsyncMode,
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		logger:     config.Logger.With(logger.Component("eventbus")),
		recorder:   config.Recorder,
		closeCh:    make(chan struct{}),
	}
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.subscribe(eventType, subscription{handler: handler})
}

// SubscribeSync registers a handler that completes before Publish returns,
// whatever the bus mode. Use it for side effects a caller must observe
// right after its write, such as cache invalidation.
func (b *InMemoryEventBus) SubscribeSync(eventType shared.EventType, handler shared.EventHandler) error {
	return b.subscribe(eventType, subscription{handler: handler, inline: true})
}

func (b *InMemoryEventBus) subscribe(eventType shared.EventType, sub subscription) error {
	if sub.handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}

	b.handlers[eventType] = append(b.handlers[eventType], sub)
	b.logger.Debug("subscribed handler",
		logger.String("event_type", string(eventType)),
		logger.Bool("inline", sub.inline),
	)
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

	b.allHandlers = append(b.allHandlers, subscription{handler: handler})
	return nil
}

// Publish sends an event to all subscribed handlers.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	subs := make([]subscription, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	subs = append(subs, b.handlers[event.EventType()]...)
	subs = append(subs, b.allHandlers...)
	b.mu.RUnlock()

	b.recorder.RecordPublish(string(event.EventType()))

	for _, sub := range subs {
		if b.asyncMode && !sub.inline {
			b.executeAsync(event, sub.handler)
			continue
		}
		if err := b.execute(event, sub.handler); err != nil {
			b.logger.Error("handler error",
				logger.String("event_type", string(event.EventType())),
				logger.String("aggregate_id", event.AggregateID()),
				logger.Err(err),
			)
		}
	}
	return nil
}

// executeAsync executes a handler on the worker pool.
func (b *InMemoryEventBus) executeAsync(event shared.Event, handler shared.EventHandler) {
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()

		select {
		case b.workerPool <- struct{}{}:
			defer func() { <-b.workerPool }()
		case <-b.closeCh:
			return
		}

		if err := b.execute(event, handler); err != nil {
			b.logger.Error("async handler error",
				logger.String("event_type", string(event.EventType())),
				logger.String("aggregate_id", event.AggregateID()),
				logger.Err(err),
			)
		}
	}()
}

// execute runs one handler, converting a panic into ErrHandlerPanic.
func (b *InMemoryEventBus) execute(event shared.Event, handler shared.EventHandler) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
		b.recorder.RecordHandlerExecution(string(event.EventType()), time.Since(start), err == nil)
	}()
	return handler(event)
}

// Close stops accepting events and waits for running handlers.
// Async handlers still waiting for a worker slot are dropped.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	b.wg.Wait()

	b.logger.Info("event bus closed")
	return nil
}

// Wait blocks until every handler started so far has finished.
func (b *InMemoryEventBus) Wait() {
	b.wg.Wait()
}

var _ shared.EventBus = (*InMemoryEventBus)(nil)
