package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/garyjia/bi-workflow/internal/domain/event"
)

// DefaultQueueSize bounds the async queue before DispatchAsync blocks
const DefaultQueueSize = 1024

// ErrClosed is returned once Close has been called
var ErrClosed = errors.New("dispatcher is closed")

// Dispatcher routes workflow events to subscribed handlers
type Dispatcher interface {
	// Subscribe registers a handler for an event type
	Subscribe(eventType event.Type, handler Handler)

	// SubscribeNamed registers a handler with a name used in logs.
	// AnyType registers the handler for every event.
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// Dispatch runs every matching handler synchronously and joins their errors
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync queues evt for background delivery. Events are delivered
	// in the order they were queued, so a subscriber sees an instance's
	// decision before its completion. Handlers inherit ctx values only.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// Subscriptions lists handler names by event type
	Subscriptions() map[event.Type][]string

	// QueueDepth is the number of queued async events
	QueueDepth() int

	// Close stops accepting events and drains the async queue
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type queued struct {
	ctx context.Context
	evt *event.Event
}

type eventDispatcher struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	logger   Logger

	queueSize int
	queue     chan queued
	drained   chan struct{}

	// stateMu guards closed and every send on queue
	stateMu sync.RWMutex
	closed  bool
}

// Option configures the dispatcher
type Option func(*eventDispatcher)

// WithLogger sets a logger for the dispatcher
func WithLogger(logger Logger) Option {
	return func(d *eventDispatcher) {
		d.logger = logger
	}
}

// WithQueueSize sets the async queue capacity
func WithQueueSize(size int) Option {
	return func(d *eventDispatcher) {
		if size > 0 {
			d.queueSize = size
		}
	}
}

// NewDispatcher creates a dispatcher and starts its async delivery loop
func NewDispatcher(opts ...Option) Dispatcher {
	d := &eventDispatcher{
		handlers:  make(map[event.Type][]HandlerInfo),
		queueSize: DefaultQueueSize,
		drained:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan queued, d.queueSize)

	go d.deliver()
	return d
}

func (d *eventDispatcher) Subscribe(eventType event.Type, handler Handler) {
	d.mu.RLock()
	name := fmt.Sprintf("%s#%d", eventType, len(d.handlers[eventType]))
	d.mu.RUnlock()
	d.SubscribeNamed(eventType, name, handler)
}

func (d *eventDispatcher) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	d.mu.Lock()
	d.handlers[eventType] = append(d.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})
	d.mu.Unlock()

	d.logInfo("Handler subscribed", "event_type", eventType, "handler_name", name)
}

func (d *eventDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	d.stateMu.RLock()
	closed := d.closed
	d.stateMu.RUnlock()
	if closed {
		return ErrClosed
	}
	return d.run(ctx, evt)
}

func (d *eventDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()

	if d.closed {
		d.logError("Dropped event, dispatcher is closed", "event_type", evt.Type, "event_id", evt.ID, "instance_id", evt.InstanceID)
		return
	}
	d.queue <- queued{ctx: context.WithoutCancel(ctx), evt: evt}
}

func (d *eventDispatcher) Subscriptions() map[event.Type][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[event.Type][]string, len(d.handlers))
	for typ, handlers := range d.handlers {
		for _, h := range handlers {
			out[typ] = append(out[typ], h.Name)
		}
	}
	return out
}

func (d *eventDispatcher) QueueDepth() int {
	return len(d.queue)
}

func (d *eventDispatcher) Close() error {
	d.stateMu.Lock()
	if d.closed {
		d.stateMu.Unlock()
		return ErrClosed
	}
	d.closed = true
	close(d.queue)
	d.stateMu.Unlock()

	<-d.drained
	d.logInfo("Dispatcher closed")
	return nil
}

// deliver drains the async queue one event at a time
func (d *eventDispatcher) deliver() {
	defer close(d.drained)
	for q := range d.queue {
		if err := d.run(q.ctx, q.evt); err != nil {
			d.logError("Async delivery failed", "event_type", q.evt.Type, "event_id", q.evt.ID, "instance_id", q.evt.InstanceID, "error", err)
		}
	}
}

func (d *eventDispatcher) run(ctx context.Context, evt *event.Event) error {
	var errs []error
	for _, info := range d.matching(evt.Type) {
		if err := d.safeExecute(ctx, evt, info); err != nil {
			errs = append(errs, fmt.Errorf("handler %s: %w", info.Name, err))
		}
	}
	return errors.Join(errs...)
}

// matching returns the typed handlers followed by the wildcard ones
func (d *eventDispatcher) matching(eventType event.Type) []HandlerInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	typed := d.handlers[eventType]
	wildcard := d.handlers[AnyType]
	out := make([]HandlerInfo, 0, len(typed)+len(wildcard))
	out = append(out, typed...)
	if eventType != AnyType {
		out = append(out, wildcard...)
	}
	return out
}

func (d *eventDispatcher) safeExecute(ctx context.Context, evt *event.Event, info HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return info.Handler(ctx, evt)
}

func (d *eventDispatcher) logInfo(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Info(msg, kv...)
	}
}

func (d *eventDispatcher) logError(msg string, kv ...interface{}) {
	if d.logger != nil {
		d.logger.Error(msg, kv...)
	}
}
