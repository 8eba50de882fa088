// internal/events/bus.go
// Package events carries position lifecycle notifications between the
// controllers and passive sinks like the trade log.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Handler consumes one event. Handlers must not block for long; the
// bus delivers sequentially.
type Handler func(ctx context.Context, e Event) error

// Subscription detaches a handler from the bus.
type Subscription struct {
	bus *Bus
	typ EventType
	id  uint64
}

// Unsubscribe removes the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.typ, s.id)
}

// Bus is an in-memory publish/subscribe fan-out. Publish is
// non-blocking: when the queue is full the event is dropped and logged,
// never allowed to stall the trading path.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType]map[uint64]Handler
	nextID   uint64

	queue  chan Event
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// NewBus starts the dispatch loop with the given queue capacity.
func NewBus(logger *zap.Logger, capacity int) *Bus {
	b := &Bus{
		handlers: make(map[EventType]map[uint64]Handler),
		queue:    make(chan Event, capacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Named("events"),
	}
	go b.dispatch()
	return b
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(typ EventType, h Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[typ] == nil {
		b.handlers[typ] = make(map[uint64]Handler)
	}
	b.handlers[typ][id] = h

	return &Subscription{bus: b, typ: typ, id: id}
}

// Publish queues an event for asynchronous delivery.
func (b *Bus) Publish(e Event) error {
	select {
	case <-b.stop:
		return errors.New("event bus is shut down")
	default:
	}

	select {
	case b.queue <- e:
		return nil
	default:
		b.logger.Warn("Event queue full, dropping event",
			zap.String("event_type", string(e.Type())))
		return errors.New("event queue full")
	}
}

// PublishSync delivers an event to all handlers before returning.
func (b *Bus) PublishSync(ctx context.Context, e Event) error {
	return b.deliver(ctx, e)
}

// Shutdown stops intake, drains the queue, and waits for the dispatch
// loop to finish or ctx to expire.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.once.Do(func() { close(b.stop) })

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event bus drain: %w", ctx.Err())
	}
}

func (b *Bus) dispatch() {
	defer close(b.done)

	for {
		select {
		case <-b.stop:
			for {
				select {
				case e := <-b.queue:
					_ = b.deliver(context.Background(), e)
				default:
					return
				}
			}
		case e := <-b.queue:
			if err := b.deliver(context.Background(), e); err != nil {
				b.logger.Error("Event handler failed",
					zap.String("event_type", string(e.Type())),
					zap.Error(err))
			}
		}
	}
}

func (b *Bus) deliver(ctx context.Context, e Event) error {
	b.mu.RLock()
	registered := b.handlers[e.Type()]
	handlers := make([]Handler, 0, len(registered))
	for _, h := range registered {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) remove(typ EventType, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if handlers, ok := b.handlers[typ]; ok {
		delete(handlers, id)
		if len(handlers) == 0 {
			delete(b.handlers, typ)
		}
	}
}
