package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

const defaultQueueSize = 256

// Bus is a publish-subscribe event bus. Emit is non-blocking; events are
// delivered by one dispatch goroutine in the order they were emitted, so a
// subscriber never sees step changes out of order.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	queue    chan queued
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

type queued struct {
	ctx   context.Context
	event Event
}

// NewBus creates a bus and starts its dispatcher.
func NewBus() *Bus {
	eb := &Bus{
		handlers: make(map[EventType][]handlerEntry),
		queue:    make(chan queued, defaultQueueSize),
		stopCh:   make(chan struct{}),
	}
	eb.wg.Add(1)
	go eb.dispatch()
	return eb
}

// Subscribe registers a handler function for a specific event type.
// The name parameter is used for logging and Unsubscribe.
func (eb *Bus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *Bus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	eb.handlers[eventType] = filtered
}

// Emit queues an event for delivery. A nil bus drops it. When the queue is
// full the event is dropped with a warning rather than stalling the caller.
func (eb *Bus) Emit(ctx context.Context, event Event) {
	if eb == nil {
		return
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.stopped {
		return
	}

	select {
	case eb.queue <- queued{ctx: ctx, event: event}:
	default:
		log.Warn().
			Str("event", string(event.Type)).
			Str("source", event.Source).
			Msg("event queue full, dropping event")
	}
}

// EmitSync delivers an event on the caller's goroutine and returns the
// first handler error.
func (eb *Bus) EmitSync(ctx context.Context, event Event) error {
	if eb == nil {
		return nil
	}
	return eb.deliver(ctx, event)
}

func (eb *Bus) dispatch() {
	defer eb.wg.Done()
	for {
		select {
		case q := <-eb.queue:
			eb.deliver(q.ctx, q.event)
		case <-eb.stopCh:
			// Flush what was queued before Stop.
			for {
				select {
				case q := <-eb.queue:
					eb.deliver(q.ctx, q.event)
				default:
					return
				}
			}
		}
	}
}

func (eb *Bus) deliver(ctx context.Context, event Event) error {
	eb.mu.RLock()
	handlers := append([]handlerEntry(nil), eb.handlers[event.Type]...)
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("delivering event")

	var firstErr error
	for _, h := range handlers {
		if err := eb.call(ctx, h, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (eb *Bus) call(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Stop stops accepting events, delivers the ones already queued and waits
// for the dispatcher to exit.
func (eb *Bus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *Bus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
