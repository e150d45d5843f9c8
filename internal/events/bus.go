package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is an asynchronous publish-subscribe bus. Connection goroutines
// emit on it and never wait for subscribers; the journal, telemetry and
// metrics consumers subscribe at startup.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopCh   chan struct{}
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		stopCh:   make(chan struct{}),
	}
}

// Subscribe registers a handler function for a specific event type.
// The name identifies the handler in logs and in Unsubscribe.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
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

// SubscribeMany registers the same handler for several event types.
func (eb *EventBus) SubscribeMany(eventTypes []EventType, name string, handler HandlerFunc) {
	for _, t := range eventTypes {
		eb.Subscribe(t, name, handler)
	}
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
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

// Emit publishes an event to all subscribed handlers asynchronously.
// Each handler runs in its own goroutine so a slow consumer never stalls
// the connection that emitted the event.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	handlers := eb.handlers[event.Type]
	if len(handlers) == 0 {
		return
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	for _, h := range handlers {
		eb.wg.Add(1)
		go func(h handlerEntry) {
			defer eb.wg.Done()
			eb.invoke(ctx, h, event)
		}(h)
	}
}

// EmitSync publishes an event and waits for all handlers to complete.
// Returns the first error encountered, if any.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	if eb.stopped {
		eb.mu.RUnlock()
		return nil
	}
	handlers := append([]handlerEntry(nil), eb.handlers[event.Type]...)
	eb.mu.RUnlock()

	var firstErr error
	var errOnce sync.Once
	var wg sync.WaitGroup

	for _, h := range handlers {
		wg.Add(1)
		go func(h handlerEntry) {
			defer wg.Done()
			if err := eb.invoke(ctx, h, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}(h)
	}

	wg.Wait()
	return firstErr
}

func (eb *EventBus) invoke(ctx context.Context, h handlerEntry, event Event) (err error) {
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

// Wait blocks until every handler started by Emit so far has returned.
func (eb *EventBus) Wait() {
	eb.wg.Wait()
}

// Stop signals the EventBus to stop accepting new events and waits
// for all in-flight handlers to complete.
func (eb *EventBus) Stop() {
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

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
