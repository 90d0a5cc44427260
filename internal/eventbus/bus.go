// Package eventbus is an in-process, typed pub/sub bus for orchestrator
// lifecycle events (cycle.start, cycle.complete, cycle.error, and circuit
// breaker transitions). It keeps the Event/Handler/Publish/Subscribe
// vocabulary of pkg/pgnotify/bus.go but drops the PostgreSQL NOTIFY/LISTEN
// transport the teacher used: spec §9 calls for no persistence across
// restarts, so a channel-backed dispatcher is the idiomatic fit.
package eventbus

import (
	"context"
	"sync"
	"time"
)

// Event is a published message on a named channel.
type Event struct {
	Channel   string
	Payload   interface{}
	Timestamp time.Time
}

// Handler is invoked for every event published on a channel it subscribed to.
type Handler func(ctx context.Context, event Event)

// handlerTimeout bounds how long a single handler invocation may run, so
// one slow subscriber cannot stall the bus.
const handlerTimeout = 5 * time.Second

// Bus is a process-local, goroutine-safe event dispatcher.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for a channel. Handlers run concurrently
// and are not unsubscribable individually, matching the teacher's
// all-or-nothing Unsubscribe semantics.
func (b *Bus) Subscribe(channel string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = append(b.handlers[channel], handler)
}

// Unsubscribe removes every handler registered for a channel.
func (b *Bus) Unsubscribe(channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, channel)
}

// Publish dispatches payload to every handler subscribed to channel. Each
// handler runs in its own goroutine with a bounded timeout; Publish does
// not wait for handlers to finish.
func (b *Bus) Publish(channel string, payload interface{}) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[channel]))
	copy(handlers, b.handlers[channel])
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{Channel: channel, Payload: payload, Timestamp: time.Now()}
	for _, h := range handlers {
		go invoke(h, event)
	}
}

func invoke(handler Handler, event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	handler(ctx, event)
}

// Channels returns every channel with at least one subscriber.
func (b *Bus) Channels() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	channels := make([]string, 0, len(b.handlers))
	for ch := range b.handlers {
		channels = append(channels, ch)
	}
	return channels
}

// Well-known orchestrator lifecycle channels, per spec §4.8.
const (
	ChannelCycleStart    = "cycle.start"
	ChannelCycleComplete = "cycle.complete"
	ChannelCycleError    = "cycle.error"
	ChannelBreakerChange = "breaker.transition"
)

// CycleCompletePayload is published on ChannelCycleComplete.
type CycleCompletePayload struct {
	CycleID            string
	Duration           time.Duration
	SamplesCollected   int
	EntitiesSynthesized int
	EventsStreamed     int
}

// CycleErrorPayload is published on ChannelCycleError.
type CycleErrorPayload struct {
	CycleID string
	Stage   string
	Err     error
}

// BreakerTransitionPayload is published on ChannelBreakerChange.
type BreakerTransitionPayload struct {
	Name string
	From string
	To   string
}
