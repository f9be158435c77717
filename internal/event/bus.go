// Package event provides the per-session pub/sub bus built on watermill.
package event

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/sessionkit/sessionkit/internal/logging"
)

// streamTopic is the watermill topic carrying all of a bus's events.
const streamTopic = "session.events"

// Event represents a published domain event.
type Event struct {
	Type Type  `json:"type"`
	Data any   `json:"data"`
	Time int64 `json:"time"`
}

// Subscriber is a function that receives events.
type Subscriber func(event Event)

// subscriberEntry wraps a subscriber with an ID.
type subscriberEntry struct {
	id uint64
	fn Subscriber
}

// Bus is an event bus owned by a single session. Direct subscribers are
// invoked synchronously in publish order; Stream consumers receive events
// through the underlying watermill gochannel.
//
// A subscriber that panics is recovered and logged; it never affects other
// subscribers or the publisher.
type Bus struct {
	mu sync.RWMutex

	pubsub *gochannel.GoChannel

	subscribers map[Type][]subscriberEntry
	global      []subscriberEntry

	nextID uint64
	closed bool
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 100,
				Persistent:          false,
			},
			watermill.NopLogger{},
		),
		subscribers: make(map[Type][]subscriberEntry),
	}
}

// Subscribe registers a subscriber for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType Type, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribe(eventType, id)
	}
}

// SubscribeAll registers a subscriber for all events.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return func() {}
	}

	b.nextID++
	id := b.nextID
	b.global = append(b.global, subscriberEntry{id: id, fn: fn})

	return func() {
		b.unsubscribeGlobal(id)
	}
}

func (b *Bus) unsubscribe(eventType Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, entry := range subs {
		if entry.id == id {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

func (b *Bus) unsubscribeGlobal(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.global {
		if entry.id == id {
			b.global = append(b.global[:i], b.global[i+1:]...)
			break
		}
	}
}

// Publish delivers an event to all subscribers in the caller's goroutine,
// preserving publish order, then forwards it to the watermill stream.
func (b *Bus) Publish(eventType Type, data any) {
	ev := Event{Type: eventType, Data: data, Time: time.Now().UnixMilli()}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	subs := make([]Subscriber, 0, len(b.subscribers[ev.Type])+len(b.global))
	for _, entry := range b.subscribers[ev.Type] {
		subs = append(subs, entry.fn)
	}
	for _, entry := range b.global {
		subs = append(subs, entry.fn)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, ev)
	}

	b.forward(ev)
}

// deliver invokes one subscriber, isolating panics.
func (b *Bus) deliver(sub Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log := logging.Component("event")
			log.Error().
				Str("type", string(ev.Type)).
				Any("panic", r).
				Msg("subscriber panicked")
		}
	}()
	sub(ev)
}

// forward publishes the event onto the watermill stream topic.
func (b *Bus) forward(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)

	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return
	}

	// Best effort: a closed pubsub returns an error we can't act on.
	_ = b.pubsub.Publish(streamTopic, msg)
}

// Stream returns a channel of events delivered through watermill. The
// channel closes when ctx is done or the bus is closed. Events published
// before Stream was called are not replayed.
func (b *Bus) Stream(ctx context.Context) (<-chan Event, error) {
	messages, err := b.pubsub.Subscribe(ctx, streamTopic)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close closes the bus and drops all subscribers. Safe to call repeatedly.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subscribers = make(map[Type][]subscriberEntry)
	b.global = nil
	b.mu.Unlock()

	return b.pubsub.Close()
}
