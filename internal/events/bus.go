// Package events is an in-process publish/subscribe bus for relay
// activity. Components publish what happened; the MQTT publisher and
// the status counters subscribe. Publish on a nil *Bus is a no-op.
package events

import (
	"sync"
	"time"
)

// Sources.
const (
	SourceRelay     = "relay"
	SourceLifecycle = "lifecycle"
)

// Kinds.
const (
	// KindMessageReceived: an inbound direct message was accepted.
	// Data: request_id, sender, message_len.
	KindMessageReceived = "message_received"
	// KindCommand: a command ran. Data: request_id, command.
	KindCommand = "command"
	// KindChatComplete: a chat turn got a reply.
	// Data: request_id, model, tokens_in, tokens_out, elapsed_ms.
	KindChatComplete = "chat_complete"
	// KindChatFailed: a chat turn failed. Data: request_id, model, failure.
	KindChatFailed = "chat_failed"
	// KindModelState: the active model or its readiness changed.
	// Data: model, state, reason.
	KindModelState = "model_state"
)

// Event is one published occurrence.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEvent returns an Event stamped with the current time.
func NewEvent(source, kind string, data map[string]any) Event {
	return Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data}
}

// Bus is a non-blocking broadcast bus. Slow subscribers miss events
// rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[<-chan Event]chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[<-chan Event]chan Event)}
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a buffered channel of future events. Call
// Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	send, ok := b.subs[ch]
	if !ok {
		return
	}
	delete(b.subs, ch)
	close(send)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
