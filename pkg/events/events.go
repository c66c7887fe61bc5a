// Package events implements the home automation event bus: a per-type
// fan-out broker supporting synchronous callbacks and asynchronous channel
// subscriptions, plus a wildcard subscription that observes every event
// type except the two chatty, non-actionable ones.
package events

import (
	"sync"

	"github.com/cuemby/hassd/internal/metrics"
	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/ids"
)

// wildcardExcluded lists event types that are delivered to exact-type
// subscribers but never to wildcard ("subscribe all") subscribers. Both
// fire at very high frequency and are rarely of interest to a generic
// listener.
var wildcardExcluded = map[string]bool{
	core.EventHomeAssistantClose: true,
	core.EventStateReported:      true,
}

// channelBufferSize is the capacity of every per-type and wildcard
// subscriber channel. A send that would block past this is dropped and
// counted as lag rather than blocking the publisher.
const channelBufferSize = 1024

// SyncListener is invoked inline, on the publisher's goroutine, in
// registration order. It must not block or re-enter the bus.
type SyncListener func(event *core.Event)

// ListenerID identifies a registered synchronous listener for later removal.
type ListenerID string

type syncEntry struct {
	id ListenerID
	fn SyncListener
}

// Subscriber is a channel an asynchronous listener reads events from.
type Subscriber chan *core.Event

// Broker is the event bus. It owns, per event type, a set of bounded
// broadcast channels plus a set of synchronous listeners, and a single
// wildcard set of each observing every event type.
type Broker struct {
	mu sync.RWMutex

	channels map[string][]Subscriber
	sync_    map[string][]syncEntry

	wildcardChannels []Subscriber
	wildcardSync     []syncEntry

	now core.Clock
}

// NewBroker creates an empty broker. now is used to mint listener ids.
func NewBroker(now core.Clock) *Broker {
	return &Broker{
		channels: make(map[string][]Subscriber),
		sync_:    make(map[string][]syncEntry),
		now:      now,
	}
}

// Subscribe returns a new bounded channel that receives every event of the
// given type.
func (b *Broker) Subscribe(eventType string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, channelBufferSize)
	b.channels[eventType] = append(b.channels[eventType], sub)
	return sub
}

// SubscribeAll returns a new bounded channel that receives every event type
// except those listed in wildcardExcluded.
func (b *Broker) SubscribeAll() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, channelBufferSize)
	b.wildcardChannels = append(b.wildcardChannels, sub)
	return sub
}

// Unsubscribe removes and closes a previously returned channel. It is a
// no-op if sub is not currently registered.
func (b *Broker) Unsubscribe(eventType string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if removeSub(b.channels, eventType, sub) {
		close(sub)
		return
	}
	if idx := indexOfSub(b.wildcardChannels, sub); idx >= 0 {
		b.wildcardChannels = append(b.wildcardChannels[:idx], b.wildcardChannels[idx+1:]...)
		close(sub)
	}
}

func removeSub(m map[string][]Subscriber, eventType string, sub Subscriber) bool {
	subs, ok := m[eventType]
	if !ok {
		return false
	}
	idx := indexOfSub(subs, sub)
	if idx < 0 {
		return false
	}
	m[eventType] = append(subs[:idx], subs[idx+1:]...)
	return true
}

func indexOfSub(subs []Subscriber, target Subscriber) int {
	for i, s := range subs {
		if s == target {
			return i
		}
	}
	return -1
}

// ListenSync registers a callback invoked inline for every event of the
// given type, in registration order, before any asynchronous delivery.
func (b *Broker) ListenSync(eventType string, fn SyncListener) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := ListenerID(ids.New(b.now()))
	b.sync_[eventType] = append(b.sync_[eventType], syncEntry{id: id, fn: fn})
	return id
}

// ListenSyncAll registers a callback invoked inline for every event type
// except those in wildcardExcluded.
func (b *Broker) ListenSyncAll(fn SyncListener) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := ListenerID(ids.New(b.now()))
	b.wildcardSync = append(b.wildcardSync, syncEntry{id: id, fn: fn})
	return id
}

// RemoveSyncListener removes a listener previously registered with
// ListenSync or ListenSyncAll, searching both exact-type and wildcard sets.
func (b *Broker) RemoveSyncListener(id ListenerID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, entries := range b.sync_ {
		if idx := indexOfEntry(entries, id); idx >= 0 {
			b.sync_[eventType] = append(entries[:idx], entries[idx+1:]...)
			return
		}
	}
	if idx := indexOfEntry(b.wildcardSync, id); idx >= 0 {
		b.wildcardSync = append(b.wildcardSync[:idx], b.wildcardSync[idx+1:]...)
	}
}

func indexOfEntry(entries []syncEntry, id ListenerID) int {
	for i, e := range entries {
		if e.id == id {
			return i
		}
	}
	return -1
}

// Fire delivers event to every matching listener: synchronous exact-type
// listeners, then synchronous wildcard listeners (unless the event type is
// excluded), then asynchronous exact-type channels, then asynchronous
// wildcard channels (same exclusion). Asynchronous sends never block; a
// full or closed channel is counted as lag rather than delivered to.
func (b *Broker) Fire(event *core.Event) {
	b.mu.RLock()
	syncExact := append([]syncEntry(nil), b.sync_[event.EventType]...)
	syncWild := append([]syncEntry(nil), b.wildcardSync...)
	chanExact := append([]Subscriber(nil), b.channels[event.EventType]...)
	chanWild := append([]Subscriber(nil), b.wildcardChannels...)
	b.mu.RUnlock()

	metrics.EventsFiredTotal.WithLabelValues(event.EventType).Inc()

	for _, entry := range syncExact {
		entry.fn(event)
	}

	excluded := wildcardExcluded[event.EventType]
	if !excluded {
		for _, entry := range syncWild {
			entry.fn(event)
		}
	}

	for _, sub := range chanExact {
		b.send(event, sub)
	}

	if !excluded {
		for _, sub := range chanWild {
			b.send(event, sub)
		}
	}
}

func (b *Broker) send(event *core.Event, sub Subscriber) {
	select {
	case sub <- event:
	default:
		metrics.EventBusLagTotal.WithLabelValues(event.EventType).Inc()
	}
}

// ListenerCount returns the number of asynchronous subscribers across every
// exact event type plus the wildcard set. Intended for diagnostics/tests.
func (b *Broker) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.wildcardChannels)
	for _, subs := range b.channels {
		count += len(subs)
	}
	return count
}
