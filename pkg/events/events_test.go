package events

import (
	"testing"
	"time"

	"github.com/cuemby/hassd/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

func mkEvent(eventType string) *core.Event {
	return &core.Event{EventType: eventType, TimeFired: fixedClock()}
}

func TestSubscribeAndFire(t *testing.T) {
	b := NewBroker(fixedClock)
	sub := b.Subscribe(core.EventStateChanged)

	b.Fire(mkEvent(core.EventStateChanged))

	select {
	case evt := <-sub:
		assert.Equal(t, core.EventStateChanged, evt.EventType)
	default:
		t.Fatal("expected event on exact-type subscriber")
	}
}

func TestSubscribeDoesNotReceiveOtherTypes(t *testing.T) {
	b := NewBroker(fixedClock)
	sub := b.Subscribe(core.EventStateChanged)

	b.Fire(mkEvent("other_event"))

	select {
	case <-sub:
		t.Fatal("exact-type subscriber should not see unrelated event types")
	default:
	}
}

func TestWildcardExcludesStateReportedAndClose(t *testing.T) {
	b := NewBroker(fixedClock)
	wild := b.SubscribeAll()

	b.Fire(mkEvent(core.EventStateReported))
	b.Fire(mkEvent(core.EventHomeAssistantClose))
	b.Fire(mkEvent(core.EventStateChanged))

	select {
	case evt := <-wild:
		assert.Equal(t, core.EventStateChanged, evt.EventType)
	default:
		t.Fatal("expected exactly one event to reach the wildcard subscriber")
	}

	select {
	case evt := <-wild:
		t.Fatalf("unexpected second event on wildcard subscriber: %v", evt.EventType)
	default:
	}
}

func TestExactTypeSubscriberStillSeesExcludedTypes(t *testing.T) {
	b := NewBroker(fixedClock)
	sub := b.Subscribe(core.EventStateReported)

	b.Fire(mkEvent(core.EventStateReported))

	select {
	case evt := <-sub:
		assert.Equal(t, core.EventStateReported, evt.EventType)
	default:
		t.Fatal("exact-type subscription to an excluded type should still deliver")
	}
}

func TestSyncListenerOrderingBeforeAsync(t *testing.T) {
	b := NewBroker(fixedClock)
	var order []string

	b.ListenSync(core.EventStateChanged, func(e *core.Event) {
		order = append(order, "sync")
	})
	sub := b.Subscribe(core.EventStateChanged)

	b.Fire(mkEvent(core.EventStateChanged))
	<-sub
	order = append(order, "async-drained")

	require.Equal(t, []string{"sync", "async-drained"}, order)
}

func TestRemoveSyncListener(t *testing.T) {
	b := NewBroker(fixedClock)
	called := false
	id := b.ListenSync(core.EventStateChanged, func(e *core.Event) { called = true })
	b.RemoveSyncListener(id)

	b.Fire(mkEvent(core.EventStateChanged))

	assert.False(t, called)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker(fixedClock)
	sub := b.Subscribe(core.EventStateChanged)
	b.Unsubscribe(core.EventStateChanged, sub)

	assert.Equal(t, 0, b.ListenerCount())
}

func TestFireNonBlockingOnFullChannel(t *testing.T) {
	b := NewBroker(fixedClock)
	sub := b.Subscribe(core.EventStateChanged)

	for i := 0; i < channelBufferSize+10; i++ {
		b.Fire(mkEvent(core.EventStateChanged))
	}

	assert.Equal(t, channelBufferSize, len(sub))
}
