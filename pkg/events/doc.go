/*
Package events provides the in-process event bus that every other package
communicates through: state changes, service calls, automation triggers,
and lifecycle notifications all flow through a single Broker rather than
direct method calls between packages.

# Delivery model

Broker.Fire delivers each event in a fixed order:

 1. Synchronous exact-type listeners (ListenSync), in registration order.
 2. Synchronous wildcard listeners (ListenSyncAll), unless the event type
    is in the wildcard exclusion set.
 3. Asynchronous exact-type channels (Subscribe), non-blocking send.
 4. Asynchronous wildcard channels (SubscribeAll), same exclusion, same
    non-blocking send.

Synchronous listeners run inline on the firing goroutine before Fire
returns; they exist for callers that need to observe an event before
acting on its consequences (for example, recording last-changed metrics)
and must not block or call back into the bus. Asynchronous channels are
for the common case: a consumer with its own goroutine draining events at
its own pace.

# Wildcard exclusion

state_reported and homeassistant_close are excluded from wildcard
delivery only. A subscriber asking for those types specifically still
receives them; a wildcard subscriber does not, because both fire far more
often than most wildcard consumers (the automation engine, notification
fan-out) care about.

# Backpressure

Every channel, exact-type or wildcard, is a fixed-capacity buffer. A send
that would block is dropped instead, and counted against the bus's lag
metric labeled by event type. There is no guaranteed delivery: the bus
favors keeping the publisher (usually the state store or service
registry) unblocked over guaranteeing every subscriber sees every event.
*/
package events
