/*
Package events provides the in-memory pub/sub broker for platform events.

Every mutating platform operation publishes a typed event (tenant, worker,
template, hostname, defaults, sweep). Subscribers receive them over buffered
channels; the API layer streams them out as server-sent events.

# Architecture

	Publish ──► eventCh (buffered 100) ──► run loop ──► broadcast
	                                                      │
	                                    subscriber channels (buffered 50,
	                                    non-blocking send, drop on full)

Delivery is best-effort by construction: the platform never blocks on a
subscriber, and a subscriber that stops draining loses events instead of
backing up the system. Consumers that need durability should read state
from the store, not reconstruct it from the stream.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for event := range sub {
	        fmt.Println(event.Type, event.TenantID, event.Message)
	}

# Thread Safety

All Broker methods are safe for concurrent use. Events flow through a
single distribution goroutine, so subscribers observe a consistent order.
*/
package events
