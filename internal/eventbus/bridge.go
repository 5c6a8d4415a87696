/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import "github.com/duodeck/duodeck/internal/events"

// relayBus is satisfied by RedisBus and NATSBus: anything that can stand in
// as a second, cross-process event bus to bridge against the authoritative
// in-process one.
type relayBus interface {
	Subscribe(events.EventType) events.Subscriber
	Publish(events.EventType, events.Payload)
}

// Bridge relays every payload published on primary for one of types onto
// relay, and every payload relay delivers back onto primary, so in-process
// subscribers and other processes observe the same event stream regardless
// of which side originated it. It is the caller's responsibility to close
// relay; Bridge's subscriptions stop mattering once the process exits.
func Bridge(primary *events.Bus, relay relayBus, types []events.EventType) {
	for _, t := range types {
		eventType := t

		primarySub := primary.Subscribe(eventType)
		go func() {
			for payload := range primarySub {
				relay.Publish(eventType, payload)
			}
		}()

		relaySub := relay.Subscribe(eventType)
		go func() {
			for payload := range relaySub {
				primary.Publish(eventType, payload)
			}
		}()
	}
}
