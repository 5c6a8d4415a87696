/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"testing"
	"time"

	"github.com/duodeck/duodeck/internal/events"
)

// fakeRelay is a minimal relayBus double that a test can both assert
// against and inject messages into.
type fakeRelay struct {
	published chan events.Payload
	delivered events.Subscriber
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		published: make(chan events.Payload, 4),
		delivered: make(events.Subscriber, 4),
	}
}

func (f *fakeRelay) Subscribe(events.EventType) events.Subscriber { return f.delivered }
func (f *fakeRelay) Publish(eventType events.EventType, payload events.Payload) {
	f.published <- payload
}

func TestBridge_LocalPublishReachesRelay(t *testing.T) {
	bus := events.NewBus()
	relay := newFakeRelay()
	Bridge(bus, relay, []events.EventType{events.EventSongStarted})

	bus.Publish(events.EventSongStarted, events.Payload{"guild": "g1"})

	select {
	case payload := <-relay.published:
		if payload["guild"] != "g1" {
			t.Errorf("guild = %v, want g1", payload["guild"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for relay to receive bridged publish")
	}
}

func TestBridge_RelayDeliveryReachesLocalSubscribers(t *testing.T) {
	bus := events.NewBus()
	relay := newFakeRelay()
	Bridge(bus, relay, []events.EventType{events.EventSongStarted})

	sub := bus.Subscribe(events.EventSongStarted)
	relay.delivered <- events.Payload{"guild": "g2"}

	select {
	case payload := <-sub:
		if payload["guild"] != "g2" {
			t.Errorf("guild = %v, want g2", payload["guild"])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for local bus to receive relayed delivery")
	}
}
