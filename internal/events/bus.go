/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories published by a session's coordinators.
type EventType string

const (
	// EventDashboardRefresh is emitted after every committed state mutation and
	// carries only the affected guild's id, plus the new state version where
	// the publisher has it; subscribers read the session for the rest.
	EventDashboardRefresh EventType = "dashboard_refresh"

	// Playback transitions
	EventSongStarted    EventType = "playback.song_started"
	EventSongCompleted  EventType = "playback.song_completed"
	EventCrossfadeStart EventType = "playback.crossfade_started"
	EventSkipCompleted  EventType = "playback.skip_completed"
	EventQueueFinished  EventType = "playback.queue_finished"
	EventPauseToggled   EventType = "playback.pause_toggled"
	EventBufferReady    EventType = "playback.buffer_ready"

	// Mixer lifecycle
	EventMixerSpawned EventType = "mixer.spawned"
	EventMixerCrashed EventType = "mixer.crashed"
	EventMixerRecovered EventType = "mixer.recovered"

	// Session lifecycle
	EventSessionCreated EventType = "session.created"
	EventSessionRemoved EventType = "session.removed"

	// Audit events for the admin/control API.
	EventAuditAPIKeyCreate EventType = "audit.apikey.create"
	EventAuditAPIKeyRevoke EventType = "audit.apikey.revoke"
	EventAuditControlOp    EventType = "audit.control.op"
)

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
