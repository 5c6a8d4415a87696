/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"sync"

	"github.com/duodeck/duodeck/internal/events"
	"github.com/duodeck/duodeck/internal/telemetry"
	"github.com/rs/zerolog"
)

// SessionRegistry owns every guild's Playback handle, keyed by guild id. Its
// mutex guards only map access — never a session operation — so two guilds
// never contend on each other's work and a slow session operation never
// blocks Get/Remove for an unrelated guild.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Playback

	store     *QueueStore
	stats     *StatsTracker
	bus       *events.Bus
	tun       Tunables
	mixerBin  string
	mixerArgs []string
	logger    zerolog.Logger
}

// NewSessionRegistry constructs an empty registry sharing one backup store,
// stats tracker, and event bus across every session it creates.
func NewSessionRegistry(store *QueueStore, stats *StatsTracker, bus *events.Bus, tun Tunables, mixerBin string, mixerArgs []string, logger zerolog.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions:  make(map[string]*Playback),
		store:     store,
		stats:     stats,
		bus:       bus,
		tun:       tun,
		mixerBin:  mixerBin,
		mixerArgs: mixerArgs,
		logger:    logger,
	}
}

// Get lazily constructs guildID's Playback handle (and all its coordinators)
// on first access, restoring any persisted queue state.
func (r *SessionRegistry) Get(guildID string) *Playback {
	r.mu.Lock()
	p, ok := r.sessions[guildID]
	if ok {
		r.mu.Unlock()
		return p
	}
	p = newPlayback(guildID, r.store, r.stats, r.bus, r.tun, r.mixerBin, r.mixerArgs, r.logger)
	r.sessions[guildID] = p
	r.mu.Unlock()
	telemetry.ActiveGuildSessions.Inc()

	if restored, err := r.store.Restore(p.Session); err != nil {
		r.logger.Error().Err(err).Str("guild", guildID).Msg("queue restore failed")
	} else if restored {
		r.bus.Publish(events.EventSessionCreated, events.Payload{"guild": guildID, "restored": true})
	} else {
		r.bus.Publish(events.EventSessionCreated, events.Payload{"guild": guildID, "restored": false})
	}
	return p
}

// Lookup returns guildID's Playback handle without constructing one.
func (r *SessionRegistry) Lookup(guildID string) (*Playback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.sessions[guildID]
	return p, ok
}

// Remove tears down and forgets guildID's session. Persisted state is
// deleted only if the queue ended up empty (mirroring Session's own
// empty-queue-deletes-entry persistence rule).
func (r *SessionRegistry) Remove(guildID string) {
	r.mu.Lock()
	p, ok := r.sessions[guildID]
	delete(r.sessions, guildID)
	r.mu.Unlock()
	if !ok {
		return
	}
	telemetry.ActiveGuildSessions.Dec()

	p.Close()

	p.Session.mu.Lock()
	empty := len(p.Session.songs) == 0 && len(p.Session.history) == 0
	p.Session.mu.Unlock()
	if empty {
		if err := r.store.Delete(guildID); err != nil {
			r.logger.Error().Err(err).Str("guild", guildID).Msg("queue delete failed")
		}
	}

	r.bus.Publish(events.EventSessionRemoved, events.Payload{"guild": guildID})
}

// GuildIDs lists every guild with a live session, for ops/admin enumeration.
func (r *SessionRegistry) GuildIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}
