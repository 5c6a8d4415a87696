/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"time"

	"github.com/duodeck/duodeck/internal/events"
	"github.com/duodeck/duodeck/internal/telemetry"
	"github.com/rs/zerolog"
)

// Playback is the thin outward-facing handle for one guild: everything a
// command handler or the admin API needs, with the coordinators' wiring
// hidden behind it.
type Playback struct {
	Session *Session
	Mixer   *MixerController
	Queue   *CommandQueue
	Barrier *AudioOperationBarrier
	Skip    *SkipManager
	Engine  *PlaybackEngine

	stats   *StatsTracker
	bus     *events.Bus
	tun     Tunables
	logger  zerolog.Logger
}

// newPlayback wires one guild's full coordinator set together and arms crash
// recovery on the mixer. Constructed only by SessionRegistry.Get.
func newPlayback(guildID string, store *QueueStore, stats *StatsTracker, bus *events.Bus, tun Tunables, mixerBin string, mixerArgs []string, logger zerolog.Logger) *Playback {
	logger = logger.With().Str("guild", guildID).Logger()

	session := NewSession(guildID, store.Save)
	session.SetMaxQueueSize(tun.MaxQueueSize)
	mixer := NewMixerController(mixerBin, mixerArgs, tun.MixerRestartCooldown, logger)
	queue := NewCommandQueue(mixer)
	skip := NewSkipManager(session, mixer, queue, bus, tun, stats, logger)
	engine := NewPlaybackEngine(session, mixer, queue, skip, bus, tun, logger)
	barrier := NewAudioOperationBarrier(guildID, tun.BarrierThrottle, tun.BarrierTimeout)

	p := &Playback{
		Session: session,
		Mixer:   mixer,
		Queue:   queue,
		Barrier: barrier,
		Skip:    skip,
		Engine:  engine,
		stats:   stats,
		bus:     bus,
		tun:     tun,
		logger:  logger,
	}

	mixer.OnCrash(p.handleCrash)
	return p
}

// handleCrash implements §4.9: stop/flush stats, decide whether to recover
// or disconnect, and reschedule playback from the current index if eligible.
// Invoked at most once per mixer generation.
func (p *Playback) handleCrash(generation int, reason string) {
	guildID := p.Session.GuildID
	_ = p.stats.Flush(guildID)
	p.logger.Warn().Int("generation", generation).Str("reason", reason).Msg("mixer crashed, evaluating recovery")

	telemetry.MixerCrashesTotal.WithLabelValues(reason).Inc()
	p.bus.Publish(events.EventMixerCrashed, events.Payload{"guild": guildID, "reason": reason})

	p.Session.mu.Lock()
	intentional := p.Session.intentionalKill
	p.Session.intentionalKill = false
	p.Session.mu.Unlock()
	if intentional {
		return
	}

	p.Session.mu.Lock()
	p.Session.crashRecoveryAttempts++
	attempts := p.Session.crashRecoveryAttempts
	voice := p.Session.voice
	p.Session.currentDeckLoaded = ""
	p.Session.nextDeckLoaded = ""
	p.Session.isCrossfading = false
	p.Session.mu.Unlock()

	if attempts > p.tun.MixerCrashCapAttempts {
		p.scheduleDisconnect(voice, 0)
		return
	}
	if voice != nil && voice.IsAlone() {
		p.scheduleDisconnect(voice, 0)
		return
	}
	if voice == nil || !voice.IsReady() || voice.ChannelID() == "" {
		return
	}

	delay := time.Duration(500+500*attempts) * time.Millisecond
	telemetry.MixerCrashRecoveryAttemptsTotal.Inc()
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.tun.CommandTimeout*3)
		defer cancel()
		if err := p.Engine.PlaySong(ctx); err != nil {
			p.logger.Error().Err(err).Msg("crash-recovery replay failed")
		} else {
			p.bus.Publish(events.EventMixerRecovered, events.Payload{"guild": guildID, "attempt": attempts})
		}
	})
}

func (p *Playback) scheduleDisconnect(voice VoiceBinding, delay time.Duration) {
	if voice == nil {
		return
	}
	voice.ScheduleDisconnect(delay)
}

// Close tears down one guild's coordinators: kills the mixer intentionally,
// rejects pending work, stops timers, and flushes stats.
func (p *Playback) Close() {
	p.Session.mu.Lock()
	p.Session.intentionalKill = true
	p.Session.mu.Unlock()

	_ = p.Mixer.Stop()
	p.Queue.Close()
	p.Engine.Close()
	_ = p.stats.Flush(p.Session.GuildID)
}
