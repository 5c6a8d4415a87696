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

// PlaybackEngine owns the preload timer and routes sidecar events into
// Session/SkipManager mutations. It starts the mixer itself when PlaySong
// finds it dead; every mixer command it issues (preload and fallback-clone
// loads, restarts, pause/resume, play) goes through the CommandQueue.
type PlaybackEngine struct {
	session *Session
	mixer   *MixerController
	queue   *CommandQueue
	skip    *SkipManager
	bus     *events.Bus
	tun     Tunables
	logger  zerolog.Logger

	preloadTimer *time.Timer
	failCount    map[string]int
	failed       map[string]bool

	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// NewPlaybackEngine wires session, mixer, queue, and skip manager together,
// closing the reference cycle SkipManager needs to call back into the engine.
func NewPlaybackEngine(session *Session, mixer *MixerController, queue *CommandQueue, skip *SkipManager, bus *events.Bus, tun Tunables, logger zerolog.Logger) *PlaybackEngine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &PlaybackEngine{
		session:   session,
		mixer:     mixer,
		queue:     queue,
		skip:      skip,
		bus:       bus,
		tun:       tun,
		logger:    logger,
		failCount: make(map[string]int),
		failed:    make(map[string]bool),
		bgCtx:     ctx,
		bgCancel:  cancel,
	}
	skip.engine = e
	mixer.OnEvent(e.HandleMixerEvent)
	return e
}

// Close stops the preload timer and any background work the engine owns.
func (e *PlaybackEngine) Close() {
	e.bgCancel()
	e.session.mu.Lock()
	if e.preloadTimer != nil {
		e.preloadTimer.Stop()
	}
	e.session.mu.Unlock()
}

// OnSongStart is invoked once a transition has committed: it clears the
// crossfade flag and (re)arms the single preload timer for this song.
func (e *PlaybackEngine) OnSongStart(guildID string) {
	s := e.session
	s.mu.Lock()
	s.isCrossfading = false
	if e.preloadTimer != nil {
		e.preloadTimer.Stop()
	}
	e.preloadTimer = time.AfterFunc(e.tun.PreloadDelay, func() {
		e.preloadNextSong(e.bgCtx)
	})
	s.mu.Unlock()
}

// preloadNextSong loads the upcoming song onto the non-current deck ahead of
// time so a later skip or crossfade needs no cold load.
func (e *PlaybackEngine) preloadNextSong(ctx context.Context) {
	s := e.session

	s.mu.Lock()
	if s.isPaused {
		s.mu.Unlock()
		return
	}
	if time.Since(s.crossfadeStartAt) < e.tun.Crossfade || s.isCrossfading {
		s.mu.Unlock()
		return
	}
	next, ok := s.nextSongLocked()
	if !ok {
		s.mu.Unlock()
		return
	}
	cur, hasCur := s.CurrentSongLocked()
	if hasCur && next.SameTrack(cur) && s.nextDeckLoaded == next.URL {
		s.mu.Unlock()
		return
	}
	if s.nextDeckLoaded == next.URL {
		s.mu.Unlock()
		return
	}
	snapPlayIdx := s.playIdx
	snapLen := len(s.songs)
	otherDeck := s.currentDeck.Other()
	s.bufferReady[otherDeck] = false
	s.mu.Unlock()

	autoplay := false
	err := e.queue.Submit(ctx, &Command{
		GuildID: s.GuildID,
		Timeout: 8 * time.Second,
		Retries: 1,
		Op:      MixerOp{Op: "load", URL: next.URL, Deck: string(otherDeck), Autoplay: &autoplay},
	})
	if err != nil {
		e.logger.Debug().Err(err).Str("guild", s.GuildID).Msg("preload load failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playIdx != snapPlayIdx || len(s.songs) != snapLen {
		s.nextDeckLoaded = ""
		return
	}
	s.nextDeckLoaded = next.URL
	s.nextDeckTarget = otherDeck
}

// HandleMixerEvent is registered as the MixerController's EventHandler.
func (e *PlaybackEngine) HandleMixerEvent(generation int, ev MixerEvent) {
	if generation != e.mixer.Generation() {
		return
	}
	switch ev.Event {
	case "buffer_ready":
		e.onBufferReady(Deck(ev.Data))
	case "approaching_end":
		e.onApproachingEnd()
	case "end":
		e.onEnd()
	case "auto_end_switch":
		e.onAutoEndSwitch(Deck(ev.Data))
	case "auto_loop_restart":
		e.onAutoLoopRestart()
	case "deck_changed":
		// observational only
	case "stream_error":
		e.onStreamError(ev.Data)
	case "yt_error", "error":
		e.logger.Warn().Str("guild", e.session.GuildID).Str("data", ev.Data).Str("event", ev.Event).Msg("mixer reported error")
	}
}

func (e *PlaybackEngine) onBufferReady(deck Deck) {
	s := e.session
	s.mu.Lock()
	s.bufferReady[deck] = true
	s.version.Bump("buffer_ready", map[string]any{"deck": string(deck)})
	s.mu.Unlock()
	e.bus.Publish(events.EventBufferReady, events.Payload{"guild": s.GuildID, "deck": string(deck)})
}

func (e *PlaybackEngine) onApproachingEnd() {
	s := e.session
	s.mu.Lock()
	fade := s.fadeEnabled
	next, hasNext := s.nextSongLocked()
	cur, hasCur := s.CurrentSongLocked()
	otherDeck := s.currentDeck.Other()
	s.mu.Unlock()

	if fade && hasNext {
		_ = e.skip.AutoSkip(e.bgCtx)
		return
	}
	if !hasNext && hasCur {
		autoplay := false
		_ = e.queue.Submit(e.bgCtx, &Command{
			GuildID: s.GuildID, Timeout: e.tun.CommandTimeout,
			Op: MixerOp{Op: "load", URL: cur.URL, Deck: string(otherDeck), Autoplay: &autoplay},
		})
	}
}

func (e *PlaybackEngine) onEnd() {
	s := e.session
	if s.locks.HasActive(skipLockName(s.GuildID)) {
		return
	}
	s.mu.Lock()
	hasNext := s.playIdx+1 < len(s.songs)
	s.mu.Unlock()
	if hasNext {
		_ = e.skip.AutoSkip(e.bgCtx)
		return
	}
	_ = e.skip.EndQueue(e.bgCtx)
}

func (e *PlaybackEngine) onAutoEndSwitch(newDeck Deck) {
	s := e.session
	s.mu.Lock()
	s.songsCompleted++
	if s.playIdx+1 >= len(s.songs) {
		s.mu.Unlock()
		_ = e.skip.EndQueue(e.bgCtx)
		return
	}
	next := s.songs[s.playIdx+1]
	if prev, ok := s.CurrentSongLocked(); ok {
		s.pushHistoryLocked(prev)
	}
	s.playIdx++
	s.currentDeck = newDeck
	s.currentDeckLoaded = next.URL
	s.nextDeckLoaded = ""
	s.songStartAt = time.Now()
	s.songsStarted++
	s.version.Bump("auto_end_switch", map[string]any{"deck": string(newDeck)})
	err := s.persistLocked()
	guildID := s.GuildID
	version := s.version.Current()
	s.mu.Unlock()

	if err != nil {
		e.logger.Error().Err(err).Str("guild", guildID).Msg("persist after auto_end_switch failed")
	}
	e.bus.Publish(events.EventSongStarted, events.Payload{"guild": guildID, "deck": string(newDeck)})
	e.bus.Publish(events.EventDashboardRefresh, events.Payload{"guild": guildID, "version": version})
	e.OnSongStart(guildID)
}

func (e *PlaybackEngine) onAutoLoopRestart() {
	s := e.session
	s.mu.Lock()
	s.songStartAt = time.Now()
	s.songsCompleted++
	s.songsStarted++
	s.version.Bump("auto_loop_restart", nil)
	guildID := s.GuildID
	s.mu.Unlock()

	e.bus.Publish(events.EventSongStarted, events.Payload{"guild": guildID})
	e.OnSongStart(guildID)
}

func (e *PlaybackEngine) onStreamError(data string) {
	s := e.session
	s.mu.Lock()
	cur, ok := s.CurrentSongLocked()
	s.mu.Unlock()
	if !ok {
		return
	}
	e.failCount[cur.URL]++
	if e.failCount[cur.URL] >= 3 && !e.failed[cur.URL] {
		e.failed[cur.URL] = true
		e.logger.Warn().Str("guild", s.GuildID).Str("url", cur.URL).Str("detail", data).Msg("track marked failing after repeated stream errors")
		_ = e.skip.AutoSkip(e.bgCtx)
	}
}

// RestartCurrentSong restarts playback of the current song in place, used by
// loop mode and by manual retry after a stall.
func (e *PlaybackEngine) RestartCurrentSong(ctx context.Context) error {
	s := e.session
	if !e.mixer.IsAlive() {
		return e.PlaySong(ctx)
	}
	s.mu.Lock()
	deck := s.currentDeck
	s.mu.Unlock()

	if err := e.queue.Submit(ctx, &Command{
		GuildID: s.GuildID, Priority: PriorityHigh, Timeout: e.tun.CommandTimeout,
		Op: MixerOp{Op: "restart_deck", Deck: string(deck)},
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.songStartAt = time.Now()
	s.songsStarted++
	wasPaused := s.isPaused
	s.version.Bump("restart_current_song", nil)
	err := s.persistLocked()
	guildID := s.GuildID
	s.mu.Unlock()
	if err != nil {
		return err
	}

	e.OnSongStart(guildID)
	if wasPaused {
		return e.ResumeIfPaused(ctx, deck)
	}
	return nil
}

// ResumeIfPaused clears the paused flag and resumes the sidecar, compensating
// song_start_time for the time spent paused.
func (e *PlaybackEngine) ResumeIfPaused(ctx context.Context, deck Deck) error {
	s := e.session
	s.mu.Lock()
	if !s.isPaused {
		s.mu.Unlock()
		return nil
	}
	s.songStartAt = s.songStartAt.Add(time.Since(s.pauseStart))
	s.isPaused = false
	s.version.Bump("resume", nil)
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return e.queue.Submit(ctx, &Command{
		GuildID: s.GuildID, Timeout: e.tun.CommandTimeout, Op: MixerOp{Op: "resume_all"},
	})
}

// PlaySong spawns the mixer if needed and starts the currently selected song.
func (e *PlaybackEngine) PlaySong(ctx context.Context) error {
	s := e.session
	cur, ok := s.CurrentSong()
	if !ok {
		return newErr(CodeQueueEmpty, s.GuildID, "PlaySong", nil)
	}

	if !e.mixer.IsAlive() {
		if err := e.mixer.Start(ctx); err != nil {
			return newErr(CodeMixerStartFailed, s.GuildID, "PlaySong", err)
		}
		telemetry.MixerSpawnsTotal.Inc()
		e.bus.Publish(events.EventMixerSpawned, events.Payload{"guild": s.GuildID, "generation": e.mixer.Generation()})

		proactiveCrossfade := false
		if err := e.queue.Submit(ctx, &Command{
			GuildID: s.GuildID, Priority: PriorityHigh, Timeout: e.tun.CommandTimeout,
			Op: MixerOp{Op: "set_proactive_crossfade", Enabled: &proactiveCrossfade},
		}); err != nil {
			e.logger.Debug().Err(err).Str("guild", s.GuildID).Msg("set_proactive_crossfade failed, continuing")
		}
	}

	s.mu.Lock()
	deck := s.currentDeck
	s.mu.Unlock()

	autoplay := false
	if err := e.queue.Submit(ctx, &Command{
		GuildID: s.GuildID, Timeout: e.tun.CommandTimeout, Retries: 1,
		Op: MixerOp{Op: "load", URL: cur.URL, Deck: string(deck), Autoplay: &autoplay},
	}); err != nil {
		return err
	}

	select {
	case <-time.After(150 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	loopEnabled := false
	s.mu.Lock()
	loopEnabled = s.loopEnabled
	s.mu.Unlock()

	if err := e.queue.Submit(ctx, &Command{
		GuildID: s.GuildID, Priority: PriorityHigh, Timeout: e.tun.CommandTimeout,
		Op: MixerOp{Op: "set_loop", Deck: string(deck), Enabled: &loopEnabled},
	}); err != nil {
		e.logger.Debug().Err(err).Str("guild", s.GuildID).Msg("set_loop failed, continuing")
	}

	if err := e.queue.Submit(ctx, &Command{
		GuildID: s.GuildID, Priority: PriorityHigh, Timeout: e.tun.CommandTimeout,
		Op: MixerOp{Op: "play", Deck: string(deck)},
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.currentDeckLoaded = cur.URL
	s.songStartAt = time.Now()
	s.songsStarted++
	s.sessionRestored = false
	s.version.Bump("play_song", nil)
	err := s.persistLocked()
	guildID := s.GuildID
	s.mu.Unlock()
	if err != nil {
		return err
	}

	e.bus.Publish(events.EventSongStarted, events.Payload{"guild": guildID, "url": cur.URL})
	e.bus.Publish(events.EventDashboardRefresh, events.Payload{"guild": guildID})
	e.OnSongStart(guildID)
	return nil
}

// TogglePauseResume implements the facade's pause state machine, including
// the restored-session and missing-mixer bootstrapping paths.
func (e *PlaybackEngine) TogglePauseResume(ctx context.Context) error {
	s := e.session

	s.mu.Lock()
	restored := s.sessionRestored
	hasSongs := len(s.songs) > 0
	mixerMissing := !e.mixer.IsAlive()
	s.mu.Unlock()

	if restored && hasSongs {
		s.mu.Lock()
		s.sessionRestored = false
		s.mu.Unlock()
		return e.PlaySong(ctx)
	}
	if mixerMissing && hasSongs {
		return e.PlaySong(ctx)
	}
	if !hasSongs {
		return newErr(CodeQueueEmpty, s.GuildID, "TogglePauseResume", nil)
	}

	s.mu.Lock()
	wasPaused := s.isPaused
	deck := s.currentDeck
	if wasPaused {
		s.songStartAt = s.songStartAt.Add(time.Since(s.pauseStart))
		s.isPaused = false
	} else {
		s.pauseStart = time.Now()
		s.isPaused = true
	}
	action := "pause"
	if wasPaused {
		action = "resume"
	}
	s.version.Bump(action, nil)
	err := s.persistLocked()
	nowPaused := s.isPaused
	s.mu.Unlock()
	if err != nil {
		return err
	}

	op := MixerOp{Op: "resume_all"}
	if nowPaused {
		op = MixerOp{Op: "pause_all"}
	}
	if err := e.queue.Submit(ctx, &Command{GuildID: s.GuildID, Priority: PriorityHigh, Timeout: e.tun.CommandTimeout, Op: op}); err != nil {
		return err
	}

	e.bus.Publish(events.EventPauseToggled, events.Payload{"guild": s.GuildID, "paused": nowPaused})
	e.bus.Publish(events.EventDashboardRefresh, events.Payload{"guild": s.GuildID})

	if !nowPaused {
		e.OnSongStart(s.GuildID)
	} else if e.preloadTimer != nil {
		e.preloadTimer.Stop()
	}
	_ = deck
	return nil
}
