/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/duodeck/duodeck/internal/events"
	"github.com/duodeck/duodeck/internal/telemetry"
	"github.com/rs/zerolog"
)

// Reason explains why a transition was initiated.
type Reason string

const (
	ReasonManual       Reason = "manual"
	ReasonManualPrev   Reason = "manual-prev"
	ReasonManualSelect Reason = "manual-select"
	ReasonAuto         Reason = "auto"
)

func skipLockName(guildID string) string { return fmt.Sprintf("skip_%s", guildID) }

// outcomeLabel reduces a transition error to a low-cardinality Prometheus
// label: the error code name, or "ok" on success.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var perr *Error
	if errors.As(err, &perr) {
		return string(perr.Code)
	}
	return "error"
}

// SkipManager drives the dual-deck transition state machine described in
// the design's component breakdown: preload-aware fast path, cold load with
// bounded buffer wait, and an atomic commit under the per-guild skip lock.
type SkipManager struct {
	session *Session
	mixer   *MixerController
	queue   *CommandQueue
	bus     *events.Bus
	tun     Tunables
	logger  zerolog.Logger
	stats   *StatsTracker

	engine *PlaybackEngine // set by NewPlaybackEngine to close the reference cycle
}

// NewSkipManager constructs a SkipManager bound to one session's coordinators.
func NewSkipManager(session *Session, mixer *MixerController, queue *CommandQueue, bus *events.Bus, tun Tunables, stats *StatsTracker, logger zerolog.Logger) *SkipManager {
	return &SkipManager{session: session, mixer: mixer, queue: queue, bus: bus, tun: tun, stats: stats, logger: logger}
}

// SkipNext advances to the next song, restarting the current one if looping.
func (m *SkipManager) SkipNext(ctx context.Context) error {
	s := m.session
	s.mu.Lock()
	loop := s.loopEnabled
	playIdx := s.playIdx
	songCount := len(s.songs)
	s.mu.Unlock()

	if loop {
		return m.engine.RestartCurrentSong(ctx)
	}
	if playIdx+1 < songCount {
		return m.transition(ctx, playIdx+1, ReasonManual)
	}
	return m.EndQueue(ctx)
}

// SkipPrev moves to the previous song, if any.
func (m *SkipManager) SkipPrev(ctx context.Context) error {
	s := m.session
	s.mu.Lock()
	playIdx := s.playIdx
	s.mu.Unlock()
	if playIdx <= 0 {
		return nil
	}
	return m.transition(ctx, playIdx-1, ReasonManualPrev)
}

// SkipToIndex jumps directly to index i.
func (m *SkipManager) SkipToIndex(ctx context.Context, i int) error {
	s := m.session
	s.mu.Lock()
	valid := i >= 0 && i < len(s.songs)
	s.mu.Unlock()
	if !valid {
		return newErr(CodeInvalidIndex, s.GuildID, "SkipToIndex", nil)
	}
	return m.transition(ctx, i, ReasonManualSelect)
}

// AutoSkip is invoked by PlaybackEngine when the sidecar reports natural end.
func (m *SkipManager) AutoSkip(ctx context.Context) error {
	s := m.session
	if m.stats != nil {
		m.stats.RecordSongCompleted()
	}
	s.mu.Lock()
	s.songsCompleted++
	loop := s.loopEnabled
	playIdx := s.playIdx
	songCount := len(s.songs)
	s.mu.Unlock()

	if loop {
		return m.engine.RestartCurrentSong(ctx)
	}
	if playIdx+1 < songCount {
		return m.transition(ctx, playIdx+1, ReasonAuto)
	}
	return m.EndQueue(ctx)
}

// transition implements the full §4.6 algorithm: preconditions, classify
// fast-path vs cold-load, then an atomic commit under the skip lock.
func (m *SkipManager) transition(ctx context.Context, targetIdx int, reason Reason) (err error) {
	defer func() {
		telemetry.SkipOperationsTotal.WithLabelValues(string(reason), outcomeLabel(err)).Inc()
	}()

	s := m.session

	s.mu.Lock()
	sinceSkip := time.Since(s.lastSkipAt)
	s.mu.Unlock()
	if sinceSkip < m.tun.SkipThrottle {
		return newErr(CodeThrottled, s.GuildID, "transition", nil)
	}

	if !m.mixer.IsAlive() {
		return newErr(CodeMixerDead, s.GuildID, "transition", nil)
	}

	s.mu.Lock()
	crossfading := s.isCrossfading || time.Since(s.crossfadeStartAt) < m.tun.Crossfade
	s.mu.Unlock()
	if crossfading {
		return newErr(CodeCrossfadeInProgress, s.GuildID, "transition", nil)
	}

	handle, ok := s.locks.Acquire(skipLockName(s.GuildID), 30*time.Second, 100*time.Millisecond)
	if !ok {
		return newErr(CodeSkipInProgress, s.GuildID, "transition", nil)
	}
	defer handle.Release()

	s.mu.Lock()
	if targetIdx < 0 || targetIdx >= len(s.songs) {
		s.mu.Unlock()
		return newErr(CodeInvalidIndex, s.GuildID, "transition", nil)
	}
	target := s.songs[targetIdx]
	targetDeck := s.currentDeck.Other()
	fastPath := s.nextDeckLoaded == target.URL && s.nextDeckTarget == targetDeck && s.bufferReady[targetDeck]
	fadeEnabled := s.fadeEnabled
	s.mu.Unlock()

	if fastPath {
		if err := m.runFastPath(ctx, targetDeck, fadeEnabled); err != nil {
			return err
		}
	} else {
		if err := m.runColdLoad(ctx, target, targetDeck, fadeEnabled); err != nil {
			return err
		}
	}

	return m.commit(ctx, targetIdx, targetDeck, target, reason)
}

func (m *SkipManager) runFastPath(ctx context.Context, targetDeck Deck, fadeEnabled bool) error {
	s := m.session
	if fadeEnabled {
		s.mu.Lock()
		s.isCrossfading = true
		s.crossfadeStartAt = time.Now()
		s.mu.Unlock()
		m.bus.Publish(events.EventCrossfadeStart, events.Payload{"guild": s.GuildID, "to_deck": string(targetDeck)})
		enabled := true
		return m.queue.Submit(ctx, &Command{GuildID: s.GuildID, Priority: PriorityHigh, Timeout: m.tun.CommandTimeout, Op: MixerOp{
			Op: "crossfade", ToDeck: string(targetDeck), DurationMS: int(m.tun.Crossfade.Milliseconds()), Enabled: &enabled,
		}})
	}
	return m.queue.Submit(ctx, &Command{GuildID: s.GuildID, Priority: PriorityHigh, Timeout: m.tun.CommandTimeout, Op: MixerOp{
		Op: "skip_to", TargetDeck: string(targetDeck),
	}})
}

func (m *SkipManager) runColdLoad(ctx context.Context, target Song, targetDeck Deck, fadeEnabled bool) error {
	s := m.session

	if err := m.queue.Submit(ctx, &Command{GuildID: s.GuildID, Timeout: m.tun.CommandTimeout, Op: MixerOp{
		Op: "stop_deck", Deck: string(targetDeck),
	}}); err != nil {
		return err
	}

	s.mu.Lock()
	s.bufferReady[targetDeck] = false
	s.mu.Unlock()

	autoplay := false
	if err := m.queue.Submit(ctx, &Command{GuildID: s.GuildID, Timeout: m.tun.CommandTimeout, Retries: 1, Op: MixerOp{
		Op: "load", URL: target.URL, Deck: string(targetDeck), Autoplay: &autoplay,
	}}); err != nil {
		return err
	}

	if err := m.waitForBufferReady(ctx, targetDeck); err != nil {
		return err
	}

	return m.runFastPath(ctx, targetDeck, fadeEnabled)
}

func (m *SkipManager) waitForBufferReady(ctx context.Context, deck Deck) error {
	s := m.session
	deadline := time.Now().Add(m.tun.BufferWait)
	ticker := time.NewTicker(m.tun.BufferPollInterval)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		ready := s.bufferReady[deck]
		s.mu.Unlock()
		if ready {
			return nil
		}
		if time.Now().After(deadline) {
			if !m.mixer.IsAlive() {
				return newErr(CodeMixerDead, s.GuildID, "waitForBufferReady", nil)
			}
			m.logger.Warn().Str("guild", s.GuildID).Str("deck", string(deck)).Msg("buffer wait exceeded, relying on sidecar auto-switch")
			return newErr(CodeBufferTimeout, s.GuildID, "waitForBufferReady", nil)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// commit performs the atomic state transition under the already-held skip lock.
func (m *SkipManager) commit(ctx context.Context, targetIdx int, targetDeck Deck, target Song, reason Reason) error {
	s := m.session

	s.mu.Lock()
	if prev, ok := s.CurrentSongLocked(); ok {
		s.pushHistoryLocked(prev)
	}
	s.playIdx = targetIdx
	s.currentDeck = targetDeck
	s.currentDeckLoaded = target.URL
	s.nextDeckLoaded = ""
	s.songStartAt = time.Now()
	s.lastSkipAt = time.Now()
	s.songsStarted++
	wasPaused := s.isPaused
	s.version.Bump("skip_complete", map[string]any{"index": targetIdx, "reason": string(reason)})
	err := s.persistLocked()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if m.stats != nil {
		m.stats.RecordSongStarted()
	}

	m.bus.Publish(events.EventSkipCompleted, events.Payload{
		"guild": s.GuildID, "index": targetIdx, "url": target.URL, "reason": string(reason),
	})
	m.bus.Publish(events.EventDashboardRefresh, events.Payload{"guild": s.GuildID, "version": s.Version()})

	m.engine.OnSongStart(s.GuildID)

	if wasPaused {
		return m.engine.ResumeIfPaused(ctx, targetDeck)
	}
	return nil
}

// EndQueue finishes playback: retains only the last played song, clears
// decks, and kills the mixer intentionally (crash recovery must not fire).
func (m *SkipManager) EndQueue(ctx context.Context) error {
	s := m.session

	s.mu.Lock()
	if cur, ok := s.CurrentSongLocked(); ok {
		s.pushHistoryLocked(cur)
	}
	var last []Song
	if len(s.history) > 0 {
		last = []Song{s.history[len(s.history)-1]}
	}
	s.songs = last
	s.playIdx = 0
	s.currentDeckLoaded = ""
	s.nextDeckLoaded = ""
	s.isCrossfading = false
	s.intentionalKill = true
	s.version.Bump("end_queue", nil)
	err := s.persistLocked()
	s.mu.Unlock()

	_ = m.mixer.Stop()

	m.bus.Publish(events.EventQueueFinished, events.Payload{"guild": s.GuildID})
	m.bus.Publish(events.EventDashboardRefresh, events.Payload{"guild": s.GuildID, "version": s.Version()})

	return err
}

// CurrentSongLocked is the lock-already-held counterpart of CurrentSong.
func (s *Session) CurrentSongLocked() (Song, bool) {
	if s.playIdx < 0 || s.playIdx >= len(s.songs) {
		return Song{}, false
	}
	return s.songs[s.playIdx], true
}
