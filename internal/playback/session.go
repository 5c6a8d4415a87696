/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"math/rand"
	"sync"
	"time"
)

const maxHistory = 20

// Session holds all mutable state for a single guild's playback. It is the
// one shared mutable structure per guild; every field is guarded by mu,
// which Session's own methods take and which the package's coordinators
// (engine, skip manager, facade, persistence) hold while touching fields
// directly.
type Session struct {
	GuildID string

	mu sync.Mutex

	songs   []Song
	history []Song
	playIdx int

	currentDeck       Deck
	currentDeckLoaded string // URL loaded on currentDeck, "" if none
	nextDeckLoaded    string
	nextDeckTarget    Deck
	bufferReady       map[Deck]bool

	isPaused     bool
	loopEnabled  bool
	fadeEnabled  bool
	isCrossfading bool
	crossfadeStartAt time.Time

	songStartAt time.Time
	pauseStart  time.Time

	sessionRestored bool
	intentionalKill bool
	mixerGeneration int

	dashboardMessageID string
	textChannelID       string

	version *stateVersion
	locks   *lockTable

	songsStarted   int
	songsCompleted int

	lastSkipAt time.Time

	crashRecoveryAttempts int
	voice                 VoiceBinding

	persist      func(*Session) error
	maxQueueSize int
}

// VoiceBinding is the thin interface the voice/membership collaborator
// implements; the playback core only ever reads membership/readiness state
// and requests a disconnect, never drives the voice transport itself.
type VoiceBinding interface {
	IsAlone() bool
	IsReady() bool
	ChannelID() string
	ScheduleDisconnect(delay time.Duration)
}

// SetVoiceBinding attaches (or clears, with nil) the voice collaborator.
func (s *Session) SetVoiceBinding(v VoiceBinding) {
	s.mu.Lock()
	s.voice = v
	s.mu.Unlock()
}

// NewSession constructs an empty session for a guild.
func NewSession(guildID string, persist func(*Session) error) *Session {
	return &Session{
		GuildID:      guildID,
		currentDeck:  DeckA,
		bufferReady:  map[Deck]bool{DeckA: false, DeckB: false},
		fadeEnabled:  true,
		version:      &stateVersion{},
		locks:        newLockTable(),
		persist:      persist,
		maxQueueSize: maxQueueSizeDefault,
	}
}

// SetMaxQueueSize overrides the queue-size guard enforced by Enqueue/InsertAt.
// Zero or negative values are ignored and the default is kept.
func (s *Session) SetMaxQueueSize(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.maxQueueSize = n
	s.mu.Unlock()
}

func (s *Session) maxQueueSizeLocked() int {
	if s.maxQueueSize <= 0 {
		return maxQueueSizeDefault
	}
	return s.maxQueueSize
}

// Version returns the session's current state version.
func (s *Session) Version() int { return s.version.Current() }

// withLock runs fn holding the session mutex and returns its result.
func (s *Session) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// Snapshot is an immutable read of session state for dashboards/tests.
type Snapshot struct {
	GuildID           string
	Songs             []Song
	PlayIndex         int
	CurrentDeck       Deck
	CurrentDeckLoaded string
	NextDeckLoaded    string
	IsPaused          bool
	LoopEnabled       bool
	FadeEnabled       bool
	IsCrossfading     bool
	Version           int
	SongsStarted      int
	SongsCompleted    int
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	songs := make([]Song, len(s.songs))
	copy(songs, s.songs)
	return Snapshot{
		GuildID:           s.GuildID,
		Songs:             songs,
		PlayIndex:         s.playIdx,
		CurrentDeck:       s.currentDeck,
		CurrentDeckLoaded: s.currentDeckLoaded,
		NextDeckLoaded:    s.nextDeckLoaded,
		IsPaused:          s.isPaused,
		LoopEnabled:       s.loopEnabled,
		FadeEnabled:       s.fadeEnabled,
		IsCrossfading:     s.isCrossfading,
		Version:           s.version.Current(),
		SongsStarted:      s.songsStarted,
		SongsCompleted:    s.songsCompleted,
	}
}

// CurrentSong returns the currently selected song, if any.
func (s *Session) CurrentSong() (Song, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playIdx < 0 || s.playIdx >= len(s.songs) {
		return Song{}, false
	}
	return s.songs[s.playIdx], true
}

// NextSong returns the song after the current one, if any.
func (s *Session) NextSong() (Song, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSongLocked()
}

func (s *Session) nextSongLocked() (Song, bool) {
	i := s.playIdx + 1
	if i < 0 || i >= len(s.songs) {
		return Song{}, false
	}
	return s.songs[i], true
}

func (s *Session) isFinishedLocked() bool {
	if s.currentDeckLoaded != "" || len(s.songs) != 1 || len(s.history) == 0 {
		return false
	}
	return s.songs[0].URL == s.history[len(s.history)-1].URL
}

// Enqueue appends songs to the queue, clearing a "finished" queue first.
// The mutation is transactional: if persistLocked fails, the queue and play
// index are restored to their pre-call state and the version bump is undone.
func (s *Session) Enqueue(songs ...Song) error {
	return s.withLock(func() error {
		prevSongs := append([]Song(nil), s.songs...)
		prevPlayIdx := s.playIdx

		if s.isFinishedLocked() {
			s.songs = nil
			s.playIdx = 0
		}
		if len(s.songs)+len(songs) > s.maxQueueSizeLocked() {
			s.songs = prevSongs
			s.playIdx = prevPlayIdx
			return newErr(CodeQueueFull, s.GuildID, "Enqueue", nil)
		}
		s.songs = append(s.songs, songs...)
		s.version.Bump("enqueue", map[string]any{"added": len(songs)})
		if err := s.persistLocked(); err != nil {
			s.songs = prevSongs
			s.playIdx = prevPlayIdx
			s.version.undoLast()
			return err
		}
		return nil
	})
}

// maxQueueSizeDefault is the queue-size guard used when no deployment
// override (Tunables.MaxQueueSize, threaded in via SetMaxQueueSize) applies.
const maxQueueSizeDefault = 1000

// InsertAt inserts a song at index i, shifting playIdx if needed. Rolled back
// on persistence failure.
func (s *Session) InsertAt(song Song, i int) error {
	return s.withLock(func() error {
		if i < 0 || i > len(s.songs) {
			return newErr(CodeInvalidIndex, s.GuildID, "InsertAt", nil)
		}
		if len(s.songs)+1 > s.maxQueueSizeLocked() {
			return newErr(CodeQueueFull, s.GuildID, "InsertAt", nil)
		}
		prevSongs := append([]Song(nil), s.songs...)
		prevPlayIdx := s.playIdx

		s.songs = append(s.songs, Song{})
		copy(s.songs[i+1:], s.songs[i:])
		s.songs[i] = song
		if i <= s.playIdx {
			s.playIdx++
		}
		s.version.Bump("insert_at", map[string]any{"index": i})
		if err := s.persistLocked(); err != nil {
			s.songs = prevSongs
			s.playIdx = prevPlayIdx
			s.version.undoLast()
			return err
		}
		return nil
	})
}

// RemoveAt removes the song at index i, invalidating any preload that
// matched it. Rolled back on persistence failure.
func (s *Session) RemoveAt(i int) error {
	return s.withLock(func() error {
		if i < 0 || i >= len(s.songs) {
			return newErr(CodeInvalidIndex, s.GuildID, "RemoveAt", nil)
		}
		prevSongs := append([]Song(nil), s.songs...)
		prevPlayIdx := s.playIdx
		prevNextDeckLoaded := s.nextDeckLoaded
		prevBufferReady := s.bufferReady[s.nextDeckTarget]

		removed := s.songs[i]
		s.songs = append(s.songs[:i], s.songs[i+1:]...)
		switch {
		case i < s.playIdx:
			s.playIdx--
		case i == s.playIdx && s.playIdx >= len(s.songs):
			if len(s.songs) > 0 {
				s.playIdx = len(s.songs) - 1
			} else {
				s.playIdx = 0
			}
		}
		if s.nextDeckLoaded == removed.URL {
			s.nextDeckLoaded = ""
			s.bufferReady[s.nextDeckTarget] = false
		}
		s.version.Bump("remove_at", map[string]any{"index": i})
		if err := s.persistLocked(); err != nil {
			s.songs = prevSongs
			s.playIdx = prevPlayIdx
			s.nextDeckLoaded = prevNextDeckLoaded
			s.bufferReady[s.nextDeckTarget] = prevBufferReady
			s.version.undoLast()
			return err
		}
		return nil
	})
}

// ShuffleUpcoming shuffles songs after the current play index. Rolled back on
// persistence failure.
func (s *Session) ShuffleUpcoming() error {
	return s.withLock(func() error {
		upcoming := s.songs[s.playIdx+1:]
		// upcoming shares its backing array with s.songs, so it must be
		// deep-copied before the shuffle mutates it in place.
		prevUpcoming := append([]Song(nil), upcoming...)
		prevNextDeckLoaded := s.nextDeckLoaded
		prevBufferReady := s.bufferReady[s.nextDeckTarget]

		rand.Shuffle(len(upcoming), func(i, j int) {
			upcoming[i], upcoming[j] = upcoming[j], upcoming[i]
		})
		s.nextDeckLoaded = ""
		s.bufferReady[s.nextDeckTarget] = false
		s.version.Bump("shuffle_upcoming", nil)
		if err := s.persistLocked(); err != nil {
			copy(s.songs[s.playIdx+1:], prevUpcoming)
			s.nextDeckLoaded = prevNextDeckLoaded
			s.bufferReady[s.nextDeckTarget] = prevBufferReady
			s.version.undoLast()
			return err
		}
		return nil
	})
}

// pushHistoryLocked records the song that just finished, bounded to maxHistory.
func (s *Session) pushHistoryLocked(song Song) {
	s.history = append(s.history, song)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
}

func (s *Session) persistLocked() error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist(s); err != nil {
		return newErr(CodePersistenceError, s.GuildID, "persist", err)
	}
	return nil
}
