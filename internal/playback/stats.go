/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// UserStats accumulates one listener's contribution to a guild's session.
type UserStats struct {
	ListeningTimeMS      int64 `json:"listeningTimeMs"`
	ServerPlaylistAdds   int   `json:"serverPlaylistAdds"`
	PersonalPlaylistAdds int   `json:"personalPlaylistAdds"`
}

// GlobalStats tracks guild-wide transition counters.
type GlobalStats struct {
	SongsStarted   int `json:"songsStarted"`
	SongsCompleted int `json:"songsCompleted"`
}

type statsDocument struct {
	Users       map[string]*UserStats `json:"users"`
	Global      GlobalStats           `json:"global"`
	LastUpdated time.Time             `json:"lastUpdated"`
}

// StatsTracker buffers per-user listening time in memory, flushing to disk
// on disconnect or shutdown rather than on every tick.
type StatsTracker struct {
	path string

	mu      sync.Mutex
	doc     statsDocument
	joined  map[string]map[string]time.Time // guild -> user -> joined-at
}

// NewStatsTracker loads (or initializes) the stats document at path.
func NewStatsTracker(path string) *StatsTracker {
	t := &StatsTracker{
		path:   path,
		joined: make(map[string]map[string]time.Time),
		doc:    statsDocument{Users: make(map[string]*UserStats)},
	}
	t.load()
	return t
}

func (t *StatsTracker) load() {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return
	}
	var doc statsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return
	}
	if doc.Users == nil {
		doc.Users = make(map[string]*UserStats)
	}
	t.doc = doc
}

// MarkListening records that userID began listening in guildID, for
// accumulation when StopListening or Flush runs.
func (t *StatsTracker) MarkListening(guildID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.joined[guildID] == nil {
		t.joined[guildID] = make(map[string]time.Time)
	}
	t.joined[guildID][userID] = time.Now()
}

// StopListening accumulates elapsed listening time for userID in guildID.
func (t *StatsTracker) StopListening(guildID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	guild, ok := t.joined[guildID]
	if !ok {
		return
	}
	joinedAt, ok := guild[userID]
	if !ok {
		return
	}
	delete(guild, userID)
	elapsed := time.Since(joinedAt).Milliseconds()
	u := t.userLocked(userID)
	u.ListeningTimeMS += elapsed
}

func (t *StatsTracker) userLocked(userID string) *UserStats {
	u, ok := t.doc.Users[userID]
	if !ok {
		u = &UserStats{}
		t.doc.Users[userID] = u
	}
	return u
}

// RecordSongStarted/RecordSongCompleted mirror the session's own counters
// into the global stats document so a persisted copy survives process restart.
func (t *StatsTracker) RecordSongStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doc.Global.SongsStarted++
}

func (t *StatsTracker) RecordSongCompleted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.doc.Global.SongsCompleted++
}

// RecordPlaylistAdd tracks a server- or personal-playlist enqueue by user.
func (t *StatsTracker) RecordPlaylistAdd(userID string, serverPlaylist bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.userLocked(userID)
	if serverPlaylist {
		u.ServerPlaylistAdds++
	} else {
		u.PersonalPlaylistAdds++
	}
}

// Flush accumulates any still-open listening sessions for guildID and
// atomically writes the stats document to disk.
func (t *StatsTracker) Flush(guildID string) error {
	t.mu.Lock()
	now := time.Now()
	for userID, joinedAt := range t.joined[guildID] {
		u := t.userLocked(userID)
		u.ListeningTimeMS += now.Sub(joinedAt).Milliseconds()
		t.joined[guildID][userID] = now
	}
	t.doc.LastUpdated = now
	doc := t.doc
	t.mu.Unlock()

	return writeJSONAtomic(t.path, doc)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
