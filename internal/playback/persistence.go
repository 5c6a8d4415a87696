/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"encoding/json"
	"os"
	"sync"
)

// queueBackup is the on-disk shape of one guild's persisted queue state.
type queueBackup struct {
	Songs              []Song  `json:"songs"`
	History            []Song  `json:"history"`
	PlayIndex          int     `json:"playIndex"`
	IsPaused           bool    `json:"isPaused"`
	LoopEnabled        bool    `json:"loopEnabled"`
	FadeEnabled        bool    `json:"fadeEnabled"`
	CurrentDeckLoaded  *string `json:"currentDeckLoaded"`
	DashboardMessageID *string `json:"dashboardMessageId"`
	TextChannelID      *string `json:"textChannelId"`
}

// QueueStore persists every guild's queueBackup into a single JSON file,
// written atomically (temp file + rename) so a crash mid-write can never
// corrupt the store.
type QueueStore struct {
	path string
	mu   sync.Mutex
}

// NewQueueStore opens (without yet reading) the backup file at path.
func NewQueueStore(path string) *QueueStore {
	return &QueueStore{path: path}
}

func (q *QueueStore) readAllLocked() (map[string]queueBackup, error) {
	out := make(map[string]queueBackup)
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Save persists s's queue state, or removes its entry entirely if both the
// queue and history are empty.
func (q *QueueStore) Save(s *Session) error {
	backup := queueBackup{
		Songs:       append([]Song{}, s.songs...),
		History:     append([]Song{}, s.history...),
		PlayIndex:   s.playIdx,
		IsPaused:    s.isPaused,
		LoopEnabled: s.loopEnabled,
		FadeEnabled: s.fadeEnabled,
	}
	if s.currentDeckLoaded != "" {
		v := s.currentDeckLoaded
		backup.CurrentDeckLoaded = &v
	}
	if s.dashboardMessageID != "" {
		v := s.dashboardMessageID
		backup.DashboardMessageID = &v
	}
	if s.textChannelID != "" {
		v := s.textChannelID
		backup.TextChannelID = &v
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	all, err := q.readAllLocked()
	if err != nil {
		return err
	}
	if len(backup.Songs) == 0 && len(backup.History) == 0 {
		delete(all, s.GuildID)
	} else {
		all[s.GuildID] = backup
	}
	return writeJSONAtomic(q.path, all)
}

// Delete removes guildID's persisted entry, if any.
func (q *QueueStore) Delete(guildID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	all, err := q.readAllLocked()
	if err != nil {
		return err
	}
	if _, ok := all[guildID]; !ok {
		return nil
	}
	delete(all, guildID)
	return writeJSONAtomic(q.path, all)
}

// Restore loads guildID's persisted queue state onto an existing, freshly
// constructed Session. currentDeckLoaded is never restored as "loaded": it
// is only used to synthesize a last-played history entry if history is empty.
func (q *QueueStore) Restore(s *Session) (bool, error) {
	q.mu.Lock()
	all, err := q.readAllLocked()
	q.mu.Unlock()
	if err != nil {
		return false, err
	}
	backup, ok := all[s.GuildID]
	if !ok {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.songs = backup.Songs
	s.history = backup.History
	s.playIdx = backup.PlayIndex
	s.isPaused = backup.IsPaused
	s.loopEnabled = backup.LoopEnabled
	s.fadeEnabled = backup.FadeEnabled
	if backup.DashboardMessageID != nil {
		s.dashboardMessageID = *backup.DashboardMessageID
	}
	if backup.TextChannelID != nil {
		s.textChannelID = *backup.TextChannelID
	}
	if len(s.history) == 0 && backup.CurrentDeckLoaded != nil {
		for _, song := range s.songs {
			if song.URL == *backup.CurrentDeckLoaded {
				s.history = append(s.history, song)
				break
			}
		}
	}
	s.sessionRestored = true
	s.version.Bump("restore", nil)
	return true, nil
}
