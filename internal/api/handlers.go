/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/duodeck/duodeck/internal/cache"
	"github.com/duodeck/duodeck/internal/db"
	"github.com/duodeck/duodeck/internal/models"
	"github.com/duodeck/duodeck/internal/playback"
)

// sessionResponse is the JSON shape returned by GET .../session.
type sessionResponse struct {
	GuildID           string `json:"guild_id"`
	Version           int    `json:"version"`
	QueueLength       int    `json:"queue_length"`
	PlayIndex         int    `json:"play_index"`
	CurrentDeck       string `json:"current_deck"`
	CurrentTrackTitle string `json:"current_track_title"`
	CurrentTrackURL   string `json:"current_track_url"`
	IsPaused          bool   `json:"is_paused"`
	LoopEnabled       bool   `json:"loop_enabled"`
	FadeEnabled       bool   `json:"fade_enabled"`
	IsCrossfading     bool   `json:"is_crossfading"`
	SongsStarted      int    `json:"songs_started"`
	SongsCompleted    int    `json:"songs_completed"`
	FromCache         bool   `json:"-"`
}

func summaryFromSnapshot(snap playback.Snapshot) sessionResponse {
	resp := sessionResponse{
		GuildID:        snap.GuildID,
		Version:        snap.Version,
		QueueLength:    len(snap.Songs),
		PlayIndex:      snap.PlayIndex,
		CurrentDeck:    string(snap.CurrentDeck),
		IsPaused:       snap.IsPaused,
		LoopEnabled:    snap.LoopEnabled,
		FadeEnabled:    snap.FadeEnabled,
		IsCrossfading:  snap.IsCrossfading,
		SongsStarted:   snap.SongsStarted,
		SongsCompleted: snap.SongsCompleted,
	}
	if snap.PlayIndex >= 0 && snap.PlayIndex < len(snap.Songs) {
		resp.CurrentTrackTitle = snap.Songs[snap.PlayIndex].Title
		resp.CurrentTrackURL = snap.Songs[snap.PlayIndex].URL
	}
	return resp
}

func summaryFromCache(c *cache.SessionSummary) sessionResponse {
	return sessionResponse{
		GuildID:           c.GuildID,
		Version:           c.Version,
		QueueLength:       c.QueueLength,
		PlayIndex:         c.PlayIndex,
		CurrentDeck:       c.CurrentDeck,
		CurrentTrackTitle: c.CurrentTrackTitle,
		CurrentTrackURL:   c.CurrentTrackURL,
		IsPaused:          c.IsPaused,
		LoopEnabled:       c.LoopEnabled,
		FadeEnabled:       c.FadeEnabled,
		IsCrossfading:     c.IsCrossfading,
		SongsStarted:      c.SongsStarted,
		SongsCompleted:    c.SongsCompleted,
		FromCache:         true,
	}
}

func summaryFromRecord(rec *models.SessionRecord) sessionResponse {
	return sessionResponse{
		GuildID:           rec.GuildID,
		Version:           rec.Version,
		QueueLength:       rec.QueueLength,
		PlayIndex:         rec.PlayIndex,
		CurrentDeck:       rec.CurrentDeck,
		CurrentTrackTitle: rec.CurrentTrackTitle,
		CurrentTrackURL:   rec.CurrentTrackURL,
		IsPaused:          rec.IsPaused,
		LoopEnabled:       rec.LoopEnabled,
		FadeEnabled:       rec.FadeEnabled,
		IsCrossfading:     rec.IsCrossfading,
		SongsStarted:      rec.SongsStarted,
		SongsCompleted:    rec.SongsCompleted,
		FromCache:         true,
	}
}

func toCacheSummary(resp sessionResponse) *cache.SessionSummary {
	return &cache.SessionSummary{
		GuildID:           resp.GuildID,
		Version:           resp.Version,
		QueueLength:       resp.QueueLength,
		PlayIndex:         resp.PlayIndex,
		CurrentDeck:       resp.CurrentDeck,
		CurrentTrackTitle: resp.CurrentTrackTitle,
		CurrentTrackURL:   resp.CurrentTrackURL,
		IsPaused:          resp.IsPaused,
		LoopEnabled:       resp.LoopEnabled,
		FadeEnabled:       resp.FadeEnabled,
		IsCrossfading:     resp.IsCrossfading,
		SongsStarted:      resp.SongsStarted,
		SongsCompleted:    resp.SongsCompleted,
		UpdatedAt:         time.Now(),
	}
}

// handleGetSession serves GET /api/v1/guilds/{guildID}/session, reading
// through the Redis cache, then the live in-memory Session, then the
// database-backed SessionRecord left by the last process to hold this guild.
// Only a guild absent from all three tiers is reported 404 — sessions are
// created only by the voice/membership collaborator joining a channel.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")

	if cached, ok := s.cache.GetSessionSummary(r.Context(), guildID); ok {
		writeJSON(w, http.StatusOK, summaryFromCache(cached))
		return
	}

	if p, ok := s.registry.Lookup(guildID); ok {
		resp := summaryFromSnapshot(p.Session.Snapshot())
		_ = s.cache.SetSessionSummary(r.Context(), toCacheSummary(resp))
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if s.db != nil {
		if rec, ok := db.GetSessionRecord(s.db, guildID); ok {
			writeJSON(w, http.StatusOK, summaryFromRecord(rec))
			return
		}
	}

	writeError(w, &playback.Error{Code: playback.CodeGuildGone, GuildID: guildID, Op: "get_session"})
}

// handleControl serves POST /api/v1/guilds/{guildID}/control/{op}, routing
// the requested operation through the guild's AudioOperationBarrier so
// concurrent control calls serialize the same way a same-process caller
// would experience.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")
	op := chi.URLParam(r, "op")

	p := s.registry.Get(guildID)

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	var opErr error
	switch op {
	case "skip":
		opErr = p.Barrier.Run(ctx, "skip", p.Skip.SkipNext)
	case "prev":
		opErr = p.Barrier.Run(ctx, "prev", p.Skip.SkipPrev)
	case "skip_to":
		index, err := strconv.Atoi(r.URL.Query().Get("index"))
		if err != nil {
			writeError(w, &playback.Error{Code: playback.CodeInvalidIndex, GuildID: guildID, Op: "skip_to"})
			return
		}
		opErr = p.Barrier.Run(ctx, "skip_to", func(ctx context.Context) error {
			return p.Skip.SkipToIndex(ctx, index)
		})
	case "pause_toggle":
		opErr = p.Barrier.Run(ctx, "pause_toggle", p.Engine.TogglePauseResume)
	case "mixer_restart":
		opErr = p.Barrier.Run(ctx, "mixer_restart", p.Engine.RestartCurrentSong)
	case "shuffle":
		opErr = p.Barrier.Run(ctx, "shuffle", func(context.Context) error {
			return p.Session.ShuffleUpcoming()
		})
	default:
		http.Error(w, `{"error":"unknown control operation"}`, http.StatusNotFound)
		return
	}

	if opErr != nil {
		writeError(w, opErr)
		return
	}

	_ = s.cache.InvalidateSessionSummary(ctx, guildID)
	writeJSON(w, http.StatusOK, summaryFromSnapshot(p.Session.Snapshot()))
}

// handleDashboardWS serves GET /api/v1/guilds/{guildID}/dashboard/ws,
// upgrading the connection and handing it to the guild's broadcast hub.
func (s *Server) handleDashboardWS(w http.ResponseWriter, r *http.Request) {
	guildID := chi.URLParam(r, "guildID")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	hub := s.broadcast.HubFor(guildID)
	_ = hub.Serve(r.Context(), conn)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
