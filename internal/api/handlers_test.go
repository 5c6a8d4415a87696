/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"testing"

	"github.com/duodeck/duodeck/internal/models"
	"github.com/duodeck/duodeck/internal/playback"
)

func TestSummaryFromSnapshot_DerivesCurrentTrackFromPlayIndex(t *testing.T) {
	snap := playback.Snapshot{
		GuildID:   "g1",
		Songs:     []playback.Song{{Title: "one", URL: "u1"}, {Title: "two", URL: "u2"}},
		PlayIndex: 1,
		Version:   3,
	}
	resp := summaryFromSnapshot(snap)
	if resp.CurrentTrackTitle != "two" || resp.CurrentTrackURL != "u2" {
		t.Errorf("got title=%q url=%q, want two/u2", resp.CurrentTrackTitle, resp.CurrentTrackURL)
	}
	if resp.QueueLength != 2 {
		t.Errorf("queue length = %d, want 2", resp.QueueLength)
	}
}

func TestSummaryFromSnapshot_OutOfRangePlayIndexLeavesTrackEmpty(t *testing.T) {
	snap := playback.Snapshot{GuildID: "g1", Songs: nil, PlayIndex: 0}
	resp := summaryFromSnapshot(snap)
	if resp.CurrentTrackTitle != "" || resp.CurrentTrackURL != "" {
		t.Errorf("expected empty track fields for empty queue, got title=%q url=%q", resp.CurrentTrackTitle, resp.CurrentTrackURL)
	}
}

func TestCacheSummaryRoundTrip(t *testing.T) {
	snap := playback.Snapshot{
		GuildID:       "g1",
		Songs:         []playback.Song{{Title: "one", URL: "u1"}},
		PlayIndex:     0,
		Version:       7,
		IsPaused:      true,
		SongsStarted:  4,
	}
	resp := summaryFromSnapshot(snap)
	cached := toCacheSummary(resp)
	roundTripped := summaryFromCache(cached)

	if roundTripped.GuildID != resp.GuildID || roundTripped.Version != resp.Version {
		t.Errorf("round trip mismatch: got %+v, want guild/version from %+v", roundTripped, resp)
	}
	if !roundTripped.FromCache {
		t.Error("expected FromCache to be true for a cache-sourced summary")
	}
}

func TestSummaryFromRecord_MapsFieldsAndMarksFromCache(t *testing.T) {
	rec := &models.SessionRecord{
		GuildID:           "g1",
		Version:           5,
		QueueLength:       3,
		PlayIndex:         1,
		CurrentDeck:       "B",
		CurrentTrackTitle: "two",
		CurrentTrackURL:   "u2",
		SongsStarted:      2,
		SongsCompleted:    1,
	}
	resp := summaryFromRecord(rec)
	if resp.GuildID != rec.GuildID || resp.Version != rec.Version || resp.CurrentTrackTitle != rec.CurrentTrackTitle {
		t.Errorf("field mismatch: got %+v, want fields from %+v", resp, rec)
	}
	if !resp.FromCache {
		t.Error("expected FromCache to be true for a database-sourced summary")
	}
}
