/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import "time"

// Deck identifies one of the two mutually exclusive playback slots the mixer
// sidecar exposes.
type Deck string

const (
	DeckA Deck = "A"
	DeckB Deck = "B"
)

// Other returns the complementary deck.
func (d Deck) Other() Deck {
	if d == DeckA {
		return DeckB
	}
	return DeckA
}

// Song is a resolved, queueable track. Identity equality prefers ResolverKey
// (e.g. an extracted video id) when present, falling back to exact URL match.
type Song struct {
	Title       string        `json:"title"`
	URL         string        `json:"url"`
	Thumbnail   string        `json:"thumbnail,omitempty"`
	ResolverKey string        `json:"resolverKey,omitempty"`
	IsLive      bool          `json:"isLive"`
	Duration    time.Duration `json:"duration"`
	RequesterID string        `json:"requesterId"`
}

// SameTrack reports whether two songs refer to the same underlying media.
func (s Song) SameTrack(other Song) bool {
	if s.ResolverKey != "" && other.ResolverKey != "" {
		return s.ResolverKey == other.ResolverKey
	}
	return s.URL == other.URL
}
