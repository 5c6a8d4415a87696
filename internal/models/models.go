/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// RoleName enumerates the RBAC roles attached to a platform account.
type RoleName string

const (
	RoleAdmin   RoleName = "admin"
	RoleManager RoleName = "manager"
	RoleViewer  RoleName = "viewer"
)

// User represents an admin/ops account authenticating against the control API.
// It is distinct from a Discord-side guild member, which the voice/membership
// collaborator owns entirely.
type User struct {
	ID           string   `gorm:"type:uuid;primaryKey"`
	Email        string   `gorm:"uniqueIndex"`
	Password     string
	Role         RoleName `gorm:"type:varchar(16)"`
	PlatformRole RoleName `gorm:"type:varchar(16)"` // mirrors Role; kept distinct for API-key-derived claims
	Suspended    bool     `gorm:"default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SessionRecord is a derived read model mirroring a guild's last-committed
// playback summary, written after every dashboard-refresh event. It exists
// for ops queries and to warm the admin API's cache path — the in-memory
// Session inside the playback core remains the source of truth.
type SessionRecord struct {
	GuildID           string `gorm:"type:varchar(32);primaryKey"`
	Version           int
	QueueLength       int
	PlayIndex         int
	CurrentDeck       string `gorm:"type:varchar(1)"`
	CurrentTrackTitle string
	CurrentTrackURL   string
	IsPaused          bool
	LoopEnabled       bool
	FadeEnabled       bool
	IsCrossfading     bool
	SongsStarted      int
	SongsCompleted    int
	UpdatedAt         time.Time
}

// ListenerStatTotals is a derived read model of one guild's cumulative
// listening statistics, periodically synced from the in-memory StatsTracker.
type ListenerStatTotals struct {
	GuildID              string `gorm:"type:varchar(32);primaryKey"`
	UserID               string `gorm:"type:varchar(32);primaryKey"`
	ListeningTimeMS      int64
	ServerPlaylistAdds   int
	PersonalPlaylistAdds int
	UpdatedAt            time.Time
}
