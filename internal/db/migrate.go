/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"github.com/duodeck/duodeck/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	return database.AutoMigrate(
		&models.User{},
		&models.APIKey{},
		&models.SessionRecord{},
		&models.ListenerStatTotals{},
	)
}

// SaveSessionRecord upserts a guild's derived session summary, keyed on
// GuildID. Called from the playback core's dashboard-refresh listener so the
// admin API has a cold-path read for guilds with no live in-memory session.
func SaveSessionRecord(database *gorm.DB, rec *models.SessionRecord) error {
	return database.Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
}

// GetSessionRecord reads a guild's last-persisted session summary, if any.
func GetSessionRecord(database *gorm.DB, guildID string) (*models.SessionRecord, bool) {
	var rec models.SessionRecord
	if err := database.First(&rec, "guild_id = ?", guildID).Error; err != nil {
		return nil, false
	}
	return &rec, true
}
