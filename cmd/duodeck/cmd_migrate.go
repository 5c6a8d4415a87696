/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"github.com/spf13/cobra"

	"github.com/duodeck/duodeck/internal/config"
	"github.com/duodeck/duodeck/internal/db"
	"github.com/duodeck/duodeck/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.Environment)

	database, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(database); err != nil {
			logger.Warn().Err(err).Msg("closing database")
		}
	}()

	if err := db.Migrate(database); err != nil {
		return err
	}

	logger.Info().Str("backend", string(cfg.DBBackend)).Msg("migrations applied")
	return nil
}
