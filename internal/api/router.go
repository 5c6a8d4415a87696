/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api implements the chi-routed admin/control HTTP surface: guild
// session summaries, control operations proxied through each guild's
// AudioOperationBarrier, and the dashboard-refresh websocket upgrade.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/duodeck/duodeck/internal/auth"
	"github.com/duodeck/duodeck/internal/broadcast"
	"github.com/duodeck/duodeck/internal/cache"
	"github.com/duodeck/duodeck/internal/playback"
	"github.com/duodeck/duodeck/internal/telemetry"
)

// Server holds the collaborators the admin API reads from and proxies to.
// It owns no state of its own — the registry, cache, and database remain the
// sources of truth. The database is consulted only as the cold-path fallback
// for a guild with neither a cache entry nor a live in-memory session.
type Server struct {
	registry  *playback.SessionRegistry
	cache     *cache.Cache
	db        *gorm.DB
	broadcast *broadcast.Server
	logger    zerolog.Logger
}

// New constructs the admin/control API's HTTP handler.
func New(registry *playback.SessionRegistry, c *cache.Cache, database *gorm.DB, bc *broadcast.Server, jwtSecret []byte, logger zerolog.Logger) http.Handler {
	s := &Server{registry: registry, cache: c, db: database, broadcast: bc, logger: logger}

	r := chi.NewRouter()
	r.Use(telemetry.MetricsMiddleware)
	r.Use(telemetry.TracingMiddleware("duodeck-control-api"))

	r.Get("/metrics", telemetry.Handler().ServeHTTP)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api/v1/guilds/{guildID}", func(gr chi.Router) {
		gr.Use(auth.Middleware(jwtSecret))

		gr.Get("/session", s.handleGetSession)
		gr.Post("/control/{op}", s.handleControl)
		gr.Get("/dashboard/ws", s.handleDashboardWS)
	})

	return r
}
