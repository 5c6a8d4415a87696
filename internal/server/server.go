/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires together configuration, persistence, caching, the
// event bus and its optional cross-process relay, the playback core, the
// dashboard broadcast hub, and the admin/control HTTP API into a single
// runnable process.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/duodeck/duodeck/internal/api"
	"github.com/duodeck/duodeck/internal/broadcast"
	"github.com/duodeck/duodeck/internal/cache"
	"github.com/duodeck/duodeck/internal/config"
	"github.com/duodeck/duodeck/internal/db"
	"github.com/duodeck/duodeck/internal/events"
	"github.com/duodeck/duodeck/internal/eventbus"
	"github.com/duodeck/duodeck/internal/models"
	"github.com/duodeck/duodeck/internal/playback"
	"github.com/duodeck/duodeck/internal/telemetry"
)

// Server owns every long-lived collaborator the process needs to run and
// shut down cleanly.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	db       *gorm.DB
	cache    *cache.Cache
	bus      *events.Bus
	natsBus  *eventbus.NATSBus
	registry *playback.SessionRegistry
	bcast    *broadcast.Server
	tracer   *telemetry.TracerProvider

	httpServer    *http.Server
	metricsServer *http.Server
}

// relayEventTypes lists the events worth paying cross-process fan-out cost
// for: everything a dashboard client or another instance's cache needs to
// observe promptly. High-frequency internal bookkeeping events stay local.
var relayEventTypes = []events.EventType{
	events.EventDashboardRefresh,
	events.EventSongStarted,
	events.EventSongCompleted,
	events.EventSkipCompleted,
	events.EventQueueFinished,
	events.EventSessionCreated,
	events.EventSessionRemoved,
	events.EventMixerCrashed,
	events.EventMixerRecovered,
}

// New builds a Server from process configuration. It connects to the
// database and (best-effort) to Redis and NATS, but never fails startup
// because an optional collaborator is unreachable — both cache and event
// relay degrade to local-only behavior per their own circuit breakers.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	s := &Server{cfg: cfg, logger: logger}

	tracer, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:  "duodeck",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.TracingEnabled,
		SampleRate:   cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	s.tracer = tracer

	database, err := db.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	s.db = database

	c, err := cache.New(cache.Config{
		RedisAddr:         cfg.RedisAddr,
		RedisPassword:     cfg.RedisPassword,
		RedisDB:           cfg.RedisDB,
		SessionSummaryTTL: cache.DefaultSessionSummaryTTL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	s.cache = c

	bus := events.NewBus()
	s.bus = bus

	if cfg.NATSURL != "" {
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsBus, err := eventbus.NewNATSBus(natsCfg, cfg.InstanceID, logger)
		if err != nil {
			return nil, fmt.Errorf("init nats relay: %w", err)
		}
		eventbus.Bridge(bus, natsBus, relayEventTypes)
		s.natsBus = natsBus
	}

	store := playback.NewQueueStore(cfg.QueueBackupPath)
	stats := playback.NewStatsTracker(cfg.StatsPath)
	tun := playback.TunablesFromConfig(cfg)
	s.registry = playback.NewSessionRegistry(store, stats, bus, tun, cfg.MixerBin, cfg.MixerArgs, logger)

	s.bcast = broadcast.NewServer(bus, logger)

	s.watchDashboardRefresh(bus)

	handler := api.New(s.registry, s.cache, s.db, s.bcast, []byte(cfg.JWTSigningKey), logger)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		s.metricsServer = &http.Server{Addr: cfg.MetricsBind, Handler: mux}
	}

	return s, nil
}

// watchDashboardRefresh subscribes the cache and the database to every
// committed mutation of every guild's session, so transitions triggered
// internally (auto-skip, crash recovery) invalidate stale reads the same way
// an HTTP-originated control call already does.
func (s *Server) watchDashboardRefresh(bus *events.Bus) {
	sub := bus.Subscribe(events.EventDashboardRefresh)
	go func() {
		for payload := range sub {
			guildID, _ := payload["guild"].(string)
			if guildID == "" {
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = s.cache.InvalidateSessionSummary(ctx, guildID)

			if p, ok := s.registry.Lookup(guildID); ok {
				snap := p.Session.Snapshot()
				rec := &models.SessionRecord{
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
					rec.CurrentTrackTitle = snap.Songs[snap.PlayIndex].Title
					rec.CurrentTrackURL = snap.Songs[snap.PlayIndex].URL
				}
				if err := db.SaveSessionRecord(s.db, rec); err != nil {
					s.logger.Warn().Err(err).Str("guild", guildID).Msg("persisting session record")
				}
			}
			cancel()
		}
	}()
}

// HTTPServer returns the admin/control API's HTTP server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer returns the standalone Prometheus exposition server, or nil
// when metrics are served on the same bind as the control API.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Registry exposes the session registry for collaborators outside the HTTP
// path, such as a voice-gateway frontend that creates sessions on join.
func (s *Server) Registry() *playback.SessionRegistry {
	return s.registry
}

// Close releases every collaborator in reverse dependency order.
func (s *Server) Close() error {
	for _, guildID := range s.registry.GuildIDs() {
		s.registry.Remove(guildID)
	}

	if s.natsBus != nil {
		if err := s.natsBus.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("closing nats relay")
		}
	}

	if err := s.cache.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("closing cache")
	}

	if err := db.Close(s.db); err != nil {
		s.logger.Warn().Err(err).Msg("closing database")
	}

	if s.tracer != nil {
		if err := s.tracer.Shutdown(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("shutting down tracer")
		}
	}

	return nil
}
