/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP / control-API metrics.
var (
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duodeck_api_active_connections",
		Help: "Number of in-flight HTTP requests against the control API.",
	})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "duodeck_api_request_duration_seconds",
		Help:    "Control API request latency by method, route and status code.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duodeck_api_requests_total",
		Help: "Total control API requests by method, route and status code.",
	}, []string{"method", "route", "status"})
)

// Database metrics.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "duodeck_database_query_duration_seconds",
		Help:    "GORM query latency by operation and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duodeck_database_errors_total",
		Help: "Total GORM operation errors by operation and kind.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duodeck_database_connections_active",
		Help: "Open connections in the database connection pool.",
	})
)

// Playback core metrics — one guild's mixer sidecar, skip state machine and
// command queue all report through these.
var (
	MixerSpawnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duodeck_mixer_spawns_total",
		Help: "Total mixer sidecar process spawns across all guilds.",
	})

	MixerCrashesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duodeck_mixer_crashes_total",
		Help: "Total mixer sidecar crashes by reason.",
	}, []string{"reason"})

	MixerCrashRecoveryAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duodeck_mixer_crash_recovery_attempts_total",
		Help: "Total automatic mixer restart attempts following a crash.",
	})

	SkipOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duodeck_skip_operations_total",
		Help: "Total skip/next/prev transitions by reason and outcome.",
	}, []string{"reason", "outcome"})

	CommandQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duodeck_command_queue_depth",
		Help: "Number of mixer commands currently pending across all guilds.",
	})

	ActiveGuildSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duodeck_active_guild_sessions",
		Help: "Number of guild sessions currently held in the registry.",
	})

	DashboardWebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duodeck_dashboard_websocket_clients",
		Help: "Number of connected dashboard-refresh websocket clients.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
