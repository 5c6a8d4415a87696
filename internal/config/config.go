/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DatabaseBackend selects the gorm dialector used for the session-summary store.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int

	DBBackend DatabaseBackend
	DBDSN     string

	JWTSigningKey string
	MetricsBind   string

	// Mixer sidecar
	MixerBin          string
	MixerArgs         []string
	MixerRestartCooldown time.Duration
	MixerCrashCapAttempts int

	// Playback timing, all overridable for testing.
	CrossfadeMS       int
	CrossfadeBufferMS int
	PreloadDelayMS    int
	SkipThrottleMS    int
	BarrierTimeoutMS  int
	BarrierThrottleMS int
	CommandTimeoutMS  int
	BufferWaitMS      int
	MinSongPlayMS     int
	DisconnectTimeoutMS int
	MaxQueueSize      int

	// Persistence paths for the literal JSON backups (§6).
	QueueBackupPath string
	StatsPath       string

	// Tracing
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Cache / multi-instance
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	InstanceID    string
	NATSURL       string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"DUODECK_ENV", "RLM_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"DUODECK_HTTP_BIND", "RLM_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"DUODECK_HTTP_PORT", "RLM_HTTP_PORT"}, 8080),

		DBBackend: DatabaseBackend(getEnvAny([]string{"DUODECK_DB_BACKEND", "RLM_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:     getEnvAny([]string{"DUODECK_DB_DSN", "RLM_DB_DSN"}, "duodeck.db"),

		JWTSigningKey: getEnvAny([]string{"DUODECK_JWT_SIGNING_KEY", "RLM_JWT_SIGNING_KEY"}, ""),
		MetricsBind:   getEnvAny([]string{"DUODECK_METRICS_BIND", "RLM_METRICS_BIND"}, "127.0.0.1:9000"),

		MixerBin:              getEnvAny([]string{"DUODECK_MIXER_BIN", "RLM_MIXER_BIN"}, "duodeck-mixer"),
		MixerRestartCooldown:  time.Duration(getEnvIntAny([]string{"DUODECK_MIXER_RESTART_COOLDOWN_MS"}, 5000)) * time.Millisecond,
		MixerCrashCapAttempts: getEnvIntAny([]string{"DUODECK_MIXER_CRASH_CAP_ATTEMPTS"}, 2),

		CrossfadeMS:         getEnvIntAny([]string{"DUODECK_CROSSFADE_MS"}, 6000),
		CrossfadeBufferMS:   getEnvIntAny([]string{"DUODECK_CROSSFADE_BUFFER_MS"}, 3000),
		PreloadDelayMS:      getEnvIntAny([]string{"DUODECK_PRELOAD_DELAY_MS"}, 5000),
		SkipThrottleMS:      getEnvIntAny([]string{"DUODECK_SKIP_THROTTLE_MS"}, 250),
		BarrierTimeoutMS:    getEnvIntAny([]string{"DUODECK_BARRIER_TIMEOUT_MS"}, 15000),
		BarrierThrottleMS:   getEnvIntAny([]string{"DUODECK_BARRIER_MIN_THROTTLE_MS"}, 2000),
		CommandTimeoutMS:    getEnvIntAny([]string{"DUODECK_CMD_TIMEOUT_MS"}, 10000),
		BufferWaitMS:        getEnvIntAny([]string{"DUODECK_BUFFER_WAIT_MS"}, 8000),
		MinSongPlayMS:       getEnvIntAny([]string{"DUODECK_MIN_SONG_PLAY_MS"}, 30000),
		DisconnectTimeoutMS: getEnvIntAny([]string{"DUODECK_DISCONNECT_TIMEOUT_MS"}, 60000),
		MaxQueueSize:        getEnvIntAny([]string{"DUODECK_MAX_QUEUE_SIZE"}, 1000),

		QueueBackupPath: getEnvAny([]string{"DUODECK_QUEUE_BACKUP_PATH"}, "./data/queues.json"),
		StatsPath:       getEnvAny([]string{"DUODECK_STATS_PATH"}, "./data/stats.json"),

		TracingEnabled:    getEnvBoolAny([]string{"DUODECK_TRACING_ENABLED", "RLM_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"DUODECK_OTLP_ENDPOINT", "RLM_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"DUODECK_TRACING_SAMPLE_RATE", "RLM_TRACING_SAMPLE_RATE"}, 1.0),

		RedisAddr:     getEnvAny([]string{"DUODECK_REDIS_ADDR", "RLM_REDIS_ADDR"}, ""),
		RedisPassword: getEnvAny([]string{"DUODECK_REDIS_PASSWORD", "RLM_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"DUODECK_REDIS_DB", "RLM_REDIS_DB"}, 0),
		InstanceID:    getEnvAny([]string{"DUODECK_INSTANCE_ID", "RLM_INSTANCE_ID"}, ""),
		NATSURL:       getEnvAny([]string{"DUODECK_NATS_URL"}, ""),
	}

	if mixerArgs := getEnvAny([]string{"DUODECK_MIXER_ARGS"}, ""); mixerArgs != "" {
		cfg.MixerArgs = strings.Fields(mixerArgs)
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.JWTSigningKey == "" && strings.EqualFold(cfg.Environment, "production") {
		return nil, fmt.Errorf("DUODECK_JWT_SIGNING_KEY or RLM_JWT_SIGNING_KEY must be provided in production")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":         "use DUODECK_ENV (or RLM_ENV)",
		"JWT_SIGNING_KEY":     "use DUODECK_JWT_SIGNING_KEY (or RLM_JWT_SIGNING_KEY)",
		"TRACING_ENABLED":     "use DUODECK_TRACING_ENABLED (or RLM_TRACING_ENABLED)",
		"OTLP_ENDPOINT":       "use DUODECK_OTLP_ENDPOINT (or RLM_OTLP_ENDPOINT)",
		"TRACING_SAMPLE_RATE": "use DUODECK_TRACING_SAMPLE_RATE (or RLM_TRACING_SAMPLE_RATE)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func (c *Config) CrossfadeDuration() time.Duration {
	return time.Duration(c.CrossfadeMS) * time.Millisecond
}

func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
