/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based read accelerator for the admin API.
// It is never authoritative — the in-memory playback Session always is —
// and every entry is invalidated on the next version bump for that guild.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultSessionSummaryTTL bounds how stale a cached summary may be before a
// fresh read falls through to the in-memory Session regardless.
const DefaultSessionSummaryTTL = 5 * time.Second

// KeySessionSummary is the key prefix for a cached guild session summary.
const KeySessionSummary = "duodeck:cache:session:" // + guild id

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SessionSummaryTTL time.Duration

	// DisableOnError disables caching for the process lifetime after the
	// first Redis error, rather than retrying every call.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:         "localhost:6379",
		SessionSummaryTTL: DefaultSessionSummaryTTL,
		DisableOnError:    true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New creates a new cache instance. If Redis is unreachable, the cache
// reports itself unavailable rather than failing startup.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis cache unavailable, running without caching")
		return &Cache{
			logger:   logger.With().Str("component", "cache").Logger(),
			config:   cfg,
			disabled: true,
		}, nil
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("redis cache initialized")

	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
	}, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || err == redis.Nil {
		return
	}

	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.IsAvailable() {
		return false, nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		c.handleError(err, "get")
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false, nil
	}

	return true, nil
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}

	return nil
}

func (c *Cache) delete(ctx context.Context, key string) error {
	if !c.IsAvailable() {
		return nil
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}

	return nil
}

// SessionSummary is the cached shape of a guild's playback session, mirroring
// models.SessionRecord. It exists purely to spare the admin API a lock
// acquisition on the live Session for read-mostly dashboard polling.
type SessionSummary struct {
	GuildID           string    `json:"guild_id"`
	Version           int       `json:"version"`
	QueueLength       int       `json:"queue_length"`
	PlayIndex         int       `json:"play_index"`
	CurrentDeck       string    `json:"current_deck"`
	CurrentTrackTitle string    `json:"current_track_title"`
	CurrentTrackURL   string    `json:"current_track_url"`
	IsPaused          bool      `json:"is_paused"`
	LoopEnabled       bool      `json:"loop_enabled"`
	FadeEnabled       bool      `json:"fade_enabled"`
	IsCrossfading     bool      `json:"is_crossfading"`
	SongsStarted      int       `json:"songs_started"`
	SongsCompleted    int       `json:"songs_completed"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// GetSessionSummary retrieves a cached session summary for guildID.
func (c *Cache) GetSessionSummary(ctx context.Context, guildID string) (*SessionSummary, bool) {
	var summary SessionSummary
	found, err := c.get(ctx, KeySessionSummary+guildID, &summary)
	if err != nil || !found {
		return nil, false
	}
	c.logger.Debug().Str("guild_id", guildID).Msg("session summary cache hit")
	return &summary, true
}

// SetSessionSummary caches a guild's session summary.
func (c *Cache) SetSessionSummary(ctx context.Context, summary *SessionSummary) error {
	ttl := c.config.SessionSummaryTTL
	if ttl <= 0 {
		ttl = DefaultSessionSummaryTTL
	}
	return c.set(ctx, KeySessionSummary+summary.GuildID, summary, ttl)
}

// InvalidateSessionSummary removes a guild's cached session summary — called
// on every version bump, since the cache is a pure accelerator and must never
// outlive the state it mirrors.
func (c *Cache) InvalidateSessionSummary(ctx context.Context, guildID string) error {
	return c.delete(ctx, KeySessionSummary+guildID)
}

// FlushAll clears every cached entry. Intended for test teardown and manual
// ops intervention, not routine use.
func (c *Cache) FlushAll(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}
	return c.client.FlushDB(ctx).Err()
}
