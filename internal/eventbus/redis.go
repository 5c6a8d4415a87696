/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/duodeck/duodeck/internal/events"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	URL      string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          "redis://localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// channelPrefix namespaces Redis pub/sub channels from anything else sharing
// the Redis instance.
const channelPrefix = "duodeck.events."

// RedisBus is a Redis-backed event bus that lets multiple bot/control-API
// processes share dashboard-refresh and mixer-lifecycle events. Every
// Publish delivers locally via an in-memory fallback first, so same-process
// subscribers never pay a Redis round trip, and additionally relays through
// Redis PUBLISH/SUBSCRIBE for cross-process delivery.
type RedisBus struct {
	client   *redis.Client
	logger   zerolog.Logger
	fallback *events.Bus
	nodeID   string

	mu       sync.RWMutex
	subs     map[events.EventType][]events.Subscriber
	pubsubs  map[events.EventType]*redis.PubSub
	useLocal bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// redisMessage is the wire format published to Redis channels.
type redisMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

// NewRedisBus creates a Redis-backed event bus. If Redis is unreachable at
// startup it falls back to a purely in-memory bus and logs a warning rather
// than failing to start — a single-process deployment doesn't need Redis.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) (*RedisBus, error) {
	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With().Str("component", "redis-eventbus").Logger()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		opts = &redis.Options{Addr: cfg.URL}
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)

	pingCtx, pingCancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn().Err(err).Msg("redis unreachable, using in-memory event bus only")
		cancel()
		return &RedisBus{
			logger:   logger,
			fallback: events.NewBus(),
			nodeID:   nodeID,
			useLocal: true,
			subs:     make(map[events.EventType][]events.Subscriber),
			pubsubs:  make(map[events.EventType]*redis.PubSub),
			ctx:      context.Background(),
		}, nil
	}

	logger.Info().Str("node_id", nodeID).Msg("redis event bus connected")

	return &RedisBus{
		client:   client,
		logger:   logger,
		fallback: events.NewBus(),
		nodeID:   nodeID,
		subs:     make(map[events.EventType][]events.Subscriber),
		pubsubs:  make(map[events.EventType]*redis.PubSub),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Subscribe registers a subscriber for an event type, starting a Redis
// SUBSCRIBE goroutine for that channel the first time it's requested.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := rb.fallback.Subscribe(eventType)

	if rb.useLocal {
		return sub
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.subs[eventType] = append(rb.subs[eventType], sub)

	if _, exists := rb.pubsubs[eventType]; !exists {
		channel := channelPrefix + string(eventType)
		ps := rb.client.Subscribe(rb.ctx, channel)
		rb.pubsubs[eventType] = ps

		rb.wg.Add(1)
		go rb.receive(eventType, ps)
	}

	return sub
}

func (rb *RedisBus) receive(eventType events.EventType, ps *redis.PubSub) {
	defer rb.wg.Done()
	ch := ps.Channel()

	for {
		select {
		case <-rb.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var decoded redisMessage
			if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
				rb.logger.Error().Err(err).Msg("failed to decode redis event payload")
				continue
			}
			if decoded.NodeID == rb.nodeID {
				continue // published by this same process, already delivered locally
			}

			rb.mu.RLock()
			subs := append([]events.Subscriber(nil), rb.subs[eventType]...)
			rb.mu.RUnlock()

			for _, s := range subs {
				select {
				case s <- decoded.Payload:
				default:
					rb.logger.Warn().Str("event_type", string(eventType)).Msg("subscriber channel full, dropping relayed event")
				}
			}
		}
	}
}

// Publish delivers payload to local subscribers and relays it to Redis for
// other processes' subscribers.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.fallback.Publish(eventType, payload)

	if rb.useLocal {
		return
	}

	msg := redisMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    rb.nodeID,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		rb.logger.Error().Err(err).Msg("failed to marshal event for redis")
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()

	channel := channelPrefix + string(eventType)
	if err := rb.client.Publish(ctx, channel, data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to redis")
	}
}

// Unsubscribe removes a subscriber.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.fallback.Unsubscribe(eventType, sub)

	if rb.useLocal {
		return
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()
	subs := rb.subs[eventType]
	for i, s := range subs {
		if s == sub {
			rb.subs[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Close tears down all Redis subscriptions and the client connection.
func (rb *RedisBus) Close() error {
	if rb.useLocal {
		return nil
	}

	rb.cancel()

	rb.mu.Lock()
	for _, ps := range rb.pubsubs {
		_ = ps.Close()
	}
	rb.mu.Unlock()

	rb.wg.Wait()

	if rb.client != nil {
		return rb.client.Close()
	}
	return nil
}
