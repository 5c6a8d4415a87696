/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package broadcast fans out dashboard-refresh events to connected WebSocket
// clients, one hub per guild.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/duodeck/duodeck/internal/events"
	"github.com/duodeck/duodeck/internal/telemetry"
)

// client is a single connected dashboard websocket.
type client struct {
	ch     chan events.Payload
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

// Hub fans out one guild's dashboard-refresh events to every connected
// websocket client for that guild.
type Hub struct {
	guildID string
	logger  zerolog.Logger
	bus     *events.Bus

	mu      sync.RWMutex
	clients map[*client]struct{}

	sub      events.Subscriber
	stopOnce sync.Once
	stop     chan struct{}
}

// NewHub creates a hub subscribed to dashboard-refresh events for guildID.
func NewHub(guildID string, bus *events.Bus, logger zerolog.Logger) *Hub {
	h := &Hub{
		guildID: guildID,
		logger:  logger.With().Str("component", "dashboard-hub").Str("guild_id", guildID).Logger(),
		bus:     bus,
		clients: make(map[*client]struct{}),
		sub:     bus.Subscribe(events.EventDashboardRefresh),
		stop:    make(chan struct{}),
	}
	go h.pump()
	return h
}

// pump reads dashboard-refresh events off the bus and fans them to clients
// whose payload matches this hub's guild.
func (h *Hub) pump() {
	for {
		select {
		case <-h.stop:
			return
		case payload, ok := <-h.sub:
			if !ok {
				return
			}
			if guildID, _ := payload["guild"].(string); guildID != h.guildID {
				continue
			}
			h.broadcast(payload)
		}
	}
}

func (h *Hub) broadcast(payload events.Payload) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		c.mu.Lock()
		if !c.closed {
			select {
			case c.ch <- payload:
			default:
				h.logger.Warn().Msg("client channel full, dropping dashboard refresh")
			}
		}
		c.mu.Unlock()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the connection to a websocket and streams dashboard-refresh
// events to it until the client disconnects or the request context ends.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn) error {
	c := &client{
		ch:   make(chan events.Payload, 16),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	telemetry.DashboardWebsocketClients.Inc()

	h.logger.Info().Int("clients", count).Msg("dashboard client connected")

	defer func() {
		c.mu.Lock()
		c.closed = true
		close(c.done)
		c.mu.Unlock()

		h.mu.Lock()
		delete(h.clients, c)
		count := len(h.clients)
		h.mu.Unlock()
		telemetry.DashboardWebsocketClients.Dec()

		h.logger.Info().Int("clients", count).Msg("dashboard client disconnected")
	}()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-c.ch:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, payload)
			cancel()
			if err != nil {
				return err
			}
		case <-keepalive.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// Close stops the hub's event pump and disconnects all clients.
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.bus.Unsubscribe(events.EventDashboardRefresh, h.sub)
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.mu.Lock()
		if !c.closed {
			c.closed = true
			close(c.done)
		}
		c.mu.Unlock()
	}
	h.clients = make(map[*client]struct{})
}

// Server owns one Hub per guild, created lazily on first connection.
type Server struct {
	mu     sync.RWMutex
	hubs   map[string]*Hub
	bus    *events.Bus
	logger zerolog.Logger
}

// NewServer creates a broadcast server rooted at bus.
func NewServer(bus *events.Bus, logger zerolog.Logger) *Server {
	return &Server{
		hubs:   make(map[string]*Hub),
		bus:    bus,
		logger: logger,
	}
}

// HubFor returns the hub for guildID, creating it if necessary.
func (s *Server) HubFor(guildID string) *Hub {
	s.mu.RLock()
	hub, ok := s.hubs[guildID]
	s.mu.RUnlock()
	if ok {
		return hub
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if hub, ok := s.hubs[guildID]; ok {
		return hub
	}
	hub = NewHub(guildID, s.bus, s.logger)
	s.hubs[guildID] = hub
	return hub
}

// RemoveHub closes and discards the hub for guildID.
func (s *Server) RemoveHub(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hub, ok := s.hubs[guildID]; ok {
		hub.Close()
		delete(s.hubs, guildID)
	}
}

// TotalClients returns the number of connected dashboard clients across all
// guilds.
func (s *Server) TotalClients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, hub := range s.hubs {
		total += hub.ClientCount()
	}
	return total
}
