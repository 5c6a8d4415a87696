/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"time"

	"github.com/duodeck/duodeck/internal/config"
)

// Tunables collects every timing constant §6 of the design defines, derived
// from process configuration so tests can override them independently.
type Tunables struct {
	Crossfade       time.Duration
	CrossfadeBuffer time.Duration
	PreloadDelay    time.Duration
	SkipThrottle    time.Duration
	BarrierTimeout  time.Duration
	BarrierThrottle time.Duration
	CommandTimeout  time.Duration
	BufferWait      time.Duration
	MinSongPlay     time.Duration
	Disconnect      time.Duration
	MaxQueueSize    int

	MixerRestartCooldown  time.Duration
	MixerCrashCapAttempts int

	BufferPollInterval time.Duration
}

// DefaultTunables mirrors the specification's default constants.
func DefaultTunables() Tunables {
	return Tunables{
		Crossfade:             6000 * time.Millisecond,
		CrossfadeBuffer:       3000 * time.Millisecond,
		PreloadDelay:          5000 * time.Millisecond,
		SkipThrottle:          250 * time.Millisecond,
		BarrierTimeout:        15000 * time.Millisecond,
		BarrierThrottle:       2000 * time.Millisecond,
		CommandTimeout:        10000 * time.Millisecond,
		BufferWait:            8000 * time.Millisecond,
		MinSongPlay:           30000 * time.Millisecond,
		Disconnect:            60000 * time.Millisecond,
		MaxQueueSize:          1000,
		MixerRestartCooldown:  5000 * time.Millisecond,
		MixerCrashCapAttempts: 2,
		BufferPollInterval:    50 * time.Millisecond,
	}
}

// TunablesFromConfig maps process configuration onto Tunables.
func TunablesFromConfig(cfg *config.Config) Tunables {
	t := DefaultTunables()
	if cfg == nil {
		return t
	}
	t.Crossfade = time.Duration(cfg.CrossfadeMS) * time.Millisecond
	t.CrossfadeBuffer = time.Duration(cfg.CrossfadeBufferMS) * time.Millisecond
	t.PreloadDelay = time.Duration(cfg.PreloadDelayMS) * time.Millisecond
	t.SkipThrottle = time.Duration(cfg.SkipThrottleMS) * time.Millisecond
	t.BarrierTimeout = time.Duration(cfg.BarrierTimeoutMS) * time.Millisecond
	t.BarrierThrottle = time.Duration(cfg.BarrierThrottleMS) * time.Millisecond
	t.CommandTimeout = time.Duration(cfg.CommandTimeoutMS) * time.Millisecond
	t.BufferWait = time.Duration(cfg.BufferWaitMS) * time.Millisecond
	t.MinSongPlay = time.Duration(cfg.MinSongPlayMS) * time.Millisecond
	t.Disconnect = time.Duration(cfg.DisconnectTimeoutMS) * time.Millisecond
	t.MaxQueueSize = cfg.MaxQueueSize
	t.MixerRestartCooldown = cfg.MixerRestartCooldown
	t.MixerCrashCapAttempts = cfg.MixerCrashCapAttempts
	return t
}
