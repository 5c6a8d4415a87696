/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"context"
	"sync"
	"time"
)

// AudioOperationBarrier serializes user-visible audio intents (skip, prev,
// pause toggle, shuffle, ...) for one session. At most one operation executes
// at a time; operations that arrive while another is executing wait in a
// strict FIFO queue rather than being rejected. A minimum throttle between
// completions still rejects bursts synchronously, independent of the queue.
type AudioOperationBarrier struct {
	guildID     string
	minThrottle time.Duration
	opTimeout   time.Duration

	mu             sync.Mutex
	executing      bool
	lastCompletion time.Time
	waiters        []chan struct{}
}

// NewAudioOperationBarrier constructs a barrier with the given policy.
func NewAudioOperationBarrier(guildID string, minThrottle, opTimeout time.Duration) *AudioOperationBarrier {
	return &AudioOperationBarrier{guildID: guildID, minThrottle: minThrottle, opTimeout: opTimeout}
}

// Run admits op under the barrier's serialization and throttle policy. If
// another operation is executing, Run blocks until it is this call's turn in
// FIFO order, or ctx is done first. Returns CodeThrottled synchronously for
// bursts, CodeOperationTimeout if ctx is done (whether waiting in the queue
// or running fn past the barrier's timeout), or fn's own error/result
// otherwise.
func (b *AudioOperationBarrier) Run(ctx context.Context, opName string, fn func(context.Context) error) error {
	if err := b.acquire(ctx, opName); err != nil {
		return err
	}

	defer func() {
		b.mu.Lock()
		b.lastCompletion = time.Now()
		b.advanceLocked()
		b.mu.Unlock()
	}()

	opCtx, cancel := context.WithTimeout(ctx, b.opTimeout)
	defer cancel()

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- fn(opCtx)
	}()

	select {
	case err := <-resultCh:
		return err
	case <-opCtx.Done():
		return newErr(CodeOperationTimeout, b.guildID, opName, opCtx.Err())
	}
}

// acquire blocks until the caller owns the execution slot, enqueuing FIFO
// behind any operation already executing or already waiting.
func (b *AudioOperationBarrier) acquire(ctx context.Context, opName string) error {
	b.mu.Lock()
	if !b.executing && len(b.waiters) == 0 {
		if throttled := b.throttledLocked(); throttled {
			b.mu.Unlock()
			return newErr(CodeThrottled, b.guildID, opName, nil)
		}
		b.executing = true
		b.mu.Unlock()
		return nil
	}

	ticket := make(chan struct{})
	b.waiters = append(b.waiters, ticket)
	b.mu.Unlock()

	select {
	case <-ticket:
		return nil
	case <-ctx.Done():
		if !b.dropWaiter(ticket) {
			// Lost the race: advanceLocked already granted us the slot.
			// Hand it straight to the next waiter instead of stranding it.
			b.mu.Lock()
			b.advanceLocked()
			b.mu.Unlock()
		}
		return newErr(CodeOperationTimeout, b.guildID, opName, ctx.Err())
	}
}

// throttledLocked reports whether the minimum throttle since the last
// completion has not yet elapsed. Caller holds b.mu.
func (b *AudioOperationBarrier) throttledLocked() bool {
	return !b.lastCompletion.IsZero() && time.Since(b.lastCompletion) < b.minThrottle
}

// advanceLocked hands the execution slot to the next FIFO waiter, if any.
// Caller holds b.mu.
func (b *AudioOperationBarrier) advanceLocked() {
	if len(b.waiters) == 0 {
		b.executing = false
		return
	}
	next := b.waiters[0]
	b.waiters = b.waiters[1:]
	close(next)
}

// dropWaiter removes a ticket from the queue after its caller gave up
// waiting (context canceled). Reports false if the ticket had already been
// granted (removed and closed by advanceLocked) before the drop could land.
func (b *AudioOperationBarrier) dropWaiter(ticket chan struct{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.waiters {
		if w == ticket {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return true
		}
	}
	return false
}
