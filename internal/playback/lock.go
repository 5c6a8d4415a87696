/*
Copyright (C) 2026 Duodeck Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import (
	"sync"
	"time"
)

// versionEntry records one committed mutation for debugging/observability.
type versionEntry struct {
	Version int
	Tag     string
	At      time.Time
	Details map[string]any
}

const maxVersionHistory = 50

// stateVersion is a monotonic counter with a short rolling history, guarding
// every committed mutation of a Session.
type stateVersion struct {
	mu      sync.Mutex
	current int
	history []versionEntry
}

func (v *stateVersion) Bump(tag string, details map[string]any) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.current++
	entry := versionEntry{Version: v.current, Tag: tag, At: time.Now(), Details: details}
	v.history = append(v.history, entry)
	if len(v.history) > maxVersionHistory {
		v.history = v.history[len(v.history)-maxVersionHistory:]
	}
	return v.current
}

// undoLast reverts the most recent Bump, for callers that commit a version
// bump optimistically and must roll it back when the accompanying mutation
// fails to persist.
func (v *stateVersion) undoLast() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current > 0 {
		v.current--
	}
	if len(v.history) > 0 {
		v.history = v.history[:len(v.history)-1]
	}
}

func (v *stateVersion) Current() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

func (v *stateVersion) History() []versionEntry {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]versionEntry, len(v.history))
	copy(out, v.history)
	return out
}

// lockHandle is returned by lockTable.Acquire and must be released exactly once.
type lockHandle struct {
	table *lockTable
	name  string
}

func (h *lockHandle) Release() {
	h.table.release(h.name)
}

// lockTable implements named exclusive locks with a hard expiry, so a holder
// that never calls Release (e.g. a goroutine that panics) cannot wedge a
// session forever.
type lockTable struct {
	mu     sync.Mutex
	active map[string]time.Time // name -> expires-at
	cond   *sync.Cond
}

func newLockTable() *lockTable {
	t := &lockTable{active: make(map[string]time.Time)}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Acquire blocks until the named lock is free or timeout elapses.
func (t *lockTable) Acquire(name string, ttl, timeout time.Duration) (*lockHandle, bool) {
	deadline := time.Now().Add(timeout)
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		t.reapLocked()
		if _, held := t.active[name]; !held {
			t.active[name] = time.Now().Add(ttl)
			return &lockHandle{table: t, name: name}, true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		waitDone := make(chan struct{})
		timer := time.AfterFunc(remaining, func() {
			t.cond.Broadcast()
			close(waitDone)
		})
		t.cond.Wait()
		timer.Stop()
		select {
		case <-waitDone:
		default:
		}
		if time.Now().After(deadline) {
			t.reapLocked()
			if _, held := t.active[name]; !held {
				t.active[name] = time.Now().Add(ttl)
				return &lockHandle{table: t, name: name}, true
			}
			return nil, false
		}
	}
}

// HasActive reports whether the named lock is currently held (and unexpired).
func (t *lockTable) HasActive(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reapLocked()
	_, held := t.active[name]
	return held
}

func (t *lockTable) release(name string) {
	t.mu.Lock()
	delete(t.active, name)
	t.mu.Unlock()
	t.cond.Broadcast()
}

// reapLocked drops any lock past its hard expiry. Caller holds t.mu.
func (t *lockTable) reapLocked() {
	now := time.Now()
	for name, expiry := range t.active {
		if now.After(expiry) {
			delete(t.active, name)
		}
	}
}
