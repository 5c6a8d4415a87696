package playback

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newEchoMixer(t *testing.T) *MixerController {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh unavailable")
	}
	m := NewMixerController("sh", []string{"-c", "cat >/dev/null"}, 0, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	t.Cleanup(func() { m.Stop() })
	return m
}

func TestCommandQueue_SubmitSucceeds(t *testing.T) {
	m := newEchoMixer(t)
	q := NewCommandQueue(m)
	defer q.Close()

	err := q.Submit(context.Background(), &Command{GuildID: "g1", Timeout: time.Second, Op: MixerOp{Op: "play", Deck: "A"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stats := q.Stats()
	if stats.Submitted != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestCommandQueue_PriorityJumpsPendingNotExecuting(t *testing.T) {
	m := newEchoMixer(t)
	// Built without its worker goroutine so nothing drains pending and the
	// order Submit leaves behind can be observed deterministically.
	q := &CommandQueue{mixer: m, notify: make(chan struct{}, 1), done: make(chan struct{})}
	defer q.Close()

	order := make(chan string, 3)
	// Fill the pending queue directly to observe ordering deterministically.
	q.mu.Lock()
	q.pending = []*Command{
		{GuildID: "g1", Timeout: time.Second, result: make(chan error, 1), Op: MixerOp{Op: "normal-1"}},
		{GuildID: "g1", Timeout: time.Second, result: make(chan error, 1), Op: MixerOp{Op: "normal-2"}},
	}
	q.mu.Unlock()

	high := &Command{GuildID: "g1", Priority: PriorityHigh, Timeout: time.Second, Op: MixerOp{Op: "high"}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_ = q.Submit(ctx, high) // returns when ctx expires; high stays pending

	q.mu.Lock()
	got := make([]string, len(q.pending))
	for i, c := range q.pending {
		got[i] = c.Op.Op
	}
	q.mu.Unlock()

	if got[0] != "high" {
		t.Fatalf("expected high-priority command first, got %v", got)
	}
	close(order)
}

func TestCommandQueue_RejectsOnDeadMixer(t *testing.T) {
	m := newTestMixer(t)
	q := NewCommandQueue(m)
	defer q.Close()

	err := q.Submit(context.Background(), &Command{GuildID: "g1", Timeout: time.Second, Op: MixerOp{Op: "play"}})
	perr, ok := err.(*Error)
	if !ok || perr.Code != CodeMixerDead {
		t.Fatalf("expected CodeMixerDead, got %v", err)
	}
}

func TestCommandQueue_SubmitAfterCloseRejected(t *testing.T) {
	m := newEchoMixer(t)
	q := NewCommandQueue(m)

	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	err := q.Submit(context.Background(), &Command{GuildID: "g1", Timeout: time.Second, Op: MixerOp{Op: "play"}})
	perr, ok := err.(*Error)
	if !ok || perr.Code != CodeGuildGone {
		t.Fatalf("expected CodeGuildGone, got %v", err)
	}
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
	q.Close()
}
