package playback

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/duodeck/duodeck/internal/events"
	"github.com/rs/zerolog"
)

func newTestPlayback(t *testing.T) *Playback {
	return newTestPlaybackWithThrottle(t, time.Millisecond)
}

func newTestPlaybackWithThrottle(t *testing.T, skipThrottle time.Duration) *Playback {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh unavailable")
	}
	dir := t.TempDir()
	store := NewQueueStore(filepath.Join(dir, "queues.json"))
	stats := NewStatsTracker(filepath.Join(dir, "stats.json"))
	bus := events.NewBus()
	tun := DefaultTunables()
	tun.SkipThrottle = skipThrottle
	tun.BufferWait = 500 * time.Millisecond
	tun.BufferPollInterval = 5 * time.Millisecond
	tun.CommandTimeout = time.Second

	p := newPlayback("g1", store, stats, bus, tun, "sh", []string{"-c", "cat >/dev/null"}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Mixer.Start(ctx); err != nil {
		t.Fatalf("mixer start failed: %v", err)
	}
	t.Cleanup(func() { p.Mixer.Stop() })
	return p
}

func TestSkipManager_ColdLoadFastPathOnBufferReady(t *testing.T) {
	p := newTestPlayback(t)
	songX := Song{Title: "X", URL: "http://x"}
	songY := Song{Title: "Y", URL: "http://y"}
	_ = p.Session.Enqueue(songX, songY)
	p.Session.mu.Lock()
	p.Session.currentDeckLoaded = songX.URL
	p.Session.mu.Unlock()

	// Mark the target deck ready concurrently with the cold load, emulating
	// the sidecar's buffer_ready event arriving mid-poll.
	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Session.mu.Lock()
		p.Session.bufferReady[DeckB] = true
		p.Session.mu.Unlock()
	}()

	if err := p.Skip.SkipNext(context.Background()); err != nil {
		t.Fatalf("unexpected skip error: %v", err)
	}

	snap := p.Session.Snapshot()
	if snap.PlayIndex != 1 {
		t.Fatalf("expected play index 1, got %d", snap.PlayIndex)
	}
	if snap.CurrentDeck != DeckB {
		t.Fatalf("expected current deck B, got %s", snap.CurrentDeck)
	}
	if snap.SongsStarted != 1 {
		t.Fatalf("expected songs_started=1, got %d", snap.SongsStarted)
	}
}

func TestSkipManager_FastPathWhenPreloaded(t *testing.T) {
	p := newTestPlayback(t)
	songX := Song{Title: "X", URL: "http://x"}
	songY := Song{Title: "Y", URL: "http://y"}
	_ = p.Session.Enqueue(songX, songY)

	p.Session.mu.Lock()
	p.Session.currentDeckLoaded = songX.URL
	p.Session.nextDeckLoaded = songY.URL
	p.Session.nextDeckTarget = DeckB
	p.Session.bufferReady[DeckB] = true
	p.Session.mu.Unlock()

	if err := p.Skip.SkipNext(context.Background()); err != nil {
		t.Fatalf("unexpected skip error: %v", err)
	}

	snap := p.Session.Snapshot()
	if snap.PlayIndex != 1 || snap.CurrentDeck != DeckB {
		t.Fatalf("unexpected snapshot after fast-path skip: %+v", snap)
	}
}

func TestSkipManager_SkipPrevNoopAtStart(t *testing.T) {
	p := newTestPlayback(t)
	_ = p.Session.Enqueue(Song{URL: "a"}, Song{URL: "b"})

	if err := p.Skip.SkipPrev(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Session.Snapshot().PlayIndex != 0 {
		t.Fatal("expected play index unchanged at start of queue")
	}
}

func TestSkipManager_EndQueueRetainsLastPlayed(t *testing.T) {
	p := newTestPlayback(t)
	songX := Song{Title: "X", URL: "http://x"}
	_ = p.Session.Enqueue(songX)
	p.Session.mu.Lock()
	p.Session.currentDeckLoaded = songX.URL
	p.Session.mu.Unlock()

	if err := p.Skip.EndQueue(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap := p.Session.Snapshot()
	if len(snap.Songs) != 1 || snap.Songs[0].URL != songX.URL {
		t.Fatalf("expected retained last-played song, got %+v", snap.Songs)
	}
	if snap.PlayIndex != 0 {
		t.Fatalf("expected play index 0 after end_queue, got %d", snap.PlayIndex)
	}
}

func TestSkipManager_SkipToIndex_InvalidReturnsTypedError(t *testing.T) {
	p := newTestPlayback(t)
	_ = p.Session.Enqueue(Song{URL: "a"})

	err := p.Skip.SkipToIndex(context.Background(), 9)
	var perr *Error
	if !errors.As(err, &perr) || perr.Code != CodeInvalidIndex {
		t.Fatalf("expected CodeInvalidIndex, got %v", err)
	}
}

func TestSkipManager_ThrottleRejectsRapidRepeat(t *testing.T) {
	p := newTestPlaybackWithThrottle(t, 200*time.Millisecond)
	_ = p.Session.Enqueue(Song{URL: "a"}, Song{URL: "b"}, Song{URL: "c"})
	p.Session.mu.Lock()
	p.Session.currentDeckLoaded = "a"
	p.Session.nextDeckLoaded = "b"
	p.Session.nextDeckTarget = DeckB
	p.Session.bufferReady[DeckB] = true
	p.Session.mu.Unlock()

	if err := p.Skip.SkipNext(context.Background()); err != nil {
		t.Fatalf("unexpected error on first skip: %v", err)
	}
	err := p.Skip.SkipNext(context.Background())
	var perr *Error
	if !errors.As(err, &perr) || perr.Code != CodeThrottled {
		t.Fatalf("expected CodeThrottled on immediate repeat, got %v", err)
	}
}
