package playback

import (
	"context"
	"testing"
	"time"
)

func TestPlaybackEngine_OnSongStartArmsPreloadTimer(t *testing.T) {
	p := newTestPlayback(t)
	songX := Song{Title: "X", URL: "http://x"}
	songY := Song{Title: "Y", URL: "http://y"}
	_ = p.Session.Enqueue(songX, songY)
	p.Session.mu.Lock()
	p.Session.currentDeckLoaded = songX.URL
	p.Session.mu.Unlock()

	p.Engine.tun.PreloadDelay = 10 * time.Millisecond
	p.Engine.OnSongStart("g1")

	deadline := time.After(2 * time.Second)
	for {
		p.Session.mu.Lock()
		loaded := p.Session.nextDeckLoaded
		p.Session.mu.Unlock()
		if loaded == songY.URL {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for preload to commit")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPlaybackEngine_ApproachingEndWithFadeCallsAutoSkip(t *testing.T) {
	p := newTestPlayback(t)
	songX := Song{Title: "X", URL: "http://x"}
	songY := Song{Title: "Y", URL: "http://y"}
	_ = p.Session.Enqueue(songX, songY)
	p.Session.mu.Lock()
	p.Session.currentDeckLoaded = songX.URL
	p.Session.fadeEnabled = true
	p.Session.nextDeckLoaded = songY.URL
	p.Session.nextDeckTarget = DeckB
	p.Session.bufferReady[DeckB] = true
	p.Session.mu.Unlock()

	p.Engine.onApproachingEnd()

	deadline := time.After(2 * time.Second)
	for {
		snap := p.Session.Snapshot()
		if snap.PlayIndex == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for auto_skip to commit, snapshot=%+v", snap)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPlaybackEngine_AutoEndSwitchAdvancesWithoutCommand(t *testing.T) {
	p := newTestPlayback(t)
	songX := Song{Title: "X", URL: "http://x"}
	songY := Song{Title: "Y", URL: "http://y"}
	_ = p.Session.Enqueue(songX, songY)
	p.Session.mu.Lock()
	p.Session.currentDeckLoaded = songX.URL
	p.Session.mu.Unlock()

	p.Engine.onAutoEndSwitch(DeckB)

	snap := p.Session.Snapshot()
	if snap.PlayIndex != 1 || snap.CurrentDeck != DeckB || snap.SongsCompleted != 1 {
		t.Fatalf("unexpected snapshot after auto_end_switch: %+v", snap)
	}
}

func TestPlaybackEngine_RestartCurrentSongWhenMixerDead(t *testing.T) {
	p := newTestPlayback(t)
	_ = p.Session.Enqueue(Song{URL: "a"})
	_ = p.Mixer.Stop()
	// The fixture started the mixer moments ago; lift the restart cooldown so
	// the PlaySong respawn is not refused.
	p.Mixer.restartCooldown = 0

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.Engine.RestartCurrentSong(ctx); err != nil {
		t.Fatalf("expected restart to fall back to PlaySong, got error: %v", err)
	}
	if !p.Mixer.IsAlive() {
		t.Fatal("expected mixer respawned by PlaySong fallback")
	}
}
