package playback

import (
	"testing"
	"time"
)

func TestLockTable_ExclusiveAndRelease(t *testing.T) {
	lt := newLockTable()

	h, ok := lt.Acquire("skip_1", time.Second, 50*time.Millisecond)
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if !lt.HasActive("skip_1") {
		t.Fatal("expected lock to be active")
	}

	if _, ok := lt.Acquire("skip_1", time.Second, 50*time.Millisecond); ok {
		t.Fatal("expected second acquire to fail while held")
	}

	h.Release()
	if lt.HasActive("skip_1") {
		t.Fatal("expected lock to be released")
	}

	if _, ok := lt.Acquire("skip_1", time.Second, 50*time.Millisecond); !ok {
		t.Fatal("expected acquire after release to succeed")
	}
}

func TestLockTable_HardExpiry(t *testing.T) {
	lt := newLockTable()
	if _, ok := lt.Acquire("skip_2", 20*time.Millisecond, 10*time.Millisecond); !ok {
		t.Fatal("expected initial acquire to succeed")
	}
	time.Sleep(30 * time.Millisecond)
	if lt.HasActive("skip_2") {
		t.Fatal("expected lock to have expired")
	}
	if _, ok := lt.Acquire("skip_2", time.Second, 50*time.Millisecond); !ok {
		t.Fatal("expected acquire after hard expiry to succeed")
	}
}

func TestStateVersion_Bump(t *testing.T) {
	v := &stateVersion{}
	if got := v.Bump("tag-a", nil); got != 1 {
		t.Fatalf("expected version 1, got %d", got)
	}
	if got := v.Bump("tag-b", map[string]any{"x": 1}); got != 2 {
		t.Fatalf("expected version 2, got %d", got)
	}
	hist := v.History()
	if len(hist) != 2 || hist[0].Tag != "tag-a" || hist[1].Tag != "tag-b" {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestStateVersion_BoundedHistory(t *testing.T) {
	v := &stateVersion{}
	for i := 0; i < maxVersionHistory+10; i++ {
		v.Bump("tag", nil)
	}
	if len(v.History()) != maxVersionHistory {
		t.Fatalf("expected history capped at %d, got %d", maxVersionHistory, len(v.History()))
	}
}
