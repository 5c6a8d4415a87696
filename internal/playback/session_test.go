package playback

import (
	"errors"
	"testing"
)

func newTestSession(guildID string) *Session {
	return NewSession(guildID, func(*Session) error { return nil })
}

func TestSession_EnqueueAndCurrentSong(t *testing.T) {
	s := newTestSession("g1")
	if _, ok := s.CurrentSong(); ok {
		t.Fatal("expected no current song on empty queue")
	}

	songX := Song{Title: "X", URL: "http://x"}
	songY := Song{Title: "Y", URL: "http://y"}
	if err := s.Enqueue(songX, songY); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cur, ok := s.CurrentSong()
	if !ok || cur.URL != songX.URL {
		t.Fatalf("expected current song X, got %+v ok=%v", cur, ok)
	}
	next, ok := s.NextSong()
	if !ok || next.URL != songY.URL {
		t.Fatalf("expected next song Y, got %+v ok=%v", next, ok)
	}
	if s.Version() != 1 {
		t.Fatalf("expected version 1 after one enqueue, got %d", s.Version())
	}
}

func TestSession_RemoveAtAdjustsPlayIndex(t *testing.T) {
	s := newTestSession("g1")
	_ = s.Enqueue(Song{URL: "a"}, Song{URL: "b"}, Song{URL: "c"})
	s.mu.Lock()
	s.playIdx = 2
	s.mu.Unlock()

	if err := s.RemoveAt(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.mu.Lock()
	idx := s.playIdx
	n := len(s.songs)
	s.mu.Unlock()
	if idx != 1 || n != 2 {
		t.Fatalf("expected playIdx=1 len=2, got playIdx=%d len=%d", idx, n)
	}
}

func TestSession_RemoveAt_InvalidatesPreload(t *testing.T) {
	s := newTestSession("g1")
	_ = s.Enqueue(Song{URL: "a"}, Song{URL: "b"})
	s.mu.Lock()
	s.nextDeckLoaded = "b"
	s.nextDeckTarget = DeckB
	s.bufferReady[DeckB] = true
	s.mu.Unlock()

	if err := s.RemoveAt(1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.mu.Lock()
	loaded := s.nextDeckLoaded
	ready := s.bufferReady[DeckB]
	s.mu.Unlock()
	if loaded != "" || ready {
		t.Fatalf("expected preload invalidated, got loaded=%q ready=%v", loaded, ready)
	}
}

func TestSession_EnqueueRejectsOverCapacity(t *testing.T) {
	s := newTestSession("g1")
	big := make([]Song, maxQueueSizeDefault+1)
	for i := range big {
		big[i] = Song{URL: "x"}
	}
	err := s.Enqueue(big...)
	var perr *Error
	if !errors.As(err, &perr) || perr.Code != CodeQueueFull {
		t.Fatalf("expected CodeQueueFull, got %v", err)
	}
}

func TestSession_InsertAt_InvalidIndex(t *testing.T) {
	s := newTestSession("g1")
	_ = s.Enqueue(Song{URL: "a"})
	err := s.InsertAt(Song{URL: "b"}, 5)
	var perr *Error
	if !errors.As(err, &perr) || perr.Code != CodeInvalidIndex {
		t.Fatalf("expected CodeInvalidIndex, got %v", err)
	}
}

var errPersistFailed = errors.New("persist failed")

func TestSession_Enqueue_RollsBackOnPersistFailure(t *testing.T) {
	s := NewSession("g1", func(*Session) error { return nil })
	_ = s.Enqueue(Song{URL: "a"})
	versionBefore := s.Version()

	s.persist = func(*Session) error { return errPersistFailed }
	err := s.Enqueue(Song{URL: "b"})
	if err == nil {
		t.Fatal("expected persistence error, got nil")
	}

	s.mu.Lock()
	songs := append([]Song(nil), s.songs...)
	s.mu.Unlock()
	if len(songs) != 1 || songs[0].URL != "a" {
		t.Fatalf("expected queue rolled back to [a], got %+v", songs)
	}
	if s.Version() != versionBefore {
		t.Fatalf("expected version rolled back to %d, got %d", versionBefore, s.Version())
	}
}

func TestSession_RemoveAt_RollsBackOnPersistFailure(t *testing.T) {
	s := NewSession("g1", func(*Session) error { return nil })
	_ = s.Enqueue(Song{URL: "a"}, Song{URL: "b"})
	versionBefore := s.Version()

	s.persist = func(*Session) error { return errPersistFailed }
	err := s.RemoveAt(0)
	if err == nil {
		t.Fatal("expected persistence error, got nil")
	}

	s.mu.Lock()
	songs := append([]Song(nil), s.songs...)
	s.mu.Unlock()
	if len(songs) != 2 || songs[0].URL != "a" || songs[1].URL != "b" {
		t.Fatalf("expected queue rolled back to [a b], got %+v", songs)
	}
	if s.Version() != versionBefore {
		t.Fatalf("expected version rolled back to %d, got %d", versionBefore, s.Version())
	}
}

func TestSession_SetMaxQueueSize_EnforcedByEnqueue(t *testing.T) {
	s := newTestSession("g1")
	s.SetMaxQueueSize(2)
	if err := s.Enqueue(Song{URL: "a"}, Song{URL: "b"}); err != nil {
		t.Fatalf("unexpected error at capacity: %v", err)
	}
	err := s.Enqueue(Song{URL: "c"})
	var perr *Error
	if !errors.As(err, &perr) || perr.Code != CodeQueueFull {
		t.Fatalf("expected CodeQueueFull once over configured capacity, got %v", err)
	}
}
