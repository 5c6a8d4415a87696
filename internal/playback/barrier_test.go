package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBarrier_QueuesWhileExecuting(t *testing.T) {
	b := NewAudioOperationBarrier("g1", 0, time.Second)
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = b.Run(context.Background(), "skip", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- b.Run(context.Background(), "skip", func(ctx context.Context) error { return nil })
	}()

	select {
	case <-secondDone:
		t.Fatal("expected second call to block while the first is executing")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)

	select {
	case err := <-secondDone:
		if err != nil {
			t.Fatalf("expected queued call to run once the first completes, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for queued call to run")
	}
}

func TestBarrier_FIFOOrder(t *testing.T) {
	b := NewAudioOperationBarrier("g1", 0, time.Second)
	release := make(chan struct{})
	var order []int
	var mu sync.Mutex

	runBlocked := make(chan struct{})
	go func() {
		_ = b.Run(context.Background(), "first", func(ctx context.Context) error {
			close(runBlocked)
			<-release
			return nil
		})
	}()
	<-runBlocked

	const n = 3
	started := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			_ = b.Run(context.Background(), "queued", func(ctx context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
			started <- struct{}{}
		}()
		time.Sleep(5 * time.Millisecond) // ensure FIFO enqueue order
	}

	close(release)
	for i := 0; i < n; i++ {
		<-started
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order 0..%d, got %v", n-1, order)
		}
	}
}

func TestBarrier_ThrottlesBetweenCompletions(t *testing.T) {
	b := NewAudioOperationBarrier("g1", 50*time.Millisecond, time.Second)

	if err := b.Run(context.Background(), "skip", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error on first run: %v", err)
	}

	err := b.Run(context.Background(), "skip", func(ctx context.Context) error { return nil })
	var perr *Error
	if !errors.As(err, &perr) || perr.Code != CodeThrottled {
		t.Fatalf("expected CodeThrottled, got %v", err)
	}

	time.Sleep(60 * time.Millisecond)
	if err := b.Run(context.Background(), "skip", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected run to succeed after throttle window: %v", err)
	}
}

func TestBarrier_TimesOutLongOp(t *testing.T) {
	b := NewAudioOperationBarrier("g1", 0, 20*time.Millisecond)
	err := b.Run(context.Background(), "skip", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var perr *Error
	if !errors.As(err, &perr) || perr.Code != CodeOperationTimeout {
		t.Fatalf("expected CodeOperationTimeout, got %v", err)
	}
}
