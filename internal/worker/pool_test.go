package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolRunsJobs(t *testing.T) {
	p := NewPool(4, 16)
	var wg sync.WaitGroup
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		if err := p.Submit(func(ctx context.Context) {
			defer wg.Done()
			n.Add(1)
		}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	wg.Wait()
	if n.Load() != 10 {
		t.Fatalf("expected 10 jobs to run, got %d", n.Load())
	}
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if got := p.Stats().Completed; got != 10 {
		t.Fatalf("expected 10 completed, got %d", got)
	}
}

func TestPoolDropsWhenFull(t *testing.T) {
	p := NewPool(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})

	if err := p.Submit(func(ctx context.Context) {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	<-started
	if err := p.Submit(func(ctx context.Context) {}); err != nil {
		t.Fatalf("second submit should fill the queue: %v", err)
	}
	if err := p.Submit(func(ctx context.Context) {}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if p.Stats().Dropped != 1 {
		t.Fatalf("expected one dropped job")
	}

	close(release)
	if err := p.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if err := p.Submit(func(ctx context.Context) {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	p := NewPool(1, 2)
	done := make(chan struct{})
	_ = p.Submit(func(ctx context.Context) { panic("boom") })
	_ = p.Submit(func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not survive panic")
	}
	_ = p.Stop(context.Background())
	if p.Stats().Panics != 1 {
		t.Fatalf("expected one recovered panic")
	}
}

func TestEverySubmitsPeriodically(t *testing.T) {
	p := NewPool(1, 4)
	defer p.Stop(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := make(chan struct{}, 8)
	p.Every(ctx, 10*time.Millisecond, "tick", func(ctx context.Context) {
		runs <- struct{}{}
	})

	for i := 0; i < 2; i++ {
		select {
		case <-runs:
		case <-time.After(2 * time.Second):
			t.Fatalf("scheduled job did not run")
		}
	}
}
