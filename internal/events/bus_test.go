package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"smsrelay/internal/worker"
)

func TestBusFansOutToSubscribers(t *testing.T) {
	pool := worker.NewPool(2, 8)
	defer pool.Stop(context.Background())
	bus := NewBus(pool)

	var mu sync.Mutex
	got := map[string]Event{}
	var wg sync.WaitGroup
	wg.Add(2)
	for _, name := range []string{"a", "b"} {
		name := name
		bus.Subscribe(TopicMessageStored, name, func(ctx context.Context, ev Event) {
			defer wg.Done()
			mu.Lock()
			got[name] = ev
			mu.Unlock()
		})
	}
	bus.Subscribe(TopicStatusChanged, "other", func(ctx context.Context, ev Event) {
		t.Errorf("unexpected delivery on %s", ev.Topic)
	})

	ev, n := bus.Publish(TopicMessageStored, MessageStored{})
	if n != 2 {
		t.Fatalf("expected 2 dispatches, got %d", n)
	}
	waitGroup(t, &wg)

	for _, name := range []string{"a", "b"} {
		if got[name].ID != ev.ID || got[name].Topic != TopicMessageStored {
			t.Fatalf("subscriber %s got %+v", name, got[name])
		}
	}
}

type refusingPool struct{}

func (refusingPool) Submit(worker.Job) error { return errors.New("full") }

func TestBusDropsWhenPoolRefuses(t *testing.T) {
	bus := NewBus(refusingPool{})
	bus.Subscribe(TopicStatusReported, "sync", func(ctx context.Context, ev Event) {})
	if _, n := bus.Publish(TopicStatusReported, StatusReported{}); n != 0 {
		t.Fatalf("expected no dispatch, got %d", n)
	}
}

func TestKnownTopics(t *testing.T) {
	for _, topic := range Topics {
		if !IsKnown(topic) {
			t.Fatalf("%s should be known", topic)
		}
	}
	if IsKnown("Message") {
		t.Fatalf("unexpected known topic")
	}
}

func waitGroup(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for subscribers")
	}
}
