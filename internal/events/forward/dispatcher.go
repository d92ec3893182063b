package forward

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"smsrelay/internal/events"
)

// DeliveryStatus is the forwarding state of one event.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Delivery tracks an event that still has sinks to reach.
type Delivery struct {
	EventID      string         `json:"eventId"`
	Topic        string         `json:"topic"`
	Key          string         `json:"key"`
	Body         []byte         `json:"-"`
	CreatedAt    time.Time      `json:"createdAt"`
	AttemptCount int            `json:"attemptCount"`
	Status       DeliveryStatus `json:"status"`
	LastError    string         `json:"lastError,omitempty"`
	Remaining    []string       `json:"remaining,omitempty"`
	// remaining sink names; delivered sinks are removed
	remaining map[string]bool
	// set while a deliver call owns the delivery
	inFlight bool
}

const maxFailedKept = 1000

// DeliveryResult is the outcome of one sink publish.
type DeliveryResult struct {
	Channel   string    `json:"channel"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Duration  int64     `json:"duration_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Dispatcher delivers domain events to every sink in parallel and retries the sinks
// that failed, up to maxRetries attempts per event.
type Dispatcher struct {
	mu           sync.RWMutex
	sinks        map[string]Sink
	pending      map[string]*Delivery
	failed       map[string]*Delivery // gave up; kept for inspection and manual retry
	maxRetries   int
	retryBackoff time.Duration
	timeout      time.Duration
}

func NewDispatcher(sinks []Sink, maxRetries int, retryBackoff time.Duration) *Dispatcher {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	if retryBackoff <= 0 {
		retryBackoff = 2 * time.Second
	}
	d := &Dispatcher{
		sinks:        make(map[string]Sink, len(sinks)),
		pending:      make(map[string]*Delivery),
		failed:       make(map[string]*Delivery),
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		timeout:      10 * time.Second,
	}
	for _, s := range sinks {
		d.sinks[s.Name()] = s
	}

	log.Info().
		Int("sinks", len(d.sinks)).
		Int("maxRetries", d.maxRetries).
		Dur("timeout", d.timeout).
		Msg("Event dispatcher initialized")
	return d
}

// Enabled reports whether there is at least one sink.
func (d *Dispatcher) Enabled() bool { return len(d.sinks) > 0 }

// Attach subscribes the dispatcher to the events that leave the process.
func (d *Dispatcher) Attach(bus *events.Bus) {
	if !d.Enabled() {
		return
	}
	bus.Subscribe(events.TopicStatusChanged, "forwarder", d.Handle)
	bus.Subscribe(events.TopicMessageStored, "forwarder", d.Handle)
}

// Handle is an events.Handler that forwards ev.
func (d *Dispatcher) Handle(ctx context.Context, ev events.Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("eventID", ev.ID).Msg("Failed to marshal event for forwarding")
		return
	}

	delivery := &Delivery{
		EventID:   ev.ID,
		Topic:     string(ev.Topic),
		Key:       eventKey(ev),
		Body:      body,
		CreatedAt: time.Now(),
		Status:    DeliveryStatusPending,
		remaining: make(map[string]bool, len(d.sinks)),
	}
	for name := range d.sinks {
		delivery.remaining[name] = true
	}

	d.mu.Lock()
	d.pending[delivery.EventID] = delivery
	d.mu.Unlock()

	d.deliver(ctx, delivery)
}

// deliver publishes to the sinks the delivery has not reached yet. It returns false without
// publishing when another deliver call already owns the delivery.
func (d *Dispatcher) deliver(parent context.Context, delivery *Delivery) bool {
	d.mu.Lock()
	if delivery.inFlight {
		d.mu.Unlock()
		log.Debug().Str("eventID", delivery.EventID).Msg("Event delivery already in flight, skipping")
		return false
	}
	delivery.inFlight = true
	targets := make([]Sink, 0, len(delivery.remaining))
	for name := range delivery.remaining {
		targets = append(targets, d.sinks[name])
	}
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan DeliveryResult, len(targets))
	for _, sink := range targets {
		wg.Add(1)
		go func(sink Sink) {
			defer wg.Done()
			results <- d.publish(ctx, sink, delivery)
		}(sink)
	}
	wg.Wait()
	close(results)

	d.mu.Lock()
	defer d.mu.Unlock()
	delivery.inFlight = false

	for result := range results {
		log.Debug().
			Str("eventID", delivery.EventID).
			Str("channel", result.Channel).
			Bool("success", result.Success).
			Int64("durationMs", result.Duration).
			Str("error", result.Error).
			Msg("Channel delivery result")
		if result.Success {
			delete(delivery.remaining, result.Channel)
		} else {
			delivery.LastError = result.Error
		}
	}

	delivery.AttemptCount++
	switch {
	case len(delivery.remaining) == 0:
		delivery.Status = DeliveryStatusDelivered
		delete(d.pending, delivery.EventID)
		log.Debug().Str("eventID", delivery.EventID).Str("topic", delivery.Topic).Msg("Event forwarded to all sinks")
	case delivery.AttemptCount >= d.maxRetries:
		delivery.Status = DeliveryStatusFailed
		delete(d.pending, delivery.EventID)
		if len(d.failed) < maxFailedKept {
			d.failed[delivery.EventID] = delivery
		}
		log.Error().
			Str("eventID", delivery.EventID).
			Int("attemptCount", delivery.AttemptCount).
			Str("lastError", delivery.LastError).
			Msg("Event forwarding failed permanently")
	default:
		log.Warn().
			Str("eventID", delivery.EventID).
			Int("attemptCount", delivery.AttemptCount).
			Int("maxRetries", d.maxRetries).
			Msg("Event forwarding partially failed, will retry")
	}
	return true
}

func (d *Dispatcher) publish(ctx context.Context, sink Sink, delivery *Delivery) DeliveryResult {
	start := time.Now()
	result := DeliveryResult{Channel: sink.Name(), Timestamp: start}

	err := sink.Publish(ctx, delivery.Topic, delivery.Key, delivery.Body)
	result.Duration = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		log.Error().
			Err(err).
			Str("eventID", delivery.EventID).
			Str("channel", result.Channel).
			Msg("Event sink delivery failed")
		return result
	}
	result.Success = true
	return result
}

// Run retries pending deliveries every retry backoff until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	if !d.Enabled() {
		return
	}
	ticker := time.NewTicker(d.retryBackoff)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RetryPending(ctx)
		}
	}
}

// RetryPending redelivers events whose previous attempt is older than the retry backoff.
func (d *Dispatcher) RetryPending(ctx context.Context) {
	d.mu.RLock()
	var due []*Delivery
	for _, delivery := range d.pending {
		if !delivery.inFlight &&
			delivery.AttemptCount > 0 &&
			delivery.AttemptCount < d.maxRetries &&
			time.Since(delivery.CreatedAt) > d.retryBackoff {
			due = append(due, delivery)
		}
	}
	d.mu.RUnlock()

	for _, delivery := range due {
		log.Info().
			Str("eventID", delivery.EventID).
			Int("attemptCount", delivery.AttemptCount).
			Msg("Retrying event forwarding")
		d.deliver(ctx, delivery)
	}
}

// PendingCount returns the number of events with sinks still to reach.
func (d *Dispatcher) PendingCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pending)
}

// FailedCount returns the number of events that exhausted their retries.
func (d *Dispatcher) FailedCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.failed)
}

// Deliveries returns up to limit pending and failed deliveries, oldest first.
func (d *Dispatcher) Deliveries(limit int) []Delivery {
	d.mu.RLock()
	out := make([]Delivery, 0, len(d.pending)+len(d.failed))
	for _, m := range []map[string]*Delivery{d.pending, d.failed} {
		for _, delivery := range m {
			out = append(out, delivery.snapshot())
		}
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Lookup returns the pending or failed delivery of an event.
func (d *Dispatcher) Lookup(eventID string) (Delivery, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if delivery, ok := d.pending[eventID]; ok {
		return delivery.snapshot(), true
	}
	if delivery, ok := d.failed[eventID]; ok {
		return delivery.snapshot(), true
	}
	return Delivery{}, false
}

// Retry resets the attempt count of an event and redelivers it to the sinks it has not
// reached yet. It reports false when the event is unknown or already delivered. An event
// whose delivery is in flight is left to that attempt.
func (d *Dispatcher) Retry(ctx context.Context, eventID string) bool {
	d.mu.Lock()
	delivery, ok := d.pending[eventID]
	if !ok {
		delivery, ok = d.failed[eventID]
	}
	if !ok {
		d.mu.Unlock()
		return false
	}
	if delivery.inFlight {
		d.mu.Unlock()
		log.Info().Str("eventID", eventID).Msg("Event delivery already in flight, manual retry skipped")
		return true
	}
	delete(d.failed, eventID)
	delivery.AttemptCount = 0
	delivery.Status = DeliveryStatusPending
	d.pending[eventID] = delivery
	d.mu.Unlock()

	log.Info().Str("eventID", eventID).Msg("Manual retry triggered for event")
	d.deliver(ctx, delivery)
	return true
}

// snapshot copies the delivery. Callers hold d.mu.
func (dl *Delivery) snapshot() Delivery {
	c := *dl
	c.remaining = nil
	c.Remaining = make([]string, 0, len(dl.remaining))
	for name := range dl.remaining {
		c.Remaining = append(c.Remaining, name)
	}
	sort.Strings(c.Remaining)
	return c
}

// Close closes every sink.
func (d *Dispatcher) Close() error {
	var firstErr error
	for name, s := range d.sinks {
		if err := s.Close(); err != nil {
			log.Error().Err(err).Str("sink", name).Msg("Error closing event sink")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func eventKey(ev events.Event) string {
	switch p := ev.Payload.(type) {
	case events.StatusChanged:
		return p.MessageID
	case events.MessageStored:
		if p.Message != nil {
			return p.Message.ID
		}
	}
	return ev.ID
}
