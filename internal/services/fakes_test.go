package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"smsrelay/internal/db"
	"smsrelay/internal/events"
	"smsrelay/internal/models"
	"smsrelay/internal/provider"
	"smsrelay/internal/store"
)

type fakeProvider struct {
	mu      sync.Mutex
	calls   map[string]int
	seq     int
	remote  map[string]*provider.Message // FetchByID answers
	failFor map[string]error             // FetchByID failures by resource id
	sendErr error
	cancel  string // raw status answered by Cancel
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls:   map[string]int{},
		remote:  map[string]*provider.Message{},
		failFor: map[string]error{},
		cancel:  "canceled",
	}
}

func (f *fakeProvider) record(op string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	f.seq++
	return fmt.Sprintf("SM%04d", f.seq)
}

func (f *fakeProvider) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeProvider) SendNow(ctx context.Context, to, from, body string, media []string) (*provider.Message, error) {
	sid := f.record("SendNow")
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &provider.Message{ID: sid, To: to, From: models.Ptr(from), Body: body, RawStatus: "queued", NumSegments: 1, NumMedia: len(media)}, nil
}

func (f *fakeProvider) SendViaPool(ctx context.Context, to, body string, media []string) (*provider.Message, error) {
	sid := f.record("SendViaPool")
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &provider.Message{ID: sid, To: to, Body: body, RawStatus: "accepted", MessagingServiceSID: models.Ptr("MG1")}, nil
}

func (f *fakeProvider) Schedule(ctx context.Context, to, body string, media []string, sendAfter time.Time) (*provider.Message, error) {
	sid := f.record("Schedule")
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &provider.Message{ID: sid, To: to, Body: body, RawStatus: "scheduled", ScheduledAt: &sendAfter}, nil
}

func (f *fakeProvider) Cancel(ctx context.Context, resourceID string) (*provider.Message, error) {
	f.record("Cancel")
	return &provider.Message{ID: resourceID, RawStatus: f.cancel}, nil
}

func (f *fakeProvider) FetchByID(ctx context.Context, resourceID string) (*provider.Message, error) {
	f.record("FetchByID")
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[resourceID]; err != nil {
		return nil, err
	}
	if m, ok := f.remote[resourceID]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, &provider.Error{StatusCode: 404, Code: 20404, Message: "not found"}
}

type fakeHealth struct{ healthy bool }

func (h *fakeHealth) CallbacksHealthy() bool { return h.healthy }

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(topic events.Topic, payload any) (events.Event, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev := events.Event{ID: fmt.Sprintf("ev-%d", len(b.events)+1), Topic: topic, Payload: payload}
	b.events = append(b.events, ev)
	return ev, 1
}

func (b *recordingBus) count(topic events.Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.events {
		if ev.Topic == topic {
			n++
		}
	}
	return n
}

type fixture struct {
	messages      *store.SQLMessageStore
	conversations *store.SQLConversationStore
	provider      *fakeProvider
	health        *fakeHealth
	bus           *recordingBus
	correlator    *Correlator
	sync          *StatusSynchronizer
	svc           *MessageService
	convs         *ConversationService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.Open("sqlite", "file::memory:")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	f := &fixture{
		messages:      store.NewSQLMessageStore(conn),
		conversations: store.NewSQLConversationStore(conn),
		provider:      newFakeProvider(),
		health:        &fakeHealth{},
		bus:           &recordingBus{},
	}
	f.correlator = NewCorrelator(f.conversations, f.messages)
	f.sync = NewStatusSynchronizer(f.messages, f.provider, f.health, f.bus, time.Second)
	f.svc = NewMessageService(MessageServiceOptions{
		Messages:      f.messages,
		Conversations: f.conversations,
		Provider:      f.provider,
		Correlator:    f.correlator,
		Bus:           f.bus,
		BulkThreshold: DefaultBulkThreshold,
	})
	f.convs = NewConversationService(f.conversations, f.messages, f.correlator)
	return f
}

// seed stores an outbound message in the given status.
func (f *fixture) seed(t *testing.T, sid string, status models.MessageStatus) *models.Message {
	t.Helper()
	m := &models.Message{
		ResourceID: models.Ptr(sid),
		To:         "+15551112222",
		From:       models.Ptr("+15550000000"),
		UserID:     models.Ptr("u1"),
		ContactID:  models.Ptr("c1"),
		Body:       "hi",
		Status:     status,
		Direction:  models.DirectionOutbound,
	}
	if err := f.messages.Create(context.Background(), m); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return m
}

func drafts(n int) []Draft {
	out := make([]Draft, n)
	for i := range out {
		out[i] = Draft{ContactID: fmt.Sprintf("c%d", i), To: fmt.Sprintf("+1555000%04d", i), Content: "hello"}
	}
	return out
}
