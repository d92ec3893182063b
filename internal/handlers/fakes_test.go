package handlers

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"smsrelay/internal/apperr"
	"smsrelay/internal/events"
	"smsrelay/internal/events/forward"
	"smsrelay/internal/models"
	"smsrelay/internal/services"
	"smsrelay/internal/store"
	"smsrelay/internal/worker"
)

type fakeMessages struct {
	sent       []services.SendRequest
	sendErr    error
	acceptN    int // drafts accepted before sendErr is returned
	cancelled  []string
	byID       map[string]*models.Message
	lastFilter store.MessageFilter
	lastPage   store.Page
}

func (f *fakeMessages) Send(ctx context.Context, req services.SendRequest) ([]*models.Message, error) {
	f.sent = append(f.sent, req)
	out := make([]*models.Message, 0, len(req.Messages))
	for i, d := range req.Messages {
		if f.sendErr != nil && i >= f.acceptN {
			break
		}
		out = append(out, &models.Message{ID: "m" + strconv.Itoa(i+1), To: d.To, Body: d.Content, Status: models.StatusQueued})
	}
	if f.sendErr != nil {
		return out, f.sendErr
	}
	return out, nil
}

func (f *fakeMessages) Cancel(ctx context.Context, id string) (*models.Message, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, apperr.NotFound("message %s not found", id)
	}
	if !m.Status.Cancellable() {
		return nil, apperr.InvalidState("message %s is %s", id, m.Status)
	}
	f.cancelled = append(f.cancelled, id)
	m.Status = models.StatusCancelled
	return m, nil
}

func (f *fakeMessages) Get(ctx context.Context, id string) (*models.Message, error) {
	m, ok := f.byID[id]
	if !ok {
		return nil, apperr.NotFound("message %s not found", id)
	}
	return m, nil
}

func (f *fakeMessages) List(ctx context.Context, filter store.MessageFilter, page store.Page) ([]*models.Message, int64, error) {
	f.lastFilter = filter
	f.lastPage = page
	var out []*models.Message
	for _, m := range f.byID {
		out = append(out, m)
	}
	return out, int64(len(out)), nil
}

type fakeConversations struct {
	byID map[string]*models.Conversation
}

func (f *fakeConversations) Create(ctx context.Context, req services.CreateConversationRequest) (*models.Conversation, error) {
	for _, c := range f.byID {
		if c.UserID == req.UserID && c.ContactID == req.ContactID {
			return nil, apperr.AlreadyExists("conversation already exists")
		}
	}
	c := &models.Conversation{ID: "c" + req.ContactID, UserID: req.UserID, ContactID: req.ContactID, Status: models.ConversationOpen}
	f.byID[c.ID] = c
	return c, nil
}

func (f *fakeConversations) Get(ctx context.Context, id string) (*models.Conversation, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, apperr.NotFound("conversation %s not found", id)
	}
	return c, nil
}

func (f *fakeConversations) ListByUser(ctx context.Context, userID string, page store.Page) ([]*models.Conversation, int64, error) {
	var out []*models.Conversation
	for _, c := range f.byID {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeConversations) Update(ctx context.Context, id string, req services.UpdateConversationRequest) (*models.Conversation, error) {
	c, err := f.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		c.Name = req.Name
	}
	return c, nil
}

func (f *fakeConversations) Messages(ctx context.Context, id string, page store.Page) ([]*models.Message, int64, error) {
	if _, err := f.Get(ctx, id); err != nil {
		return nil, 0, err
	}
	return nil, 0, nil
}

type fakeBus struct {
	mu          sync.Mutex
	events      []events.Event
	subscribers int
}

func (b *fakeBus) Publish(topic events.Topic, payload any) (events.Event, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev := events.Event{ID: "ev", Topic: topic, Payload: payload}
	b.events = append(b.events, ev)
	return ev, b.subscribers
}

type fakeOps struct {
	healthy bool
	probed  time.Time
	sweeps  int
	last    services.SweepResult
}

func (f *fakeOps) CallbacksHealthy() bool { return f.healthy }
func (f *fakeOps) LastProbe() time.Time   { return f.probed }

func (f *fakeOps) Sweep(ctx context.Context) (services.SweepResult, error) {
	f.sweeps++
	f.last = services.SweepResult{Skipped: f.healthy, Checked: 2, Updated: 1}
	return f.last, nil
}

func (f *fakeOps) LastSweep() services.SweepResult { return f.last }

func (f *fakeOps) Stats() worker.Stats { return worker.Stats{Workers: 4, Queued: 1, Capacity: 16} }

type fakeForward struct {
	pending    int
	deliveries map[string]forward.Delivery
	retried    []string
}

func (f *fakeForward) Enabled() bool     { return true }
func (f *fakeForward) PendingCount() int { return f.pending }
func (f *fakeForward) FailedCount() int  { return len(f.deliveries) }

func (f *fakeForward) Deliveries(limit int) []forward.Delivery {
	var out []forward.Delivery
	for _, d := range f.deliveries {
		out = append(out, d)
	}
	return out
}

func (f *fakeForward) Lookup(eventID string) (forward.Delivery, bool) {
	d, ok := f.deliveries[eventID]
	return d, ok
}

func (f *fakeForward) Retry(ctx context.Context, eventID string) bool {
	if _, ok := f.deliveries[eventID]; !ok {
		return false
	}
	f.retried = append(f.retried, eventID)
	delete(f.deliveries, eventID)
	return true
}

func (f *fakeForward) RetryPending(ctx context.Context) { f.retried = append(f.retried, "*") }

type testServer struct {
	handler  http.Handler
	messages *fakeMessages
	convs    *fakeConversations
	bus      *fakeBus
	ops      *fakeOps
	forward  *fakeForward
}

const (
	testAuthToken = "12345"
	testBaseURL   = "https://sms.example.com"
)

func newTestServer(validate bool) *testServer {
	ts := &testServer{
		messages: &fakeMessages{byID: map[string]*models.Message{}},
		convs:    &fakeConversations{byID: map[string]*models.Conversation{}},
		bus:      &fakeBus{subscribers: 1},
		ops:      &fakeOps{},
		forward: &fakeForward{pending: 3, deliveries: map[string]forward.Delivery{
			"ev-1": {EventID: "ev-1", Topic: "StatusChanged", Status: forward.DeliveryStatusFailed, Remaining: []string{"kafka"}},
		}},
	}
	ts.handler = NewRouter(RouterConfig{
		Messages:           NewMessageHandler(ts.messages),
		Conversations:      NewConversationHandler(ts.convs),
		Webhooks:           NewWebhookHandler(ts.bus, testAuthToken, testBaseURL, validate),
		Ops:                NewOpsHandler(ts.ops, ts.ops, ts.ops, ts.forward),
		HealthPath:         "/health",
		WebhookStatusPath:  "/webhooks/sms/status",
		WebhookInboundPath: "/webhooks/sms/inbound",
	})
	return ts
}
