package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"smsrelay/internal/apperr"
	"smsrelay/internal/events"
	"smsrelay/internal/models"
	"smsrelay/internal/provider"
	"smsrelay/internal/store"
)

func TestSendBulkThreshold(t *testing.T) {
	cases := []struct {
		name     string
		n        int
		sendNow  int
		viaPool  int
		fromUsed bool
	}{
		{name: "at threshold", n: 10, sendNow: 10, fromUsed: true},
		{name: "above threshold", n: 11, viaPool: 11},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			out, err := f.svc.Send(context.Background(), SendRequest{
				UserID:   "u1",
				From:     "+15550000000",
				Messages: drafts(tc.n),
			})
			if err != nil {
				t.Fatalf("send failed: %v", err)
			}
			if len(out) != tc.n {
				t.Fatalf("expected %d messages, got %d", tc.n, len(out))
			}
			if got := f.provider.count("SendNow"); got != tc.sendNow {
				t.Fatalf("expected %d SendNow calls, got %d", tc.sendNow, got)
			}
			if got := f.provider.count("SendViaPool"); got != tc.viaPool {
				t.Fatalf("expected %d SendViaPool calls, got %d", tc.viaPool, got)
			}
			if got := f.bus.count(events.TopicMessageStored); got != tc.n {
				t.Fatalf("expected %d MessageStored events, got %d", tc.n, got)
			}
			for _, m := range out {
				if m.ConversationID == nil || m.ID == "" || m.Direction != models.DirectionOutbound {
					t.Fatalf("message not stored with conversation: %+v", m)
				}
			}
		})
	}
}

func TestSendScheduledUsesSchedulePerDraft(t *testing.T) {
	f := newFixture(t)
	at := time.Now().Add(time.Hour)
	if _, err := f.svc.Send(context.Background(), SendRequest{UserID: "u1", ScheduledAt: &at, Messages: drafts(12)}); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if f.provider.count("Schedule") != 12 || f.provider.count("SendViaPool") != 0 || f.provider.count("SendNow") != 0 {
		t.Fatalf("unexpected calls %v", f.provider.calls)
	}
}

func TestSendValidatesBeforeCallingProvider(t *testing.T) {
	f := newFixture(t)
	past := time.Now().Add(-time.Minute)
	bad := []SendRequest{
		{UserID: "u1", From: "+15550000000", Messages: []Draft{{ContactID: "c1", To: "5551234", Content: "x"}}},
		{UserID: "u1", From: "+15550000000", Messages: []Draft{{ContactID: "c1", To: "+15551112222", Content: " "}}},
		{UserID: "u1", ScheduledAt: &past, Messages: drafts(1)},
		{UserID: "u1", Messages: drafts(2)},
		{From: "+15550000000", Messages: drafts(1)},
		{UserID: "u1", From: "+15550000000"},
	}
	for i, req := range bad {
		if _, err := f.svc.Send(context.Background(), req); !errors.Is(err, apperr.ErrInvalidRequest) {
			t.Fatalf("case %d: expected invalid request, got %v", i, err)
		}
	}
	if len(f.provider.calls) != 0 {
		t.Fatalf("provider must not be called on invalid input, got %v", f.provider.calls)
	}
}

func TestSendPropagatesProviderError(t *testing.T) {
	f := newFixture(t)
	f.provider.sendErr = &provider.Error{StatusCode: 400, Code: 21211, Message: "Invalid 'To' Phone Number"}
	_, err := f.svc.Send(context.Background(), SendRequest{UserID: "u1", From: "+15550000000", Messages: drafts(1)})
	var perr *provider.Error
	if !errors.As(err, &perr) || perr.Code != 21211 {
		t.Fatalf("expected provider error, got %v", err)
	}
	if apperr.KindOf(err) != apperr.KindProvider {
		t.Fatalf("expected provider kind, got %s", apperr.KindOf(err))
	}
	if _, total, _ := f.messages.List(context.Background(), store.MessageFilter{}, store.Page{}); total != 0 {
		t.Fatalf("expected nothing stored, got %d", total)
	}
}

func TestCancelEligibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, st := range []models.MessageStatus{models.StatusSent, models.StatusDelivered, models.StatusAccepted, models.StatusFailed, models.StatusCanceled} {
		m := f.seed(t, "SM-"+string(st), st)
		if _, err := f.svc.Cancel(ctx, m.ID); !errors.Is(err, apperr.ErrInvalidState) {
			t.Fatalf("%s: expected invalid state, got %v", st, err)
		}
		got, _ := f.messages.Get(ctx, m.ID)
		if got.Status != st {
			t.Fatalf("%s: status changed to %s", st, got.Status)
		}
	}

	cancelled := f.seed(t, "SM-c", models.StatusCancelled)
	if _, err := f.svc.Cancel(ctx, cancelled.ID); !errors.Is(err, apperr.ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if f.provider.count("Cancel") != 0 {
		t.Fatalf("provider must not be called for ineligible messages")
	}

	if _, err := f.svc.Cancel(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCancelConfirmedByProvider(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	m := f.seed(t, "SM1", models.StatusScheduled)

	got, err := f.svc.Cancel(ctx, m.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got.Status != models.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
	stored, _ := f.messages.Get(ctx, m.ID)
	if stored.Status != models.StatusCancelled {
		t.Fatalf("cancellation not persisted")
	}
}

func TestCancelNotConfirmed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.cancel = "queued"
	m := f.seed(t, "SM1", models.StatusQueued)

	if _, err := f.svc.Cancel(ctx, m.ID); !errors.Is(err, apperr.ErrUnexpectedProvider) {
		t.Fatalf("expected unexpected provider error, got %v", err)
	}
	stored, _ := f.messages.Get(ctx, m.ID)
	if stored.Status != models.StatusQueued {
		t.Fatalf("local status changed speculatively to %s", stored.Status)
	}
}

func TestCreateInboundCorrelates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Send(ctx, SendRequest{
		UserID:   "u1",
		From:     "+15550000000",
		Messages: []Draft{{ContactID: "c1", To: "+15551112222", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	sent := out[0]

	in, err := f.svc.CreateInbound(ctx, &provider.Message{
		ID:        "SMin1",
		From:      models.Ptr("+15551112222"),
		To:        "+15550000000",
		Body:      "hello back",
		RawStatus: "received",
		Direction: models.DirectionInbound,
	})
	if err != nil {
		t.Fatalf("create inbound failed: %v", err)
	}
	if in.ConversationID == nil || *in.ConversationID != *sent.ConversationID {
		t.Fatalf("conversation not inherited: %+v", in)
	}
	if *in.UserID != "u1" || *in.ContactID != "c1" {
		t.Fatalf("user/contact not inherited: %+v", in)
	}
	if in.Status != models.StatusReceived || in.DeliveredAt == nil || in.ScheduledAt != nil {
		t.Fatalf("unexpected inbound state %+v", in)
	}

	again, err := f.svc.CreateInbound(ctx, &provider.Message{ID: "SMin1", From: models.Ptr("+15551112222"), RawStatus: "received"})
	if err != nil || again.ID != in.ID {
		t.Fatalf("redelivered webhook should return stored message: %v", err)
	}
}

func TestCreateInboundOrphan(t *testing.T) {
	f := newFixture(t)
	in, err := f.svc.CreateInbound(context.Background(), &provider.Message{
		ID:        "SMin2",
		From:      models.Ptr("+15559998888"),
		To:        "+15550000000",
		Body:      "who is this",
		RawStatus: "received",
	})
	if err != nil {
		t.Fatalf("create inbound failed: %v", err)
	}
	if in.ConversationID != nil || in.UserID != nil || in.ContactID != nil {
		t.Fatalf("orphan must stay uncorrelated: %+v", in)
	}
	if in.Direction != models.DirectionInbound {
		t.Fatalf("expected inbound direction, got %s", in.Direction)
	}
}
