package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"smsrelay/internal/apperr"
	"smsrelay/internal/models"
	"smsrelay/internal/store"
)

func TestConversationRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.convs.Create(ctx, CreateConversationRequest{UserID: "u1", ContactID: "c1", Name: models.Ptr("Alice")})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	got, err := f.convs.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.UserID != "u1" || got.ContactID != "c1" || got.Name == nil || *got.Name != "Alice" || got.Status != models.ConversationOpen {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	if _, err := f.convs.Create(ctx, CreateConversationRequest{UserID: "u1", ContactID: "c1"}); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
	if _, err := f.convs.Create(ctx, CreateConversationRequest{UserID: "u1"}); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
}

func TestConversationUpdateAndMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.Send(ctx, SendRequest{UserID: "u1", From: "+15550000000", Messages: []Draft{{ContactID: "c1", To: "+15551112222", Content: "hi"}}})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	convID := *out[0].ConversationID

	closed := models.ConversationClosed
	updated, err := f.convs.Update(ctx, convID, UpdateConversationRequest{Name: models.Ptr(" Bob "), Status: &closed})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if *updated.Name != "Bob" || updated.Status != models.ConversationClosed {
		t.Fatalf("unexpected update %+v", updated)
	}

	bogus := models.ConversationStatus("ARCHIVED")
	if _, err := f.convs.Update(ctx, convID, UpdateConversationRequest{Status: &bogus}); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}

	msgs, total, err := f.convs.Messages(ctx, convID, store.Page{})
	if err != nil {
		t.Fatalf("messages failed: %v", err)
	}
	if total != 1 || msgs[0].ID != out[0].ID {
		t.Fatalf("unexpected messages total=%d", total)
	}
	if _, _, err := f.convs.Messages(ctx, "missing", store.Page{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindOrCreateConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// separate correlators so the cache cannot hide the race
			c := NewCorrelator(f.conversations, f.messages)
			ids[i], errs[i] = c.FindOrCreate(ctx, "u1", "c1")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("find or create %d failed: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("expected a single conversation, got %s and %s", ids[0], ids[i])
		}
	}
	_, total, _ := f.conversations.ListByUser(ctx, "u1", store.Page{})
	if total != 1 {
		t.Fatalf("expected 1 conversation, got %d", total)
	}
}
