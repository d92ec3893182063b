package provider

import (
	"errors"
	"fmt"
	"testing"

	"smsrelay/internal/apperr"
	"smsrelay/internal/models"
)

func TestTranslateStatus(t *testing.T) {
	cases := map[string]models.MessageStatus{
		"queued":              models.StatusQueued,
		"Accepted":            models.StatusAccepted,
		"scheduled":           models.StatusScheduled,
		"sending":             models.StatusSending,
		"sent":                models.StatusSent,
		"delivered":           models.StatusDelivered,
		"failed":              models.StatusFailed,
		"undelivered":         models.StatusUndelivered,
		"canceled":            models.StatusCanceled,
		"received":            models.StatusReceived,
		"partially_delivered": models.StatusUnknown,
		"":                    models.StatusUnknown,
	}
	for raw, want := range cases {
		if got := TranslateStatus(raw); got != want {
			t.Fatalf("%q: expected %s, got %s", raw, want, got)
		}
	}
}

func TestTranslateDirection(t *testing.T) {
	if TranslateDirection("inbound") != models.DirectionInbound {
		t.Fatalf("expected inbound")
	}
	if TranslateDirection("outbound-api") != models.DirectionOutbound {
		t.Fatalf("expected outbound")
	}
	if TranslateDirection("") != models.DirectionUnknown {
		t.Fatalf("expected unknown")
	}
}

func TestErrorClassifiesAsProvider(t *testing.T) {
	err := fmt.Errorf("send draft: %w", &Error{StatusCode: 400, Code: 21211, Message: "Invalid 'To' Phone Number"})
	if apperr.KindOf(err) != apperr.KindProvider {
		t.Fatalf("expected provider kind, got %s", apperr.KindOf(err))
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Code != 21211 {
		t.Fatalf("expected provider error code to survive wrapping")
	}
}
