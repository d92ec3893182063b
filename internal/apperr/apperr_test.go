package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

type fakeProviderErr struct{}

func (fakeProviderErr) Error() string         { return "provider said no" }
func (fakeProviderErr) ProviderFailure() bool { return true }

func TestKindOfWrappedErrors(t *testing.T) {
	err := fmt.Errorf("cancel message: %w", InvalidState("message %s is DELIVERED", "m1"))
	if KindOf(err) != KindInvalidState {
		t.Fatalf("expected invalid state, got %s", KindOf(err))
	}
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected errors.Is to match invalid state sentinel")
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("did not expect not found match")
	}

	perr := fmt.Errorf("send: %w", fakeProviderErr{})
	if KindOf(perr) != KindProvider {
		t.Fatalf("expected provider kind, got %s", KindOf(perr))
	}
	if KindOf(errors.New("disk full")) != KindUnexpected {
		t.Fatalf("expected unexpected kind")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:           http.StatusNotFound,
		KindAlreadyExists:      http.StatusConflict,
		KindInvalidState:       http.StatusBadRequest,
		KindProvider:           http.StatusBadRequest,
		KindUnexpectedProvider: http.StatusBadGateway,
		KindUnexpected:         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Fatalf("%s: expected %d, got %d", kind, want, got)
		}
	}
}
