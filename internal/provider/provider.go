// Package provider defines the narrow contract the reconciliation engine needs from the
// external SMS/MMS gateway, independent of any particular vendor SDK.
package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"smsrelay/internal/models"
)

// Provider wraps exactly one outbound call to the external gateway per operation.
// Implementations never retry internally.
type Provider interface {
	SendNow(ctx context.Context, to, from, body string, media []string) (*Message, error)
	SendViaPool(ctx context.Context, to, body string, media []string) (*Message, error)
	Schedule(ctx context.Context, to, body string, media []string, sendAfter time.Time) (*Message, error)
	Cancel(ctx context.Context, resourceID string) (*Message, error)
	FetchByID(ctx context.Context, resourceID string) (*Message, error)
}

// Message is a read-only view of a provider-side message.
// Optional fields are nil when the provider did not report them.
type Message struct {
	ID                  string
	AccountSID          *string
	MessagingServiceSID *string
	From                *string
	To                  string
	Body                string
	RawStatus           string
	Direction           models.Direction
	ErrorCode           *int
	ErrorMessage        *string
	NumSegments         int
	NumMedia            int
	MediaURLs           models.MediaMap
	Price               *float64
	PriceUnit           *string
	CreatedAt           *time.Time
	SentAt              *time.Time
	UpdatedAt           *time.Time
	DeliveredAt         *time.Time // set only for DELIVERED reports that carry a timestamp
	ScheduledAt         *time.Time
	APIVersion          string
}

// Status translates the provider vocabulary into the local status enum.
func (m *Message) Status() models.MessageStatus {
	return TranslateStatus(m.RawStatus)
}

// TranslateStatus maps a provider status string to the local enum.
// Unrecognised values map to UNKNOWN.
func TranslateStatus(raw string) models.MessageStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued":
		return models.StatusQueued
	case "accepted":
		return models.StatusAccepted
	case "scheduled":
		return models.StatusScheduled
	case "sending":
		return models.StatusSending
	case "sent":
		return models.StatusSent
	case "delivered":
		return models.StatusDelivered
	case "failed":
		return models.StatusFailed
	case "undelivered":
		return models.StatusUndelivered
	case "canceled", "cancelled":
		return models.StatusCanceled
	case "received", "receiving":
		return models.StatusReceived
	default:
		return models.StatusUnknown
	}
}

// TranslateDirection maps provider direction strings ("inbound", "outbound-api", ...).
func TranslateDirection(raw string) models.Direction {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch {
	case raw == "inbound":
		return models.DirectionInbound
	case strings.HasPrefix(raw, "outbound"):
		return models.DirectionOutbound
	default:
		return models.DirectionUnknown
	}
}

// Error is returned for any provider-side failure: a non-2xx response or a transport failure.
type Error struct {
	StatusCode int // HTTP status, 0 for transport failures
	Code       int // provider error code, 0 when unknown
	Message    string
	MoreInfo   string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode == 0 && e.Err != nil:
		return fmt.Sprintf("provider request failed: %v", e.Err)
	case e.Code != 0:
		return fmt.Sprintf("provider error %d (http %d): %s", e.Code, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("provider error (http %d): %s", e.StatusCode, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ProviderFailure marks the error for apperr classification.
func (e *Error) ProviderFailure() bool { return true }
