package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// MessageStatus is the local lifecycle status of a message.
type MessageStatus string

const (
	StatusQueued      MessageStatus = "QUEUED"
	StatusAccepted    MessageStatus = "ACCEPTED"
	StatusScheduled   MessageStatus = "SCHEDULED"
	StatusSending     MessageStatus = "SENDING"
	StatusSent        MessageStatus = "SENT"
	StatusDelivered   MessageStatus = "DELIVERED"
	StatusFailed      MessageStatus = "FAILED"
	StatusUndelivered MessageStatus = "UNDELIVERED"
	StatusCancelled   MessageStatus = "CANCELLED" // cancelled locally on user request
	StatusCanceled    MessageStatus = "CANCELED"  // cancellation confirmed by the provider
	StatusReceived    MessageStatus = "RECEIVED"
	StatusUnknown     MessageStatus = "UNKNOWN"
)

// PendingStatuses are polled by the reconciliation sweep.
var PendingStatuses = []MessageStatus{
	StatusQueued,
	StatusAccepted,
	StatusScheduled,
	StatusSending,
	StatusSent,
	StatusUnknown,
}

// IsTerminal reports whether no further transition is expected from s.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusFailed, StatusUndelivered, StatusCancelled, StatusCanceled, StatusReceived:
		return true
	}
	return false
}

// IsFailure reports whether s carries provider error details.
func (s MessageStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusUndelivered
}

// Cancellable reports whether a user may still cancel a message in status s.
func (s MessageStatus) Cancellable() bool {
	return s == StatusQueued || s == StatusScheduled
}

// Rank orders statuses along the success path. UNKNOWN ranks lowest.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusQueued:
		return 1
	case StatusAccepted, StatusScheduled:
		return 2
	case StatusSending:
		return 3
	case StatusSent:
		return 4
	case StatusUnknown:
		return 0
	}
	if s.IsTerminal() {
		return 5
	}
	return 0
}

// CanTransition reports whether moving from s to next is a forward move.
// Terminal states are final, UNKNOWN never overwrites a known status, failures may
// interrupt any non-terminal state, and a provider cancellation is only accepted while the
// message was still cancellable.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if s == next || s.IsTerminal() {
		return false
	}
	if next == StatusUnknown {
		return s == ""
	}
	if s == StatusUnknown || s == "" {
		return true
	}
	if next == StatusCanceled {
		return s == StatusQueued || s == StatusScheduled || s == StatusUnknown
	}
	if next.IsFailure() {
		return true
	}
	return next.Rank() > s.Rank()
}

// Direction of a message relative to the service.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
	DirectionUnknown  Direction = "unknown"
)

// ConversationStatus is the user-visible state of a conversation.
type ConversationStatus string

const (
	ConversationOpen   ConversationStatus = "OPEN"
	ConversationClosed ConversationStatus = "CLOSED"
)

// MediaMap maps a media content type to its URL. Stored as a JSON column.
type MediaMap map[string]string

func (m MediaMap) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(map[string]string(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *MediaMap) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into MediaMap", src)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	out := map[string]string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("decode media map: %w", err)
	}
	*m = out
	return nil
}

// Message is a single SMS/MMS unit.
type Message struct {
	ID                  string        `db:"id" json:"id"`
	ResourceID          *string       `db:"resource_id" json:"resourceId,omitempty"`
	To                  string        `db:"to_number" json:"to"`
	From                *string       `db:"from_number" json:"from,omitempty"`
	UserID              *string       `db:"user_id" json:"userId,omitempty"`
	ContactID           *string       `db:"contact_id" json:"contactId,omitempty"`
	ConversationID      *string       `db:"conversation_id" json:"conversationId,omitempty"`
	Body                string        `db:"body" json:"content"`
	Media               MediaMap      `db:"media" json:"media,omitempty"`
	NumSegments         int           `db:"num_segments" json:"numSegments"`
	NumMedia            int           `db:"num_media" json:"numMedia"`
	Price               float64       `db:"price" json:"price"`
	Currency            string        `db:"currency" json:"currency,omitempty"`
	Status              MessageStatus `db:"status" json:"status"`
	Direction           Direction     `db:"direction" json:"direction"`
	ErrorCode           *int          `db:"error_code" json:"errorCode,omitempty"`
	ErrorMessage        *string       `db:"error_message" json:"errorMessage,omitempty"`
	AccountSID          *string       `db:"account_sid" json:"-"`
	MessagingServiceSID *string       `db:"messaging_service_sid" json:"-"`
	CreatedAt           time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updatedAt"`
	ScheduledAt         *time.Time    `db:"scheduled_at" json:"scheduledDate,omitempty"`
	DeliveredAt         *time.Time    `db:"delivered_at" json:"deliveredDate,omitempty"`
}

// Correlated reports whether the message is attached to a conversation.
func (m *Message) Correlated() bool {
	return m.ConversationID != nil && *m.ConversationID != ""
}

// Conversation groups all messages between one user and one contact.
type Conversation struct {
	ID        string             `db:"id" json:"id"`
	UserID    string             `db:"user_id" json:"userId"`
	ContactID string             `db:"contact_id" json:"contactId"`
	Name      *string            `db:"name" json:"name,omitempty"`
	Status    ConversationStatus `db:"status" json:"status"`
	CreatedAt time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time          `db:"updated_at" json:"updatedAt"`
}

// Ptr returns a pointer to v. Handy for optional fields.
func Ptr[T any](v T) *T { return &v }
