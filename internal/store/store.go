// Package store persists messages and conversations.
package store

import (
	"context"
	"time"

	"smsrelay/internal/models"
)

// Page selects a window of results. Page is 1-based.
type Page struct {
	Page   int
	Size   int
	SortBy string
	Order  string // "asc" or "desc"
}

// Normalize applies defaults and bounds.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Size <= 0 {
		p.Size = 20
	}
	if p.Size > 200 {
		p.Size = 200
	}
	if p.Order != "asc" {
		p.Order = "desc"
	}
	return p
}

func (p Page) Offset() int { return (p.Page - 1) * p.Size }

// MessageFilter narrows message listings. Empty fields are ignored.
type MessageFilter struct {
	UserID         string
	ContactID      string
	ConversationID string
	Status         models.MessageStatus
}

// MessageStore is keyed persistence for messages.
type MessageStore interface {
	Create(ctx context.Context, m *models.Message) error
	Update(ctx context.Context, m *models.Message) error
	Get(ctx context.Context, id string) (*models.Message, error)
	GetByResourceID(ctx context.Context, resourceID string) (*models.Message, error)
	ListByStatuses(ctx context.Context, statuses []models.MessageStatus) ([]*models.Message, error)
	// LatestOutboundTo returns the most recently created outbound message sent to the number.
	LatestOutboundTo(ctx context.Context, to string) (*models.Message, error)
	List(ctx context.Context, filter MessageFilter, page Page) ([]*models.Message, int64, error)
}

// ConversationStore is keyed persistence for conversations.
// Create fails with apperr.KindAlreadyExists when the (user, contact) pair is taken.
type ConversationStore interface {
	Create(ctx context.Context, c *models.Conversation) error
	Update(ctx context.Context, c *models.Conversation) error
	Touch(ctx context.Context, id string, at time.Time) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	GetByPair(ctx context.Context, userID, contactID string) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID string, page Page) ([]*models.Conversation, int64, error)
}
