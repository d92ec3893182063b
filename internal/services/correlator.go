package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"smsrelay/internal/apperr"
	"smsrelay/internal/models"
	"smsrelay/internal/store"
)

// Correlator attaches messages to conversations.
type Correlator struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	pairs         *gocache.Cache // "user|contact" -> conversation id
}

func NewCorrelator(conversations store.ConversationStore, messages store.MessageStore) *Correlator {
	return &Correlator{
		conversations: conversations,
		messages:      messages,
		pairs:         gocache.New(10*time.Minute, 20*time.Minute),
	}
}

func pairKey(userID, contactID string) string { return userID + "|" + contactID }

// FindOrCreate returns the conversation for the pair, creating an OPEN one if none exists.
// A concurrent create for the same pair is resolved by re-reading the winner.
func (c *Correlator) FindOrCreate(ctx context.Context, userID, contactID string) (string, error) {
	key := pairKey(userID, contactID)
	if id, ok := c.pairs.Get(key); ok {
		return id.(string), nil
	}

	conv, err := c.conversations.GetByPair(ctx, userID, contactID)
	if err == nil {
		c.pairs.SetDefault(key, conv.ID)
		return conv.ID, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return "", fmt.Errorf("lookup conversation: %w", err)
	}

	conv = &models.Conversation{UserID: userID, ContactID: contactID, Status: models.ConversationOpen}
	if err := c.conversations.Create(ctx, conv); err != nil {
		if !errors.Is(err, apperr.ErrAlreadyExists) {
			return "", fmt.Errorf("create conversation: %w", err)
		}
		existing, gerr := c.conversations.GetByPair(ctx, userID, contactID)
		if gerr != nil {
			return "", fmt.Errorf("re-read conversation after conflict: %w", gerr)
		}
		conv = existing
	} else {
		log.Info().
			Str("conversationID", conv.ID).
			Str("userID", userID).
			Str("contactID", contactID).
			Msg("Conversation created")
	}

	c.pairs.SetDefault(key, conv.ID)
	return conv.ID, nil
}

// Remember caches a known pair, e.g. after an explicit create.
func (c *Correlator) Remember(conv *models.Conversation) {
	c.pairs.SetDefault(pairKey(conv.UserID, conv.ContactID), conv.ID)
}

// CorrelateInbound copies user, contact and conversation from the most recent outbound
// message sent to msg.From. It returns the conversation id, or nil for an orphan.
func (c *Correlator) CorrelateInbound(ctx context.Context, msg *models.Message) (*string, error) {
	if msg.From == nil || *msg.From == "" {
		log.Warn().Str("resourceID", deref(msg.ResourceID)).Msg("Inbound message without sender, left uncorrelated")
		return nil, nil
	}

	prev, err := c.messages.LatestOutboundTo(ctx, *msg.From)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			log.Warn().
				Str("resourceID", deref(msg.ResourceID)).
				Str("from", *msg.From).
				Msg("Orphan inbound message: no prior outbound message to sender")
			return nil, nil
		}
		return nil, fmt.Errorf("correlate inbound: %w", err)
	}

	msg.UserID = prev.UserID
	msg.ContactID = prev.ContactID
	msg.ConversationID = prev.ConversationID
	log.Debug().
		Str("resourceID", deref(msg.ResourceID)).
		Str("conversationID", deref(prev.ConversationID)).
		Msg("Inbound message correlated")
	return prev.ConversationID, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
