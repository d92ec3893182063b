package services

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"smsrelay/internal/models"
	"smsrelay/internal/store"
)

// CreateConversationRequest creates a conversation explicitly.
type CreateConversationRequest struct {
	UserID    string  `json:"userId" validate:"required"`
	ContactID string  `json:"contactId" validate:"required"`
	Name      *string `json:"name,omitempty" validate:"omitempty,max=200"`
}

// UpdateConversationRequest renames or opens/closes a conversation. Nil fields are left alone.
type UpdateConversationRequest struct {
	Name   *string                    `json:"name,omitempty" validate:"omitempty,max=200"`
	Status *models.ConversationStatus `json:"status,omitempty" validate:"omitempty,oneof=OPEN CLOSED"`
}

// ConversationService is the use-case layer for conversations.
type ConversationService struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	correlator    *Correlator
}

func NewConversationService(conversations store.ConversationStore, messages store.MessageStore, correlator *Correlator) *ConversationService {
	return &ConversationService{conversations: conversations, messages: messages, correlator: correlator}
}

// Create fails with AlreadyExists when the user already has a conversation with the contact.
func (s *ConversationService) Create(ctx context.Context, req CreateConversationRequest) (*models.Conversation, error) {
	if err := validateStruct(&req); err != nil {
		return nil, err
	}
	conv := &models.Conversation{
		UserID:    req.UserID,
		ContactID: req.ContactID,
		Name:      trimmed(req.Name),
		Status:    models.ConversationOpen,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, err
	}
	s.correlator.Remember(conv)
	log.Info().Str("conversationID", conv.ID).Str("userID", conv.UserID).Str("contactID", conv.ContactID).Msg("Conversation created")
	return conv, nil
}

func (s *ConversationService) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return s.conversations.Get(ctx, id)
}

func (s *ConversationService) ListByUser(ctx context.Context, userID string, page store.Page) ([]*models.Conversation, int64, error) {
	return s.conversations.ListByUser(ctx, userID, page)
}

func (s *ConversationService) Update(ctx context.Context, id string, req UpdateConversationRequest) (*models.Conversation, error) {
	if err := validateStruct(&req); err != nil {
		return nil, err
	}
	conv, err := s.conversations.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		conv.Name = trimmed(req.Name)
	}
	if req.Status != nil {
		conv.Status = *req.Status
	}
	if err := s.conversations.Update(ctx, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Messages lists the messages of an existing conversation.
func (s *ConversationService) Messages(ctx context.Context, id string, page store.Page) ([]*models.Message, int64, error) {
	if _, err := s.conversations.Get(ctx, id); err != nil {
		return nil, 0, err
	}
	return s.messages.List(ctx, store.MessageFilter{ConversationID: id}, page)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
