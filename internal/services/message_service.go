package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"smsrelay/internal/apperr"
	"smsrelay/internal/events"
	"smsrelay/internal/models"
	"smsrelay/internal/provider"
	"smsrelay/internal/store"
)

// DefaultBulkThreshold is the largest immediate batch still sent number by number.
const DefaultBulkThreshold = 10

// Draft is one recipient of a send request.
type Draft struct {
	ContactID string `json:"contactId" validate:"required"`
	To        string `json:"to" validate:"required,e164"`
	Content   string `json:"content" validate:"max=1600"`
}

// SendRequest asks to send or schedule the same sender's messages to one or more contacts.
type SendRequest struct {
	UserID      string     `json:"userId" validate:"required"`
	From        string     `json:"from" validate:"omitempty,e164"`
	ScheduledAt *time.Time `json:"scheduledDate,omitempty"`
	Media       []string   `json:"media,omitempty" validate:"max=10"`
	Messages    []Draft    `json:"messages" validate:"required,min=1,dive"`
}

// MediaHandler resolves outbound media and archives inbound media.
type MediaHandler interface {
	PrepareOutbound(ctx context.Context, userID, to string, refs []string) ([]string, models.MediaMap, error)
	ArchiveInbound(ctx context.Context, msg *models.Message) models.MediaMap
}

// MessageService is the use-case layer for messages.
type MessageService struct {
	messages      store.MessageStore
	conversations store.ConversationStore
	provider      provider.Provider
	correlator    *Correlator
	media         MediaHandler
	bus           Publisher
	bulkThreshold int
	now           func() time.Time
}

// MessageServiceOptions wires a MessageService.
type MessageServiceOptions struct {
	Messages      store.MessageStore
	Conversations store.ConversationStore
	Provider      provider.Provider
	Correlator    *Correlator
	Media         MediaHandler // optional
	Bus           Publisher
	BulkThreshold int
}

func NewMessageService(opts MessageServiceOptions) *MessageService {
	threshold := opts.BulkThreshold
	if threshold <= 0 {
		threshold = DefaultBulkThreshold
	}
	return &MessageService{
		messages:      opts.Messages,
		conversations: opts.Conversations,
		provider:      opts.Provider,
		correlator:    opts.Correlator,
		media:         opts.Media,
		bus:           opts.Bus,
		bulkThreshold: threshold,
		now:           time.Now,
	}
}

func (s *MessageService) validateSend(req *SendRequest) error {
	if err := validateStruct(req); err != nil {
		return err
	}
	var fields []apperr.FieldError
	for i, d := range req.Messages {
		if strings.TrimSpace(d.Content) == "" && len(req.Media) == 0 {
			fields = append(fields, apperr.FieldError{
				Field:   fmt.Sprintf("messages[%d].content", i),
				Message: "content or media is required",
			})
		}
	}
	if req.ScheduledAt != nil && !req.ScheduledAt.After(s.now()) {
		fields = append(fields, apperr.FieldError{Field: "scheduledDate", Message: "must be in the future"})
	}
	if req.ScheduledAt == nil && len(req.Messages) <= s.bulkThreshold && req.From == "" {
		fields = append(fields, apperr.FieldError{Field: "from", Message: "is required unless the batch is sent through the messaging service"})
	}
	if len(fields) > 0 {
		return apperr.InvalidFields(fields)
	}
	return nil
}

// Send validates every draft, then sends or schedules each through the provider and stores
// the result. Scheduled drafts always go through Schedule; an immediate batch larger than
// the bulk threshold goes through the pool, one call per draft.
//
// A provider error stops the batch. Messages accepted before it are kept.
func (s *MessageService) Send(ctx context.Context, req SendRequest) ([]*models.Message, error) {
	if err := s.validateSend(&req); err != nil {
		return nil, err
	}

	scheduled := req.ScheduledAt != nil
	bulk := !scheduled && len(req.Messages) > s.bulkThreshold

	var mediaURLs []string
	var mediaKinds models.MediaMap
	if len(req.Media) > 0 {
		if s.media == nil {
			return nil, apperr.InvalidRequest("media is not supported by this deployment")
		}
		owner := req.From
		if owner == "" {
			owner = "pool"
		}
		var err error
		if mediaURLs, mediaKinds, err = s.media.PrepareOutbound(ctx, req.UserID, owner, req.Media); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("userID", req.UserID).
		Int("drafts", len(req.Messages)).
		Bool("scheduled", scheduled).
		Bool("bulk", bulk).
		Int("media", len(mediaURLs)).
		Msg("Sending messages")

	out := make([]*models.Message, 0, len(req.Messages))
	for _, d := range req.Messages {
		conversationID, err := s.correlator.FindOrCreate(ctx, req.UserID, d.ContactID)
		if err != nil {
			return out, err
		}

		var pm *provider.Message
		switch {
		case scheduled:
			pm, err = s.provider.Schedule(ctx, d.To, d.Content, mediaURLs, *req.ScheduledAt)
		case bulk:
			pm, err = s.provider.SendViaPool(ctx, d.To, d.Content, mediaURLs)
		default:
			pm, err = s.provider.SendNow(ctx, d.To, req.From, d.Content, mediaURLs)
		}
		if err != nil {
			log.Error().Err(err).Str("to", d.To).Str("userID", req.UserID).Msg("Provider rejected message")
			return out, err
		}

		m := s.outboundFromProvider(pm, req, d, mediaKinds)
		m.ConversationID = models.Ptr(conversationID)
		if err := s.messages.Create(ctx, m); err != nil {
			return out, fmt.Errorf("store sent message %s: %w", pm.ID, err)
		}
		if err := s.conversations.Touch(ctx, conversationID, m.CreatedAt); err != nil {
			log.Warn().Err(err).Str("conversationID", conversationID).Msg("Could not bump conversation")
		}
		s.bus.Publish(events.TopicMessageStored, events.MessageStored{Message: m})
		out = append(out, m)
	}
	return out, nil
}

func (s *MessageService) outboundFromProvider(pm *provider.Message, req SendRequest, d Draft, media models.MediaMap) *models.Message {
	m := &models.Message{
		ResourceID:          models.Ptr(pm.ID),
		To:                  d.To,
		From:                pm.From,
		UserID:              models.Ptr(req.UserID),
		ContactID:           models.Ptr(d.ContactID),
		Body:                d.Content,
		Media:               media,
		NumSegments:         pm.NumSegments,
		NumMedia:            pm.NumMedia,
		Status:              pm.Status(),
		Direction:           models.DirectionOutbound,
		AccountSID:          pm.AccountSID,
		MessagingServiceSID: pm.MessagingServiceSID,
		CreatedAt:           s.now().UTC(),
	}
	if m.From == nil && req.From != "" {
		m.From = models.Ptr(req.From)
	}
	if m.NumMedia == 0 {
		m.NumMedia = len(media)
	}
	if pm.Price != nil {
		m.Price = *pm.Price
	}
	if pm.PriceUnit != nil {
		m.Currency = *pm.PriceUnit
	}
	if m.Status.IsFailure() {
		m.ErrorCode = pm.ErrorCode
		m.ErrorMessage = pm.ErrorMessage
	}
	if req.ScheduledAt != nil {
		m.Status = models.StatusScheduled
		at := req.ScheduledAt.UTC()
		if pm.ScheduledAt != nil {
			at = pm.ScheduledAt.UTC()
		}
		m.ScheduledAt = &at
	}
	return m
}

// Cancel cancels a queued or scheduled message. The local record changes only after the
// provider confirms the cancellation.
func (s *MessageService) Cancel(ctx context.Context, id string) (*models.Message, error) {
	m, err := s.messages.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Status == models.StatusCancelled {
		return nil, apperr.InvalidState("message %s is already cancelled", id)
	}
	if !m.Status.Cancellable() {
		return nil, apperr.InvalidState("message %s cannot be cancelled in status %s", id, m.Status)
	}
	if m.ResourceID == nil {
		return nil, apperr.InvalidState("message %s has not been accepted by the provider", id)
	}

	pm, err := s.provider.Cancel(ctx, *m.ResourceID)
	if err != nil {
		return nil, err
	}
	if pm.Status() != models.StatusCanceled {
		log.Error().
			Str("messageID", id).
			Str("resourceID", *m.ResourceID).
			Str("providerStatus", pm.RawStatus).
			Msg("Provider did not confirm cancellation")
		return nil, apperr.New(apperr.KindUnexpectedProvider, "provider answered cancel of %s with status %q", id, pm.RawStatus)
	}

	prev := m.Status
	m.Status = models.StatusCancelled
	if err := s.messages.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("store cancellation: %w", err)
	}

	log.Info().Str("messageID", id).Str("resourceID", *m.ResourceID).Msg("Message cancelled")
	s.bus.Publish(events.TopicStatusChanged, events.StatusChanged{
		MessageID:      m.ID,
		ResourceID:     *m.ResourceID,
		ConversationID: m.ConversationID,
		Previous:       prev,
		Current:        m.Status,
		Source:         "user",
	})
	return m, nil
}

// CreateInbound stores a message reported by the provider's inbound webhook. Inbound
// messages count as delivered on arrival. Redelivered webhooks return the stored message.
func (s *MessageService) CreateInbound(ctx context.Context, pm *provider.Message) (*models.Message, error) {
	if pm == nil || pm.ID == "" {
		return nil, apperr.InvalidRequest("inbound message without resource id")
	}

	if existing, err := s.messages.GetByResourceID(ctx, pm.ID); err == nil {
		log.Debug().Str("resourceID", pm.ID).Msg("Inbound message already stored")
		return existing, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	now := s.now().UTC()
	m := &models.Message{
		ResourceID:          models.Ptr(pm.ID),
		To:                  pm.To,
		From:                pm.From,
		Body:                pm.Body,
		Media:               pm.MediaURLs,
		NumSegments:         pm.NumSegments,
		NumMedia:            pm.NumMedia,
		Status:              pm.Status(),
		Direction:           pm.Direction,
		AccountSID:          pm.AccountSID,
		MessagingServiceSID: pm.MessagingServiceSID,
		CreatedAt:           now,
		DeliveredAt:         &now,
	}
	if m.Direction == models.DirectionUnknown || m.Direction == "" {
		m.Direction = models.DirectionInbound
	}
	if m.Status == models.StatusUnknown {
		m.Status = models.StatusReceived
	}

	conversationID, err := s.correlator.CorrelateInbound(ctx, m)
	if err != nil {
		return nil, err
	}
	if s.media != nil {
		m.Media = s.media.ArchiveInbound(ctx, m)
	}

	if err := s.messages.Create(ctx, m); err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			return s.messages.GetByResourceID(ctx, pm.ID)
		}
		return nil, fmt.Errorf("store inbound message: %w", err)
	}
	if conversationID != nil {
		if err := s.conversations.Touch(ctx, *conversationID, now); err != nil {
			log.Warn().Err(err).Str("conversationID", *conversationID).Msg("Could not bump conversation")
		}
	}

	log.Info().
		Str("messageID", m.ID).
		Str("resourceID", pm.ID).
		Bool("correlated", m.Correlated()).
		Msg("Inbound message stored")
	s.bus.Publish(events.TopicMessageStored, events.MessageStored{Message: m})
	return m, nil
}

// Attach subscribes inbound persistence to the event channel.
func (s *MessageService) Attach(bus Subscriber) {
	bus.Subscribe(events.TopicInboundReceived, "inbound-store", func(ctx context.Context, ev events.Event) {
		payload, ok := ev.Payload.(events.InboundReceived)
		if !ok || payload.Message == nil {
			log.Error().Str("eventID", ev.ID).Msg("Unexpected payload for InboundReceived")
			return
		}
		if _, err := s.CreateInbound(ctx, payload.Message); err != nil {
			log.Error().Err(err).Str("resourceID", payload.Message.ID).Msg("Failed to store inbound message")
		}
	})
}

func (s *MessageService) Get(ctx context.Context, id string) (*models.Message, error) {
	return s.messages.Get(ctx, id)
}

func (s *MessageService) List(ctx context.Context, filter store.MessageFilter, page store.Page) ([]*models.Message, int64, error) {
	return s.messages.List(ctx, filter, page)
}
