package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"smsrelay/internal/adapters/twilio"
	"smsrelay/internal/events"
	"smsrelay/internal/models"
	"smsrelay/internal/provider"
)

// EventPublisher hands events to in-process subscribers. *events.Bus satisfies it.
type EventPublisher interface {
	Publish(topic events.Topic, payload any) (events.Event, int)
}

// WebhookHandler accepts provider callbacks and turns them into events.
type WebhookHandler struct {
	bus           EventPublisher
	authToken     string
	publicBaseURL string
	validate      bool
}

// NewWebhookHandler returns a handler. When validate is set, every callback must carry a
// valid X-Twilio-Signature computed over publicBaseURL plus the request URI.
func NewWebhookHandler(bus EventPublisher, authToken, publicBaseURL string, validate bool) *WebhookHandler {
	if validate && (authToken == "" || publicBaseURL == "") {
		log.Warn().Msg("Webhook signature validation requested without auth token or public base URL; disabling it")
		validate = false
	}
	return &WebhookHandler{
		bus:           bus,
		authToken:     authToken,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		validate:      validate,
	}
}

// Status handles delivery status callbacks.
func (h *WebhookHandler) Status(w http.ResponseWriter, r *http.Request) {
	report, ok := h.parse(w, r)
	if !ok {
		return
	}
	log.Debug().
		Str("resourceID", report.ID).
		Str("status", string(report.Status())).
		Msg("Received status callback")
	h.dispatch(w, events.TopicStatusReported, events.StatusReported{Report: report}, report.ID)
}

// Inbound handles messages sent to one of our numbers.
func (h *WebhookHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.parse(w, r)
	if !ok {
		return
	}
	msg.Direction = models.DirectionInbound
	log.Info().
		Str("resourceID", msg.ID).
		Int("numMedia", msg.NumMedia).
		Msg("Received inbound message")
	h.dispatch(w, events.TopicInboundReceived, events.InboundReceived{Message: msg}, msg.ID)
}

func (h *WebhookHandler) parse(w http.ResponseWriter, r *http.Request) (*provider.Message, bool) {
	if err := r.ParseForm(); err != nil {
		log.Warn().Err(err).Msg("Failed to parse webhook form")
		http.Error(w, "invalid form payload", http.StatusBadRequest)
		return nil, false
	}

	if h.validate {
		signature := r.Header.Get("X-Twilio-Signature")
		fullURL := h.publicBaseURL + r.URL.RequestURI()
		if signature == "" || !twilio.ValidateSignature(h.authToken, fullURL, r.PostForm, signature) {
			log.Warn().Str("path", r.URL.Path).Msg("Webhook signature validation failed")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return nil, false
		}
	}

	msg, err := twilio.ParseCallback(r.PostForm)
	if err != nil {
		if errors.Is(err, twilio.ErrMissingSID) {
			http.Error(w, "MessageSid is required", http.StatusBadRequest)
			return nil, false
		}
		log.Warn().Err(err).Msg("Failed to parse webhook payload")
		http.Error(w, "invalid webhook payload", http.StatusBadRequest)
		return nil, false
	}
	return msg, true
}

func (h *WebhookHandler) dispatch(w http.ResponseWriter, topic events.Topic, payload any, resourceID string) {
	ev, n := h.bus.Publish(topic, payload)
	if n == 0 {
		log.Error().
			Str("topic", string(topic)).
			Str("eventID", ev.ID).
			Str("resourceID", resourceID).
			Msg("Webhook event was not dispatched")
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
