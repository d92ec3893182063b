package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"smsrelay/internal/apperr"
	"smsrelay/internal/models"
	"smsrelay/internal/services"
	"smsrelay/internal/store"
)

// MessageAPI is the message use-case surface the handlers need.
type MessageAPI interface {
	Send(ctx context.Context, req services.SendRequest) ([]*models.Message, error)
	Cancel(ctx context.Context, id string) (*models.Message, error)
	Get(ctx context.Context, id string) (*models.Message, error)
	List(ctx context.Context, filter store.MessageFilter, page store.Page) ([]*models.Message, int64, error)
}

// MessageHandler serves /messages.
type MessageHandler struct {
	svc MessageAPI
}

func NewMessageHandler(svc MessageAPI) *MessageHandler {
	return &MessageHandler{svc: svc}
}

// Create handles POST /messages. When the provider rejects a draft partway through a batch,
// the error body lists the messages already accepted under "accepted".
func (h *MessageHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.SendRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, r, err)
		return
	}
	msgs, err := h.svc.Send(r.Context(), req)
	if err != nil {
		// Drafts before the failing one were sent and stored; retrying them would send twice.
		status, body := errorBody(r, err)
		body.Accepted = msgs
		respondWithJSON(w, status, body)
		return
	}
	respondWithJSON(w, http.StatusCreated, msgs)
}

type patchMessageRequest struct {
	Status string `json:"status,omitempty"`
}

// Update handles PATCH /messages/{id}. The only supported change is cancellation; the body
// may be empty or {"status":"CANCELLED"}.
func (h *MessageHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req patchMessageRequest
	if err := decodeJSON(r, &req, true); err != nil {
		respondWithError(w, r, err)
		return
	}
	if s := strings.ToUpper(req.Status); s != "" && s != string(models.StatusCancelled) && s != string(models.StatusCanceled) {
		respondWithError(w, r, apperr.InvalidFields([]apperr.FieldError{{Field: "status", Message: "only CANCELLED is supported"}}))
		return
	}
	msg, err := h.svc.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, msg)
}

// Get handles GET /messages/{id}.
func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	msg, err := h.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, msg)
}

// List handles GET /messages?userId&contactId&conversationId&status&page&size&sortBy&order.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := store.MessageFilter{
		UserID:         q.Get("userId"),
		ContactID:      q.Get("contactId"),
		ConversationID: q.Get("conversationId"),
		Status:         models.MessageStatus(strings.ToUpper(q.Get("status"))),
	}
	msgs, total, err := h.svc.List(r.Context(), filter, page)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pageBody(msgs, page, total))
}
