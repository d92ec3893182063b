package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"smsrelay/internal/models"
	"smsrelay/internal/services"
	"smsrelay/internal/store"
)

// ConversationAPI is the conversation use-case surface the handlers need.
type ConversationAPI interface {
	Create(ctx context.Context, req services.CreateConversationRequest) (*models.Conversation, error)
	Get(ctx context.Context, id string) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID string, page store.Page) ([]*models.Conversation, int64, error)
	Update(ctx context.Context, id string, req services.UpdateConversationRequest) (*models.Conversation, error)
	Messages(ctx context.Context, id string, page store.Page) ([]*models.Message, int64, error)
}

// ConversationHandler serves /conversations.
type ConversationHandler struct {
	svc ConversationAPI
}

func NewConversationHandler(svc ConversationAPI) *ConversationHandler {
	return &ConversationHandler{svc: svc}
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req services.CreateConversationRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, r, err)
		return
	}
	conv, err := h.svc.Create(r.Context(), req)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conv, err := h.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	convs, total, err := h.svc.ListByUser(r.Context(), mux.Vars(r)["userId"], page)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pageBody(convs, page, total))
}

func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req services.UpdateConversationRequest
	if err := decodeJSON(r, &req, false); err != nil {
		respondWithError(w, r, err)
		return
	}
	conv, err := h.svc.Update(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) Messages(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	msgs, total, err := h.svc.Messages(r.Context(), mux.Vars(r)["id"], page)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, pageBody(msgs, page, total))
}
