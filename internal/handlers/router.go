package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
)

// RouterConfig bundles the handlers and paths mounted by NewRouter.
type RouterConfig struct {
	Messages      *MessageHandler
	Conversations *ConversationHandler
	Webhooks      *WebhookHandler
	Ops           *OpsHandler

	HealthPath         string
	WebhookStatusPath  string
	WebhookInboundPath string
}

// NewRouter mounts every route behind the request-id, access-log and panic-recovery chain.
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		respondWithJSON(w, http.StatusNotFound, ErrorBody{Code: "NOT_FOUND", Message: "route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		respondWithJSON(w, http.StatusMethodNotAllowed, ErrorBody{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
	})

	r.HandleFunc(cfg.HealthPath, cfg.Ops.Health).Methods(http.MethodGet)
	r.HandleFunc("/ops/sync", cfg.Ops.SyncStatus).Methods(http.MethodGet)
	r.HandleFunc("/ops/sync/sweep", cfg.Ops.TriggerSweep).Methods(http.MethodPost)
	r.HandleFunc("/ops/forward", cfg.Ops.Deliveries).Methods(http.MethodGet)
	r.HandleFunc("/ops/forward/retry", cfg.Ops.RetryDelivery).Methods(http.MethodPost)
	r.HandleFunc("/ops/forward/{eventId}", cfg.Ops.Delivery).Methods(http.MethodGet)
	r.HandleFunc("/ops/forward/{eventId}/retry", cfg.Ops.RetryDelivery).Methods(http.MethodPost)

	r.HandleFunc(cfg.WebhookStatusPath, cfg.Webhooks.Status).Methods(http.MethodPost)
	r.HandleFunc(cfg.WebhookInboundPath, cfg.Webhooks.Inbound).Methods(http.MethodPost)

	r.HandleFunc("/messages", cfg.Messages.Create).Methods(http.MethodPost)
	r.HandleFunc("/messages", cfg.Messages.List).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", cfg.Messages.Get).Methods(http.MethodGet)
	r.HandleFunc("/messages/{id}", cfg.Messages.Update).Methods(http.MethodPatch)

	r.HandleFunc("/conversations", cfg.Conversations.Create).Methods(http.MethodPost)
	r.HandleFunc("/conversations/user/{userId}", cfg.Conversations.ListByUser).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}", cfg.Conversations.Get).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}", cfg.Conversations.Update).Methods(http.MethodPatch)
	r.HandleFunc("/conversations/{id}/messages", cfg.Conversations.Messages).Methods(http.MethodGet)

	return alice.New(requestID, accessLog, recoverPanics).Then(r)
}
