package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"smsrelay/internal/apperr"
	"smsrelay/internal/events/forward"
	"smsrelay/internal/services"
	"smsrelay/internal/worker"
)

// HealthReporter exposes the callback reachability flag.
type HealthReporter interface {
	CallbacksHealthy() bool
	LastProbe() time.Time
}

// Sweeper runs and reports reconciliation passes.
type Sweeper interface {
	Sweep(ctx context.Context) (services.SweepResult, error)
	LastSweep() services.SweepResult
}

// PoolStats reports worker pool depth.
type PoolStats interface {
	Stats() worker.Stats
}

// Forwarder reports and retries deliveries of events to external sinks.
// *forward.Dispatcher satisfies it.
type Forwarder interface {
	Enabled() bool
	PendingCount() int
	FailedCount() int
	Deliveries(limit int) []forward.Delivery
	Lookup(eventID string) (forward.Delivery, bool)
	Retry(ctx context.Context, eventID string) bool
	RetryPending(ctx context.Context)
}

// OpsHandler serves liveness and reconciliation diagnostics.
type OpsHandler struct {
	health  HealthReporter
	sweeper Sweeper
	pool    PoolStats
	forward Forwarder
}

// NewOpsHandler builds the handler; forward may be nil when no sink is configured.
func NewOpsHandler(health HealthReporter, sweeper Sweeper, pool PoolStats, forward Forwarder) *OpsHandler {
	return &OpsHandler{health: health, sweeper: sweeper, pool: pool, forward: forward}
}

// SyncStatus is the body of GET /ops/sync.
type SyncStatus struct {
	CallbacksHealthy bool                 `json:"callbacksHealthy"`
	LastProbe        *time.Time           `json:"lastProbe,omitempty"`
	LastSweep        services.SweepResult `json:"lastSweep"`
	Pool             worker.Stats         `json:"pool"`
	Forwarding       bool                 `json:"forwarding"`
	PendingForwards  int                  `json:"pendingForwards"`
	FailedForwards   int                  `json:"failedForwards"`
}

// Health is the probe target used to decide whether provider callbacks can reach us.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *OpsHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	status := SyncStatus{
		CallbacksHealthy: h.health.CallbacksHealthy(),
		LastSweep:        h.sweeper.LastSweep(),
		Pool:             h.pool.Stats(),
	}
	if t := h.health.LastProbe(); !t.IsZero() {
		status.LastProbe = &t
	}
	if h.forward != nil && h.forward.Enabled() {
		status.Forwarding = true
		status.PendingForwards = h.forward.PendingCount()
		status.FailedForwards = h.forward.FailedCount()
	}
	respondWithJSON(w, http.StatusOK, status)
}

// TriggerSweep runs one sweep synchronously. It is a no-op while callbacks are healthy.
func (h *OpsHandler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *OpsHandler) forwarding(w http.ResponseWriter, r *http.Request) bool {
	if h.forward == nil || !h.forward.Enabled() {
		respondWithJSON(w, http.StatusServiceUnavailable, ErrorBody{Code: apperr.KindInvalidState, Message: "event forwarding is not configured"})
		return false
	}
	return true
}

// Deliveries lists events still pending or given up on, oldest first.
func (h *OpsHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	if !h.forwarding(w, r) {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			respondWithError(w, r, apperr.InvalidFields([]apperr.FieldError{{Field: "limit", Message: "must be a positive integer"}}))
			return
		}
		limit = v
	}
	items := h.forward.Deliveries(limit)
	respondWithJSON(w, http.StatusOK, map[string]any{
		"pending": h.forward.PendingCount(),
		"failed":  h.forward.FailedCount(),
		"events":  items,
	})
}

func (h *OpsHandler) Delivery(w http.ResponseWriter, r *http.Request) {
	if !h.forwarding(w, r) {
		return
	}
	id := mux.Vars(r)["eventId"]
	delivery, ok := h.forward.Lookup(id)
	if !ok {
		respondWithError(w, r, apperr.NotFound("event %s not found or already delivered", id))
		return
	}
	respondWithJSON(w, http.StatusOK, delivery)
}

// RetryDelivery retries one event when eventId is in the path, else every pending event.
func (h *OpsHandler) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	if !h.forwarding(w, r) {
		return
	}
	id := mux.Vars(r)["eventId"]
	if id == "" {
		h.forward.RetryPending(r.Context())
		respondWithJSON(w, http.StatusOK, map[string]int{"pending": h.forward.PendingCount()})
		return
	}
	if !h.forward.Retry(r.Context(), id) {
		respondWithError(w, r, apperr.NotFound("event %s not found or already delivered", id))
		return
	}
	delivery, ok := h.forward.Lookup(id)
	if !ok {
		delivery = forward.Delivery{EventID: id, Status: forward.DeliveryStatusDelivered}
	}
	respondWithJSON(w, http.StatusOK, delivery)
}
